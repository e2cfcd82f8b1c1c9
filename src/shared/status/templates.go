// Package status renders docket events into platform-bounded messages.
//
// Each platform gets a "new filing" template (document number + description)
// and a "minute entry" template (no document), plus a "new case" template
// used when a case is first followed. Rendering never overflows a platform's
// character budget: when a message would run over, the longest free-text
// field is truncated and the full text is carried as a companion image
// request instead.
package status

import (
	"regexp"
	"strings"
)

// Character budgets and the fixed length URLs count for on link-shortening
// platforms.
const (
	mastodonMaxChars = 500
	twitterMaxChars  = 280
	threadsMaxChars  = 500
	discordMaxChars  = 2000

	shortLinkChars = 23
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Image is a request to render the full, untruncated status text as an
// image, bordered with the owning group's color when one applies.
type Image struct {
	Text        string
	BorderColor string
}

// Template renders a message for one platform. LinkChars, when non-zero, is
// the fixed width every link placeholder counts for regardless of the URL's
// real length.
type Template struct {
	MaxCharacters    int
	LinkChars        int
	LinkPlaceholders []string
	Pattern          string
	BorderColor      string
}

func (t Template) isLink(name string) bool {
	for _, l := range t.LinkPlaceholders {
		if l == name {
			return true
		}
	}
	return false
}

// substitute fills the pattern with values, dropping any line that
// references a placeholder with no value so optional fields elide cleanly.
func (t Template) substitute(values map[string]string) string {
	var kept []string
	for _, line := range strings.Split(t.Pattern, "\n") {
		skip := false
		for _, m := range placeholderRe.FindAllStringSubmatch(line, -1) {
			if values[m[1]] == "" {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, line)
		}
	}
	out := strings.Join(kept, "\n")
	out = placeholderRe.ReplaceAllStringFunc(out, func(ph string) string {
		return values[strings.Trim(ph, "{}")]
	})
	return strings.TrimSpace(out)
}

// effectiveLen counts runes, with every link placeholder's value counted as
// LinkChars when the platform shortens URLs.
func (t Template) effectiveLen(rendered string, values map[string]string) int {
	n := len([]rune(rendered))
	if t.LinkChars == 0 {
		return n
	}
	for _, name := range t.LinkPlaceholders {
		v := values[name]
		if v == "" || !strings.Contains(rendered, v) {
			continue
		}
		n -= len([]rune(v))
		n += t.LinkChars
	}
	return n
}

// Format renders the message. The returned Image is non-nil when the text
// had to be truncated to fit the platform budget; callers post it alongside
// the shortened message.
func (t Template) Format(values map[string]string) (string, *Image) {
	rendered := t.substitute(values)
	if t.effectiveLen(rendered, values) <= t.MaxCharacters {
		return rendered, nil
	}

	full := rendered

	// Truncate the longest free-text field until the render fits. Links
	// are never truncated; a mangled URL is worse than a short blurb.
	truncated := make(map[string]string, len(values))
	for k, v := range values {
		truncated[k] = v
	}
	for {
		rendered = t.substitute(truncated)
		excess := t.effectiveLen(rendered, truncated) - t.MaxCharacters
		if excess <= 0 {
			break
		}
		name := t.longestTextField(truncated)
		if name == "" {
			// Nothing left to trim; shed whole lines, non-link lines
			// first, rather than cutting through a URL.
			rendered = t.dropLines(rendered, truncated)
			break
		}
		runes := []rune(truncated[name])
		cut := len(runes) - excess - 1
		if cut < 1 {
			truncated[name] = ""
			continue
		}
		truncated[name] = strings.TrimSpace(string(runes[:cut])) + "…"
	}

	return rendered, &Image{Text: full, BorderColor: t.BorderColor}
}

func (t Template) lineHasLink(line string, values map[string]string) bool {
	for _, name := range t.LinkPlaceholders {
		if v := values[name]; v != "" && strings.Contains(line, v) {
			return true
		}
	}
	return false
}

// dropLines removes whole lines, non-link lines first, until the render
// fits the budget. Links are never sliced mid-URL.
func (t Template) dropLines(rendered string, values map[string]string) string {
	lines := strings.Split(rendered, "\n")
	for len(lines) > 0 && t.effectiveLen(strings.Join(lines, "\n"), values) > t.MaxCharacters {
		dropped := false
		for i := len(lines) - 1; i >= 0; i-- {
			if !t.lineHasLink(lines[i], values) {
				lines = append(lines[:i], lines[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			lines = lines[:len(lines)-1]
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (t Template) longestTextField(values map[string]string) string {
	best, bestLen := "", 0
	for name, v := range values {
		if t.isLink(name) {
			continue
		}
		if n := len([]rune(v)); n > bestLen && n > 3 {
			best, bestLen = name, n
		}
	}
	return best
}

const filingPattern = `New filing: "{docket}"
Doc #{doc_num}: {description}

PDF: {pdf_link}
Docket: {docket_link}`

const minutePattern = `New minute entry in {docket}: {description}

Docket: {docket_link}`

const newCasePattern = `We're now following "{docket}"!

Filed {date_filed}
Context: {article_url}
{initial_complaint_type}: {initial_complaint_link}
Docket: {docket_link}`

func forService(service int) Template {
	switch service {
	case 2: // Twitter
		return Template{MaxCharacters: twitterMaxChars, LinkChars: shortLinkChars}
	case 4: // Discord
		return Template{MaxCharacters: discordMaxChars}
	default: // Mastodon, Threads
		return Template{MaxCharacters: mastodonMaxChars, LinkChars: shortLinkChars}
	}
}

// TemplateForChannel selects the filing or minute-entry template for a
// channel's platform. Entries without a document number are minute entries.
func TemplateForChannel(service int, documentNumber string) Template {
	t := forService(service)
	if documentNumber == "" {
		t.Pattern = minutePattern
		t.LinkPlaceholders = []string{"docket_link"}
		return t
	}
	t.Pattern = filingPattern
	t.LinkPlaceholders = []string{"pdf_link", "docket_link"}
	return t
}

// NewCaseTemplate selects the template announcing a newly followed case.
func NewCaseTemplate(service int) Template {
	t := forService(service)
	t.Pattern = newCasePattern
	t.LinkPlaceholders = []string{"article_url", "initial_complaint_link", "docket_link"}
	return t
}
