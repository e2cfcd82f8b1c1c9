package status

import "regexp"

// doNotPost matches administrative docket entries that never warrant a
// post. The final "none" catches entries with bad data.
var doNotPost = regexp.MustCompile(`(?i)(` +
	`pro\s+hac\s+vice|` +
	`notice\s+of\s+appearance|` +
	`certificate\s+of\s+disclosure|` +
	`corporate\s+disclosure|` +
	`add\s+and\s+terminate\s+attorneys|` +
	`none` +
	`)`)

// doNotPay matches entries that must never consume sponsorship budget even
// when one is active. Distinct from doNotPost: these may still be posted
// without a document.
var doNotPay = regexp.MustCompile(`(?i)(` +
	`transcript|` +
	`sealed|` +
	`restricted|` +
	`redacted|` +
	`certificate\s+of\s+service` +
	`)`)

// ShouldSuppress reports whether a docket entry description identifies an
// administrative entry that should be ignored.
func ShouldSuppress(description string) bool {
	return doNotPost.MatchString(description)
}

// BlocksPurchase reports whether a description forbids spending sponsorship
// budget on the entry's document.
func BlocksPurchase(description string) bool {
	return doNotPay.MatchString(description)
}
