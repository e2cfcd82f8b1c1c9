package platforms

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	tweetEndpoint  = "https://api.twitter.com/2/tweets"
	uploadEndpoint = "https://upload.twitter.com/1.1/media/upload.json"
)

// Twitter posts tweets through the v2 API with OAuth 1.0a user-context
// signing. Media still goes through the v1.1 upload endpoint.
type Twitter struct {
	consumerKey    string
	consumerSecret string
	tokenKey       string
	tokenSecret    string
	httpClient     *http.Client
}

func NewTwitter(consumerKey, consumerSecret, tokenKey, tokenSecret string) *Twitter {
	return &Twitter{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		tokenKey:       tokenKey,
		tokenSecret:    tokenSecret,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

func pctEncode(s string) string {
	// RFC 3986 unreserved set; url.QueryEscape is close but encodes
	// spaces as '+' and leaves '~' alone inconsistently.
	var b strings.Builder
	for _, c := range []byte(s) {
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// authHeader builds the OAuth 1.0a Authorization header for a request.
// Bodies that are not form-encoded (JSON, multipart) are excluded from the
// signature base string per RFC 5849.
func (t *Twitter) authHeader(method, rawURL string) (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	oauth := map[string]string{
		"oauth_consumer_key":     t.consumerKey,
		"oauth_nonce":            hex.EncodeToString(nonceBytes),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        fmt.Sprintf("%d", time.Now().Unix()),
		"oauth_token":            t.tokenKey,
		"oauth_version":          "1.0",
	}

	params := make(map[string]string, len(oauth))
	for k, v := range oauth {
		params[k] = v
	}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, pctEncode(k)+"="+pctEncode(params[k]))
	}

	baseURL := u.Scheme + "://" + u.Host + u.Path
	base := strings.ToUpper(method) + "&" + pctEncode(baseURL) + "&" + pctEncode(strings.Join(pairs, "&"))
	signingKey := pctEncode(t.consumerSecret) + "&" + pctEncode(t.tokenSecret)

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(base))
	oauth["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	hdrKeys := make([]string, 0, len(oauth))
	for k := range oauth {
		hdrKeys = append(hdrKeys, k)
	}
	sort.Strings(hdrKeys)

	hdr := make([]string, 0, len(hdrKeys))
	for _, k := range hdrKeys {
		hdr = append(hdr, fmt.Sprintf(`%s="%s"`, pctEncode(k), pctEncode(oauth[k])))
	}
	return "OAuth " + strings.Join(hdr, ", "), nil
}

func (t *Twitter) uploadMedia(ctx context.Context, img []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("media", "media.png")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(img); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadEndpoint, &body)
	if err != nil {
		return "", err
	}
	auth, err := t.authHeader(http.MethodPost, uploadEndpoint)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twitter media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", statusErr(resp.StatusCode, "twitter media", msg)
	}

	var media struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return "", err
	}
	return media.MediaIDString, nil
}

func (t *Twitter) Post(ctx context.Context, message string, image []byte, files [][]byte) (string, error) {
	var mediaIDs []string

	if image != nil {
		id, err := t.uploadMedia(ctx, image)
		if err != nil {
			return "", err
		}
		mediaIDs = append(mediaIDs, id)
	}
	for _, f := range files {
		if len(mediaIDs) >= 4 {
			break
		}
		id, err := t.uploadMedia(ctx, f)
		if err != nil {
			return "", err
		}
		mediaIDs = append(mediaIDs, id)
	}

	body := map[string]any{"text": message}
	if len(mediaIDs) > 0 {
		body["media"] = map[string]any{"media_ids": mediaIDs}
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tweetEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	auth, err := t.authHeader(http.MethodPost, tweetEndpoint)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twitter post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", statusErr(resp.StatusCode, "twitter post", msg)
	}

	var tweet struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tweet); err != nil {
		return "", err
	}
	return tweet.Data.ID, nil
}
