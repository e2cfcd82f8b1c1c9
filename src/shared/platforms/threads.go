package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

const threadsGraphURL = "https://graph.threads.net/v1.0"

// Threads posts through the Graph API's two-step container/publish flow.
// Image attachments require a public media URL, which this pipeline does
// not maintain, so statuses go out text-only.
type Threads struct {
	accountID  string
	token      string
	httpClient *http.Client
}

func NewThreads(accountID, token string) *Threads {
	return &Threads{
		accountID:  accountID,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *Threads) call(ctx context.Context, path string, form url.Values) (string, error) {
	form.Set("access_token", t.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		threadsGraphURL+path+"?"+form.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("threads %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", statusErr(resp.StatusCode, "threads "+path, msg)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (t *Threads) Post(ctx context.Context, message string, image []byte, files [][]byte) (string, error) {
	if image != nil || len(files) > 0 {
		log.Printf("threads: dropping %d attachment(s), no public media store", len(files)+1)
	}

	form := url.Values{}
	form.Set("media_type", "TEXT")
	form.Set("text", message)

	containerID, err := t.call(ctx, "/"+t.accountID+"/threads", form)
	if err != nil {
		return "", err
	}

	publish := url.Values{}
	publish.Set("creation_id", containerID)
	return t.call(ctx, "/"+t.accountID+"/threads_publish", publish)
}
