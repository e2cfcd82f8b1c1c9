package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Mastodon posts statuses through the instance REST API.
type Mastodon struct {
	serverURL  string
	token      string
	httpClient *http.Client
}

func NewMastodon(serverURL, token string) *Mastodon {
	return &Mastodon{
		serverURL:  strings.TrimRight(serverURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *Mastodon) uploadMedia(ctx context.Context, img []byte, name string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(img); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.serverURL+"/api/v2/media", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mastodon media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", statusErr(resp.StatusCode, "mastodon media", msg)
	}

	var media struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return "", err
	}
	return media.ID, nil
}

func (m *Mastodon) Post(ctx context.Context, message string, image []byte, files [][]byte) (string, error) {
	var mediaIDs []string

	if image != nil {
		id, err := m.uploadMedia(ctx, image, "status.png")
		if err != nil {
			return "", err
		}
		mediaIDs = append(mediaIDs, id)
	}
	for i, f := range files {
		// Mastodon caps a status at four attachments.
		if len(mediaIDs) >= 4 {
			break
		}
		id, err := m.uploadMedia(ctx, f, fmt.Sprintf("thumb-%d.png", i+1))
		if err != nil {
			return "", err
		}
		mediaIDs = append(mediaIDs, id)
	}

	payload, _ := json.Marshal(map[string]any{
		"status":    message,
		"media_ids": mediaIDs,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.serverURL+"/api/v1/statuses", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mastodon status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", statusErr(resp.StatusCode, "mastodon status", msg)
	}

	var status struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", err
	}
	return status.ID, nil
}
