// Package images talks to the thumbnailer microservice that turns PDFs into
// page thumbnails, overlays sponsor text, and rasterizes long statuses.
package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type imageListResponse struct {
	Images []string `json:"images"` // base64 PNGs
}

func decodeImages(r io.Reader) ([][]byte, error) {
	var resp imageListResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(resp.Images))
	for _, b64 := range resp.Images {
		img, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode thumbnail: %w", err)
		}
		out = append(out, img)
	}
	return out, nil
}

// ThumbnailsFromRange renders thumbnails for the given 1-based pages of a
// PDF, e.g. pages = []int{1, 2, 3}.
func (c *Client) ThumbnailsFromRange(ctx context.Context, pdf []byte, pages []int) ([][]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "document.pdf")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, err
	}

	rangeSpec := make([]string, 0, len(pages))
	for _, p := range pages {
		rangeSpec = append(rangeSpec, fmt.Sprintf("%d", p))
	}
	if err := mw.WriteField("pages", "["+strings.Join(rangeSpec, ",")+"]"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pdf/thumbnails/", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("thumbnails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("thumbnails: %d: %s", resp.StatusCode, msg)
	}
	return decodeImages(resp.Body)
}

// AddSponsorText overlays the sponsor watermark on every image.
func (c *Client) AddSponsorText(ctx context.Context, imgs [][]byte, text string) ([][]byte, error) {
	encoded := make([]string, 0, len(imgs))
	for _, img := range imgs {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(img))
	}
	payload, _ := json.Marshal(map[string]any{
		"images": encoded,
		"text":   text,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/image/watermark/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("watermark: %d: %s", resp.StatusCode, msg)
	}
	return decodeImages(resp.Body)
}

// TextImage rasterizes a status that was too long to post in full. The
// border color is the owning group's, when the channel has one.
func (c *Client) TextImage(ctx context.Context, text, borderColor string) ([]byte, error) {
	payload, _ := json.Marshal(map[string]any{
		"text":         text,
		"border_color": borderColor,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/image/text/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("text image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("text image: %d: %s", resp.StatusCode, msg)
	}

	imgs, err := decodeImages(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(imgs) == 0 {
		return nil, fmt.Errorf("text image: empty response")
	}
	return imgs[0], nil
}
