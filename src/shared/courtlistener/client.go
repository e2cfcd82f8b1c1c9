// Package courtlistener wraps the archive that backs the bot: document and
// docket lookups, PACER purchases, and PDF downloads. Purchases complete
// asynchronously via the recap-fetch webhook; this client only fires them.
package courtlistener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const defaultTimeout = 30 * time.Second

// ErrNotFound marks a permanent "no such record" response. Callers must not
// retry these.
var ErrNotFound = errors.New("courtlistener: record not found")

// Document is the archive's view of one filing document.
type Document struct {
	ID            uint64 `json:"id"`
	FilepathLocal string `json:"filepath_local"`
	PageCount     int    `json:"page_count"`
	PACERDocID    string `json:"pacer_doc_id"`
	AbsoluteURL   string `json:"absolute_url"`
}

// Docket carries the docket metadata the templates need.
type Docket struct {
	ID           uint64 `json:"id"`
	DateFiled    string `json:"date_filed"`
	CourtID      string `json:"court_id"`
	CaseName     string `json:"case_name"`
	DocketNumber string `json:"docket_number"`
}

// DateFiledTime parses the docket's filing date when one is recorded.
func (d Docket) DateFiledTime() (time.Time, bool) {
	if d.DateFiled == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse("2006-01-02", d.DateFiled)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// getJSON performs an authenticated GET with bounded retries on transient
// failures. 404s surface as ErrNotFound and are never retried.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Authorization", "Token "+c.token)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(ErrNotFound)
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return retry.Unrecoverable(fmt.Errorf("GET %s: %d: %s", path, resp.StatusCode, body))
			case resp.StatusCode >= 500:
				return fmt.Errorf("GET %s: %d", path, resp.StatusCode)
			}

			return json.NewDecoder(resp.Body).Decode(out)
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
	)
}

// LookupDocument fetches the archive record for a RECAP document id.
func (c *Client) LookupDocument(ctx context.Context, docID uint64) (*Document, error) {
	var doc Document
	if err := c.getJSON(ctx, fmt.Sprintf("/api/rest/v4/recap-documents/%d/", docID), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LookupDocket fetches docket metadata by archive docket id.
func (c *Client) LookupDocket(ctx context.Context, docketID uint64) (*Docket, error) {
	var d Docket
	if err := c.getJSON(ctx, fmt.Sprintf("/api/rest/v4/dockets/%d/", docketID), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// LookupInitialComplaint finds the first entry's document for a docket, or
// nil when the docket has none yet.
func (c *Client) LookupInitialComplaint(ctx context.Context, docketID uint64) (*Document, error) {
	var page struct {
		Results []Document `json:"results"`
	}
	path := fmt.Sprintf("/api/rest/v4/recap-documents/?docket_entry__docket__id=%d&docket_entry__entry_number=1&order_by=id", docketID)
	if err := c.getJSON(ctx, path, &page); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(page.Results) == 0 {
		return nil, nil
	}
	return &page.Results[0], nil
}

// PurchaseDocument asks the backend to buy a document from PACER. The
// result arrives later through the recap-fetch webhook; this call only
// places the request.
func (c *Client) PurchaseDocument(ctx context.Context, docID, docketID uint64) error {
	payload, _ := json.Marshal(map[string]any{
		"request_type":    1,
		"recap_document":  docID,
		"docket":          docketID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/rest/v4/recap-fetch/", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("purchase doc %d: %w", docID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("purchase doc %d: %d: %s", docID, resp.StatusCode, body)
	}
	return nil
}

// DownloadPDF fetches the PDF bytes for an archive filepath handle.
func (c *Client) DownloadPDF(ctx context.Context, filepath string) ([]byte, error) {
	url := filepath
	if !strings.HasPrefix(filepath, "http") {
		url = c.baseURL + "/" + strings.TrimLeft(filepath, "/")
	}

	var pdf []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return retry.Unrecoverable(ErrNotFound)
			}
			if resp.StatusCode >= 300 {
				return fmt.Errorf("download %s: %d", url, resp.StatusCode)
			}
			pdf, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

// IsBankruptcy reports whether a PACER court id names a bankruptcy court.
// Bankruptcy court ids carry a trailing "b" (cacb, nysb).
func IsBankruptcy(courtID string) bool {
	return strings.HasSuffix(courtID, "b")
}
