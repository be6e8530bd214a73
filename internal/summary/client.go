// Package summary calls the external text-generation service that turns
// ledger aggregates into a human-readable attendance report. It is a
// strictly downstream collaborator: the admission gate never depends on it,
// and an unreachable service only degrades the admin summary endpoint.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"qattend/internal/ledger"
)

// Client calls the summary microservice.
type Client struct {
	baseURL string
	skip    bool
	http    *http.Client
}

// New creates a client. With skip set, Generate returns a canned line
// without any network call, so dev environments run without the service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		baseURL: baseURL,
		skip:    skip,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Health pings the service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("summary service unhealthy: %s", resp.Status)
	}
	return nil
}

// Generate sends per-day attendance totals and returns generated prose.
func (c *Client) Generate(ctx context.Context, counts []ledger.DayCount) (string, error) {
	if c.skip {
		return fmt.Sprintf("Summary skipped (dev mode): %d day(s) of attendance data.", len(counts)), nil
	}

	payload := struct {
		Days []ledger.DayCount `json:"days"`
	}{Days: counts}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/summaries", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("summary service: %s: %s", resp.Status, msg)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Text, nil
}
