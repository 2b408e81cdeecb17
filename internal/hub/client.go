package hub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mpataki/flowwatch/internal/models"
)

// Client publishes events to a remote hub's ingest endpoint.
type Client struct {
	URL  string
	HTTP *http.Client
}

// NewClient accepts either the hub's base URL or its /events URL.
func NewClient(url string) *Client {
	url = strings.TrimRight(url, "/")
	if !strings.HasSuffix(url, "/events") {
		url += "/events"
	}
	return &Client{
		URL:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Publish(ctx context.Context, ev models.ExecutionEvent) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hub rejected event (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
