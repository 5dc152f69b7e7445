// Package transmit delivers queued invoices to the central ingestion
// endpoint and classifies failures as retryable or terminal.
package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rezonia/nfe-collector/internal/outbox"
)

const (
	ingestPath      = "/api/v1/ingest/invoice"
	ingestBatchPath = "/api/v1/ingest/invoices"

	headerAgentVersion = "X-Agent-Version"
	headerMarketID     = "X-Market-ID"
)

// TransmitError carries the delivery failure plus the retry decision.
// Client errors (4xx) mean the payload itself was rejected and will
// never succeed; server errors and transport failures are transient.
type TransmitError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *TransmitError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transmit failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transmit failed: %s", e.Message)
}

// ack is the body the endpoint must return on success. A 2xx without a
// matching ack is not treated as delivered.
type ack struct {
	Accepted  bool   `json:"accepted"`
	AccessKey string `json:"access_key"`
}

// BatchResult is the per-item outcome of a batch call.
type BatchResult struct {
	AccessKey string `json:"access_key"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type batchResponse struct {
	Results []BatchResult `json:"results"`
}

// Client talks to the ingestion endpoint.
type Client struct {
	endpoint     string
	token        string
	marketID     string
	agentVersion string
	httpClient   *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithAgentVersion sets the version reported in the agent header.
func WithAgentVersion(v string) ClientOption {
	return func(c *Client) { c.agentVersion = v }
}

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a client for one endpoint and tenant.
func NewClient(endpoint, token, marketID string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:     endpoint,
		token:        token,
		marketID:     marketID,
		agentVersion: "dev",
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers one invoice. A nil return means the endpoint
// acknowledged the exact access key of the item.
func (c *Client) Send(ctx context.Context, item outbox.QueueItem) error {
	resp, err := c.post(ctx, c.endpoint+ingestPath, []byte(item.Payload))
	if err != nil {
		return &TransmitError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp.StatusCode, string(body))
	}

	var a ack
	if err := json.Unmarshal(body, &a); err != nil {
		return &TransmitError{
			StatusCode: resp.StatusCode,
			Message:    "unreadable acknowledgement: " + err.Error(),
			Retryable:  true,
		}
	}
	if !a.Accepted || a.AccessKey != item.AccessKey {
		return &TransmitError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("acknowledgement mismatch (accepted=%v, access_key=%q)", a.Accepted, a.AccessKey),
			Retryable:  true,
		}
	}
	return nil
}

// SendBatch delivers several invoices in one call and returns one
// outcome per item, keyed by access key. A transport-level failure
// returns an error instead; callers then fall back to single sends.
func (c *Client) SendBatch(ctx context.Context, items []outbox.QueueItem) (map[string]error, error) {
	payloads := make([]json.RawMessage, len(items))
	for i, item := range items {
		payloads[i] = json.RawMessage(item.Payload)
	}
	body, err := json.Marshal(map[string]interface{}{"invoices": payloads})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	resp, err := c.post(ctx, c.endpoint+ingestBatchPath, body)
	if err != nil {
		return nil, &TransmitError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(resp.StatusCode, string(respBody))
	}

	var br batchResponse
	if err := json.Unmarshal(respBody, &br); err != nil {
		return nil, &TransmitError{
			StatusCode: resp.StatusCode,
			Message:    "unreadable batch response: " + err.Error(),
			Retryable:  true,
		}
	}

	outcomes := make(map[string]error, len(items))
	for _, r := range br.Results {
		if r.Accepted {
			outcomes[r.AccessKey] = nil
			continue
		}
		outcomes[r.AccessKey] = &TransmitError{Message: r.Error, Retryable: r.Retryable}
	}
	// items the response did not mention are treated as undelivered
	for _, item := range items {
		if _, ok := outcomes[item.AccessKey]; !ok {
			outcomes[item.AccessKey] = &TransmitError{
				Message:   "item missing from batch response",
				Retryable: true,
			}
		}
	}
	return outcomes, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(headerAgentVersion, c.agentVersion)
	req.Header.Set(headerMarketID, c.marketID)
	return c.httpClient.Do(req)
}

func classify(status int, body string) *TransmitError {
	return &TransmitError{
		StatusCode: status,
		Message:    trimBody(body),
		Retryable:  status < 400 || status >= 500,
	}
}

func trimBody(body string) string {
	const max = 512
	if len(body) > max {
		return body[:max]
	}
	return body
}
