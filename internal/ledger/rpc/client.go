// Package rpc is the HTTP/JSON client for the ledger relay.  Retry policy
// lives in the write queue, not here: this client makes exactly one bounded
// attempt per call and reports failures as ordinary errors.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/veritas-labs/trustgate/internal/ledger"
	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

const defaultTimeout = 10 * time.Second

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// Client talks to the ledger relay over HTTP/JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client targeting the given relay base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitRequest struct {
	GroupID  string `json:"groupId"`
	OldTS    int    `json:"oldTS"`
	NewTS    int    `json:"newTS"`
	Reason   string `json:"reason,omitempty"`
	DataHash string `json:"dataHash,omitempty"`
	TS       int64  `json:"ts"`
}

type submitResponse struct {
	TxID string `json:"txId"`
}

// Submit appends the entry on the ledger and returns its transaction id.
func (c *Client) Submit(ctx context.Context, entry ledger.LogEntry) (string, error) {
	body, err := json.Marshal(submitRequest{
		GroupID:  entry.GroupID,
		OldTS:    entry.OldTS,
		NewTS:    entry.NewTS,
		Reason:   entry.Reason,
		DataHash: entry.DataHash,
		TS:       entry.TS,
	})
	if err != nil {
		return "", fmt.Errorf("ledger submit marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/log", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ledger submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger submit: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ledger submit: HTTP %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return "", fmt.Errorf("ledger submit decode: %w", err)
	}
	if out.TxID == "" {
		return "", fmt.Errorf("ledger submit: empty transaction id")
	}
	return out.TxID, nil
}

type queryResponse struct {
	Events []struct {
		GroupID string `json:"groupId"`
		OldTS   *int   `json:"oldTS"`
		NewTS   *int   `json:"newTS"`
		Reason  string `json:"reason"`
		TS      int64  `json:"ts"`
	} `json:"events"`
}

// QueryEvents returns the group's on-ledger points from the given time onward.
func (c *Client) QueryEvents(ctx context.Context, groupID string, from time.Time) ([]types.TrendPoint, error) {
	q := url.Values{}
	q.Set("groupId", groupID)
	q.Set("from", strconv.FormatInt(from.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/events?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("ledger query request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ledger query: HTTP %d", resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("ledger query decode: %w", err)
	}

	points := make([]types.TrendPoint, 0, len(out.Events))
	for _, e := range out.Events {
		points = append(points, types.TrendPoint{
			GroupID: e.GroupID,
			OldTS:   e.OldTS,
			NewTS:   e.NewTS,
			Reason:  e.Reason,
			TS:      e.TS,
			Source:  types.SourceOnChain,
		})
	}
	return points, nil
}
