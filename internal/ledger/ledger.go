// Package ledger defines the boundary to the external append-only ledger.
// The pipeline only needs two semantics from it: submit an entry and get back
// a transaction id, and read past events in a time window.  Both calls may be
// slow or failing; callers must degrade rather than abort.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

// ErrNotConfigured is returned by the disabled adapter.  The pipeline treats
// it like any other submission or query failure: submissions stay accepted
// locally and analysis falls back to local history.
var ErrNotConfigured = errors.New("ledger: adapter not configured")

// LogEntry is one flagged event as the ledger records it.
type LogEntry struct {
	GroupID  string
	OldTS    int
	NewTS    int
	Reason   string
	DataHash string
	TS       int64 // unix seconds
}

// Adapter is the RPC-style client the write queue and trend engine consume.
type Adapter interface {
	// Submit appends the entry and returns the ledger transaction id.
	// Implementations must apply a bounded connect/response timeout and
	// surface it as an ordinary retryable error.
	Submit(ctx context.Context, entry LogEntry) (string, error)

	// QueryEvents returns the group's ledger-recorded points from the given
	// time onward, as a bounded lookback for trend analysis.
	QueryEvents(ctx context.Context, groupID string, from time.Time) ([]types.TrendPoint, error)
}

// Disabled is the adapter used when no ledger endpoint is configured.  Every
// call fails with ErrNotConfigured, which the pipeline degrades around.
type Disabled struct{}

func (Disabled) Submit(context.Context, LogEntry) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) QueryEvents(context.Context, string, time.Time) ([]types.TrendPoint, error) {
	return nil, ErrNotConfigured
}
