package store

import (
	"context"
	"time"

	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

// EventRecord is one appended row of the event log.  A single submission
// produces several records, one per lifecycle stage, all sharing an event id.
type EventRecord struct {
	EventID    string
	DeviceID   string
	GroupID    string
	Stage      types.Stage
	Flagged    bool
	Payload    types.Payload
	DataHash   string
	ReceivedAt time.Time
	Decision   *types.SystemDecision
	TxID       string // ledger transaction id, set on post-chain records
	Detail     string // error detail on *-error / *-failed records
}

// Summary projects the record into the shape returned by the history
// endpoints and pushed over the live channel.
func (r EventRecord) Summary() types.EventSummary {
	return types.EventSummary{
		EventID:    r.EventID,
		DeviceID:   r.DeviceID,
		GroupID:    r.GroupID,
		Stage:      r.Stage,
		Flagged:    r.Flagged,
		TrustA:     r.Payload.TrustA,
		TrustB:     r.Payload.TrustB,
		Reason:     r.Payload.Reason,
		DataHash:   r.DataHash,
		ReceivedAt: r.ReceivedAt,
		TxID:       r.TxID,
		Decision:   r.Decision,
		Detail:     r.Detail,
	}
}

// TrendPoint projects the record into a local-sourced trend observation.
// Missing trust values default to the neutral midpoint; the timestamp comes
// from the payload's own clock, falling back to when the gateway received it.
func (r EventRecord) TrendPoint() types.TrendPoint {
	old := types.NeutralTrust
	if r.Payload.TrustA != nil {
		old = *r.Payload.TrustA
	}
	nw := types.NeutralTrust
	if r.Payload.TrustB != nil {
		nw = *r.Payload.TrustB
	}
	ts := r.Payload.TS
	if ts == 0 {
		ts = r.ReceivedAt.Unix()
	}
	return types.TrendPoint{
		GroupID: r.GroupID,
		OldTS:   &old,
		NewTS:   &nw,
		Reason:  r.Payload.Reason,
		TS:      ts,
		Source:  types.SourceLocal,
	}
}

// EventStore persists the append-only event log.  Append must be safe under
// concurrent callers; reads may observe a slightly stale snapshot.
type EventStore interface {
	Append(ctx context.Context, rec EventRecord) error

	// ReadRecent returns up to limit records, newest first.
	ReadRecent(ctx context.Context, limit int) ([]EventRecord, error)

	// ReadFlagged returns up to limit flagged records, newest first.
	ReadFlagged(ctx context.Context, limit int) ([]EventRecord, error)

	// TrendPointsFor returns local trend points for records matching the
	// group or device, in insertion order.  Only `received` records
	// contribute, so one submission yields exactly one point.
	TrendPointsFor(ctx context.Context, groupID, deviceID string) ([]types.TrendPoint, error)

	// PruneOlderThan deletes non-flagged records received before the cutoff.
	// Flagged records are the audit trail and are never pruned.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ThresholdStore holds the per-group trust floor, defaulting to a process-wide
// constant for groups that were never adjusted.  Set persists immediately.
type ThresholdStore interface {
	Get(ctx context.Context, groupID string) (int, error)
	Set(ctx context.Context, groupID string, threshold int) error
	All(ctx context.Context) (map[string]int, error)
}

// DeviceStore tracks which device ids are commissioned and when each was last
// seen.  Unknown devices are still ingested, just reported as such.
type DeviceStore interface {
	IsKnown(ctx context.Context, deviceID string) (bool, error)
	MarkSeen(ctx context.Context, deviceID string, known bool, t time.Time) error
}
