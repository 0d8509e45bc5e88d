package memory

import (
	"context"
	"sync"
	"time"

	"github.com/veritas-labs/trustgate/internal/trustgate/store"
	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

// EventStore is an in-memory append-only event log.  It is intended for use
// in tests and dev environments.
type EventStore struct {
	mu      sync.Mutex
	records []store.EventRecord
}

func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) Append(_ context.Context, rec store.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *EventStore) ReadRecent(_ context.Context, limit int) ([]store.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lastN(s.records, limit, func(store.EventRecord) bool { return true }), nil
}

func (s *EventStore) ReadFlagged(_ context.Context, limit int) ([]store.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lastN(s.records, limit, func(r store.EventRecord) bool { return r.Flagged }), nil
}

func (s *EventStore) TrendPointsFor(_ context.Context, groupID, deviceID string) ([]types.TrendPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var points []types.TrendPoint
	for _, rec := range s.records {
		if rec.Stage != types.StageReceived {
			continue
		}
		if rec.GroupID != groupID && rec.DeviceID != deviceID {
			continue
		}
		points = append(points, rec.TrendPoint())
	}
	return points, nil
}

func (s *EventStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var deleted int64
	for _, rec := range s.records {
		if !rec.Flagged && rec.ReceivedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return deleted, nil
}

// Records returns a copy of all appended records.  Test-only helper.
func (s *EventStore) Records() []store.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.EventRecord, len(s.records))
	copy(out, s.records)
	return out
}

// lastN returns up to limit matching records, newest first, matching the
// sqlite store's ORDER BY id DESC contract.
func lastN(records []store.EventRecord, limit int, match func(store.EventRecord) bool) []store.EventRecord {
	var out []store.EventRecord
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		if match(records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}
