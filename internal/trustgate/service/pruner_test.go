package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/veritas-labs/trustgate/internal/trustgate/service"
	"github.com/veritas-labs/trustgate/internal/trustgate/store"
	"github.com/veritas-labs/trustgate/internal/trustgate/store/memory"
	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

func appendAged(t *testing.T, es *memory.EventStore, eventID string, age time.Duration, flagged bool) {
	t.Helper()
	err := es.Append(context.Background(), store.EventRecord{
		EventID:    eventID,
		DeviceID:   "sensor-1",
		GroupID:    "g1",
		Stage:      types.StageReceived,
		Flagged:    flagged,
		ReceivedAt: time.Now().UTC().Add(-age),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestLogPruner_DisabledWhenRetentionZero(t *testing.T) {
	es := memory.NewEventStore()
	appendAged(t, es, "ev-old", 90*24*time.Hour, false)

	p := service.NewLogPruner(es, service.PrunerConfig{RetentionDays: 0}, silentLogger())
	p.Start(context.Background())
	p.Stop() // must return immediately, the loop never ran

	if len(es.Records()) != 1 {
		t.Error("disabled pruner must not delete anything")
	}
}

func TestLogPruner_StartupPruneKeepsFlaggedAndRecent(t *testing.T) {
	es := memory.NewEventStore()
	appendAged(t, es, "ev-old", 48*time.Hour, false)
	appendAged(t, es, "ev-old-flagged", 48*time.Hour, true)
	appendAged(t, es, "ev-recent", time.Hour, false)

	p := service.NewLogPruner(es, service.PrunerConfig{RetentionDays: 1}, silentLogger())
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, func() bool { return len(es.Records()) == 2 })

	for _, rec := range es.Records() {
		if rec.EventID == "ev-old" {
			t.Error("expired non-flagged record survived the prune")
		}
	}
}

func TestLogPruner_StopTerminatesLoop(t *testing.T) {
	p := service.NewLogPruner(memory.NewEventStore(), service.PrunerConfig{RetentionDays: 1, IntervalHours: 1}, silentLogger())
	p.Start(context.Background())

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
