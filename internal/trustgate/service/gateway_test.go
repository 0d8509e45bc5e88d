package service_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/veritas-labs/trustgate/internal/fanout"
	"github.com/veritas-labs/trustgate/internal/trustgate/service"
	"github.com/veritas-labs/trustgate/internal/trustgate/store/memory"
	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

func intPtr(v int) *int         { return &v }
func i64Ptr(v int64) *int64     { return &v }
func f64Ptr(v float64) *float64 { return &v }

type gatewayHarness struct {
	gateway    *service.Gateway
	events     *memory.EventStore
	thresholds *memory.ThresholdStore
	adapter    *stubAdapter
	hub        *fanout.Hub
	queue      *service.ChainQueue
}

func newTestGateway(t *testing.T, adapter *stubAdapter, knownDevices ...string) *gatewayHarness {
	t.Helper()
	es := memory.NewEventStore()
	thresholds := memory.NewThresholdStore(60)
	hub := fanout.NewHub()
	registry := service.NewDeviceRegistry(memory.NewDeviceStore(knownDevices))
	engine := service.NewTrendEngine(es, adapter, time.Hour, 60, silentLogger())
	queue := service.NewChainQueue(adapter, es, hub, fastQueueConfig(), silentLogger())
	t.Cleanup(queue.Stop)

	gw := service.NewGateway(service.GatewayDeps{
		Events:     es,
		Thresholds: thresholds,
		Registry:   registry,
		Engine:     engine,
		Queue:      queue,
		Hub:        hub,
		Logger:     silentLogger(),
	})
	return &gatewayHarness{
		gateway:    gw,
		events:     es,
		thresholds: thresholds,
		adapter:    adapter,
		hub:        hub,
		queue:      queue,
	}
}

func TestIngest_RejectsMissingDeviceID(t *testing.T) {
	h := newTestGateway(t, &stubAdapter{})

	_, err := h.gateway.Ingest(context.Background(), types.SubmitRequest{DeviceID: "  "})
	if !errors.Is(err, service.ErrInvalidDeviceID) {
		t.Fatalf("expected ErrInvalidDeviceID, got %v", err)
	}
	if len(h.events.Records()) != 0 {
		t.Error("a rejected submission must not write records")
	}
}

func TestIngest_HealthyEventIsRecordedNotFlagged(t *testing.T) {
	h := newTestGateway(t, &stubAdapter{}, "sensor-1")

	resp, err := h.gateway.Ingest(context.Background(), types.SubmitRequest{
		DeviceID: "sensor-1",
		GroupID:  "g1",
		TrustA:   intPtr(80),
		TrustB:   intPtr(90),
		TS:       i64Ptr(1000),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if resp.Flagged {
		t.Error("healthy scores above threshold must not be flagged")
	}
	if resp.Message != "event recorded" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if resp.EventID == "" {
		t.Error("expected a generated event id")
	}
	if len(resp.Hash) != 64 {
		t.Errorf("expected 64-char content hash, got %q", resp.Hash)
	}
	if !resp.Known {
		t.Error("commissioned device must be reported known")
	}
	if resp.SystemDecision == nil || resp.SystemDecision.Action != types.ActionInsufficientData {
		t.Errorf("expected insufficient_data for an empty history, got %+v", resp.SystemDecision)
	}

	stages := make([]types.Stage, 0, 3)
	for _, rec := range h.events.Records() {
		stages = append(stages, rec.Stage)
	}
	want := []types.Stage{types.StageReceived, types.StageSystemValidation, types.StagePreChain}
	if len(stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("expected stages %v, got %v", want, stages)
		}
	}
}

func TestIngest_ScoreBelowThresholdIsFlaggedAndQueued(t *testing.T) {
	h := newTestGateway(t, &stubAdapter{}, "sensor-1")

	resp, err := h.gateway.Ingest(context.Background(), types.SubmitRequest{
		DeviceID: "sensor-1",
		GroupID:  "g1",
		TrustA:   intPtr(80),
		TrustB:   intPtr(59), // just under the default floor of 60
		TS:       i64Ptr(1000),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !resp.Flagged {
		t.Fatal("score below the group threshold must flag the event")
	}
	if resp.Feedback == "" {
		t.Error("flagged response must carry queue feedback")
	}

	// The acknowledgment is decoupled from confirmation, which arrives once
	// the queue worker submits to the ledger.
	waitFor(t, func() bool {
		return findStage(h.events.Records(), resp.EventID, types.StagePostChain) != nil
	})
	if findStage(h.events.Records(), resp.EventID, types.StageQueued) == nil {
		t.Error("expected a queued marker for the flagged event")
	}
}

func TestIngest_ScoreAtThresholdIsNotFlagged(t *testing.T) {
	h := newTestGateway(t, &stubAdapter{}, "sensor-1")

	resp, err := h.gateway.Ingest(context.Background(), types.SubmitRequest{
		DeviceID: "sensor-1",
		TrustA:   intPtr(60),
		TrustB:   intPtr(60),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if resp.Flagged {
		t.Error("a score equal to the threshold is not below it")
	}
}

func TestIngest_DefaultsGroupAndResolvesAliases(t *testing.T) {
	h := newTestGateway(t, &stubAdapter{}, "sensor-1")

	_, err := h.gateway.Ingest(context.Background(), types.SubmitRequest{
		DeviceID:  "sensor-1",
		RPM:       f64Ptr(1200),
		Speed:     f64Ptr(999), // loses to rpm
		Timestamp: i64Ptr(500), // loses to ts
		TS:        i64Ptr(1000),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	rec := h.events.Records()[0]
	if rec.GroupID != service.DefaultGroupID {
		t.Errorf("expected default group, got %q", rec.GroupID)
	}
	if rec.Payload.Speed == nil || *rec.Payload.Speed != 1200 {
		t.Errorf("expected rpm alias to win, got %v", rec.Payload.Speed)
	}
	if rec.Payload.TS != 1000 {
		t.Errorf("expected ts alias to win, got %d", rec.Payload.TS)
	}
}

func TestIngest_UnknownDeviceIsStillIngested(t *testing.T) {
	h := newTestGateway(t, &stubAdapter{}) // no commissioned devices

	resp, err := h.gateway.Ingest(context.Background(), types.SubmitRequest{
		DeviceID: "stranger",
		TrustA:   intPtr(80),
		TrustB:   intPtr(80),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if resp.Known {
		t.Error("uncommissioned device must be reported unknown")
	}
	if len(h.events.Records()) == 0 {
		t.Error("unknown devices are ingested, not rejected")
	}
}

func TestIngest_ConfirmUnreliableOverridesHealthyScore(t *testing.T) {
	// Ledger history shows three >=10-point drops across six samples, so the
	// trend decision must flag the event even though its own scores are fine.
	adapter := &stubAdapter{points: []types.TrendPoint{
		chainPoint("g1", 1, 100),
		chainPoint("g1", 2, 80),
		chainPoint("g1", 3, 100),
		chainPoint("g1", 4, 80),
		chainPoint("g1", 5, 100),
		chainPoint("g1", 6, 80),
	}}
	h := newTestGateway(t, adapter, "sensor-1")

	resp, err := h.gateway.Ingest(context.Background(), types.SubmitRequest{
		DeviceID: "sensor-1",
		GroupID:  "g1",
		TrustA:   intPtr(90),
		TrustB:   intPtr(95),
		TS:       i64Ptr(7),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if resp.SystemDecision.Action != types.ActionConfirmUnreliable {
		t.Fatalf("expected confirm_unreliable, got %s", resp.SystemDecision.Action)
	}
	if !resp.Flagged {
		t.Error("confirm_unreliable must force the flag")
	}

	preChain := findStage(h.events.Records(), resp.EventID, types.StagePreChain)
	if preChain == nil || !preChain.Flagged {
		t.Error("pre-chain record must carry the final flag state")
	}
}

func TestIngest_DownwardTrendLowersStoredThreshold(t *testing.T) {
	adapter := &stubAdapter{points: []types.TrendPoint{
		chainPoint("g1", 1, 100),
		chainPoint("g1", 2, 97),
		chainPoint("g1", 3, 94),
		chainPoint("g1", 4, 91),
		chainPoint("g1", 5, 88),
	}}
	h := newTestGateway(t, adapter, "sensor-1")
	_, msgs := h.hub.Subscribe()

	resp, err := h.gateway.Ingest(context.Background(), types.SubmitRequest{
		DeviceID: "sensor-1",
		GroupID:  "g1",
		TrustA:   intPtr(88),
		TrustB:   intPtr(85),
		TS:       i64Ptr(6),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if resp.SystemDecision.Action != types.ActionAdjustThresholdLower {
		t.Fatalf("expected adjust_threshold_lower, got %s", resp.SystemDecision.Action)
	}

	got, _ := h.thresholds.Get(context.Background(), "g1")
	if got != 55 {
		t.Errorf("expected persisted threshold 55, got %d", got)
	}

	sawThreshold, sawAlert := false, false
	for i := 0; i < 16; i++ {
		select {
		case m := <-msgs:
			switch m.Topic {
			case fanout.TopicThreshold:
				sawThreshold = true
			case fanout.TopicAlert:
				sawAlert = true
			}
		default:
		}
	}
	if !sawThreshold || !sawAlert {
		t.Errorf("expected threshold and alert frames, got threshold=%v alert=%v", sawThreshold, sawAlert)
	}
}

// brokenDeviceStore fails every write, to exercise the degraded path.
type brokenDeviceStore struct{}

func (brokenDeviceStore) IsKnown(context.Context, string) (bool, error) {
	return true, nil
}

func (brokenDeviceStore) MarkSeen(context.Context, string, bool, time.Time) error {
	return errors.New("device table locked")
}

func TestIngest_RegistryWriteFailureIsLoggedAndDegrades(t *testing.T) {
	es := memory.NewEventStore()
	var logBuf bytes.Buffer
	logger := log.New(&logBuf, "", 0)

	adapter := &stubAdapter{}
	queue := service.NewChainQueue(adapter, es, fanout.NewHub(), fastQueueConfig(), logger)
	t.Cleanup(queue.Stop)

	gw := service.NewGateway(service.GatewayDeps{
		Events:     es,
		Thresholds: memory.NewThresholdStore(60),
		Registry:   service.NewDeviceRegistry(brokenDeviceStore{}),
		Engine:     service.NewTrendEngine(es, adapter, time.Hour, 60, logger),
		Queue:      queue,
		Hub:        fanout.NewHub(),
		Logger:     logger,
	})

	resp, err := gw.Ingest(context.Background(), types.SubmitRequest{
		DeviceID: "sensor-1",
		TrustA:   intPtr(80),
		TrustB:   intPtr(90),
	})
	if err != nil {
		t.Fatalf("a registry write failure must not fail the request: %v", err)
	}
	if !resp.Known {
		t.Error("lookup succeeded, device must still be known")
	}
	if !strings.Contains(logBuf.String(), "note seen failed") {
		t.Errorf("expected the write failure in the log, got %q", logBuf.String())
	}
}

func TestIngest_HashIsContentDerived(t *testing.T) {
	// Two submissions differing only in an omitted optional field must hash
	// differently, while identical submissions hash identically.
	h := newTestGateway(t, &stubAdapter{}, "sensor-1")
	ctx := context.Background()

	base := types.SubmitRequest{
		DeviceID: "sensor-1",
		TrustA:   intPtr(80),
		TrustB:   intPtr(90),
		TS:       i64Ptr(1000),
	}
	r1, err := h.gateway.Ingest(ctx, base)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	r2, err := h.gateway.Ingest(ctx, base)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if r1.Hash != r2.Hash {
		t.Error("identical payloads must produce identical hashes")
	}

	withDist := base
	withDist.DistA = f64Ptr(1.5)
	r3, err := h.gateway.Ingest(ctx, withDist)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if r3.Hash == r1.Hash {
		t.Error("adding a field must change the content hash")
	}
}
