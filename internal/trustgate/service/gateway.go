package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-labs/trustgate/internal/canon"
	"github.com/veritas-labs/trustgate/internal/fanout"
	"github.com/veritas-labs/trustgate/internal/trustgate/store"
	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

var (
	ErrInvalidDeviceID = errors.New("deviceId is required")
)

// DefaultGroupID is assumed when a device submits without a group.
const DefaultGroupID = "default"

// Gateway runs the ingestion pipeline for one submission: validate, hash,
// local threshold check, historical trend analysis, decision side effects,
// and routing of flagged events into the write queue.  The caller gets an
// answer immediately; ledger confirmation arrives later over the fan-out
// channel.
type Gateway struct {
	events     store.EventStore
	thresholds store.ThresholdStore
	registry   *DeviceRegistry
	engine     *TrendEngine
	queue      *ChainQueue
	hub        *fanout.Hub
	logger     *log.Logger
}

type GatewayDeps struct {
	Events     store.EventStore
	Thresholds store.ThresholdStore
	Registry   *DeviceRegistry
	Engine     *TrendEngine
	Queue      *ChainQueue
	Hub        *fanout.Hub
	Logger     *log.Logger
}

func NewGateway(d GatewayDeps) *Gateway {
	return &Gateway{
		events:     d.Events,
		thresholds: d.Thresholds,
		registry:   d.Registry,
		engine:     d.Engine,
		queue:      d.Queue,
		hub:        d.Hub,
		logger:     d.Logger,
	}
}

func (g *Gateway) Ingest(ctx context.Context, req types.SubmitRequest) (types.SubmitResponse, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return types.SubmitResponse{}, ErrInvalidDeviceID
	}

	groupID := strings.TrimSpace(req.GroupID)
	if groupID == "" {
		groupID = DefaultGroupID
	}

	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		eventID = uuid.NewString()
	}

	known, err := g.registry.IsKnown(ctx, deviceID)
	if err != nil {
		g.logger.Printf("ingest: registry lookup failed for %s: %v", deviceID, err)
	}
	if err := g.registry.NoteSeen(ctx, deviceID, known); err != nil {
		g.logger.Printf("ingest: note seen failed for %s: %v", deviceID, err)
	}

	payload := resolvePayload(req)

	// Hash failure marks the event integrity-unverifiable but does not
	// reject it.
	dataHash, err := canon.Hash(payload.Map())
	if err != nil {
		g.logger.Printf("ingest: payload hash failed for %s: %v", eventID, err)
		dataHash = ""
	}

	threshold, err := g.thresholds.Get(ctx, groupID)
	if err != nil {
		g.logger.Printf("ingest: threshold read failed for %s: %v", groupID, err)
	}
	flaggedLocal := scoreBelow(payload.TrustA, threshold) || scoreBelow(payload.TrustB, threshold)

	rec := store.EventRecord{
		EventID:    eventID,
		DeviceID:   deviceID,
		GroupID:    groupID,
		Stage:      types.StageReceived,
		Flagged:    flaggedLocal,
		Payload:    payload,
		DataHash:   dataHash,
		ReceivedAt: time.Now().UTC(),
	}

	// Raw telemetry must be visible to observers before analysis begins,
	// even if analysis is slow or fails.
	g.append(ctx, rec)
	g.hub.Publish(fanout.TopicTelemetry, rec.Summary())

	decision := g.engine.Decide(ctx, groupID, deviceID)

	validated := rec
	validated.Stage = types.StageSystemValidation
	validated.Decision = &decision
	if decision.Action == types.ActionValidationError {
		validated.Stage = types.StageSystemValidationError
		validated.Detail = decision.Reason
	}
	g.append(ctx, validated)

	flagged := flaggedLocal
	switch decision.Action {
	case types.ActionConfirmUnreliable:
		flagged = true
		g.hub.Publish(fanout.TopicAlert, map[string]any{
			"groupId": groupID,
			"action":  decision.Action,
			"reason":  decision.Reason,
		})
	case types.ActionAdjustThresholdLower:
		if decision.NewThreshold != nil {
			if err := g.thresholds.Set(ctx, groupID, *decision.NewThreshold); err != nil {
				g.logger.Printf("ingest: threshold update failed for %s: %v", groupID, err)
			} else {
				g.hub.Publish(fanout.TopicThreshold, map[string]any{
					"groupId":   groupID,
					"threshold": *decision.NewThreshold,
				})
			}
		}
		g.hub.Publish(fanout.TopicAlert, map[string]any{
			"groupId": groupID,
			"action":  decision.Action,
			"reason":  decision.Reason,
		})
	case types.ActionFlagForReview:
		g.hub.Publish(fanout.TopicAlert, map[string]any{
			"groupId": groupID,
			"action":  decision.Action,
			"reason":  decision.Reason,
		})
	}

	preChain := validated
	preChain.Stage = types.StagePreChain
	preChain.Flagged = flagged
	preChain.Detail = ""
	g.append(ctx, preChain)

	resp := types.SubmitResponse{
		Hash:           dataHash,
		Flagged:        flagged,
		SystemDecision: &decision,
		EventID:        eventID,
		Known:          known,
	}

	if !flagged {
		resp.Message = "event recorded"
		return resp, nil
	}

	g.queue.Enqueue(ctx, QueueItem{Record: preChain})
	resp.Message = "event accepted"
	resp.Feedback = "flagged event queued for ledger submission"
	return resp, nil
}

// append writes the record and publishes the lifecycle transition.  A storage
// failure is logged and degrades to a missing history row; it never fails the
// request.
func (g *Gateway) append(ctx context.Context, rec store.EventRecord) {
	if err := g.events.Append(ctx, rec); err != nil {
		g.logger.Printf("ingest: append %s failed for %s: %v", rec.Stage, rec.EventID, err)
		return
	}
	g.hub.Publish(fanout.TopicLifecycle, rec.Summary())
}

// resolvePayload applies the boundary's alias and default rules once, so no
// later component re-resolves them: rpm wins over speed, ts over timestamp.
func resolvePayload(req types.SubmitRequest) types.Payload {
	p := types.Payload{
		DistA:  req.DistA,
		DistB:  req.DistB,
		TrustA: req.TrustA,
		TrustB: req.TrustB,
		Reason: strings.TrimSpace(req.Reason),
	}
	switch {
	case req.RPM != nil:
		p.Speed = req.RPM
	case req.Speed != nil:
		p.Speed = req.Speed
	}
	switch {
	case req.TS != nil:
		p.TS = *req.TS
	case req.Timestamp != nil:
		p.TS = *req.Timestamp
	}
	return p
}

// scoreBelow reports whether a submitted trust score falls under the group's
// floor.  An absent score is treated as the neutral midpoint, which cannot
// be below any configured threshold.
func scoreBelow(score *int, threshold int) bool {
	v := types.NeutralTrust
	if score != nil {
		v = *score
	}
	return v < threshold
}
