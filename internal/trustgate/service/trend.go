package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/veritas-labs/trustgate/internal/ledger"
	"github.com/veritas-labs/trustgate/internal/trustgate/store"
	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

// Trend analysis constants.  Process-wide; per-group tuning has not been
// needed so far.
const (
	// windowEvents bounds how many merged points are analyzed; older points
	// are dropped, never analyzed.
	windowEvents = 20

	// dropDelta is the score fall between consecutive points counted as a drop.
	dropDelta = 10

	// instabilityDelta is the absolute swing counted as instability.
	instabilityDelta = 8

	dropCountThreshold   = 3
	minSamplesForConfirm = 6
	instabilityFraction  = 0.4
	slopeThreshold       = -2.0

	// thresholdFloor/thresholdStep bound how far adjust_threshold_lower can
	// move a group's trust floor in one step.
	thresholdFloor = 10
	thresholdStep  = 5
)

const defaultLookback = 24 * time.Hour

// TrendEngine merges on-ledger and local event history for a group and turns
// the merged series into a decision.  Every failure inside it is converted to
// a decision state; no error ever escapes past Decide.
type TrendEngine struct {
	events           store.EventStore
	ledger           ledger.Adapter
	lookback         time.Duration
	defaultThreshold int
	logger           *log.Logger
}

func NewTrendEngine(events store.EventStore, adapter ledger.Adapter, lookback time.Duration, defaultThreshold int, logger *log.Logger) *TrendEngine {
	if adapter == nil {
		adapter = ledger.Disabled{}
	}
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &TrendEngine{
		events:           events,
		ledger:           adapter,
		lookback:         lookback,
		defaultThreshold: defaultThreshold,
		logger:           logger,
	}
}

// BuildSeries merges ledger and local history for the group into one ordered,
// deduplicated series, truncated to the most recent windowEvents points.
// A ledger read failure degrades to local-only history.
func (e *TrendEngine) BuildSeries(ctx context.Context, groupID, deviceID string) ([]types.TrendPoint, error) {
	from := time.Now().UTC().Add(-e.lookback)
	chainPoints, err := e.ledger.QueryEvents(ctx, groupID, from)
	if err != nil {
		if err != ledger.ErrNotConfigured {
			e.logger.Printf("trend: ledger history unavailable for %s, using local only: %v", groupID, err)
		}
		chainPoints = nil
	}

	localPoints, err := e.events.TrendPointsFor(ctx, groupID, deviceID)
	if err != nil {
		e.logger.Printf("trend: local history read failed for %s: %v", groupID, err)
		localPoints = nil
	}

	merged := mergeSeries(chainPoints, localPoints)
	if len(merged) > windowEvents {
		merged = merged[len(merged)-windowEvents:]
	}
	return merged, nil
}

// mergeSeries concatenates, sorts ascending by timestamp, and deduplicates on
// (groupID, ts).  When a local and a ledger point collide, the local one wins:
// it carries metadata the ledger never stored.
func mergeSeries(chain, local []types.TrendPoint) []types.TrendPoint {
	type key struct {
		group string
		ts    int64
	}

	chosen := make(map[key]types.TrendPoint, len(chain)+len(local))
	order := make([]key, 0, len(chain)+len(local))

	for _, p := range chain {
		k := key{p.GroupID, p.TS}
		if _, ok := chosen[k]; !ok {
			order = append(order, k)
		}
		chosen[k] = p
	}
	for _, p := range local {
		k := key{p.GroupID, p.TS}
		if prev, ok := chosen[k]; ok {
			if prev.Source == types.SourceLocal {
				continue // first local point for this timestamp stays
			}
		} else {
			order = append(order, k)
		}
		chosen[k] = p
	}

	out := make([]types.TrendPoint, 0, len(order))
	for _, k := range order {
		out = append(out, chosen[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out
}

// Analyze computes drop count, instability fraction, and least-squares slope
// over the series.  The caller decides what the numbers mean.
func (e *TrendEngine) Analyze(series []types.TrendPoint) types.Analysis {
	a := types.Analysis{Samples: len(series)}
	if len(series) < 2 {
		return a
	}

	pairs := 0
	instability := 0
	for i := 1; i < len(series); i++ {
		delta := series[i].Score() - series[i-1].Score()
		pairs++
		if delta <= -dropDelta {
			a.Drops++
		}
		if delta >= instabilityDelta || delta <= -instabilityDelta {
			instability++
		}
	}
	a.InstabilityFrac = float64(instability) / float64(max(1, pairs))
	a.Slope = olsSlope(series)
	return a
}

// olsSlope is the ordinary least-squares slope of score against point index.
// Index, not wall-clock: the series is already a bounded recent window and
// devices report on an irregular clock.
func olsSlope(series []types.TrendPoint) float64 {
	n := len(series)
	if n < 3 { // fewer than 2 pairs
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, p := range series {
		x := float64(i)
		y := float64(p.Score())
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := float64(n)*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (float64(n)*sumXY - sumX*sumY) / denom
}

// Decide runs the full trend analysis for the group and applies the decision
// rules in strict priority order.  It never returns an error: total failure
// becomes a validation_error decision.
func (e *TrendEngine) Decide(ctx context.Context, groupID, deviceID string) types.SystemDecision {
	series, err := e.BuildSeries(ctx, groupID, deviceID)
	if err != nil {
		return types.SystemDecision{
			Action: types.ActionValidationError,
			Reason: fmt.Sprintf("history unavailable: %v", err),
		}
	}

	analysis := e.Analyze(series)
	if analysis.Samples < 2 {
		return types.SystemDecision{
			Action:   types.ActionInsufficientData,
			Reason:   "fewer than 2 historical points",
			Analysis: analysis,
		}
	}

	switch {
	case analysis.Drops >= dropCountThreshold && analysis.Samples >= minSamplesForConfirm:
		return types.SystemDecision{
			Action:   types.ActionConfirmUnreliable,
			Reason:   "recurring_drops",
			Analysis: analysis,
		}
	case analysis.InstabilityFrac >= instabilityFraction:
		return types.SystemDecision{
			Action:   types.ActionFlagForReview,
			Reason:   "high_instability",
			Analysis: analysis,
		}
	case analysis.Slope < slopeThreshold:
		nt := max(thresholdFloor, e.defaultThreshold-thresholdStep)
		return types.SystemDecision{
			Action:       types.ActionAdjustThresholdLower,
			Reason:       "downward_trend",
			Analysis:     analysis,
			NewThreshold: &nt,
		}
	default:
		return types.SystemDecision{
			Action:   types.ActionNoAction,
			Analysis: analysis,
		}
	}
}
