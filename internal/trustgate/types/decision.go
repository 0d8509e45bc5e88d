package types

// Action is the outcome class of a trend analysis run.
type Action string

const (
	ActionNoAction             Action = "no_action"
	ActionFlagForReview        Action = "flag_for_review"
	ActionConfirmUnreliable    Action = "confirm_unreliable"
	ActionAdjustThresholdLower Action = "adjust_threshold_lower"
	ActionInsufficientData     Action = "insufficient_data"
	ActionValidationError      Action = "validation_error"
)

// Analysis carries the statistics behind a decision, so operators can see why
// an action was taken rather than just which one.
type Analysis struct {
	Drops           int     `json:"drops"`
	InstabilityFrac float64 `json:"instabilityFrac"`
	Slope           float64 `json:"slope"`
	Samples         int     `json:"samples"`
}

// SystemDecision is produced fresh per ingestion and only ever persisted as
// part of the event record it was attached to.
type SystemDecision struct {
	Action       Action   `json:"action"`
	Reason       string   `json:"reason,omitempty"`
	Analysis     Analysis `json:"analysis"`
	NewThreshold *int     `json:"newThreshold,omitempty"`
}

// TrendSource identifies where a historical point came from.
type TrendSource string

const (
	SourceLocal   TrendSource = "local"
	SourceOnChain TrendSource = "onchain"
)

// TrendPoint is one historical trust observation for a group.  OldTS/NewTS are
// the trust-score values before/after the observation; either may be absent on
// ledger points that predate the richer schema.
type TrendPoint struct {
	GroupID string      `json:"groupId"`
	OldTS   *int        `json:"oldTS,omitempty"`
	NewTS   *int        `json:"newTS,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	TS      int64       `json:"ts"` // unix seconds
	Source  TrendSource `json:"source"`
}

// Score returns the trust value this point contributes to delta and slope
// computations: NewTS, falling back to OldTS, falling back to the neutral
// midpoint.
func (p TrendPoint) Score() int {
	if p.NewTS != nil {
		return *p.NewTS
	}
	if p.OldTS != nil {
		return *p.OldTS
	}
	return NeutralTrust
}

// NeutralTrust is the midpoint trust value assumed when an observation carries
// no score at all.
const NeutralTrust = 100
