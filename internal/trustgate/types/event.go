package types

import "time"

// Stage marks how far an event has progressed through the pipeline.  Progress
// is always represented by appending a new record with a later stage, never by
// mutating an existing one.
type Stage string

const (
	StageReceived              Stage = "received"
	StageSystemValidation      Stage = "system-validation"
	StageSystemValidationError Stage = "system-validation-error"
	StagePreChain              Stage = "pre-chain"
	StageQueued                Stage = "queued"
	StagePostChain             Stage = "post-chain"
	StagePostChainFailed       Stage = "post-chain-failed"
)

// SubmitRequest is the wire shape a sensor device POSTs to /v1/events.
// rpm/speed and ts/timestamp are aliases; the first non-nil one wins.
type SubmitRequest struct {
	EventID  string   `json:"eventId,omitempty"`
	DeviceID string   `json:"deviceId"`
	GroupID  string   `json:"groupId,omitempty"`
	TrustA   *int     `json:"trustA,omitempty"`
	TrustB   *int     `json:"trustB,omitempty"`
	DistA    *float64 `json:"distA,omitempty"`
	DistB    *float64 `json:"distB,omitempty"`
	RPM      *float64 `json:"rpm,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Reason   string   `json:"reason,omitempty"`

	// Unix seconds as reported by the device clock.
	TS        *int64 `json:"ts,omitempty"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// SubmitResponse is returned to the device immediately.  When the event is
// flagged the acknowledgment is decoupled from ledger confirmation: Feedback
// says "queued", not "confirmed".
type SubmitResponse struct {
	Message        string          `json:"message"`
	Hash           string          `json:"hash,omitempty"`
	Flagged        bool            `json:"flagged"`
	SystemDecision *SystemDecision `json:"systemDecision,omitempty"`
	Feedback       string          `json:"feedback,omitempty"`
	EventID        string          `json:"eventId"`
	Known          bool            `json:"known"`
}

// Payload is the resolved sensor reading carried by one submission, after
// alias and default resolution at the boundary.  It is the sole input to the
// content hash, so caller-assigned ids are deliberately not part of it.
type Payload struct {
	DistA  *float64 `json:"distA,omitempty"`
	DistB  *float64 `json:"distB,omitempty"`
	TrustA *int     `json:"trustA,omitempty"`
	TrustB *int     `json:"trustB,omitempty"`
	Speed  *float64 `json:"speed,omitempty"`
	Reason string   `json:"reason,omitempty"`
	TS     int64    `json:"ts,omitempty"` // unix seconds; 0 = device sent none
}

// Map renders the payload as the nested primitive form the canonical hasher
// accepts.  Absent optional fields are omitted entirely so that a field the
// device never sent cannot influence the hash.
func (p Payload) Map() map[string]any {
	m := make(map[string]any, 7)
	if p.DistA != nil {
		m["distA"] = *p.DistA
	}
	if p.DistB != nil {
		m["distB"] = *p.DistB
	}
	if p.TrustA != nil {
		m["trustA"] = int64(*p.TrustA)
	}
	if p.TrustB != nil {
		m["trustB"] = int64(*p.TrustB)
	}
	if p.Speed != nil {
		m["speed"] = *p.Speed
	}
	if p.Reason != "" {
		m["reason"] = p.Reason
	}
	if p.TS != 0 {
		m["ts"] = p.TS
	}
	return m
}

// EventSummary is the read-model projection returned by the history query
// endpoints and pushed over the live channel on lifecycle transitions.
type EventSummary struct {
	EventID    string          `json:"eventId"`
	DeviceID   string          `json:"deviceId"`
	GroupID    string          `json:"groupId"`
	Stage      Stage           `json:"stage"`
	Flagged    bool            `json:"flagged"`
	TrustA     *int            `json:"trustA,omitempty"`
	TrustB     *int            `json:"trustB,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	DataHash   string          `json:"hash,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
	TxID       string          `json:"txId,omitempty"`
	Decision   *SystemDecision `json:"systemDecision,omitempty"`
	Detail     string          `json:"detail,omitempty"`
}
