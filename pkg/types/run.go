package types

import (
	"encoding/json"
	"time"
)

type OutcomeStatus string

const (
	OutcomeOK            OutcomeStatus = "ok"
	OutcomeBlocked       OutcomeStatus = "blocked"
	OutcomeInternalError OutcomeStatus = "internal_error"
)

// Outcome is the structured response to an ingested event.
type Outcome struct {
	Status      OutcomeStatus `json:"status"`
	RunID       *int64        `json:"run_id,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	PlanSummary string        `json:"plan_summary,omitempty"`
	Detail      string        `json:"detail,omitempty"`
}

// RunView is one row of the run listing.
type RunView struct {
	ID        int64           `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Event     json.RawMessage `json:"event"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Links     json.RawMessage `json:"links,omitempty"`
}
