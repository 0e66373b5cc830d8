package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrTerminalRun        = errors.New("run is already in a terminal state")
	ErrInvalidTransition  = errors.New("invalid run status transition")
	ErrToolCallNotFound   = errors.New("tool call not found")
	ErrToolCallCompleted  = errors.New("tool call already completed")
	ErrToolCallNotRunning = errors.New("tool call is not queued")
)

// DefaultListLimit bounds ListRuns when the caller passes no limit.
const DefaultListLimit = 50

// Store is the run ledger: the only writer of run and tool call state.
type Store interface {
	CreateRun(ctx context.Context, event json.RawMessage) (int64, error)
	UpdateRun(ctx context.Context, id int64, update RunUpdate) error
	GetRun(ctx context.Context, id int64) (RunRecord, error)
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// CreateToolCall records a queued call. runID may be nil for standalone calls.
	CreateToolCall(ctx context.Context, runID *int64, name string, params json.RawMessage) (int64, error)
	StartToolCall(ctx context.Context, id int64) error
	CompleteToolCall(ctx context.Context, id int64, completion ToolCallCompletion) error
	GetToolCall(ctx context.Context, id int64) (ToolCallRecord, error)
	ListToolCalls(ctx context.Context, runID int64) ([]ToolCallRecord, error)

	// Durable reports whether records survive a restart.
	Durable() bool
	Close() error
}

type RunRecord struct {
	ID        int64
	CreatedAt time.Time
	Event     json.RawMessage
	Plan      json.RawMessage
	Status    RunStatus
	Approvals json.RawMessage
	Result    json.RawMessage
	Links     json.RawMessage
}

// RunUpdate carries the fields to change; nil fields are left untouched.
type RunUpdate struct {
	Status    *RunStatus
	Plan      json.RawMessage
	Approvals json.RawMessage
	Result    json.RawMessage
	Links     json.RawMessage
}

func (u RunUpdate) empty() bool {
	return u.Status == nil && u.Plan == nil && u.Approvals == nil && u.Result == nil && u.Links == nil
}

type ToolCallRecord struct {
	ID         int64
	RunID      *int64
	Name       string
	Params     json.RawMessage
	Result     json.RawMessage
	Status     ToolCallStatus
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
	DurationMS *int64
}

type ToolCallCompletion struct {
	Status ToolCallStatus
	Result json.RawMessage
	Error  string
}

func validateCompletion(c ToolCallCompletion) error {
	if c.Status != ToolCallSucceeded && c.Status != ToolCallFailed {
		return ErrInvalidTransition
	}
	return nil
}
