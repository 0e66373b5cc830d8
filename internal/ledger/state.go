package ledger

type RunStatus string

type ToolCallStatus string

const (
	RunPending   RunStatus = "pending"
	RunBlocked   RunStatus = "blocked"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

const (
	ToolCallQueued    ToolCallStatus = "queued"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallSucceeded ToolCallStatus = "succeeded"
	ToolCallFailed    ToolCallStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunBlocked || s == RunCompleted || s == RunFailed
}

// Terminal reports whether the call has completed.
func (s ToolCallStatus) Terminal() bool {
	return s == ToolCallSucceeded || s == ToolCallFailed
}

// CheckRunTransition enforces pending -> {blocked | completed | failed}.
func CheckRunTransition(from, to RunStatus) error {
	if from.Terminal() {
		return ErrTerminalRun
	}
	switch to {
	case RunPending, RunBlocked, RunCompleted, RunFailed:
		return nil
	default:
		return ErrInvalidTransition
	}
}

// StatusPtr is a convenience for building a RunUpdate.
func StatusPtr(s RunStatus) *RunStatus {
	return &s
}
