package router

import (
	"errors"
	"fmt"
)

var ErrUnknownTool = errors.New("unknown tool")

// UnknownToolError is returned for names outside the registry, in every mode.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

func (e *UnknownToolError) Unwrap() error { return ErrUnknownTool }

// ToolExecutionError wraps a handler failure. It only reaches callers in
// production mode.
type ToolExecutionError struct {
	Tool ToolKind
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
