package runbook

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/juanpasaflipz/agentic-devops/internal/router"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

type StepResult struct {
	Step  string `json:"step"`
	Tool  string `json:"tool"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Result struct {
	OK      bool         `json:"ok"`
	Runbook string       `json:"runbook"`
	Steps   []StepResult `json:"steps"`
}

type Interpreter struct {
	Dir     string
	Invoker router.Invoker
}

func NewInterpreter(dir string, invoker router.Invoker) *Interpreter {
	return &Interpreter{Dir: dir, Invoker: invoker}
}

// Run selects a runbook for incident and dispatches each parsed step in
// order. Step failures are recorded and never stop later steps; the result
// is always OK once a runbook was selected.
func (i *Interpreter) Run(ctx context.Context, incident types.Fields, runID *int64) (Result, error) {
	books, err := LoadDir(i.Dir)
	if err != nil {
		return Result{}, err
	}
	rb, ok := Select(books, incident.Str("metric"))
	if !ok {
		return Result{}, ErrNoRunbooks
	}

	res := Result{OK: true, Runbook: rb.Name, Steps: []StepResult{}}
	for _, raw := range rb.Steps {
		step := Template(raw, incident)
		call, ok := ParseCall(step)
		if !ok {
			continue
		}
		sr := StepResult{Step: step, Tool: call.Tool, OK: true}
		out, err := i.Invoker.Invoke(ctx, call.Tool, call.Params, runID)
		switch {
		case err != nil:
			sr.OK = false
			sr.Error = err.Error()
			evt := log.Warn()
			if errors.Is(err, router.ErrUnknownTool) {
				evt = log.Error()
			}
			evt.Err(err).Str("runbook", rb.Name).Str("tool", call.Tool).Msg("runbook step failed, continuing")
		case out != nil && out["ok"] == false:
			sr.OK = false
			sr.Error = out.Str("error")
		}
		res.Steps = append(res.Steps, sr)
	}
	return res, nil
}
