// Package orchestrator is the event entry point: it opens a run, applies the
// policy gate, plans, and finalizes the run in the ledger.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/juanpasaflipz/agentic-devops/internal/ledger"
	"github.com/juanpasaflipz/agentic-devops/internal/planner"
	"github.com/juanpasaflipz/agentic-devops/internal/policy"
	"github.com/juanpasaflipz/agentic-devops/internal/redact"
	"github.com/juanpasaflipz/agentic-devops/internal/telemetry"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

var tracer = telemetry.Tracer("github.com/juanpasaflipz/agentic-devops/internal/orchestrator")

type Options struct {
	Ledger   ledger.Store
	Gate     *policy.Gate
	Planner  *planner.Planner
	Redactor *redact.Redactor
	// Production withholds internal error detail from outcomes.
	Production bool
}

type Orchestrator struct {
	ledger     ledger.Store
	gate       *policy.Gate
	planner    *planner.Planner
	redactor   *redact.Redactor
	production bool
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		ledger:     opts.Ledger,
		gate:       opts.Gate,
		planner:    opts.Planner,
		redactor:   opts.Redactor,
		production: opts.Production,
	}
}

// HandleEvent processes one event to a terminal run. Policy denials and plan
// failures are outcomes; the returned error is reserved for ledger failures.
// Cancellation of ctx is ignored: a started run always reaches a terminal
// status and every tool call it opens is completed.
func (o *Orchestrator) HandleEvent(ctx context.Context, evt types.Event) (types.Outcome, error) {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "event.handle")
	defer span.End()
	span.SetAttributes(attribute.String("event.action", evt.Str("action")))

	raw, err := o.redactor.JSON(evt)
	if err != nil {
		return types.Outcome{}, fmt.Errorf("encode event: %w", err)
	}
	runID, err := o.ledger.CreateRun(ctx, raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return types.Outcome{}, fmt.Errorf("create run: %w", err)
	}
	span.SetAttributes(attribute.Int64("run.id", runID))
	logger := log.With().Int64("run_id", runID).Str("action", evt.Str("action")).Logger()

	approvals, err := json.Marshal(o.gate.Approvals(evt))
	if err != nil {
		return types.Outcome{}, fmt.Errorf("encode approvals: %w", err)
	}

	if verdict := o.gate.Precheck(evt); !verdict.Allowed {
		result, _ := json.Marshal(map[string]string{"reason": verdict.Reason})
		if err := o.ledger.UpdateRun(ctx, runID, ledger.RunUpdate{
			Status:    ledger.StatusPtr(ledger.RunBlocked),
			Approvals: approvals,
			Result:    result,
		}); err != nil {
			return types.Outcome{}, fmt.Errorf("finalize blocked run: %w", err)
		}
		logger.Info().Str("reason", verdict.Reason).Msg("event blocked by policy")
		return types.Outcome{Status: types.OutcomeBlocked, RunID: &runID, Reason: verdict.Reason}, nil
	}

	plan, planErr := o.planner.Plan(ctx, evt, &runID)
	if planErr != nil {
		span.SetStatus(codes.Error, planErr.Error())
		logger.Error().Err(planErr).Msg("plan failed")
		detail := o.redactor.Redact(planErr.Error())
		result, _ := json.Marshal(map[string]string{"error": detail})
		if err := o.ledger.UpdateRun(ctx, runID, ledger.RunUpdate{
			Status:    ledger.StatusPtr(ledger.RunFailed),
			Approvals: approvals,
			Result:    result,
		}); err != nil {
			return types.Outcome{}, fmt.Errorf("finalize failed run: %w", err)
		}
		out := types.Outcome{Status: types.OutcomeInternalError, RunID: &runID}
		if !o.production {
			out.Detail = detail
		}
		return out, nil
	}

	summary := o.redactor.Redact(plan.Summary)
	update := ledger.RunUpdate{
		Status:    ledger.StatusPtr(runStatus(plan)),
		Approvals: approvals,
	}
	if update.Plan, err = o.encodeRedacted(plan); err != nil {
		return types.Outcome{}, err
	}
	if update.Result, err = json.Marshal(map[string]any{"ok": plan.OK, "summary": summary}); err != nil {
		return types.Outcome{}, fmt.Errorf("encode result: %w", err)
	}
	if len(plan.Links) > 0 {
		if update.Links, err = json.Marshal(plan.Links); err != nil {
			return types.Outcome{}, fmt.Errorf("encode links: %w", err)
		}
	}
	if err := o.ledger.UpdateRun(ctx, runID, update); err != nil {
		return types.Outcome{}, fmt.Errorf("finalize run: %w", err)
	}

	logger.Info().
		Str("branch", string(plan.Branch)).
		Str("status", string(*update.Status)).
		Msg("run finalized")

	if plan.Blocked {
		return types.Outcome{Status: types.OutcomeBlocked, RunID: &runID, Reason: summary, PlanSummary: summary}, nil
	}
	return types.Outcome{Status: types.OutcomeOK, RunID: &runID, PlanSummary: summary}, nil
}

// encodeRedacted stores the plan with secrets scrubbed from any text it
// carries, including runbook step errors.
func (o *Orchestrator) encodeRedacted(plan planner.Plan) (json.RawMessage, error) {
	raw, err := o.redactor.JSON(plan)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return raw, nil
}

func runStatus(plan planner.Plan) ledger.RunStatus {
	switch {
	case plan.Blocked:
		return ledger.RunBlocked
	case !plan.OK:
		return ledger.RunFailed
	default:
		return ledger.RunCompleted
	}
}

// ListRuns returns the newest runs. A non-positive limit uses the ledger default.
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]types.RunView, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	records, err := o.ledger.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]types.RunView, 0, len(records))
	for _, rec := range records {
		out = append(out, types.RunView{
			ID:        rec.ID,
			CreatedAt: rec.CreatedAt,
			Event:     rec.Event,
			Status:    string(rec.Status),
			Result:    rec.Result,
			Links:     rec.Links,
		})
	}
	return out, nil
}

// Durable reports whether runs are persisted across restarts.
func (o *Orchestrator) Durable() bool {
	return o.ledger.Durable()
}
