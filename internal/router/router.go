// Package router dispatches tool invocations through a single audited path:
// enqueue for observers, record in the ledger, execute, complete, redact.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/juanpasaflipz/agentic-devops/internal/ledger"
	"github.com/juanpasaflipz/agentic-devops/internal/queue"
	"github.com/juanpasaflipz/agentic-devops/internal/redact"
	"github.com/juanpasaflipz/agentic-devops/internal/telemetry"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

const enqueueTimeout = 500 * time.Millisecond

var tracer = telemetry.Tracer("github.com/juanpasaflipz/agentic-devops/internal/router")

// Mode selects how handler failures reach the caller.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

type Handler interface {
	Handle(ctx context.Context, params types.Fields) (types.Fields, error)
}

type HandlerFunc func(ctx context.Context, params types.Fields) (types.Fields, error)

func (f HandlerFunc) Handle(ctx context.Context, params types.Fields) (types.Fields, error) {
	return f(ctx, params)
}

// Invoker is what planners and runbooks depend on.
type Invoker interface {
	Invoke(ctx context.Context, name string, params types.Fields, runID *int64) (types.Fields, error)
}

type Options struct {
	Mode     Mode
	Ledger   ledger.Store
	Queue    queue.Enqueuer
	Redactor *redact.Redactor
}

type Router struct {
	handlers map[ToolKind]Handler
	mode     Mode
	ledger   ledger.Store
	queue    queue.Enqueuer
	redactor *redact.Redactor
}

// New builds a router. Every kind in AllKinds must have a handler.
func New(handlers map[ToolKind]Handler, opts Options) (*Router, error) {
	for _, k := range AllKinds {
		if handlers[k] == nil {
			return nil, fmt.Errorf("no handler registered for tool %s", k)
		}
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("router requires a ledger")
	}
	if opts.Queue == nil {
		opts.Queue = queue.Noop{}
	}
	if opts.Mode == "" {
		opts.Mode = ModeDevelopment
	}
	if opts.Redactor == nil {
		opts.Redactor = redact.New()
	}
	hs := make(map[ToolKind]Handler, len(handlers))
	for k, h := range handlers {
		hs[k] = h
	}
	return &Router{
		handlers: hs,
		mode:     opts.Mode,
		ledger:   opts.Ledger,
		queue:    opts.Queue,
		redactor: opts.Redactor,
	}, nil
}

func (r *Router) Mode() Mode { return r.mode }

// Invoke executes the named tool once. The ledger stores the raw result; the
// caller receives the redacted one. Outside production a handler failure is
// returned as {ok: false, error}.
func (r *Router) Invoke(ctx context.Context, name string, params types.Fields, runID *int64) (types.Fields, error) {
	kind, ok := ParseKind(name)
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	if params == nil {
		params = types.Fields{}
	}

	ctx, span := tracer.Start(ctx, "tool.invoke", trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()
	if runID != nil {
		span.SetAttributes(attribute.Int64("run.id", *runID))
	}

	r.enqueue(ctx, kind, params)

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params for %s: %w", kind, err)
	}
	callID, err := r.ledger.CreateToolCall(ctx, runID, string(kind), rawParams)
	if err != nil {
		return nil, fmt.Errorf("record tool call %s: %w", kind, err)
	}
	if err := r.ledger.StartToolCall(ctx, callID); err != nil {
		return nil, fmt.Errorf("start tool call %s: %w", kind, err)
	}

	started := time.Now()
	result, handlerErr := r.handlers[kind].Handle(ctx, params)
	logger := log.With().Str("tool", string(kind)).Int64("tool_call_id", callID).
		Dur("duration_ms", time.Since(started)).Logger()

	if handlerErr != nil {
		return r.fail(ctx, span, logger, callID, kind, handlerErr)
	}

	if result == nil {
		result = types.Fields{}
	}
	rawResult, err := json.Marshal(result)
	if err != nil {
		return r.fail(ctx, span, logger, callID, kind, fmt.Errorf("encode result: %w", err))
	}
	if err := r.ledger.CompleteToolCall(ctx, callID, ledger.ToolCallCompletion{Status: ledger.ToolCallSucceeded, Result: rawResult}); err != nil {
		return nil, fmt.Errorf("complete tool call %s: %w", kind, err)
	}
	logger.Debug().Func(telemetry.LogTraceFields(ctx)).Msg("tool call succeeded")

	redacted, err := r.redactor.Map(result)
	if err != nil {
		return nil, fmt.Errorf("redact result for %s: %w", kind, err)
	}
	return types.Fields(redacted), nil
}

// fail completes the call as failed and applies the mode rule: production
// callers get a ToolExecutionError, everyone else a redacted {ok: false}.
func (r *Router) fail(ctx context.Context, span trace.Span, logger zerolog.Logger, callID int64, kind ToolKind, cause error) (types.Fields, error) {
	msg := cause.Error()
	span.RecordError(cause)
	span.SetStatus(codes.Error, msg)
	if err := r.ledger.CompleteToolCall(ctx, callID, ledger.ToolCallCompletion{Status: ledger.ToolCallFailed, Error: msg}); err != nil {
		return nil, fmt.Errorf("complete tool call %s: %w", kind, err)
	}
	logger.Warn().Err(cause).Func(telemetry.LogTraceFields(ctx)).Msg("tool call failed")
	if r.mode == ModeProduction {
		return nil, &ToolExecutionError{Tool: kind, Err: cause}
	}
	return types.Fields{"ok": false, "error": r.redactor.Redact(msg)}, nil
}

func (r *Router) enqueue(ctx context.Context, kind ToolKind, params types.Fields) {
	qctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := r.queue.Enqueue(qctx, string(kind), params); err != nil {
		log.Debug().Err(err).Str("tool", string(kind)).Msg("tool call enqueue skipped")
	}
}
