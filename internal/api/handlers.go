package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/juanpasaflipz/agentic-devops/internal/auth"
	"github.com/juanpasaflipz/agentic-devops/internal/ledger"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

const (
	maxEventBytes     = 1 << 20
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
)

// EventService is the orchestrator surface the handlers need.
type EventService interface {
	HandleEvent(ctx context.Context, evt types.Event) (types.Outcome, error)
	ListRuns(ctx context.Context, limit int) ([]types.RunView, error)
}

type Handler struct {
	Auth        auth.Authenticator
	Events      EventService
	Idempotency *InMemoryIdemStore
	// Production withholds internal error detail from responses.
	Production bool
}

type errorResponse struct {
	Error  string `json:"error"`
	RunID  *int64 `json:"run_id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Event ingests one event. Denials and plan summaries are 200 responses;
// only internal failures are 500s.
func (h *Handler) Event(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key != "" && h.Idempotency != nil {
		if rec, ok := h.Idempotency.Get(key); ok {
			w.Header().Set(replayHeader, "true")
			writeJSON(w, rec.StatusCode, rec.Outcome)
			return
		}
	}

	evt, err := decodeEvent(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_event", Detail: err.Error()})
		return
	}

	outcome, err := h.Events.HandleEvent(r.Context(), evt)
	if err != nil {
		log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("event handling failed")
		resp := errorResponse{Error: string(types.OutcomeInternalError)}
		if !h.Production {
			resp.Detail = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	if outcome.Status == types.OutcomeInternalError {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:  string(types.OutcomeInternalError),
			RunID:  outcome.RunID,
			Detail: outcome.Detail,
		})
		return
	}

	if key != "" && h.Idempotency != nil {
		h.Idempotency.Put(IdemRecord{IdemKey: key, StatusCode: http.StatusOK, Outcome: outcome})
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Runs lists the most recent runs, newest first. limit may lower the
// default page size but not raise it.
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	limit := ledger.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_limit"})
			return
		}
		if n < limit {
			limit = n
		}
	}

	runs, err := h.Events.ListRuns(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("list runs failed")
		resp := errorResponse{Error: string(types.OutcomeInternalError)}
		if !h.Production {
			resp.Detail = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := h.Auth.Authenticate(r); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// decodeEvent reads a JSON object. Numbers stay json.Number so integral
// fields such as approvals_count keep their exact form.
func decodeEvent(body io.Reader) (types.Event, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	var evt types.Event
	if err := dec.Decode(&evt); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty body")
		}
		return nil, err
	}
	if evt == nil {
		return nil, errors.New("event must be a JSON object")
	}
	return evt, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
