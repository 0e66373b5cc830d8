package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// InMemoryStore keeps runs for the process lifetime only. Its identifiers
// are negative so callers can tell degraded records apart from durable ones.
type InMemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	runs      []RunRecord // newest first
	toolCalls map[int64]ToolCallRecord
	nextRun   int64
	nextCall  int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		now:       time.Now,
		toolCalls: make(map[int64]ToolCallRecord),
	}
}

func (s *InMemoryStore) Durable() bool { return false }

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) CreateRun(_ context.Context, event json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun--
	rec := RunRecord{
		ID:        s.nextRun,
		CreatedAt: s.now().UTC(),
		Event:     cloneRaw(event),
		Status:    RunPending,
	}
	s.runs = append([]RunRecord{rec}, s.runs...)
	return rec.ID, nil
}

func (s *InMemoryStore) UpdateRun(_ context.Context, id int64, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.runIndex(id)
	if idx < 0 {
		return ErrRunNotFound
	}
	if update.empty() {
		return nil
	}
	rec := s.runs[idx]
	if update.Status != nil {
		if err := CheckRunTransition(rec.Status, *update.Status); err != nil {
			return err
		}
		rec.Status = *update.Status
	}
	if update.Plan != nil {
		rec.Plan = cloneRaw(update.Plan)
	}
	if update.Approvals != nil {
		rec.Approvals = cloneRaw(update.Approvals)
	}
	if update.Result != nil {
		rec.Result = cloneRaw(update.Result)
	}
	if update.Links != nil {
		rec.Links = cloneRaw(update.Links)
	}
	s.runs[idx] = rec
	return nil
}

func (s *InMemoryStore) GetRun(_ context.Context, id int64) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.runIndex(id)
	if idx < 0 {
		return RunRecord{}, ErrRunNotFound
	}
	return s.runs[idx], nil
}

func (s *InMemoryStore) ListRuns(_ context.Context, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = DefaultListLimit
	}
	n := len(s.runs)
	if n > limit {
		n = limit
	}
	out := make([]RunRecord, n)
	copy(out, s.runs[:n])
	return out, nil
}

func (s *InMemoryStore) CreateToolCall(_ context.Context, runID *int64, name string, params json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCall--
	rec := ToolCallRecord{
		ID:        s.nextCall,
		Name:      name,
		Params:    cloneRaw(params),
		Status:    ToolCallQueued,
		StartedAt: s.now().UTC(),
	}
	if runID != nil {
		id := *runID
		rec.RunID = &id
	}
	s.toolCalls[rec.ID] = rec
	return rec.ID, nil
}

func (s *InMemoryStore) StartToolCall(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.toolCalls[id]
	if !ok {
		return ErrToolCallNotFound
	}
	if rec.Status != ToolCallQueued {
		return ErrToolCallNotRunning
	}
	rec.Status = ToolCallRunning
	rec.StartedAt = s.now().UTC()
	s.toolCalls[id] = rec
	return nil
}

func (s *InMemoryStore) CompleteToolCall(_ context.Context, id int64, completion ToolCallCompletion) error {
	if err := validateCompletion(completion); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.toolCalls[id]
	if !ok {
		return ErrToolCallNotFound
	}
	if rec.Status.Terminal() {
		return ErrToolCallCompleted
	}
	finished := s.now().UTC()
	duration := finished.Sub(rec.StartedAt).Milliseconds()
	rec.Status = completion.Status
	rec.Result = cloneRaw(completion.Result)
	if completion.Error != "" {
		msg := completion.Error
		rec.Error = &msg
	}
	rec.FinishedAt = &finished
	rec.DurationMS = &duration
	s.toolCalls[id] = rec
	return nil
}

func (s *InMemoryStore) GetToolCall(_ context.Context, id int64) (ToolCallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.toolCalls[id]
	if !ok {
		return ToolCallRecord{}, ErrToolCallNotFound
	}
	return rec, nil
}

// ListToolCalls returns a run's calls in invocation order.
func (s *InMemoryStore) ListToolCalls(_ context.Context, runID int64) ([]ToolCallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ToolCallRecord{}
	// Ids are handed out in decreasing order, so walk from -1 downwards.
	for id := int64(-1); id >= s.nextCall; id-- {
		rec, ok := s.toolCalls[id]
		if !ok || rec.RunID == nil || *rec.RunID != runID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *InMemoryStore) runIndex(id int64) int {
	for i, rec := range s.runs {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
