package api

import (
	"sync"
	"time"

	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

// DefaultIdemTTL is how long a replayable outcome is kept.
const DefaultIdemTTL = 24 * time.Hour

type IdemRecord struct {
	IdemKey    string
	StatusCode int
	Outcome    types.Outcome
	StoredAt   time.Time
}

// InMemoryIdemStore remembers event outcomes by Idempotency-Key so a retried
// delivery replays the first answer instead of opening a second run.
type InMemoryIdemStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]IdemRecord
}

func NewInMemoryIdemStore(ttl time.Duration) *InMemoryIdemStore {
	if ttl <= 0 {
		ttl = DefaultIdemTTL
	}
	return &InMemoryIdemStore{ttl: ttl, now: time.Now, items: make(map[string]IdemRecord)}
}

func (s *InMemoryIdemStore) Get(idemKey string) (IdemRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[idemKey]
	if ok && s.now().Sub(rec.StoredAt) > s.ttl {
		delete(s.items, idemKey)
		return IdemRecord{}, false
	}
	return rec, ok
}

func (s *InMemoryIdemStore) Put(record IdemRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	record.StoredAt = now
	s.items[record.IdemKey] = record
	for k, rec := range s.items {
		if now.Sub(rec.StoredAt) > s.ttl {
			delete(s.items, k)
		}
	}
}
