package server

import (
	"sync"
	"time"

	"github.com/straja-ai/apiguard/internal/activation"
	"github.com/straja-ai/apiguard/internal/inspect"
)

const (
	statusPending   = "pending"
	statusCompleted = "completed"
)

// requestStore keeps recent analyses by request id so callers can fetch
// them again through /v1/requests/{id}. Entries live for ttl.
type requestStore struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	entries   map[string]*requestEntry
	lastSweep time.Time
}

type requestEntry struct {
	projectID string
	status    string
	outcome   *inspect.Outcome
	event     *activation.Event
	expiresAt time.Time
}

func newRequestStore(ttl time.Duration) *requestStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &requestStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*requestEntry),
	}
}

// Start records a pending analysis owned by projectID. It reports false,
// leaving the store untouched, when a live entry with the same id belongs to
// another project.
func (s *requestStore) Start(requestID, projectID string) bool {
	if s == nil || requestID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	if e, ok := s.entries[requestID]; ok && e.projectID != projectID && !now.After(e.expiresAt) {
		return false
	}
	s.entries[requestID] = &requestEntry{
		projectID: projectID,
		status:    statusPending,
		expiresAt: now.Add(s.ttl),
	}
	return true
}

// Complete attaches the outcome to the entry projectID started and extends
// its lifetime.
func (s *requestStore) Complete(requestID, projectID string, outcome inspect.Outcome) {
	s.update(requestID, projectID, func(e *requestEntry) {
		e.status = statusCompleted
		e.outcome = &outcome
	})
}

// AttachEvent records the activation event built for a completed analysis.
func (s *requestStore) AttachEvent(requestID, projectID string, ev *activation.Event) {
	s.update(requestID, projectID, func(e *requestEntry) {
		e.event = ev
	})
}

func (s *requestStore) update(requestID, projectID string, fn func(*requestEntry)) {
	if s == nil || requestID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[requestID]
	if !ok || e.projectID != projectID {
		return
	}
	fn(e)
	e.expiresAt = s.now().Add(s.ttl)
}

// Get returns a copy of the live entry for requestID.
func (s *requestStore) Get(requestID string) (requestEntry, bool) {
	if s == nil || requestID == "" {
		return requestEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[requestID]
	if !ok || s.now().After(e.expiresAt) {
		return requestEntry{}, false
	}
	return *e, true
}

// sweepLocked drops expired entries at most once per minute.
func (s *requestStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, id)
		}
	}
}
