package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/buscanime/buscanime/internal/search"
	"github.com/google/uuid"
)

// Entry is one web session: an orchestrator plus bookkeeping
type Entry struct {
	ID           string
	Orchestrator *search.Orchestrator
	CreatedAt    time.Time
}

// LastActive is the later of creation and the orchestrator's last transition
func (e *Entry) LastActive() time.Time {
	if e.Orchestrator == nil {
		return e.CreatedAt
	}
	if updated := e.Orchestrator.Session().UpdatedAt; updated.After(e.CreatedAt) {
		return updated
	}
	return e.CreatedAt
}

// SessionStore keeps the live orchestrators of the web interface
type SessionStore struct {
	sessions map[string]*Entry
	mu       sync.RWMutex
}

func New() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Entry),
	}
}

// Create registers o under a fresh random ID
func (s *SessionStore) Create(o *search.Orchestrator) *Entry {
	entry := &Entry{
		ID:           uuid.NewString(),
		Orchestrator: o,
		CreatedAt:    time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[entry.ID] = entry
	return entry
}

func (s *SessionStore) Get(sessionID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.sessions[sessionID]
	return entry, exists
}

// List returns all sessions, oldest first
func (s *SessionStore) List() []*Entry {
	s.mu.RLock()
	result := make([]*Entry, 0, len(s.sessions))
	for _, v := range s.sessions {
		result = append(result, v)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (s *SessionStore) Delete(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return exists
}

// Prune drops sessions with no activity since cutoff and returns how many were removed
func (s *SessionStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.sessions {
		if entry.LastActive().Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
