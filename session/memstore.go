package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mnemohq/mnemo-go-sdk/core"
)

// MemStore is an in-memory Store for tests and local development.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory session store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*Session)}
}

func (m *MemStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

func (m *MemStore) ExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, s := range m.sessions {
		if s.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Len returns the number of stored sessions.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
