package memory

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemStore is an in-memory Store using brute-force cosine similarity. It is
// intended for tests and local development.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record // userID -> recordID -> record
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]map[string]*Record)}
}

func (m *MemStore) Upsert(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.records[rec.UserID]
	if !ok {
		byID = make(map[string]*Record)
		m.records[rec.UserID] = byID
	}
	byID[rec.ID] = rec.Clone()
	return nil
}

func (m *MemStore) Query(ctx context.Context, userID string, embedding []float32, limit int) ([]Scored, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Scored
	for _, rec := range m.records[userID] {
		out = append(out, Scored{Record: rec.Clone(), Similarity: cosine(embedding, rec.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Record.ID < out[j].Record.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) All(ctx context.Context, userID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, rec := range m.records[userID] {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *MemStore) Users(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for userID, byID := range m.records {
		if len(byID) > 0 {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) Delete(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records[userID], id)
	return nil
}

func (m *MemStore) DeleteUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, userID)
	return nil
}

func (m *MemStore) Close() error { return nil }

// Len returns the number of records stored for a user.
func (m *MemStore) Len(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[userID])
}

// cosine returns the cosine similarity of a and b mapped into [0,1].
// Mismatched or zero vectors score 0.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Map [-1,1] onto [0,1] and guard against float drift.
	sim = (sim + 1) / 2
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
