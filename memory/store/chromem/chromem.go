// Package chromem adapts chromem-go, a pure-Go embedded vector database, to
// the memory.Store interface.
//
// Each user gets their own collection for namespace isolation. chromem-go
// only exposes similarity search, so the store keeps a by-ID mirror of every
// record to serve enumeration (All, Users) and pruning. The dataset lives in
// memory; production deployments that need durability should swap in a
// server-backed vector store behind the same interface.
package chromem

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mnemohq/mnemo-go-sdk/memory"
)

// Store implements memory.Store on top of chromem-go.
type Store struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	records     map[string]map[string]*memory.Record // userID -> recordID -> record
}

var _ memory.Store = (*Store)(nil)

// New creates an empty chromem-backed store.
func New() *Store {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		records:     make(map[string]map[string]*memory.Record),
	}
}

func collectionName(userID string) string {
	return "user_" + userID
}

// getOrCreateCollection returns the user's collection, creating it on first
// use. Double-checked locking keeps the common path on the read lock.
func (s *Store) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	col, err := s.db.CreateCollection(
		collectionName(userID),
		nil, // embeddings are provided by the caller
		nil, // default cosine distance
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

func (s *Store) Upsert(ctx context.Context, rec *memory.Record) error {
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("record %s has no embedding", rec.ID)
	}
	col, err := s.getOrCreateCollection(rec.UserID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  encodeMetadata(rec),
	}
	// AddDocument replaces an existing document with the same ID.
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.mu.Lock()
	byID, ok := s.records[rec.UserID]
	if !ok {
		byID = make(map[string]*memory.Record)
		s.records[rec.UserID] = byID
	}
	byID[rec.ID] = rec.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) Query(ctx context.Context, userID string, embedding []float32, limit int) ([]memory.Scored, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	// chromem requires nResults <= collection size.
	n := limit
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]memory.Scored, 0, len(results))
	for _, res := range results {
		rec, err := decodeResult(userID, res)
		if err != nil {
			continue // skip documents written by incompatible versions
		}
		out = append(out, memory.Scored{Record: rec, Similarity: normalizeSimilarity(res.Similarity)})
	}
	return out, nil
}

func (s *Store) All(ctx context.Context, userID string) ([]*memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*memory.Record, 0, len(s.records[userID]))
	for _, rec := range s.records[userID] {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *Store) Users(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.records))
	for userID, byID := range s.records {
		if len(byID) > 0 {
			out = append(out, userID)
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	s.mu.Lock()
	delete(s.records[userID], id)
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[userID]; ok {
		if err := s.db.DeleteCollection(collectionName(userID)); err != nil {
			return fmt.Errorf("delete collection: %w", err)
		}
		delete(s.collections, userID)
	}
	delete(s.records, userID)
	return nil
}

// Close releases resources. chromem keeps everything in memory, so there is
// nothing to flush.
func (s *Store) Close() error { return nil }

func encodeMetadata(rec *memory.Record) map[string]string {
	return map[string]string{
		"kind":               string(rec.Kind),
		"importance":         strconv.FormatFloat(rec.Importance, 'f', -1, 64),
		"confidence":         strconv.FormatFloat(rec.Confidence, 'f', -1, 64),
		"recency":            rec.Recency.UTC().Format(time.RFC3339Nano),
		"provenance_session": rec.Provenance.SessionID,
		"provenance_method":  rec.Provenance.Method,
	}
}

func decodeResult(userID string, res chromem.Result) (*memory.Record, error) {
	importance, err := strconv.ParseFloat(res.Metadata["importance"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse importance: %w", err)
	}
	confidence, err := strconv.ParseFloat(res.Metadata["confidence"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse confidence: %w", err)
	}
	recency, err := time.Parse(time.RFC3339Nano, res.Metadata["recency"])
	if err != nil {
		return nil, fmt.Errorf("parse recency: %w", err)
	}

	return &memory.Record{
		ID:         res.ID,
		UserID:     userID,
		Content:    res.Content,
		Kind:       memory.Kind(res.Metadata["kind"]),
		Embedding:  append([]float32(nil), res.Embedding...),
		Importance: importance,
		Recency:    recency,
		Provenance: memory.Provenance{
			SessionID: res.Metadata["provenance_session"],
			Method:    res.Metadata["provenance_method"],
		},
		Confidence: confidence,
	}, nil
}

// normalizeSimilarity maps chromem's cosine similarity from [-1,1] into the
// [0,1] range the Store contract promises.
func normalizeSimilarity(sim float32) float64 {
	v := (float64(sim) + 1) / 2
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
