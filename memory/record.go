package memory

import (
	"time"
)

// Kind classifies a memory record. The set is closed but deliberately small;
// new kinds can be added without touching the manager.
type Kind string

const (
	// KindDeclarative is factual knowledge: "knowing what".
	KindDeclarative Kind = "declarative"

	// KindProcedural is behavioral or preference knowledge: "knowing how".
	KindProcedural Kind = "procedural"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindDeclarative || k == KindProcedural
}

// Provenance records where a memory came from.
type Provenance struct {
	SessionID string
	Method    string
}

// Record is one long-term fact or preference about a user.
//
// Importance and Confidence are both in [0,1]. A record whose confidence
// falls below the configured floor becomes eligible for pruning. Content is
// redacted before the record ever reaches a store.
type Record struct {
	ID         string
	UserID     string
	Content    string
	Kind       Kind
	Embedding  []float32
	Importance float64
	Recency    time.Time // last-confirmed time
	Provenance Provenance
	Confidence float64
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *Record) Clone() *Record {
	c := *r
	c.Embedding = append([]float32(nil), r.Embedding...)
	return &c
}

// Query is a transient retrieval request. It is never persisted.
type Query struct {
	UserID string
	Text   string

	// TopK caps the result count; zero means the manager default.
	TopK int

	// Kind optionally restricts results to one kind; empty matches all.
	Kind Kind

	// MinImportance drops records below the threshold before ranking.
	MinImportance float64
}
