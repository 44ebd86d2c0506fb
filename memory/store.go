package memory

import "context"

// Scored pairs a record with its semantic similarity to a query embedding,
// as reported by the store's vector index. Similarity is in [0,1].
type Scored struct {
	Record     *Record
	Similarity float64
}

// Store is the durable memory store adapter.
// Implementations: MemStore (tests, local), chromem.Store (embedded vector
// database).
type Store interface {
	// Upsert inserts or replaces a record by ID. The record must have its
	// embedding set.
	Upsert(ctx context.Context, rec *Record) error

	// Query returns up to limit records for the user, ordered by descending
	// similarity to the embedding.
	Query(ctx context.Context, userID string, embedding []float32, limit int) ([]Scored, error)

	// All returns every record belonging to the user.
	All(ctx context.Context, userID string) ([]*Record, error)

	// Users returns the identifiers of all users with stored records.
	Users(ctx context.Context) ([]string, error)

	// Delete removes one record. Removing an absent record is a no-op.
	Delete(ctx context.Context, userID, id string) error

	// DeleteUser removes every record belonging to the user.
	DeleteUser(ctx context.Context, userID string) error

	// Close releases store resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: embedder/mock (testing), embedder/onnx (local), API
// embedders (production).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Extractor distills zero or one memory-worthy statement from a
// conversation window. Empty content means nothing worth keeping, which is
// not an error.
//
// Implementations: llm.Extractor (Claude-backed).
type Extractor interface {
	Extract(ctx context.Context, window string, hints []string) (string, error)
}
