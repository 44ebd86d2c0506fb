package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mnemohq/mnemo-go-sdk/core"
	"github.com/mnemohq/mnemo-go-sdk/memory"
	"github.com/mnemohq/mnemo-go-sdk/memory/embedder/mock"
)

// fakeExtractor returns a canned statement, or empty when nothing is worth
// keeping.
type fakeExtractor struct {
	out string
	err error
}

func (f *fakeExtractor) Extract(ctx context.Context, window string, hints []string) (string, error) {
	return f.out, f.err
}

// failingStore simulates an unavailable backend.
type failingStore struct{ memory.Store }

func (f *failingStore) Query(ctx context.Context, userID string, embedding []float32, limit int) ([]memory.Scored, error) {
	return nil, errors.New("backend unavailable")
}

func newManager(ext memory.Extractor, opts ...memory.Option) (*memory.Manager, *memory.MemStore, *mock.Embedder) {
	store := memory.NewMemStore()
	emb := mock.New()
	return memory.NewManager(store, emb, ext, memory.Config{}, opts...), store, emb
}

func TestManager_Generate(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(&fakeExtractor{out: "User prefers window seats, reach them at ann@example.com"})

	rec, err := m.Generate(ctx, memory.GenerateRequest{UserID: "user-1", SessionID: "s-1", Window: "transcript"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a candidate record")
	}
	if strings.Contains(rec.Content, "ann@example.com") {
		t.Errorf("extracted content not redacted: %q", rec.Content)
	}
	if rec.Kind != memory.KindProcedural {
		t.Errorf("kind = %q, want procedural for a preference", rec.Kind)
	}
	if rec.Confidence != 0.5 {
		t.Errorf("initial confidence = %v, want 0.5", rec.Confidence)
	}
	if rec.Provenance.SessionID != "s-1" || rec.Provenance.Method != "conversation_extraction" {
		t.Errorf("provenance = %+v", rec.Provenance)
	}
	if rec.ID == "" {
		t.Error("record has no ID")
	}
}

func TestManager_GenerateNothingWorthKeeping(t *testing.T) {
	m, _, _ := newManager(&fakeExtractor{out: "  "})

	rec, err := m.Generate(context.Background(), memory.GenerateRequest{UserID: "user-1", Window: "hi / hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected no candidate, got %+v", rec)
	}
}

func TestManager_GenerateExtractorFailureIsTransient(t *testing.T) {
	m, _, _ := newManager(&fakeExtractor{err: errors.New("model timeout")})

	_, err := m.Generate(context.Background(), memory.GenerateRequest{UserID: "user-1", Window: "w"})
	if !core.IsTransient(err) {
		t.Fatalf("Generate error = %v, want transient", err)
	}
}

func TestManager_UpsertInsertsThenReinforces(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager(&fakeExtractor{out: "User always travels with a window seat"})

	first, err := m.Generate(ctx, memory.GenerateRequest{UserID: "user-1", SessionID: "s-1", Window: "w"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	stored, err := m.Upsert(ctx, first)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if store.Len("user-1") != 1 {
		t.Fatalf("store holds %d records, want 1", store.Len("user-1"))
	}

	// The same statement extracted again must consolidate, not duplicate.
	second, err := m.Generate(ctx, memory.GenerateRequest{UserID: "user-1", SessionID: "s-2", Window: "w"})
	if err != nil {
		t.Fatalf("Generate second: %v", err)
	}
	merged, err := m.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("Upsert second: %v", err)
	}

	if store.Len("user-1") != 1 {
		t.Fatalf("store holds %d records after duplicate, want 1", store.Len("user-1"))
	}
	if merged.ID != stored.ID {
		t.Errorf("merge produced a new ID: %s vs %s", merged.ID, stored.ID)
	}
	if merged.Confidence <= stored.Confidence {
		t.Errorf("confidence did not grow: %v -> %v", stored.Confidence, merged.Confidence)
	}
	if merged.Confidence > 1 {
		t.Errorf("confidence exceeds 1: %v", merged.Confidence)
	}
}

func TestManager_UpsertConfidenceConverges(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(&fakeExtractor{out: "User's birthday is in March"})

	var last float64
	for i := 0; i < 20; i++ {
		rec, err := m.Generate(ctx, memory.GenerateRequest{UserID: "user-1", Window: "w"})
		if err != nil {
			t.Fatalf("Generate %d: %v", i, err)
		}
		out, err := m.Upsert(ctx, rec)
		if err != nil {
			t.Fatalf("Upsert %d: %v", i, err)
		}
		if out.Confidence < last {
			t.Fatalf("confidence regressed at %d: %v -> %v", i, last, out.Confidence)
		}
		if out.Confidence > 1 {
			t.Fatalf("confidence overflowed at %d: %v", i, out.Confidence)
		}
		last = out.Confidence
	}
	if last < 0.99 {
		t.Errorf("confidence after 20 reinforcements = %v, expected near 1", last)
	}
}

func TestManager_MergeKeepsHigherConfidenceContent(t *testing.T) {
	ctx := context.Background()
	m, _, emb := newManager(&fakeExtractor{})

	vec, err := emb.Embed(ctx, "User lives in Berlin")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	established := &memory.Record{
		UserID:     "user-1",
		Content:    "User lives in Berlin",
		Kind:       memory.KindDeclarative,
		Embedding:  vec,
		Importance: 0.6,
		Confidence: 0.9,
	}
	if _, err := m.Upsert(ctx, established); err != nil {
		t.Fatalf("Upsert established: %v", err)
	}

	// Same embedding, lower confidence: the established content must win.
	challenger := &memory.Record{
		UserID:     "user-1",
		Content:    "User might live in Hamburg",
		Kind:       memory.KindDeclarative,
		Embedding:  vec,
		Importance: 0.3,
		Confidence: 0.4,
	}
	merged, err := m.Upsert(ctx, challenger)
	if err != nil {
		t.Fatalf("Upsert challenger: %v", err)
	}
	if merged.Content != "User lives in Berlin" {
		t.Errorf("lower-confidence candidate replaced content: %q", merged.Content)
	}
	if merged.Importance != 0.6 {
		t.Errorf("importance = %v, want max of both (0.6)", merged.Importance)
	}
	if merged.Confidence <= 0.9 {
		t.Errorf("confirmation should still reinforce: %v", merged.Confidence)
	}
}

func TestManager_RetrieveRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m, store, emb := newManager(&fakeExtractor{}, memory.WithClock(func() time.Time { return now }))

	query := "seating preferences"
	vec, err := emb.Embed(ctx, query)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	// Identical embeddings isolate the importance and recency signals.
	seed := []struct {
		id         string
		kind       memory.Kind
		importance float64
		age        time.Duration
	}{
		{"a", memory.KindProcedural, 0.9, time.Hour},
		{"b", memory.KindProcedural, 0.2, time.Hour},
		{"c", memory.KindDeclarative, 0.9, time.Hour},
		{"d", memory.KindProcedural, 0.9, 10 * 24 * time.Hour},
	}
	for _, s := range seed {
		err := store.Upsert(ctx, &memory.Record{
			ID: s.id, UserID: "user-1", Content: "content " + s.id,
			Kind: s.kind, Embedding: vec,
			Importance: s.importance, Confidence: 0.8,
			Recency: now.Add(-s.age),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", s.id, err)
		}
	}

	got, err := m.Retrieve(ctx, memory.Query{UserID: "user-1", Text: query})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d records, want 4", len(got))
	}
	// a beats b on importance, beats d on recency decay.
	if got[0].ID != "a" {
		t.Errorf("top record = %s, want a", got[0].ID)
	}
	if got[len(got)-1].ID != "b" {
		t.Errorf("bottom record = %s, want b (lowest importance)", got[len(got)-1].ID)
	}

	// Kind filter.
	got, err = m.Retrieve(ctx, memory.Query{UserID: "user-1", Text: query, Kind: memory.KindDeclarative})
	if err != nil {
		t.Fatalf("Retrieve kind filter: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c" {
		t.Errorf("kind filter = %v", ids(got))
	}

	// Importance floor.
	got, err = m.Retrieve(ctx, memory.Query{UserID: "user-1", Text: query, MinImportance: 0.5})
	if err != nil {
		t.Fatalf("Retrieve importance filter: %v", err)
	}
	for _, r := range got {
		if r.Importance < 0.5 {
			t.Errorf("record %s below importance floor", r.ID)
		}
	}

	// TopK cap.
	got, err = m.Retrieve(ctx, memory.Query{UserID: "user-1", Text: query, TopK: 2})
	if err != nil {
		t.Fatalf("Retrieve topK: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("TopK=2 returned %d records", len(got))
	}
}

func TestManager_RetrieveDeterministicOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m, store, emb := newManager(&fakeExtractor{}, memory.WithClock(func() time.Time { return now }))

	vec, _ := emb.Embed(ctx, "query")
	for _, id := range []string{"z", "m", "a"} {
		err := store.Upsert(ctx, &memory.Record{
			ID: id, UserID: "user-1", Content: "same", Kind: memory.KindDeclarative,
			Embedding: vec, Importance: 0.5, Confidence: 0.5, Recency: now,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	first, err := m.Retrieve(ctx, memory.Query{UserID: "user-1", Text: "query"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := m.Retrieve(ctx, memory.Query{UserID: "user-1", Text: "query"})
		if err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("result size changed: %d vs %d", len(again), len(first))
		}
		for j := range again {
			if again[j].ID != first[j].ID {
				t.Fatalf("order changed on identical snapshot: %v vs %v", ids(again), ids(first))
			}
		}
	}
	// Full tie broken by ID ascending.
	if first[0].ID != "a" || first[1].ID != "m" || first[2].ID != "z" {
		t.Errorf("tie-break order = %v, want [a m z]", ids(first))
	}
}

func TestManager_RetrieveStoreFailureIsTransient(t *testing.T) {
	emb := mock.New()
	m := memory.NewManager(&failingStore{memory.NewMemStore()}, emb, &fakeExtractor{}, memory.Config{})

	_, err := m.Retrieve(context.Background(), memory.Query{UserID: "user-1", Text: "anything"})
	if !core.IsTransient(err) {
		t.Fatalf("Retrieve error = %v, want transient so callers can degrade", err)
	}
}

func TestManager_PruneStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m, store, emb := newManager(&fakeExtractor{}, memory.WithClock(func() time.Time { return now }))

	vec, _ := emb.Embed(ctx, "x")
	old := now.Add(-40 * 24 * time.Hour)
	seed := []struct {
		id         string
		confidence float64
		recency    time.Time
	}{
		{"doomed", 0.1, old},       // low confidence and stale
		{"trusted", 0.9, old},      // stale but trusted
		{"fresh-doubt", 0.1, now},  // doubted but recently confirmed
		{"solid", 0.8, now},        // neither
	}
	for _, s := range seed {
		err := store.Upsert(ctx, &memory.Record{
			ID: s.id, UserID: "user-1", Content: s.id, Kind: memory.KindDeclarative,
			Embedding: vec, Importance: 0.5, Confidence: s.confidence, Recency: s.recency,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", s.id, err)
		}
	}

	pruned, err := m.PruneStale(ctx, now, 0.3)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	remaining, err := store.All(ctx, "user-1")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	for _, r := range remaining {
		if r.ID == "doomed" {
			t.Error("stale low-confidence record survived pruning")
		}
	}
	if len(remaining) != 3 {
		t.Errorf("%d records remain, want 3", len(remaining))
	}
}

func TestManager_DeleteUser(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager(&fakeExtractor{out: "User likes espresso"})

	for _, user := range []string{"user-1", "user-2"} {
		rec, err := m.Generate(ctx, memory.GenerateRequest{UserID: user, Window: "w"})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if _, err := m.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	if err := m.DeleteUser(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if store.Len("user-1") != 0 {
		t.Errorf("user-1 still holds %d records", store.Len("user-1"))
	}
	if store.Len("user-2") != 1 {
		t.Errorf("user-2 records disturbed: %d", store.Len("user-2"))
	}
}

func TestManager_Validation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(&fakeExtractor{})

	var ve *core.ValidationError
	if _, err := m.Generate(ctx, memory.GenerateRequest{Window: "w"}); !errors.As(err, &ve) {
		t.Errorf("Generate without user = %v, want ValidationError", err)
	}
	if _, err := m.Upsert(ctx, nil); !errors.As(err, &ve) {
		t.Errorf("Upsert(nil) = %v, want ValidationError", err)
	}
	if _, err := m.Retrieve(ctx, memory.Query{Text: "q"}); !errors.As(err, &ve) {
		t.Errorf("Retrieve without user = %v, want ValidationError", err)
	}
	if err := m.DeleteUser(ctx, " "); !errors.As(err, &ve) {
		t.Errorf("DeleteUser blank = %v, want ValidationError", err)
	}
}

func ids(recs []*memory.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
