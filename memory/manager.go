package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mnemohq/mnemo-go-sdk/core"
	"github.com/mnemohq/mnemo-go-sdk/obs"
	"github.com/mnemohq/mnemo-go-sdk/redact"
)

// Config holds Memory Manager configuration.
type Config struct {
	// TopK is the default retrieval result count. Default: 5.
	TopK int

	// Weights blends relevance, recency, and importance during retrieval.
	// Default: 0.4 relevance, 0.2 recency, 0.4 importance.
	Weights Weights

	// DuplicateThreshold is the similarity above which an upsert candidate
	// is consolidated into an existing record instead of inserted.
	// Default: 0.85.
	DuplicateThreshold float64

	// ConfidenceFloor is the default pruning floor used by scheduled
	// maintenance. Default: 0.3.
	ConfidenceFloor float64

	// StalenessWindow is how old a record's recency must be, in addition to
	// being below the confidence floor, before pruning removes it.
	// Default: 30 days.
	StalenessWindow time.Duration

	// RecencyHalfLife controls retrieval decay. Default: 24h.
	RecencyHalfLife time.Duration

	// ReinforcementStep moves confidence toward 1.0 on consolidation:
	// c' = c + step*(1-c). Default: 0.3.
	ReinforcementStep float64

	// CandidateLimit is how many store hits are ranked before filters and
	// top-K apply. Default: 50.
	CandidateLimit int
}

func (c *Config) defaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.Weights == (Weights{}) {
		c.Weights = Weights{Relevance: 0.4, Recency: 0.2, Importance: 0.4}
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = 0.85
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = 0.3
	}
	if c.StalenessWindow <= 0 {
		c.StalenessWindow = 30 * 24 * time.Hour
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = 24 * time.Hour
	}
	if c.ReinforcementStep <= 0 {
		c.ReinforcementStep = 0.3
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 50
	}
}

// Manager orchestrates long-term memory: generation, consolidation,
// retrieval, and pruning.
//
// Concurrency: upserts for the same user are serialized by a per-user lock
// so two near-duplicate candidates cannot race into separate records; at
// most one prune runs per user at a time (later calls skip, not queue);
// retrieval never takes either lock and may overlap any of them.
type Manager struct {
	store     Store
	embedder  Embedder
	extractor Extractor
	cfg       Config
	observer  obs.Observer
	logger    *slog.Logger
	now       func() time.Time

	upsertLocks sync.Map // userID -> *sync.Mutex
	pruneLocks  sync.Map // userID -> *sync.Mutex, TryLock only
}

// Option configures the Manager.
type Option func(*Manager)

// WithObserver sets the observability sink.
func WithObserver(o obs.Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Memory Manager backed by the given store, embedder,
// and extractor.
func NewManager(store Store, embedder Embedder, extractor Extractor, cfg Config, opts ...Option) *Manager {
	cfg.defaults()
	m := &Manager{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		cfg:       cfg,
		observer:  obs.Nop(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func userLock(locks *sync.Map, userID string) *sync.Mutex {
	v, _ := locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// GenerateRequest carries the inputs of one extraction pass.
type GenerateRequest struct {
	UserID    string
	SessionID string
	Window    string
	Hints     []string
}

// Generate runs the extraction step over a conversation window and returns
// zero or one candidate record. A nil record with nil error means nothing
// extraction-worthy was found. The candidate's content is redacted; the
// caller is expected to hand it to Upsert.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (*Record, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, &core.ValidationError{Field: "userID", Reason: "must not be empty"}
	}

	content, err := m.extractor.Extract(ctx, req.Window, req.Hints)
	if err != nil {
		return nil, &core.TransientError{Op: "memory extract", Err: err}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	clean, _ := redact.Redact(content)
	now := m.now()
	rec := &Record{
		ID:         ulid.Make().String(),
		UserID:     req.UserID,
		Content:    clean,
		Kind:       classifyKind(clean),
		Importance: assessImportance(clean),
		Recency:    now,
		Provenance: Provenance{SessionID: req.SessionID, Method: "conversation_extraction"},
		Confidence: 0.5,
	}
	m.logger.Debug("memory candidate generated", "user", req.UserID, "kind", rec.Kind)
	return rec, nil
}

// Upsert consolidates a candidate into the user's memories. If the best
// existing match is more similar than the duplicate threshold, that record
// is updated in place: content from whichever side holds the strictly
// higher confidence, confidence reinforced toward 1.0, importance maxed,
// recency refreshed. Otherwise the candidate is inserted as a new record.
func (m *Manager) Upsert(ctx context.Context, candidate *Record) (*Record, error) {
	if candidate == nil || strings.TrimSpace(candidate.UserID) == "" {
		return nil, &core.ValidationError{Field: "candidate", Reason: "missing user"}
	}
	if strings.TrimSpace(candidate.Content) == "" {
		return nil, &core.ValidationError{Field: "candidate", Reason: "empty content"}
	}
	candidate = candidate.Clone()
	candidate.Importance = clamp01(candidate.Importance)
	candidate.Confidence = clamp01(candidate.Confidence)
	if !candidate.Kind.Valid() {
		candidate.Kind = classifyKind(candidate.Content)
	}

	lk := userLock(&m.upsertLocks, candidate.UserID)
	lk.Lock()
	defer lk.Unlock()

	start := time.Now()
	if len(candidate.Embedding) == 0 {
		emb, err := m.embedder.Embed(ctx, candidate.Content)
		if err != nil {
			return nil, &core.TransientError{Op: "memory embed", Err: err}
		}
		candidate.Embedding = emb
	}

	hits, err := m.store.Query(ctx, candidate.UserID, candidate.Embedding, 1)
	if err != nil {
		return nil, &core.TransientError{Op: "memory query", Err: err}
	}

	var out *Record
	if len(hits) > 0 && hits[0].Similarity >= m.cfg.DuplicateThreshold {
		out, err = m.merge(ctx, hits[0].Record, candidate)
		if err != nil {
			return nil, err
		}
		m.logger.Debug("memory reinforced", "user", out.UserID, "id", out.ID, "confidence", out.Confidence)
	} else {
		if candidate.ID == "" {
			candidate.ID = ulid.Make().String()
		}
		if candidate.Recency.IsZero() {
			candidate.Recency = m.now()
		}
		if err := m.store.Upsert(ctx, candidate); err != nil {
			return nil, &core.TransientError{Op: "memory upsert", Err: err}
		}
		out = candidate
		m.logger.Debug("memory inserted", "user", out.UserID, "id", out.ID)
	}

	m.observer.Observe(obs.Event{Component: "memory", Op: "upsert", UserID: out.UserID, Duration: time.Since(start)})
	return out.Clone(), nil
}

// merge folds a duplicate candidate into the existing record.
func (m *Manager) merge(ctx context.Context, existing, candidate *Record) (*Record, error) {
	out := existing.Clone()
	if candidate.Confidence > existing.Confidence {
		out.Content = candidate.Content
		out.Kind = candidate.Kind
		out.Embedding = candidate.Embedding
	}
	base := existing.Confidence
	if candidate.Confidence > base {
		base = candidate.Confidence
	}
	out.Confidence = clamp01(base + m.cfg.ReinforcementStep*(1-base))
	if candidate.Importance > out.Importance {
		out.Importance = candidate.Importance
	}
	out.Recency = m.now()

	if err := m.store.Upsert(ctx, out); err != nil {
		return nil, &core.TransientError{Op: "memory upsert", Err: err}
	}
	return out, nil
}

// Retrieve ranks the user's memories against the query under the blended
// score and returns at most top-K of them, highest first. Ties break on
// more recent recency, then on record ID, so the ordering is deterministic
// for a fixed snapshot.
//
// Retrieval is read-only. An unavailable embedder or store surfaces as a
// TransientError; callers on the hot path are expected to degrade to an
// empty memory set rather than fail the turn.
func (m *Manager) Retrieve(ctx context.Context, q Query) ([]*Record, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, &core.ValidationError{Field: "query.UserID", Reason: "must not be empty"}
	}
	topK := q.TopK
	if topK <= 0 {
		topK = m.cfg.TopK
	}

	start := time.Now()
	emb, err := m.embedder.Embed(ctx, q.Text)
	if err != nil {
		m.observer.Observe(obs.Event{Component: "memory", Op: "retrieve", UserID: q.UserID, Err: err})
		return nil, &core.TransientError{Op: "retrieve embed", Err: err}
	}
	hits, err := m.store.Query(ctx, q.UserID, emb, m.cfg.CandidateLimit)
	if err != nil {
		m.observer.Observe(obs.Event{Component: "memory", Op: "retrieve", UserID: q.UserID, Err: err})
		return nil, &core.TransientError{Op: "retrieve query", Err: err}
	}

	now := m.now()
	type ranked struct {
		rec   *Record
		score float64
	}
	rs := make([]ranked, 0, len(hits))
	for _, h := range hits {
		if q.Kind != "" && h.Record.Kind != q.Kind {
			continue
		}
		if h.Record.Importance < q.MinImportance {
			continue
		}
		decayed := recencyDecay(now.Sub(h.Record.Recency), m.cfg.RecencyHalfLife)
		rs = append(rs, ranked{
			rec:   h.Record,
			score: blendedScore(m.cfg.Weights, h.Similarity, decayed, h.Record.Importance),
		})
	}

	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].score != rs[j].score {
			return rs[i].score > rs[j].score
		}
		if !rs[i].rec.Recency.Equal(rs[j].rec.Recency) {
			return rs[i].rec.Recency.After(rs[j].rec.Recency)
		}
		return rs[i].rec.ID < rs[j].rec.ID
	})
	if len(rs) > topK {
		rs = rs[:topK]
	}

	out := make([]*Record, len(rs))
	for i, r := range rs {
		out[i] = r.rec
	}
	m.observer.Observe(obs.Event{Component: "memory", Op: "retrieve", UserID: q.UserID, Duration: time.Since(start)})
	return out, nil
}

// PruneStale deletes records whose confidence is strictly below floor and
// whose recency is older than the staleness window. At most one prune runs
// per user at a time; a prune already in flight for a user causes that user
// to be skipped, not queued. Pruning may overlap Retrieve for the same
// user: the guarantee is eventually consistent, so a read may return a
// record that is pruned immediately after.
func (m *Manager) PruneStale(ctx context.Context, now time.Time, floor float64) (int, error) {
	users, err := m.store.Users(ctx)
	if err != nil {
		return 0, &core.TransientError{Op: "memory list users", Err: err}
	}

	pruned := 0
	for _, userID := range users {
		lk := userLock(&m.pruneLocks, userID)
		if !lk.TryLock() {
			m.logger.Debug("prune already in flight, skipping user", "user", userID)
			continue
		}
		n, err := m.pruneUser(ctx, userID, now, floor)
		lk.Unlock()
		if err != nil {
			m.observer.Observe(obs.Event{Component: "memory", Op: "prune", UserID: userID, Err: err})
			continue
		}
		pruned += n
	}
	if pruned > 0 {
		m.logger.Info("pruned stale memories", "count", pruned)
	}
	return pruned, nil
}

func (m *Manager) pruneUser(ctx context.Context, userID string, now time.Time, floor float64) (int, error) {
	recs, err := m.store.All(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if rec.Confidence >= floor {
			continue
		}
		if now.Sub(rec.Recency) <= m.cfg.StalenessWindow {
			continue
		}
		if err := m.store.Delete(ctx, userID, rec.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DeleteUser removes every memory belonging to the user. It is synchronous:
// a nil return confirms the cascade completed. Used for privacy/compliance
// requests.
func (m *Manager) DeleteUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &core.ValidationError{Field: "userID", Reason: "must not be empty"}
	}

	// Serialize against upserts so an in-flight consolidation cannot
	// resurrect a record mid-delete.
	lk := userLock(&m.upsertLocks, userID)
	lk.Lock()
	defer lk.Unlock()

	if err := m.store.DeleteUser(ctx, userID); err != nil {
		return &core.TransientError{Op: "memory delete user", Err: err}
	}
	m.logger.Info("deleted user memories", "user", userID)
	return nil
}

// classifyKind labels content procedural when it reads like process
// knowledge, declarative otherwise.
func classifyKind(content string) Kind {
	indicators := []string{
		"how to", "steps to", "process", "procedure", "method",
		"algorithm", "way to", "technique", "prefers", "preference", "always", "never",
	}
	lower := strings.ToLower(content)
	for _, ind := range indicators {
		if strings.Contains(lower, ind) {
			return KindProcedural
		}
	}
	return KindDeclarative
}

// assessImportance scores content importance in [0,1] from keyword and
// length heuristics.
func assessImportance(content string) float64 {
	importance := 0.5

	keywords := []string{
		"important", "critical", "essential", "key", "must",
		"name", "birthday", "preference", "allergy", "requirement",
	}
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			importance = clamp01(importance + 0.2)
		}
	}

	// Blend in a length factor so one-word fragments rank below substantive
	// statements.
	lengthFactor := float64(len(content)) / 500
	if lengthFactor > 1 {
		lengthFactor = 1
	}
	return clamp01((importance + lengthFactor) / 2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
