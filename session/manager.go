package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemohq/mnemo-go-sdk/core"
	"github.com/mnemohq/mnemo-go-sdk/obs"
	"github.com/mnemohq/mnemo-go-sdk/redact"
)

// Summarizer folds evicted messages into the rolling summary. The Manager
// decides when to compact and which messages leave the window; producing the
// new summary text is the language model's job.
//
// Implementations: llm.Summarizer (Claude-backed).
type Summarizer interface {
	Summarize(ctx context.Context, previous string, evicted []Message) (string, error)
}

// Config holds Session Manager configuration.
type Config struct {
	// TokenBudget caps the sum of retained message tokens plus summary
	// tokens per session. Default: 3000.
	TokenBudget int

	// TTL is the sliding idle timeout for sessions. Default: 7 days.
	TTL time.Duration

	// CacheCapacity bounds the active-session cache, in sessions.
	// Default: 1024.
	CacheCapacity int64
}

func (c *Config) defaults() {
	if c.TokenBudget <= 0 {
		c.TokenBudget = 3000
	}
	if c.TTL <= 0 {
		c.TTL = 7 * 24 * time.Hour
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 1024
	}
}

// Manager owns session lifecycle: creation, appends with window compaction,
// reads with a sliding TTL, and idle expiry.
//
// All operations on one session are serialized by a per-session lock;
// operations on different sessions never contend. Message content is
// redacted before it reaches the store.
type Manager struct {
	store      Store
	summarizer Summarizer
	cfg        Config
	cache      *cache
	observer   obs.Observer
	logger     *slog.Logger
	now        func() time.Time

	locks sync.Map // sessionID -> *sync.Mutex
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

// NewManager creates a Session Manager backed by the given store and
// summarizer.
func NewManager(store Store, summarizer Summarizer, cfg Config, opts ...Option) (*Manager, error) {
	cfg.defaults()
	c, err := newCache(cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	m := &Manager{
		store:      store,
		summarizer: summarizer,
		cfg:        cfg,
		cache:      c,
		observer:   obs.Nop(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) lock(sessionID string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// load fetches a session through the cache, falling back to the store.
// The returned session is caller-owned.
func (m *Manager) load(ctx context.Context, sessionID string) (*Session, error) {
	if s, ok := m.cache.get(sessionID); ok {
		return s.Clone(), nil
	}
	return m.store.Load(ctx, sessionID)
}

// Create allocates a new session with empty history and the configured TTL.
func (m *Manager) Create(ctx context.Context, userID string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &core.ValidationError{Field: "userID", Reason: "must not be empty"}
	}
	now := m.now()
	s := &Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		CreatedAt:  now,
		LastActive: now,
		TTL:        m.cfg.TTL,
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	m.cache.put(s.Clone())
	m.logger.Debug("session created", "session", s.ID, "user", userID)
	return s, nil
}

// Append redacts content, appends it to the session's history, and compacts
// the window if the token budget is exceeded. Returns core.ErrNotFound for
// an unknown session and core.ErrExpired for one whose TTL has elapsed.
func (m *Manager) Append(ctx context.Context, sessionID string, role Role, content string) error {
	if !role.Valid() {
		return &core.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}

	lk := m.lock(sessionID)
	lk.Lock()
	defer lk.Unlock()

	s, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	now := m.now()
	if s.Expired(now) {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrExpired)
	}

	clean, _ := redact.Redact(content)
	s.Messages = append(s.Messages, NewMessage(role, clean, now))
	s.LastActive = now
	s.Recount()

	if s.TokenCount > m.cfg.TokenBudget {
		m.compact(ctx, s)
	}

	if err := m.store.Save(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	m.cache.put(s.Clone())
	return nil
}

// Context returns the rolling summary and retained messages in chronological
// order, and re-arms the session's sliding TTL.
func (m *Manager) Context(ctx context.Context, sessionID string) (Context, error) {
	lk := m.lock(sessionID)
	lk.Lock()
	defer lk.Unlock()

	s, err := m.load(ctx, sessionID)
	if err != nil {
		return Context{}, err
	}
	now := m.now()
	if s.Expired(now) {
		return Context{}, fmt.Errorf("session %s: %w", sessionID, core.ErrExpired)
	}

	s.LastActive = now
	if err := m.store.Save(ctx, s); err != nil {
		// A failed activity bump must not fail the read.
		m.observer.Observe(obs.Event{Component: "session", Op: "touch", UserID: s.UserID, Err: err})
	}
	m.cache.put(s.Clone())

	return Context{SessionID: s.ID, Summary: s.Summary, Messages: s.Messages}, nil
}

// ExpireIdle removes sessions idle beyond their TTL. It is idempotent and
// safe to call concurrently: removing an already-removed session is a no-op.
func (m *Manager) ExpireIdle(ctx context.Context, now time.Time) (int, error) {
	ids, err := m.store.ExpiredIDs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	removed := 0
	for _, id := range ids {
		lk := m.lock(id)
		lk.Lock()
		err := m.store.Delete(ctx, id)
		if err == nil {
			m.cache.drop(id)
			m.locks.Delete(id)
			removed++
		}
		lk.Unlock()
		if err != nil {
			m.observer.Observe(obs.Event{Component: "session", Op: "expire", Err: err})
		}
	}
	if removed > 0 {
		m.logger.Info("expired idle sessions", "count", removed)
	}
	return removed, nil
}

// Close explicitly terminates a session. Closing an unknown session returns
// core.ErrNotFound.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	lk := m.lock(sessionID)
	lk.Lock()
	defer lk.Unlock()

	if _, err := m.load(ctx, sessionID); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.cache.drop(sessionID)
	m.locks.Delete(sessionID)
	return nil
}

// compact folds the oldest messages into the rolling summary until the
// retained window plus summary fits the token budget again. Messages are
// never dropped without being represented in the summary.
func (m *Manager) compact(ctx context.Context, s *Session) {
	start := time.Now()

	// The summary itself can grow past what the budget leaves room for, so
	// compaction may need more than one round.
	for pass := 0; pass < 3 && s.TokenCount > m.cfg.TokenBudget; pass++ {
		summaryTokens := core.EstimateTokens(s.Summary)
		raw := s.TokenCount - summaryTokens
		allowed := m.cfg.TokenBudget - summaryTokens

		evictTo := 0
		for evictTo < len(s.Messages) && raw > allowed {
			raw -= s.Messages[evictTo].Tokens
			evictTo++
		}
		if evictTo == 0 {
			break
		}

		evicted := s.Messages[:evictTo]
		summary, err := m.summarizer.Summarize(ctx, s.Summary, evicted)
		if err != nil {
			// The window must still shrink; fold a plain digest so the
			// evicted turns are not silently lost.
			m.observer.Observe(obs.Event{Component: "session", Op: "summarize", UserID: s.UserID, Err: err})
			m.logger.Warn("summarizer failed, folding digest instead", "session", s.ID, "error", err)
			summary = digest(s.Summary, evicted)
		}
		s.Summary = summary
		s.Messages = append([]Message(nil), s.Messages[evictTo:]...)
		s.Recount()
	}

	// A runaway summary is clipped to whatever the raw window leaves.
	if s.TokenCount > m.cfg.TokenBudget {
		rawTokens := s.TokenCount - core.EstimateTokens(s.Summary)
		s.Summary = clip(s.Summary, m.cfg.TokenBudget-rawTokens)
		s.Recount()
	}

	m.observer.Observe(obs.Event{Component: "session", Op: "compact", UserID: s.UserID, Duration: time.Since(start)})
}

// digest is the summarizer fallback: a compact plain-text rollup of evicted
// messages appended to the previous summary.
func digest(previous string, evicted []Message) string {
	var b strings.Builder
	if previous != "" {
		b.WriteString(previous)
		b.WriteString(" ")
	}
	for i, msg := range evicted {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(clip(msg.Content, 12))
	}
	return b.String()
}

// clip truncates text to roughly maxTokens worth of characters.
func clip(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}
