// Package assembler builds the per-turn context bundle: session short-term
// memory plus relevant long-term memories, fetched concurrently under a hard
// deadline. It also owns the post-turn write path, where memory extraction
// runs off the request goroutine on a bounded worker pool.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mnemohq/mnemo-go-sdk/core"
	"github.com/mnemohq/mnemo-go-sdk/memory"
	"github.com/mnemohq/mnemo-go-sdk/obs"
	"github.com/mnemohq/mnemo-go-sdk/session"
)

// Config holds Context Assembler configuration.
type Config struct {
	// TurnTimeout bounds PrepareTurn end to end. Default: 200ms.
	TurnTimeout time.Duration

	// MemoryTokenBudget caps the token estimate of included long-term
	// memories. Default: 600.
	MemoryTokenBudget int

	// WindowMessages is how many trailing messages form the extraction
	// window after a committed turn. Default: 6.
	WindowMessages int

	// Workers sizes the background pool. Default: 4.
	Workers int

	// QueueDepth bounds the background task queue. Default: 256.
	QueueDepth int

	// MaxAttempts bounds retries of a failed background task. Default: 3.
	MaxAttempts int

	// RetryBackoff is the initial backoff between attempts. Default: 100ms.
	RetryBackoff time.Duration
}

func (c *Config) defaults() {
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 200 * time.Millisecond
	}
	if c.MemoryTokenBudget <= 0 {
		c.MemoryTokenBudget = 600
	}
	if c.WindowMessages <= 0 {
		c.WindowMessages = 6
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
}

// TurnContext is the bundle handed to the model for one turn.
type TurnContext struct {
	SessionID string
	UserID    string

	// Summary is the session's rolling summary, possibly empty.
	Summary string

	// Messages is the retained short-term window, chronological.
	Messages []session.Message

	// Memories holds the retrieved long-term records, ranked best first and
	// trimmed to the memory token budget.
	Memories []*memory.Record

	// Degraded is true when long-term retrieval failed or timed out and the
	// turn proceeds on session context alone. DegradedBy names the cause.
	Degraded   bool
	DegradedBy string
}

// Assembler coordinates the Session Manager and Memory Manager around each
// conversational turn.
type Assembler struct {
	sessions *session.Manager
	memories *memory.Manager
	cfg      Config
	observer obs.Observer
	logger   *slog.Logger
	pool     *pool
}

// Option configures the Assembler.
type Option func(*Assembler)

// WithObserver sets the observability sink.
func WithObserver(o obs.Observer) Option {
	return func(a *Assembler) { a.observer = o }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// New creates a Context Assembler and starts its background pool.
func New(sessions *session.Manager, memories *memory.Manager, cfg Config, opts ...Option) *Assembler {
	cfg.defaults()
	a := &Assembler{
		sessions: sessions,
		memories: memories,
		cfg:      cfg,
		observer: obs.Nop(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.pool = newPool(poolConfig{
		workers:      cfg.Workers,
		queueDepth:   cfg.QueueDepth,
		maxAttempts:  cfg.MaxAttempts,
		retryBackoff: cfg.RetryBackoff,
	}, a.observer, a.logger)
	return a
}

// PrepareTurn assembles the context for the user's next turn. Session and
// long-term memory are fetched concurrently under the turn timeout. A
// session failure fails the turn; a memory failure degrades it, because an
// agent can answer without memories but not without the conversation.
func (a *Assembler) PrepareTurn(ctx context.Context, userID, sessionID, query string) (*TurnContext, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &core.ValidationError{Field: "userID", Reason: "must not be empty"}
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.TurnTimeout)
	defer cancel()

	start := time.Now()
	var (
		wg       sync.WaitGroup
		sessCtx  session.Context
		sessErr  error
		recalled []*memory.Record
		memErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sessCtx, sessErr = a.sessions.Context(ctx, sessionID)
	}()
	go func() {
		defer wg.Done()
		recalled, memErr = a.memories.Retrieve(ctx, memory.Query{UserID: userID, Text: query})
	}()
	wg.Wait()

	if sessErr != nil {
		a.observer.Observe(obs.Event{Component: "assembler", Op: "prepare", UserID: userID, Duration: time.Since(start), Err: sessErr})
		return nil, fmt.Errorf("prepare turn: %w", sessErr)
	}

	tc := &TurnContext{
		SessionID: sessCtx.SessionID,
		UserID:    userID,
		Summary:   sessCtx.Summary,
		Messages:  sessCtx.Messages,
	}
	if memErr != nil {
		tc.Degraded = true
		tc.DegradedBy = memErr.Error()
		a.logger.Warn("turn degraded, proceeding without memories", "user", userID, "error", memErr)
	} else {
		tc.Memories = trimToBudget(recalled, a.cfg.MemoryTokenBudget)
	}

	a.observer.Observe(obs.Event{Component: "assembler", Op: "prepare", UserID: userID, Duration: time.Since(start)})
	return tc, nil
}

// CommitTurn records a completed exchange: both messages are appended to the
// session synchronously, then memory extraction over the trailing window is
// scheduled on the background pool. The pool task outlives this request; a
// full queue drops the extraction, never blocks the turn.
func (a *Assembler) CommitTurn(ctx context.Context, userID, sessionID, userMsg, agentMsg string) error {
	if err := a.sessions.Append(ctx, sessionID, session.RoleUser, userMsg); err != nil {
		return fmt.Errorf("commit user message: %w", err)
	}
	if err := a.sessions.Append(ctx, sessionID, session.RoleAgent, agentMsg); err != nil {
		return fmt.Errorf("commit agent message: %w", err)
	}

	sessCtx, err := a.sessions.Context(ctx, sessionID)
	if err != nil {
		// The exchange is durable; losing one extraction window is
		// acceptable.
		a.observer.Observe(obs.Event{Component: "assembler", Op: "window", UserID: userID, Err: err})
		return nil
	}
	window := buildWindow(sessCtx.Messages, a.cfg.WindowMessages)
	if window == "" {
		return nil
	}

	a.pool.submit(task{
		name:   "extract",
		userID: userID,
		run: func(ctx context.Context) error {
			rec, err := a.memories.Generate(ctx, memory.GenerateRequest{
				UserID:    userID,
				SessionID: sessionID,
				Window:    window,
			})
			if err != nil {
				return err
			}
			if rec == nil {
				return nil
			}
			_, err = a.memories.Upsert(ctx, rec)
			return err
		},
	})
	return nil
}

// Close stops the background pool, waiting for in-flight tasks to finish.
func (a *Assembler) Close() {
	a.pool.close()
}

// trimToBudget keeps the ranked prefix of records whose cumulative token
// estimate fits the budget. Rank order is preserved; a record never fits
// partially.
func trimToBudget(records []*memory.Record, budget int) []*memory.Record {
	out := make([]*memory.Record, 0, len(records))
	used := 0
	for _, rec := range records {
		cost := core.EstimateTokens(rec.Content)
		if used+cost > budget {
			break
		}
		out = append(out, rec)
		used += cost
	}
	return out
}

// buildWindow renders the trailing n messages as an extraction transcript.
func buildWindow(messages []session.Message, n int) string {
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return strings.TrimSpace(b.String())
}
