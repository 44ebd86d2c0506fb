package assembler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mnemohq/mnemo-go-sdk/core"
	"github.com/mnemohq/mnemo-go-sdk/obs"
)

// task is one unit of background work. Tasks run on context.Background so
// they outlive the request that scheduled them.
type task struct {
	name   string
	userID string
	run    func(ctx context.Context) error
}

type poolConfig struct {
	workers      int
	queueDepth   int
	maxAttempts  int
	retryBackoff time.Duration
}

// pool is a fixed-size worker pool with a bounded queue. Transient task
// failures are retried with exponential backoff; exhausted or non-transient
// failures are dropped and observed, never resubmitted.
type pool struct {
	cfg      poolConfig
	tasks    chan task
	observer obs.Observer
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newPool(cfg poolConfig, observer obs.Observer, logger *slog.Logger) *pool {
	p := &pool{
		cfg:      cfg,
		tasks:    make(chan task, cfg.queueDepth),
		observer: observer,
		logger:   logger,
	}
	p.wg.Add(cfg.workers)
	for i := 0; i < cfg.workers; i++ {
		go p.worker()
	}
	return p
}

// submit enqueues a task. A full queue or a closed pool drops the task; the
// drop is observed so queue pressure is visible.
func (p *pool) submit(t task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.observer.Observe(obs.Event{Component: "pool", Op: "drop_closed", UserID: t.userID})
		return
	}
	select {
	case p.tasks <- t:
	default:
		p.observer.Observe(obs.Event{Component: "pool", Op: "drop_full", UserID: t.userID})
		p.logger.Warn("background queue full, dropping task", "task", t.name, "user", t.userID)
	}
}

func (p *pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.execute(t)
	}
}

func (p *pool) execute(t task) {
	start := time.Now()

	// Background base context: the scheduling request is long gone.
	ctx := context.Background()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.retryBackoff

	op := func() (struct{}, error) {
		err := t.run(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if core.IsTransient(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(p.cfg.maxAttempts)),
	)
	if err != nil {
		p.observer.Observe(obs.Event{Component: "pool", Op: t.name, UserID: t.userID, Duration: time.Since(start), Err: err})
		p.logger.Warn("background task failed, dropping", "task", t.name, "user", t.userID, "error", err)
		return
	}
	p.observer.Observe(obs.Event{Component: "pool", Op: t.name, UserID: t.userID, Duration: time.Since(start)})
}

// close stops intake and waits for queued tasks to drain.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
