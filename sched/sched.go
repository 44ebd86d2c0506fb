// Package sched runs the subsystem's periodic maintenance: expiring idle
// sessions and pruning stale low-confidence memories. Each job is guarded by
// a per-job mutex so a slow sweep never runs in parallel with itself; an
// overlapping tick is skipped, not queued.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mnemohq/mnemo-go-sdk/memory"
	"github.com/mnemohq/mnemo-go-sdk/session"
)

// Job is one schedulable maintenance task.
type Job interface {
	// Name identifies the job in logs. Must be unique per scheduler.
	Name() string

	// Schedule is a cron expression, including descriptors like "@daily"
	// and "@every 5m".
	Schedule() string

	// Run executes one sweep.
	Run(ctx context.Context) error
}

// Scheduler manages periodic job execution using cron expressions.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []Job
	names  map[string]struct{}
	locks  map[string]*sync.Mutex
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		names:  make(map[string]struct{}),
		locks:  make(map[string]*sync.Mutex),
		logger: logger,
	}
}

// RegisterJob adds a job. It returns an error on a duplicate name.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.names[name]; exists {
		return fmt.Errorf("sched: duplicate job name %q", name)
	}
	s.names[name] = struct{}{}
	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start begins executing registered jobs. It returns an error if any job
// carries an invalid schedule expression.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.cron = cron.New()

	for _, j := range s.jobs {
		job := j
		lock := s.locks[job.Name()]

		_, err := s.cron.AddFunc(job.Schedule(), func() {
			// TryLock is atomic, so a still-running previous tick makes
			// this one a clean skip.
			if !lock.TryLock() {
				s.logger.Warn("sched: job still running, skipping tick", "job", job.Name())
				return
			}
			defer lock.Unlock()

			s.logger.Debug("sched: job started", "job", job.Name())
			if err := job.Run(ctx); err != nil {
				s.logger.Error("sched: job failed", "job", job.Name(), "error", err)
			} else {
				s.logger.Debug("sched: job completed", "job", job.Name())
			}
		})
		if err != nil {
			cancel()
			return fmt.Errorf("sched: invalid schedule for job %q: %w", job.Name(), err)
		}
	}

	s.cron.Start()
	s.logger.Info("sched: scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop shuts the scheduler down, waiting for in-flight jobs.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("sched: scheduler stopped")
	}
	return nil
}

// ExpireSessionsJob sweeps idle sessions past their TTL.
type ExpireSessionsJob struct {
	Sessions *session.Manager
	Spec     string
	Logger   *slog.Logger
}

var _ Job = (*ExpireSessionsJob)(nil)

func (j *ExpireSessionsJob) Name() string     { return "expire_sessions" }
func (j *ExpireSessionsJob) Schedule() string { return j.Spec }

func (j *ExpireSessionsJob) Run(ctx context.Context) error {
	n, err := j.Sessions.ExpireIdle(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 && j.Logger != nil {
		j.Logger.Info("expired idle sessions", "count", n)
	}
	return nil
}

// PruneMemoriesJob removes stale low-confidence memory records.
type PruneMemoriesJob struct {
	Memories *memory.Manager
	Floor    float64
	Spec     string
	Logger   *slog.Logger
}

var _ Job = (*PruneMemoriesJob)(nil)

func (j *PruneMemoriesJob) Name() string     { return "prune_memories" }
func (j *PruneMemoriesJob) Schedule() string { return j.Spec }

func (j *PruneMemoriesJob) Run(ctx context.Context) error {
	n, err := j.Memories.PruneStale(ctx, time.Now(), j.Floor)
	if err != nil {
		return err
	}
	if n > 0 && j.Logger != nil {
		j.Logger.Info("pruned stale memories", "count", n)
	}
	return nil
}
