// Package scheduler drives scheduled ingestion on a ticker.
//
// Several replicas may share one database. Each tick, an instance first
// takes or extends the "scheduler:leader" lease; only the holder runs the
// batch.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/datatrack/lease"
)

// LeaderKey is the lease key guarding the scheduler loop.
const LeaderKey = "scheduler:leader"

// Config configures the scheduler.
type Config struct {
	// CheckInterval is how often to look for due connectors. Default: 1 minute.
	CheckInterval time.Duration
	// LeaderTTL is the leader lease duration. It should exceed the longest
	// batch. Default: 3 × CheckInterval, at least 5 minutes.
	LeaderTTL time.Duration
}

func (c *Config) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	if c.LeaderTTL <= 0 {
		c.LeaderTTL = 3 * c.CheckInterval
		if c.LeaderTTL < 5*time.Minute {
			c.LeaderTTL = 5 * time.Minute
		}
	}
}

// Batch runs one round of scheduled ingestion.
type Batch func(ctx context.Context) error

// Scheduler periodically runs Batch while holding the leader lease.
type Scheduler struct {
	leases *lease.Manager
	batch  Batch
	config Config
	logger *slog.Logger
	held   *lease.Lease
}

// New creates a Scheduler.
func New(leases *lease.Manager, batch Batch, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{leases: leases, batch: batch, config: cfg, logger: logger}
}

// Run ticks until ctx is cancelled, then releases the leader lease.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()
	defer s.resign()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling round. It reports whether this instance was
// leader and ran the batch.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.lead(ctx) {
		return false
	}
	start := time.Now()
	if err := s.batch(ctx); err != nil {
		s.logger.Error("scheduler: batch failed", "error", err)
	} else {
		s.logger.Debug("scheduler: batch done", "duration_ms", time.Since(start).Milliseconds())
	}
	return true
}

// Leader reports whether this instance currently holds the leader lease.
func (s *Scheduler) Leader() bool { return s.held != nil }

func (s *Scheduler) lead(ctx context.Context) bool {
	if s.held != nil {
		err := s.leases.Extend(ctx, s.held, s.config.LeaderTTL)
		if err == nil {
			return true
		}
		s.logger.Warn("scheduler: leadership lost", "error", err)
		s.held = nil
	}
	l, err := s.leases.Acquire(ctx, LeaderKey, s.config.LeaderTTL)
	if err != nil {
		if !errors.Is(err, lease.ErrLeaseHeld) {
			s.logger.Error("scheduler: acquire leader lease", "error", err)
		}
		return false
	}
	s.logger.Info("scheduler: became leader", "holder", l.Holder)
	s.held = l
	return true
}

func (s *Scheduler) resign() {
	if s.held == nil {
		return
	}
	// ctx is already cancelled here.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.leases.Release(ctx, s.held); err != nil {
		s.logger.Warn("scheduler: release leader lease", "error", err)
	}
	s.held = nil
}
