// Package maintenance schedules the recurring housekeeping jobs: memory
// pruning and session store garbage collection.
package maintenance

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nuwa-labs/nuwa/internal/memory"
	"github.com/nuwa-labs/nuwa/internal/session"
)

// Config holds the schedules and retention knobs.
type Config struct {
	// PruneSchedule is a cron expression for the memory prune job.
	PruneSchedule string
	// MemoryMaxAge is how long an unrecalled low-importance memory may
	// live before pruning.
	MemoryMaxAge time.Duration
	// MemoryMinImportance is the importance below which stale memories
	// are pruned.
	MemoryMinImportance float64
	// GCSchedule is a cron expression for the session store GC job.
	GCSchedule string
}

// DefaultConfig prunes daily at 04:00 and runs store GC hourly.
func DefaultConfig() Config {
	return Config{
		PruneSchedule:       "0 4 * * *",
		MemoryMaxAge:        60 * 24 * time.Hour,
		MemoryMinImportance: 0.3,
		GCSchedule:          "30 * * * *",
	}
}

// Runner owns the cron scheduler.
type Runner struct {
	config   Config
	memories *memory.Store
	sessions *session.Store
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRunner creates a runner. Either store may be nil to skip its job.
func NewRunner(config Config, memories *memory.Store, sessions *session.Store, logger *zap.Logger) *Runner {
	return &Runner{
		config:   config,
		memories: memories,
		sessions: sessions,
		logger:   logger,
	}
}

// Start registers the jobs and starts the scheduler.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("maintenance runner already running")
	}

	c := cron.New()

	if r.memories != nil && r.config.PruneSchedule != "" {
		if _, err := c.AddFunc(r.config.PruneSchedule, r.pruneMemories); err != nil {
			return fmt.Errorf("invalid prune schedule: %w", err)
		}
	}
	if r.sessions != nil && r.config.GCSchedule != "" {
		if _, err := c.AddFunc(r.config.GCSchedule, r.collectSessions); err != nil {
			return fmt.Errorf("invalid gc schedule: %w", err)
		}
	}

	c.Start()
	r.cron = c
	r.running = true

	r.logger.Info("maintenance runner started",
		zap.String("prune_schedule", r.config.PruneSchedule),
		zap.String("gc_schedule", r.config.GCSchedule))
	return nil
}

// Stop halts the scheduler and waits for in-flight jobs.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
}

func (r *Runner) pruneMemories() {
	cutoff := time.Now().Add(-r.config.MemoryMaxAge)
	pruned, err := r.memories.PruneStale(cutoff, r.config.MemoryMinImportance)
	if err != nil {
		r.logger.Warn("memory prune failed", zap.Error(err))
		return
	}
	if pruned > 0 {
		r.logger.Info("pruned stale memories", zap.Int64("count", pruned))
	}
}

func (r *Runner) collectSessions() {
	r.sessions.RunGC()
	r.logger.Debug("session store gc completed")
}

// PruneNow runs the memory prune job immediately.
func (r *Runner) PruneNow() {
	if r.memories != nil {
		r.pruneMemories()
	}
}
