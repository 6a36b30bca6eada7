package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/productowl/productowl/internal/logger"
)

// Scheduler triggers batch runs on a fixed clock. The schedule expression
// and time zone come from configuration; batches can also be started on
// demand through the runner directly.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	log    logger.Interface

	mu      sync.Mutex
	baseCtx context.Context
}

// New builds a scheduler for the given cron spec (standard 5-field syntax)
// evaluated in the given time zone.
func New(spec, timezone string, runner *Runner, log logger.Interface) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", timezone, err)
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		runner: runner,
		log:    log,
	}

	if _, err := s.cron.AddFunc(spec, s.runScheduled); err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits
// for any in-flight batch to stop. Scheduled batches inherit ctx, so
// cancelling it also cancels their in-flight fetches.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.log.Info("scheduler started")
	s.cron.Start()

	<-ctx.Done()
	s.log.Info("scheduler stopping")

	// Stop scheduling new runs; the returned context completes once
	// running jobs have finished.
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runScheduled() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.log.Info("scheduled batch starting")
	summary, err := s.runner.RunBatch(ctx)
	if err != nil {
		s.log.Error("scheduled batch failed", "error", err,
			"succeeded", summary.Succeeded, "failed", summary.Failed)
		return
	}
	s.log.Info("scheduled batch complete",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"stale", summary.Stale,
		"skipped", summary.Skipped,
	)
}
