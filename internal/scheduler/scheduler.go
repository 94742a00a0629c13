// SPDX-License-Identifier: Apache-2.0

// Package scheduler sweeps delay steps whose deadline has passed and
// resumes their runs. It is the only component that turns wall-clock time
// into run progress; everything else is event-driven.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/operato/workflow-engine/internal/domain"
	"github.com/operato/workflow-engine/internal/metrics"
)

// Store lists the delay steps that are due at a point in time.
type Store interface {
	ListDueDelaySteps(ctx context.Context, now time.Time, limit int) ([]domain.StepExecution, error)
}

// Resumer continues a run from a due delay step.
type Resumer interface {
	ResumeDelayedStep(ctx context.Context, step domain.StepExecution) error
}

type Deps struct {
	Store    Store
	Resumer  Resumer
	Logger   *slog.Logger
	Interval time.Duration
	Batch    int
}

type Scheduler struct {
	store    Store
	resumer  Resumer
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

func New(deps Deps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	batch := deps.Batch
	if batch <= 0 {
		batch = 100
	}

	return &Scheduler{
		store:    deps.Store,
		resumer:  deps.Resumer,
		logger:   logger,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

// Run sweeps until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ProcessOnce(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// ProcessOnce resumes every due delay step and returns how many were
// resumed. One step failing to resume does not stop the sweep.
func (s *Scheduler) ProcessOnce(ctx context.Context) (int, error) {
	started := s.now()

	due, err := s.store.ListDueDelaySteps(ctx, started, s.batch)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, step := range due {
		if err := s.resumer.ResumeDelayedStep(ctx, step); err != nil {
			s.logger.Error("resume delayed step failed",
				"run_id", step.RunID,
				"step_execution_id", step.ID,
				"error", err,
			)
			continue
		}
		resumed++
	}

	metrics.ObserveSchedulerSweep(time.Since(started))
	if resumed > 0 {
		s.logger.Info("delay sweep complete", "due", len(due), "resumed", resumed)
	}

	return resumed, nil
}
