package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deusflow/sportswire/internal/budget"
)

// Jobs is the work the scheduler triggers.
type Jobs interface {
	RunCycle(ctx context.Context)
	FlushHourly(ctx context.Context)
	FlushDaily(ctx context.Context)
	ProcessRetries(ctx context.Context)
	ResetBudget(p budget.Period)
}

// Scheduler drives polling, digests, retries and budget resets on
// independent schedules.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// Schedules maps job names to their cron specs.
func Schedules(pollInterval time.Duration) map[string]string {
	return map[string]string{
		"poll":          fmt.Sprintf("@every %s", pollInterval),
		"hourly_digest": "0 * * * *",
		"daily_digest":  "0 8 * * *",
		"retries":       "@every 1s",
		"budget_daily":  "0 0 * * *",
		"budget_weekly": "0 0 * * 1",
		"budget_month":  "0 0 1 * *",
	}
}

func NewScheduler(jobs Jobs, pollInterval time.Duration, loc *time.Location, logger *slog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, ctx: ctx, cancel: cancel, logger: logger}

	// the pipeline skips overlapping cycles itself
	funcs := map[string]func(){
		"poll":          func() { jobs.RunCycle(s.ctx) },
		"hourly_digest": func() { jobs.FlushHourly(s.ctx) },
		"daily_digest":  func() { jobs.FlushDaily(s.ctx) },
		"retries":       func() { jobs.ProcessRetries(s.ctx) },
		"budget_daily":  func() { jobs.ResetBudget(budget.Daily) },
		"budget_weekly": func() { jobs.ResetBudget(budget.Weekly) },
		"budget_month":  func() { jobs.ResetBudget(budget.Monthly) },
	}
	skip := cron.NewChain(cron.SkipIfStillRunning(cronLogger))

	for name, spec := range Schedules(pollInterval) {
		fn := funcs[name]
		var job cron.Job = cron.FuncJob(fn)
		if name == "retries" || name == "hourly_digest" || name == "daily_digest" {
			job = skip.Then(job)
		}
		if _, err := c.AddJob(spec, job); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler jobs still running at shutdown")
	}
}

func (a *App) FlushHourly(ctx context.Context) {
	if _, err := a.Pipeline.FlushHourly(ctx); err != nil {
		a.logger.Error("hourly digest failed", "error", err)
	}
}

func (a *App) FlushDaily(ctx context.Context) {
	if _, err := a.Pipeline.FlushDaily(ctx); err != nil {
		a.logger.Error("daily digest failed", "error", err)
	}
}

func (a *App) ProcessRetries(ctx context.Context) {
	if n := a.Coordinator.ProcessDue(ctx); n > 0 {
		a.logger.Debug("retries processed", "count", n)
	}
}

func (a *App) ResetBudget(p budget.Period) {
	if err := a.Budget.Reset(p); err != nil {
		a.logger.Error("budget reset failed", "period", p, "error", err)
	}
}
