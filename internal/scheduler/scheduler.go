package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"payment-server/internal/jobs"
	"payment-server/internal/logger"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *jobs.JobRunner
}

// NewScheduler creates a scheduler for the job runner. Every job is wrapped so a tick
// that fires while the previous run of the same job is still going is skipped.
func NewScheduler(jobRunner *jobs.JobRunner) (*Scheduler, error) {
	cronLogger := cron.PrintfLogger(logger.StdLogger(slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}

	if err := s.registerJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

// registerJobs registers all scheduled jobs with the cron scheduler
func (s *Scheduler) registerJobs() error {
	cfg := s.jobs.Config().Scheduler

	if _, err := s.cron.AddFunc(cfg.CreateBatch, s.jobs.CreateBatch); err != nil {
		return fmt.Errorf("failed to register CreateBatch job: %w", err)
	}

	if _, err := s.cron.AddFunc(cfg.ProcessJobs, s.jobs.ProcessPaymentJobs); err != nil {
		return fmt.Errorf("failed to register ProcessPaymentJobs job: %w", err)
	}

	if cfg.RouteAccounts != "" {
		if _, err := s.cron.AddFunc(cfg.RouteAccounts, s.jobs.RouteIncomingAccounts); err != nil {
			return fmt.Errorf("failed to register RouteIncomingAccounts job: %w", err)
		}
	}

	logger.Info("All cron jobs registered successfully", "count", len(s.cron.Entries()))
	return nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	logger.Info("Starting cron scheduler...")
	s.cron.Start()
	logger.Info("Cron scheduler started successfully")
}

// Stop waits for running jobs to finish. A batch in flight runs to completion.
func (s *Scheduler) Stop() {
	logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Cron scheduler stopped")
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
