package jobs

import (
	"context"

	"payment-server/internal/config"
	"payment-server/internal/logger"
	"payment-server/internal/service"
)

// AccountRouter moves newly arrived credential files into the vault
type AccountRouter interface {
	RouteIncoming(ctx context.Context) (int, error)
}

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	batches service.BatchService
	queue   *JobQueue
	router  AccountRouter
	config  *config.Config
}

// NewJobRunner creates a new job runner with all dependencies. router may be nil
// when account intake runs elsewhere.
func NewJobRunner(batches service.BatchService, queue *JobQueue, router AccountRouter, cfg *config.Config) *JobRunner {
	return &JobRunner{
		batches: batches,
		queue:   queue,
		router:  router,
		config:  cfg,
	}
}

// Config returns the runner configuration
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func()) {
	log := logger.WithJob(jobName)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", "panic", r)
		}
	}()

	log.Debug("Starting job")
	jobFunc()
	log.Debug("Job completed")
}

// CreateBatch claims new ledger transactions into a job artifact
func (jr *JobRunner) CreateBatch() {
	jr.runWithRecovery("CreateBatch", func() {
		batch, err := jr.batches.CreateBatch(context.Background())
		if err != nil {
			logger.Error("Failed to create batch", "error", err)
			return
		}
		if batch != nil {
			logger.Info("Batch ready for processing",
				"batch_id", batch.BatchID,
				"transactions", len(batch.Transactions))
		}
	})
}

// ProcessPaymentJobs drains queued job artifacts through the payment processor
func (jr *JobRunner) ProcessPaymentJobs() {
	jr.runWithRecovery("ProcessPaymentJobs", func() {
		results, err := jr.queue.Run(context.Background())
		if err != nil {
			logger.Error("Failed to process payment jobs", "error", err)
			return
		}
		for _, r := range results {
			logger.Info("Payment job finished",
				"artifact", r.Artifact,
				"batch_id", r.BatchID,
				"posted", r.Posted,
				"failed", r.Failed,
				"skipped", r.Skipped)
		}
	})
}

// RouteIncomingAccounts files newly arrived account credentials
func (jr *JobRunner) RouteIncomingAccounts() {
	if jr.router == nil {
		return
	}
	jr.runWithRecovery("RouteIncomingAccounts", func() {
		n, err := jr.router.RouteIncoming(context.Background())
		if err != nil {
			logger.Error("Failed to route incoming accounts", "error", err)
			return
		}
		if n > 0 {
			logger.Info("Routed incoming accounts", "count", n)
		}
	})
}

// RecoverInFlight requeues artifacts interrupted by a previous shutdown
func (jr *JobRunner) RecoverInFlight() {
	jr.runWithRecovery("RecoverInFlight", func() {
		n, err := jr.queue.Recover(context.Background())
		if err != nil {
			logger.Error("Failed to recover in-flight jobs", "error", err)
			return
		}
		if n > 0 {
			logger.Warn("Requeued in-flight job artifacts", "count", n)
		}
	})
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.RouteIncomingAccounts()
	jr.CreateBatch()
	jr.ProcessPaymentJobs()
}
