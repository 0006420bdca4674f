package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"payment-server/internal/domain"
	"payment-server/internal/logger"
	"payment-server/internal/service"
	"payment-server/internal/storage"
)

// queuedJob is an artifact waiting to be drained. Recovered jobs are already in flight.
type queuedJob struct {
	name      string
	recovered bool
}

// JobQueue drains job artifacts one at a time through the submitter
type JobQueue struct {
	store     storage.JobStore
	submitter service.Submitter

	mu      sync.Mutex
	pending []queuedJob
	known   map[string]struct{}

	running atomic.Bool
}

// DrainResult summarizes one finished artifact. Failed counts error log entries, so a
// payment the ledger never recorded is counted as both posted and failed.
type DrainResult struct {
	Artifact string
	BatchID  int64
	Posted   int
	Failed   int
	Skipped  int
}

func NewJobQueue(store storage.JobStore, submitter service.Submitter) *JobQueue {
	return &JobQueue{
		store:     store,
		submitter: submitter,
		known:     make(map[string]struct{}),
	}
}

// Len returns the number of queued artifacts
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Recover queues artifacts left in flight by a previous process ahead of pending ones.
// Their transactions are re-checked against the ledger before anything is sent.
func (q *JobQueue) Recover(ctx context.Context) (int, error) {
	names, err := q.store.List(ctx, storage.StateInFlight)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var recovered []queuedJob
	for _, name := range names {
		if _, ok := q.known[name]; ok {
			continue
		}
		q.known[name] = struct{}{}
		recovered = append(recovered, queuedJob{name: name, recovered: true})
		logger.Warn("Recovering in-flight job artifact", "artifact", name)
	}
	q.pending = append(recovered, q.pending...)
	return len(recovered), nil
}

// Refresh merges newly seen pending artifacts into the queue
func (q *JobQueue) Refresh(ctx context.Context) (int, error) {
	names, err := q.store.List(ctx, storage.StatePending)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	added := 0
	for _, name := range names {
		if _, ok := q.known[name]; ok {
			continue
		}
		q.known[name] = struct{}{}
		q.pending = append(q.pending, queuedJob{name: name})
		added++
	}
	return added, nil
}

func (q *JobQueue) pop() (queuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return queuedJob{}, false
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, true
}

func (q *JobQueue) forget(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.known, name)
}

// Run refreshes the queue and drains it. A call made while another Run is draining
// returns immediately, so at most one artifact is ever in flight.
func (q *JobQueue) Run(ctx context.Context) ([]DrainResult, error) {
	if !q.running.CompareAndSwap(false, true) {
		logger.Debug("Job queue is already draining, skipping tick")
		return nil, nil
	}
	defer q.running.Store(false)

	if _, err := q.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh job queue: %w", err)
	}

	var results []DrainResult
	for {
		job, ok := q.pop()
		if !ok {
			return results, nil
		}
		res, err := q.drain(ctx, job)
		if err != nil {
			logger.Error("Failed to process job artifact", "artifact", job.name, "error", err)
			continue
		}
		results = append(results, *res)
	}
}

func (q *JobQueue) drain(ctx context.Context, job queuedJob) (*DrainResult, error) {
	if !job.recovered {
		// Past this rename no scan of the pending directory will see the batch again.
		if err := q.store.Move(ctx, job.name, storage.StatePending, storage.StateInFlight); err != nil {
			q.forget(job.name)
			return nil, err
		}
	}

	batch, err := q.store.Read(ctx, job.name, storage.StateInFlight)
	if err != nil {
		if errors.Is(err, storage.ErrArtifactNotFound) {
			q.forget(job.name)
			return nil, err
		}
		// Unreadable artifacts stay in flight for an operator.
		entry := []domain.ErrorLogEntry{{Error: err.Error()}}
		if werr := q.store.WriteErrorLog(ctx, job.name, entry); werr != nil {
			logger.Error("Failed to write error log", "artifact", job.name, "error", werr)
		}
		return nil, err
	}

	log := logger.WithBatch(batch.BatchID)
	log.Info("Processing batch", "artifact", job.name, "transactions", len(batch.Transactions), "recovered", job.recovered)

	outcomes := q.submitter.Drain(ctx, batch.Transactions)

	res := &DrainResult{Artifact: job.name, BatchID: batch.BatchID}
	var failures []domain.ErrorLogEntry
	for _, o := range outcomes {
		switch o.Kind {
		case domain.OutcomePosted:
			res.Posted++
		case domain.OutcomeSkipped:
			res.Skipped++
		}
		if o.Failed() {
			res.Failed++
			failures = append(failures, domain.ErrorLogEntry{
				TransactionID: o.TransactionID,
				BatchID:       batch.BatchID,
				Error:         o.ErrorText(),
			})
		}
	}

	if len(failures) > 0 {
		if err := q.store.WriteErrorLog(ctx, job.name, failures); err != nil {
			log.Error("Failed to write error log", "artifact", job.name, "error", err)
		}
	}

	if err := q.store.Move(ctx, job.name, storage.StateInFlight, storage.StateDone); err != nil {
		return nil, fmt.Errorf("failed to finalize %s: %w", job.name, err)
	}
	q.forget(job.name)

	log.Info("Completed batch",
		"artifact", job.name,
		"posted", res.Posted,
		"failed", res.Failed,
		"skipped", res.Skipped)
	return res, nil
}
