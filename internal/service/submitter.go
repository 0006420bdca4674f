package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"payment-server/internal/domain"
	"payment-server/internal/logger"
	"payment-server/internal/processor"
	"payment-server/internal/repository"
	"payment-server/internal/vault"
)

// CredentialSource resolves a donor's encrypted account record
type CredentialSource interface {
	Lookup(ctx context.Context, donorID int64, firstName, lastName string) (*domain.AccountRecord, error)
}

type submitter struct {
	txRepo      repository.TransactionRepository
	credentials CredentialSource
	privateKey  *rsa.PrivateKey
	processor   processor.Processor
	callTimeout time.Duration
	now         func() time.Time
}

type SubmitterConfig struct {
	PrivateKey *rsa.PrivateKey
	// CallTimeout bounds each processor call; a timeout is an error outcome.
	CallTimeout time.Duration
}

func NewSubmitter(txRepo repository.TransactionRepository, credentials CredentialSource, proc processor.Processor, cfg SubmitterConfig) Submitter {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &submitter{
		txRepo:      txRepo,
		credentials: credentials,
		privateKey:  cfg.PrivateKey,
		processor:   proc,
		callTimeout: cfg.CallTimeout,
		now:         time.Now,
	}
}

// Drain feeds the transactions through a FIFO channel to a single worker, so the
// processor never sees more than one call in flight.
func (s *submitter) Drain(ctx context.Context, txns []domain.BatchTransaction) []domain.Outcome {
	queue := make(chan domain.BatchTransaction, len(txns))
	for _, txn := range txns {
		queue <- txn
	}
	close(queue)

	results := make(chan domain.Outcome)
	go func() {
		defer close(results)
		for txn := range queue {
			results <- s.process(ctx, txn)
		}
	}()

	outcomes := make([]domain.Outcome, 0, len(txns))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// process resolves one transaction. It always returns an outcome, panics included.
func (s *submitter) process(ctx context.Context, txn domain.BatchTransaction) (outcome domain.Outcome) {
	outcome = domain.Outcome{TransactionID: txn.ID, BatchID: txn.BatchID}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Transaction submission panicked", "transaction_id", txn.ID, "panic", r)
			outcome.Kind = domain.OutcomeError
			outcome.Message = fmt.Sprintf("internal error: %v", r)
			s.record(ctx, &outcome)
		}
	}()

	state, err := s.txRepo.GetStatus(ctx, txn.ID)
	if err != nil {
		// Without the ledger status the transaction could already be posted; never send.
		outcome.Kind = domain.OutcomeError
		outcome.Message = fmt.Sprintf("ledger status check failed: %v", err)
		s.record(ctx, &outcome)
		return outcome
	}
	if state.Status != domain.TransactionStatusBatched {
		logger.Info("Skipping transaction already resolved in ledger",
			"transaction_id", txn.ID, "batch_id", txn.BatchID, "status", state.Status)
		outcome.Kind = domain.OutcomeSkipped
		outcome.LedgerStatus = state.Status
		outcome.Message = state.Message
		if outcome.Message == "" {
			outcome.Message = string(state.Status)
		}
		return outcome
	}

	procID, err := s.submit(ctx, &txn)
	if err != nil {
		outcome.Kind = domain.OutcomeError
		outcome.Message = err.Error()
	} else {
		outcome.Kind = domain.OutcomePosted
		outcome.ProcessorTransactionID = procID
		outcome.Message = "submitted to processor"
	}
	s.record(ctx, &outcome)
	return outcome
}

func (s *submitter) submit(ctx context.Context, txn *domain.BatchTransaction) (string, error) {
	rec, err := s.credentials.Lookup(ctx, txn.DonorID, txn.FirstName, txn.LastName)
	if err != nil {
		if errors.Is(err, vault.ErrAccountNotFound) {
			logger.Error("Missing account credentials",
				"donor_id", txn.DonorID, "transaction_id", txn.ID, "error", err)
			return "", vault.ErrAccountNotFound
		}
		return "", fmt.Errorf("failed to load account credentials: %w", err)
	}

	acct, err := vault.OpenAccount(s.privateKey, rec)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt account credentials: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	result, err := s.processor.Send(callCtx, processor.NewRequest(txn, acct))
	if err != nil {
		var rejected *processor.RejectedError
		if errors.As(err, &rejected) {
			return "", rejected
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("processor call timed out after %s", s.callTimeout)
		}
		return "", err
	}
	return result.ProcessorTransactionID, nil
}

// record writes the outcome back to the ledger. A failed write is kept on the outcome
// so the batch error log can be used to reconcile the row.
func (s *submitter) record(ctx context.Context, o *domain.Outcome) {
	update := &domain.StatusUpdate{
		TransactionID: o.TransactionID,
		Message:       o.Message,
		At:            s.now(),
	}
	switch o.Kind {
	case domain.OutcomePosted:
		update.Status = domain.TransactionStatusPosted
		id := o.ProcessorTransactionID
		update.ProcessorTransactionID = &id
	case domain.OutcomeError:
		update.Status = domain.TransactionStatusError
	default:
		return
	}

	if err := s.txRepo.UpdateStatus(ctx, update); err != nil {
		o.LedgerWriteErr = err.Error()
		logger.Error("Failed to update transaction status",
			"transaction_id", o.TransactionID,
			"batch_id", o.BatchID,
			"status", update.Status,
			"message", o.Message,
			"error", err)
		return
	}
	logger.Info("Transaction processed",
		"transaction_id", o.TransactionID,
		"batch_id", o.BatchID,
		"status", update.Status,
		"processor_transaction_id", o.ProcessorTransactionID)
}
