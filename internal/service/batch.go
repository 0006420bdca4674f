package service

import (
	"context"
	"fmt"
	"time"

	"payment-server/internal/domain"
	"payment-server/internal/logger"
	"payment-server/internal/repository"
	"payment-server/internal/storage"
)

type batchService struct {
	txRepo   repository.TransactionRepository
	control  storage.ControlStore
	jobStore storage.JobStore
	now      func() time.Time
}

func NewBatchService(txRepo repository.TransactionRepository, control storage.ControlStore, jobStore storage.JobStore) BatchService {
	return &batchService{
		txRepo:   txRepo,
		control:  control,
		jobStore: jobStore,
		now:      time.Now,
	}
}

func (s *batchService) CreateBatch(ctx context.Context) (*domain.Batch, error) {
	current, err := s.control.Load(ctx)
	if err != nil {
		return nil, err
	}
	next := current.Next(s.now().UTC())

	// The control record is persisted while the claim is still open so a failed
	// write rolls the claim back instead of reusing the id on the next tick.
	rows, err := s.txRepo.ClaimNew(ctx, next.LastBatchID, func(ctx context.Context, rows []domain.BatchTransaction) error {
		return s.control.Save(ctx, next)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch %d: %w", next.LastBatchID, err)
	}
	if len(rows) == 0 {
		logger.Info("No new transactions to batch")
		return nil, nil
	}

	batch := &domain.Batch{
		BatchID:      next.LastBatchID,
		BatchDate:    next.LastBatchDate,
		Transactions: rows,
	}
	name, err := s.jobStore.WriteArtifact(ctx, batch)
	if err != nil {
		// Rows stay batched under this id with no artifact; requires manual reconciliation.
		logger.Error("Batch claimed but job artifact was not written",
			"batch_id", batch.BatchID,
			"transactions", len(rows),
			"error", err)
		return nil, fmt.Errorf("failed to write job artifact for batch %d: %w", batch.BatchID, err)
	}

	logger.Info("Created batch job",
		"batch_id", batch.BatchID,
		"artifact", name,
		"transactions", len(rows))
	return batch, nil
}
