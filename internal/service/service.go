package service

import (
	"context"

	"payment-server/internal/domain"
)

type BatchService interface {
	// CreateBatch claims all new ledger rows into the next batch and writes its job
	// artifact. It returns nil when there was nothing to batch.
	CreateBatch(ctx context.Context) (*domain.Batch, error)
}

type Submitter interface {
	// Drain submits the transactions one at a time in order and returns one outcome per
	// transaction. It never stops early on a failed transaction.
	Drain(ctx context.Context, txns []domain.BatchTransaction) []domain.Outcome
}
