package repository

import (
	"context"
	"errors"

	"payment-server/internal/domain"
)

var ErrNotFound = errors.New("record not found")

// ClaimHook runs inside the claim transaction after the claimed rows are read back.
// Returning an error rolls the claim back.
type ClaimHook func(ctx context.Context, rows []domain.BatchTransaction) error

type TransactionRepository interface {
	// ClaimNew tags every 'new' transaction with batchID and returns the claimed rows
	// joined with donor and charity data. A 'new' row still carrying an older batch id
	// is re-tagged. The hook is only invoked when rows were claimed.
	ClaimNew(ctx context.Context, batchID int64, beforeCommit ClaimHook) ([]domain.BatchTransaction, error)
	GetStatus(ctx context.Context, id int64) (domain.LedgerState, error)
	// UpdateStatus records an outcome for a batched transaction. It returns
	// ErrNotFound when the row is missing or no longer batched.
	UpdateStatus(ctx context.Context, update *domain.StatusUpdate) error
}
