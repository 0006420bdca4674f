package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"payment-server/internal/domain"
	"payment-server/internal/logger"
	"payment-server/internal/repository"
)

const batchSelect = `SELECT t.id, t.donor_id, t.charity_id, t.amount, t.platform_fee, t.processor_fee, t.batch_id,
	       d.first_name, d.last_name, d.email, c.charity_name, c.processor_account_id
	  FROM transactions t
	  JOIN donor d ON d.id = t.donor_id
	  JOIN charity c ON c.id = t.charity_id
	 WHERE t.batch_id = $1
	 ORDER BY t.id`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type transactionRepository struct {
	db      *sql.DB
	lockKey int64
}

// NewTransactionRepository returns the ledger repository. lockKey is the advisory
// lock serializing batch claims across instances.
func NewTransactionRepository(db *sql.DB, lockKey int64) repository.TransactionRepository {
	return &transactionRepository{db: db, lockKey: lockKey}
}

func (r *transactionRepository) ClaimNew(ctx context.Context, batchID int64, beforeCommit repository.ClaimHook) ([]domain.BatchTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, r.lockKey); err != nil {
		return nil, fmt.Errorf("failed to acquire batch lock: %w", err)
	}

	var stale int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE status = 'new' AND batch_id IS NOT NULL`).Scan(&stale); err != nil {
		return nil, fmt.Errorf("failed to count stale batch ids: %w", err)
	}
	if stale > 0 {
		logger.Warn("Re-batching new transactions that still carry an old batch id", "count", stale, "batch_id", batchID)
	}

	query := `UPDATE transactions SET status = 'batched', batch_id = $1, batch_date = NOW()
	          WHERE status = 'new'`
	logger.DatabaseCall("ClaimNew", query, "batch_id", batchID)
	res, err := tx.ExecContext(ctx, query, batchID)
	if err != nil {
		logger.DatabaseResult("ClaimNew", 0, err)
		return nil, fmt.Errorf("failed to claim transactions: %w", err)
	}
	claimed, _ := res.RowsAffected()
	logger.DatabaseResult("ClaimNew", claimed, nil)
	if claimed == 0 {
		return nil, nil
	}

	rows, err := scanBatch(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if beforeCommit != nil {
		if err := beforeCommit(ctx, rows); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return rows, nil
}

func scanBatch(ctx context.Context, q queryer, batchID int64) ([]domain.BatchTransaction, error) {
	rows, err := q.QueryContext(ctx, batchSelect, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch %d: %w", batchID, err)
	}
	defer rows.Close()

	var txns []domain.BatchTransaction
	for rows.Next() {
		var t domain.BatchTransaction
		if err := rows.Scan(&t.ID, &t.DonorID, &t.CharityID, &t.Amount, &t.PlatformFee, &t.ProcessorFee, &t.BatchID,
			&t.FirstName, &t.LastName, &t.Email, &t.CharityName, &t.DestinationID); err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch rows: %w", err)
	}
	return txns, nil
}

func (r *transactionRepository) GetStatus(ctx context.Context, id int64) (domain.LedgerState, error) {
	var status, message string
	err := r.db.QueryRowContext(ctx, `SELECT status, COALESCE(message, '') FROM transactions WHERE id = $1`, id).Scan(&status, &message)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerState{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("failed to read status of transaction %d: %w", id, err)
	}
	return domain.LedgerState{Status: domain.TransactionStatus(status), Message: message}, nil
}

func (r *transactionRepository) UpdateStatus(ctx context.Context, u *domain.StatusUpdate) error {
	if !domain.TransactionStatusBatched.CanTransition(u.Status) {
		return fmt.Errorf("illegal status for write-back: %s", u.Status)
	}
	query := `UPDATE transactions
	             SET status = $1, message = $2, log = COALESCE(log, '') || $3,
	                 processor_transaction_id = COALESCE($4, processor_transaction_id)
	           WHERE id = $5 AND status = 'batched'`
	logger.DatabaseCall("UpdateStatus", query, "transaction_id", u.TransactionID, "status", u.Status)
	res, err := r.db.ExecContext(ctx, query, string(u.Status), u.Message, u.LogLine(), u.ProcessorTransactionID, u.TransactionID)
	if err != nil {
		logger.DatabaseResult("UpdateStatus", 0, err)
		return fmt.Errorf("failed to update transaction %d: %w", u.TransactionID, err)
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("UpdateStatus", n, nil)
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
