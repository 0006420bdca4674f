package postgres

import (
	"database/sql"

	"payment-server/internal/repository"

	_ "github.com/lib/pq"
)

// DefaultAdvisoryLockKey serializes batch claims when no key is configured
const DefaultAdvisoryLockKey int64 = 7411

type Store struct {
	db *sql.DB
	repository.TransactionRepository
}

func NewStore(db *sql.DB, lockKey int64) *Store {
	if lockKey == 0 {
		lockKey = DefaultAdvisoryLockKey
	}
	return &Store{
		db:                    db,
		TransactionRepository: NewTransactionRepository(db, lockKey),
	}
}
