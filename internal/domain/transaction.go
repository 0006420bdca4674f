package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusNew     TransactionStatus = "new"
	TransactionStatusBatched TransactionStatus = "batched"
	TransactionStatusPosted  TransactionStatus = "posted"
	TransactionStatusSettled TransactionStatus = "settled"
	TransactionStatusError   TransactionStatus = "error"
)

// CanTransition reports whether the ledger state machine allows moving from s to next.
// Settlement is driven by the processor's notification and never by this service.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	switch s {
	case TransactionStatusNew:
		return next == TransactionStatusBatched
	case TransactionStatusBatched:
		return next == TransactionStatusPosted || next == TransactionStatusError
	case TransactionStatusPosted:
		return next == TransactionStatusSettled
	}
	return false
}

// Transaction is a ledger row
type Transaction struct {
	ID                     int64             `json:"id"`
	DonorID                int64             `json:"donor_id"`
	CharityID              int64             `json:"charity_id"`
	Amount                 decimal.Decimal   `json:"amount"`
	PlatformFee            decimal.Decimal   `json:"platform_fee"`
	ProcessorFee           decimal.Decimal   `json:"processor_fee"`
	Status                 TransactionStatus `json:"status"`
	BatchID                *int64            `json:"batch_id,omitempty"`
	BatchDate              *time.Time        `json:"batch_date,omitempty"`
	Message                string            `json:"message,omitempty"`
	Log                    string            `json:"log,omitempty"`
	ProcessorTransactionID *string           `json:"processor_transaction_id,omitempty"`
}

// LedgerState is a transaction's current status and latest outcome message
type LedgerState struct {
	Status  TransactionStatus
	Message string
}

// BatchTransaction is the snapshot of a claimed transaction joined with donor and
// charity reference data, as written into a job artifact.
type BatchTransaction struct {
	ID            int64           `json:"id"`
	DonorID       int64           `json:"donor_id"`
	CharityID     int64           `json:"charity_id"`
	Amount        decimal.Decimal `json:"amount"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	ProcessorFee  decimal.Decimal `json:"processor_fee"`
	BatchID       int64           `json:"batch_id"`
	FirstName     string          `json:"first_name"`
	LastName      string          `json:"last_name"`
	Email         string          `json:"email"`
	CharityName   string          `json:"charity_name"`
	DestinationID string          `json:"destination_id"`
}

// StatusUpdate is the write-back of one submission outcome to the ledger
type StatusUpdate struct {
	TransactionID          int64
	Status                 TransactionStatus
	Message                string
	ProcessorTransactionID *string
	At                     time.Time
}

// LogLine renders the line appended to the transaction's log column.
func (u StatusUpdate) LogLine() string {
	return u.At.UTC().Format(time.RFC3339) + " " + string(u.Status) + ": " + u.Message + "\n"
}
