package processor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-server/internal/domain"
)

// Processor submits one payment to the external processor and blocks until it resolves
type Processor interface {
	Send(ctx context.Context, req *PaymentRequest) (*PaymentResult, error)
}

// PaymentRequest carries what the processor needs for one guest send
type PaymentRequest struct {
	TransactionID  int64
	DestinationID  string
	Amount         decimal.Decimal
	FacilitatorFee decimal.Decimal
	FirstName      string
	LastName       string
	Email          string
	Account        domain.BankAccount
	Notes          string
	GroupID        string
	// The payee absorbs processor and facilitator fees so the donor is charged Amount only.
	AssumeCosts          bool
	AssumeAdditionalFees bool
}

type PaymentResult struct {
	ProcessorTransactionID string
}

// RejectedError is an application-level failure reported by the processor
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return e.Message
}

var idempotencyNamespace = uuid.MustParse("8f5b7c3e-2d4a-4e61-9a0b-6f1e2d3c4b5a")

// IdempotencyKey is stable for a transaction so replays after a crash are recognizable
func IdempotencyKey(transactionID int64) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(fmt.Sprintf("txn:%d", transactionID))).String()
}

// NewRequest builds the payment request for a batched transaction
func NewRequest(txn *domain.BatchTransaction, acct *domain.BankAccount) *PaymentRequest {
	return &PaymentRequest{
		TransactionID:        txn.ID,
		DestinationID:        txn.DestinationID,
		Amount:               txn.Amount,
		FacilitatorFee:       txn.PlatformFee,
		FirstName:            txn.FirstName,
		LastName:             txn.LastName,
		Email:                txn.Email,
		Account:              *acct,
		Notes:                fmt.Sprintf("Donation to %s (transaction %d)", txn.CharityName, txn.ID),
		GroupID:              fmt.Sprintf("batch-%d", txn.BatchID),
		AssumeCosts:          true,
		AssumeAdditionalFees: true,
	}
}
