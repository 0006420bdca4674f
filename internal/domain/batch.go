package domain

import (
	"fmt"
	"time"
)

// Batch is the content of a job artifact
type Batch struct {
	BatchID      int64              `json:"batch_id"`
	BatchDate    time.Time          `json:"batch_date"`
	Transactions []BatchTransaction `json:"transactions"`
}

// BatchControl is the persisted batch id counter
type BatchControl struct {
	LastBatchID   int64     `json:"last_batch_id"`
	LastBatchDate time.Time `json:"last_batch_date"`
}

// Next returns the control record for the batch following c.
func (c BatchControl) Next(now time.Time) BatchControl {
	return BatchControl{LastBatchID: c.LastBatchID + 1, LastBatchDate: now}
}

// ErrorLogEntry records one failed transaction of a batch
type ErrorLogEntry struct {
	TransactionID int64  `json:"transaction_id"`
	BatchID       int64  `json:"batch_id"`
	Error         string `json:"error"`
}

type OutcomeKind string

const (
	OutcomePosted  OutcomeKind = "posted"
	OutcomeError   OutcomeKind = "error"
	OutcomeSkipped OutcomeKind = "skipped"
)

// Outcome is the result of draining one transaction through the submitter.
// LedgerStatus is the status found by the reconciliation check when the transaction
// was skipped. LedgerWriteErr is set when the outcome could not be written back.
type Outcome struct {
	TransactionID          int64
	BatchID                int64
	Kind                   OutcomeKind
	ProcessorTransactionID string
	Message                string
	LedgerStatus           TransactionStatus
	LedgerWriteErr         string
}

// Failed reports whether the outcome belongs in the batch error log. That covers
// submission errors, rows an earlier run already marked as errors, and outcomes the
// ledger never recorded.
func (o Outcome) Failed() bool {
	switch {
	case o.Kind == OutcomeError:
		return true
	case o.Kind == OutcomeSkipped && o.LedgerStatus == TransactionStatusError:
		return true
	}
	return o.LedgerWriteErr != ""
}

// ErrorText is the error log text for a failed outcome
func (o Outcome) ErrorText() string {
	if o.LedgerWriteErr == "" {
		return o.Message
	}
	if o.Kind == OutcomePosted {
		return fmt.Sprintf("posted as %s, ledger update failed: %s", o.ProcessorTransactionID, o.LedgerWriteErr)
	}
	return fmt.Sprintf("%s; ledger update failed: %s", o.Message, o.LedgerWriteErr)
}
