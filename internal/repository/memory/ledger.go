package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"payment-server/internal/domain"
	"payment-server/internal/repository"
)

type Donor struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
}

type Charity struct {
	ID            int64
	Name          string
	DestinationID string
}

// Ledger is an in-memory TransactionRepository for tests and local dry runs
type Ledger struct {
	mu           sync.Mutex
	transactions map[int64]*domain.Transaction
	donors       map[int64]Donor
	charities    map[int64]Charity
	nextID       int64

	// ClaimErr, StatusErr and UpdateErr, when set, are returned by the matching calls.
	ClaimErr  error
	StatusErr error
	UpdateErr error
}

func NewLedger() *Ledger {
	return &Ledger{
		transactions: make(map[int64]*domain.Transaction),
		donors:       make(map[int64]Donor),
		charities:    make(map[int64]Charity),
	}
}

func (l *Ledger) AddDonor(d Donor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.donors[d.ID] = d
}

func (l *Ledger) AddCharity(c Charity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.charities[c.ID] = c
}

// AddTransaction inserts a new ledger row and returns its id
func (l *Ledger) AddTransaction(t domain.Transaction) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	t.ID = l.nextID
	if t.Status == "" {
		t.Status = domain.TransactionStatusNew
	}
	l.transactions[t.ID] = &t
	return t.ID
}

// Get returns a copy of a ledger row
func (l *Ledger) Get(id int64) (domain.Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.transactions[id]
	if !ok {
		return domain.Transaction{}, false
	}
	return *t, true
}

func (l *Ledger) ClaimNew(ctx context.Context, batchID int64, beforeCommit repository.ClaimHook) ([]domain.BatchTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ClaimErr != nil {
		return nil, l.ClaimErr
	}

	var claimed []*domain.Transaction
	for _, t := range l.transactions {
		if t.Status == domain.TransactionStatusNew {
			claimed = append(claimed, t)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].ID < claimed[j].ID })

	now := time.Now()
	rows := make([]domain.BatchTransaction, 0, len(claimed))
	for _, t := range claimed {
		rows = append(rows, l.snapshot(t, batchID))
	}

	if beforeCommit != nil {
		if err := beforeCommit(ctx, rows); err != nil {
			return nil, err
		}
	}

	for _, t := range claimed {
		id := batchID
		t.Status = domain.TransactionStatusBatched
		t.BatchID = &id
		t.BatchDate = &now
	}
	return rows, nil
}

func (l *Ledger) snapshot(t *domain.Transaction, batchID int64) domain.BatchTransaction {
	d := l.donors[t.DonorID]
	c := l.charities[t.CharityID]
	return domain.BatchTransaction{
		ID:            t.ID,
		DonorID:       t.DonorID,
		CharityID:     t.CharityID,
		Amount:        t.Amount,
		PlatformFee:   t.PlatformFee,
		ProcessorFee:  t.ProcessorFee,
		BatchID:       batchID,
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		Email:         d.Email,
		CharityName:   c.Name,
		DestinationID: c.DestinationID,
	}
}

func (l *Ledger) GetStatus(ctx context.Context, id int64) (domain.LedgerState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.StatusErr != nil {
		return domain.LedgerState{}, l.StatusErr
	}
	t, ok := l.transactions[id]
	if !ok {
		return domain.LedgerState{}, repository.ErrNotFound
	}
	return domain.LedgerState{Status: t.Status, Message: t.Message}, nil
}

func (l *Ledger) UpdateStatus(ctx context.Context, u *domain.StatusUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.UpdateErr != nil {
		return l.UpdateErr
	}
	t, ok := l.transactions[u.TransactionID]
	if !ok || t.Status != domain.TransactionStatusBatched || !t.Status.CanTransition(u.Status) {
		return repository.ErrNotFound
	}
	t.Status = u.Status
	t.Message = u.Message
	t.Log += u.LogLine()
	if u.ProcessorTransactionID != nil {
		id := *u.ProcessorTransactionID
		t.ProcessorTransactionID = &id
	}
	return nil
}
