package jobs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-server/internal/domain"
	"payment-server/internal/processor"
	"payment-server/internal/repository/memory"
	"payment-server/internal/service"
	"payment-server/internal/storage"
	"payment-server/internal/vault"
)

// scriptedProcessor fails the transactions listed in reject and records every call
type scriptedProcessor struct {
	mu     sync.Mutex
	reject map[int64]string
	calls  []int64
	gate   chan struct{}
}

func (p *scriptedProcessor) Send(ctx context.Context, req *processor.PaymentRequest) (*processor.PaymentResult, error) {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req.TransactionID)
	if msg, ok := p.reject[req.TransactionID]; ok {
		return nil, &processor.RejectedError{Message: msg}
	}
	return &processor.PaymentResult{ProcessorTransactionID: "PX-" + req.Email}, nil
}

func (p *scriptedProcessor) Calls() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.calls...)
}

type pipeline struct {
	ledger  *memory.Ledger
	store   *storage.FileJobStore
	control *storage.FileControlStore
	dirs    storage.Config
	key     *rsa.PrivateKey
	vault   *vault.Vault
	vaultAt string
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	root := t.TempDir()
	dirs := storage.Config{
		JobDir:        filepath.Join(root, "jobs"),
		ProcessingDir: filepath.Join(root, "processing"),
		ProcessedDir:  filepath.Join(root, "processed"),
		ErrorDir:      filepath.Join(root, "errors"),
	}
	store, err := storage.NewFileJobStore(dirs)
	require.NoError(t, err)
	control, err := storage.NewFileControlStore(filepath.Join(root, "batch_control.json"))
	require.NoError(t, err)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	ledger := memory.NewLedger()
	ledger.AddCharity(memory.Charity{ID: 1, Name: "Analytical Aid", DestinationID: "812-555-0101"})

	vaultAt := filepath.Join(root, "accounts")
	return &pipeline{ledger: ledger, store: store, control: control, dirs: dirs, key: key, vault: vault.New(vaultAt), vaultAt: vaultAt}
}

// donor registers a donor in the ledger and the vault
func (p *pipeline) donor(t *testing.T, id int64, first, last string) {
	t.Helper()
	email := first + "@example.com"
	p.ledger.AddDonor(memory.Donor{ID: id, FirstName: first, LastName: last, Email: email})

	blob, err := vault.SealAccount(&p.key.PublicKey, &domain.BankAccount{AccountNumber: "0001", RoutingNumber: "021000021", AccountType: domain.AccountTypeChecking})
	require.NoError(t, err)
	path, err := vault.AccountPath(p.vaultAt, first, last, id)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	data, err := json.Marshal(domain.AccountRecord{DonorID: id, FirstName: first, LastName: last, Email: email, Account: blob})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))
}

func (p *pipeline) newTransaction(donorID int64, amount string) int64 {
	return p.ledger.AddTransaction(domain.Transaction{
		DonorID:     donorID,
		CharityID:   1,
		Amount:      decimal.RequireFromString(amount),
		PlatformFee: decimal.RequireFromString("0.50"),
	})
}

func (p *pipeline) queue(proc processor.Processor) *JobQueue {
	sub := service.NewSubmitter(p.ledger, p.vault, proc, service.SubmitterConfig{PrivateKey: p.key, CallTimeout: 5 * time.Second})
	return NewJobQueue(p.store, sub)
}

func (p *pipeline) createBatch(t *testing.T) *domain.Batch {
	t.Helper()
	batch, err := service.NewBatchService(p.ledger, p.control, p.store).CreateBatch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, batch)
	return batch
}

func (p *pipeline) errorLog(t *testing.T, artifact string) []domain.ErrorLogEntry {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(p.dirs.ErrorDir, storage.ErrorLogName(artifact)))
	require.NoError(t, err)
	var entries []domain.ErrorLogEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	return entries
}

func TestJobQueue_OneFailureInBatch(t *testing.T) {
	p := newPipeline(t)
	var ids []int64
	for i := int64(1); i <= 5; i++ {
		p.donor(t, i, "Donor", "Number"+string(rune('A'+i)))
		ids = append(ids, p.newTransaction(i, "10"))
	}
	batch := p.createBatch(t)

	failing := ids[2]
	proc := &scriptedProcessor{reject: map[int64]string{failing: "account closed"}}
	results, err := p.queue(proc).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ids, proc.Calls())
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Posted)
	assert.Equal(t, 1, results[0].Failed)

	entries := p.errorLog(t, "1.json")
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ErrorLogEntry{TransactionID: failing, BatchID: batch.BatchID, Error: "account closed"}, entries[0])

	assert.FileExists(t, filepath.Join(p.dirs.ProcessedDir, "1.json"))
	assert.NoFileExists(t, filepath.Join(p.dirs.ProcessingDir, "1.json"))
	assert.NoFileExists(t, filepath.Join(p.dirs.JobDir, "1.json"))
}

func TestJobQueue_NoErrorLogWhenAllSucceed(t *testing.T) {
	p := newPipeline(t)
	p.donor(t, 1, "Ada", "Lovelace")
	p.newTransaction(1, "10")
	p.createBatch(t)

	_, err := p.queue(&scriptedProcessor{}).Run(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(p.dirs.ProcessedDir, "1.json"))
	assert.NoFileExists(t, filepath.Join(p.dirs.ErrorDir, "1.json.err"))
}

func TestJobQueue_RecoveredArtifactIsNotResent(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.donor(t, 1, "Ada", "Lovelace")
	p.donor(t, 2, "Alan", "Turing")
	p.donor(t, 3, "Grace", "Hopper")
	posted := p.newTransaction(1, "10")
	failed := p.newTransaction(2, "10")
	untouched := p.newTransaction(3, "10")
	p.createBatch(t)

	// Simulate a crash mid-batch: the artifact was claimed and two outcomes reached the ledger.
	require.NoError(t, p.store.Move(ctx, "1.json", storage.StatePending, storage.StateInFlight))
	procID := "PX-early"
	require.NoError(t, p.ledger.UpdateStatus(ctx, &domain.StatusUpdate{TransactionID: posted, Status: domain.TransactionStatusPosted, Message: "ok", ProcessorTransactionID: &procID, At: time.Now()}))
	require.NoError(t, p.ledger.UpdateStatus(ctx, &domain.StatusUpdate{TransactionID: failed, Status: domain.TransactionStatusError, Message: "insufficient funds", At: time.Now()}))

	proc := &scriptedProcessor{}
	q := p.queue(proc)
	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := q.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int64{untouched}, proc.Calls())
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Posted)
	assert.Equal(t, 2, results[0].Skipped)
	assert.Equal(t, 1, results[0].Failed)
	assert.FileExists(t, filepath.Join(p.dirs.ProcessedDir, "1.json"))

	row, _ := p.ledger.Get(posted)
	assert.Equal(t, "PX-early", *row.ProcessorTransactionID)

	// the failure recorded before the crash still reaches the error log
	entries := p.errorLog(t, "1.json")
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ErrorLogEntry{TransactionID: failed, BatchID: 1, Error: "insufficient funds"}, entries[0])
}

func TestJobQueue_UnrecordedPaymentIsLogged(t *testing.T) {
	p := newPipeline(t)
	p.donor(t, 1, "Ada", "Lovelace")
	id := p.newTransaction(1, "10")
	p.createBatch(t)
	p.ledger.UpdateErr = errors.New("connection reset")

	proc := &scriptedProcessor{}
	results, err := p.queue(proc).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{id}, proc.Calls())
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Posted)
	assert.Equal(t, 1, results[0].Failed)

	row, _ := p.ledger.Get(id)
	assert.Equal(t, domain.TransactionStatusBatched, row.Status)
	assert.Nil(t, row.ProcessorTransactionID)

	entries := p.errorLog(t, "1.json")
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].TransactionID)
	assert.Equal(t, int64(1), entries[0].BatchID)
	assert.Equal(t, "posted as PX-Ada@example.com, ledger update failed: connection reset", entries[0].Error)
	assert.FileExists(t, filepath.Join(p.dirs.ProcessedDir, "1.json"))
}

func TestJobQueue_RefreshDoesNotRequeue(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.donor(t, 1, "Ada", "Lovelace")
	p.newTransaction(1, "10")
	p.createBatch(t)

	q := p.queue(&scriptedProcessor{})
	added, err := q.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, err = q.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, q.Len())
}

func TestJobQueue_RunIsNotReentrant(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.donor(t, 1, "Ada", "Lovelace")
	p.newTransaction(1, "10")
	p.createBatch(t)
	p.donor(t, 2, "Alan", "Turing")
	p.newTransaction(2, "10")
	p.createBatch(t)

	proc := &scriptedProcessor{gate: make(chan struct{})}
	q := p.queue(proc)

	done := make(chan []DrainResult)
	go func() {
		results, _ := q.Run(ctx)
		done <- results
	}()

	// wait until the first artifact is in flight
	require.Eventually(t, func() bool {
		names, _ := p.store.List(ctx, storage.StateInFlight)
		return len(names) == 1
	}, 2*time.Second, 5*time.Millisecond)

	second, err := q.Run(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)

	inFlight, err := p.store.List(ctx, storage.StateInFlight)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.json"}, inFlight)

	close(proc.gate)
	results := <-done
	require.Len(t, results, 2)
	assert.Equal(t, "1.json", results[0].Artifact)
	assert.Equal(t, "2.json", results[1].Artifact)
}

func TestJobQueue_CorruptArtifactStaysInFlight(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(p.dirs.JobDir, "4.json"), []byte("{broken"), 0600))

	proc := &scriptedProcessor{}
	results, err := p.queue(proc).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, proc.Calls())

	assert.FileExists(t, filepath.Join(p.dirs.ProcessingDir, "4.json"))
	entries := p.errorLog(t, "4.json")
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Error, "failed to parse artifact")
}

func TestPipeline_EndToEnd(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.donor(t, 1, "Ada", "Lovelace")
	p.donor(t, 2, "Alan", "Turing")
	a := p.newTransaction(1, "25")
	b := p.newTransaction(2, "40")

	var mu sync.Mutex
	var received []map[string]any
	r := mux.NewRouter()
	r.HandleFunc("/transactions/guestsend", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		mu.Lock()
		received = append(received, body)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if body["lastName"] == "Turing" {
			w.Write([]byte(`{"Success":false,"Message":"insufficient funds","Response":null}`))
			return
		}
		w.Write([]byte(`{"Success":true,"Message":"Success","Response":"T-1001"}`))
	}).Methods(http.MethodPost)
	srv := httptest.NewServer(r)
	defer srv.Close()

	batch := p.createBatch(t)
	assert.Equal(t, int64(1), batch.BatchID)
	assert.Len(t, batch.Transactions, 2)

	client := processor.NewHTTPClient(srv.URL+"/transactions/guestsend", "id", "secret", 5*time.Second)
	_, err := p.queue(client).Run(ctx)
	require.NoError(t, err)

	rowA, _ := p.ledger.Get(a)
	assert.Equal(t, domain.TransactionStatusPosted, rowA.Status)
	require.NotNil(t, rowA.ProcessorTransactionID)
	assert.Equal(t, "T-1001", *rowA.ProcessorTransactionID)

	rowB, _ := p.ledger.Get(b)
	assert.Equal(t, domain.TransactionStatusError, rowB.Status)
	assert.Equal(t, "insufficient funds", rowB.Message)

	entries := p.errorLog(t, "1.json")
	require.Len(t, entries, 1)
	assert.Equal(t, b, entries[0].TransactionID)
	assert.Equal(t, int64(1), entries[0].BatchID)
	assert.Equal(t, "insufficient funds", entries[0].Error)

	assert.FileExists(t, filepath.Join(p.dirs.ProcessedDir, "1.json"))
	assert.Len(t, received, 2)
	assert.Equal(t, "25.00", received[0]["amount"])
	assert.Equal(t, "0.50", received[0]["facilitatorAmount"])
}
