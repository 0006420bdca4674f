package storage

import (
	"context"
	"errors"

	"payment-server/internal/domain"
)

var (
	ErrIllegalTransition = errors.New("illegal artifact transition")
	ErrArtifactNotFound  = errors.New("job artifact not found")
)

// ArtifactState is the pipeline position of a job artifact. Each state maps to a directory.
type ArtifactState string

const (
	StatePending  ArtifactState = "pending"
	StateInFlight ArtifactState = "in-flight"
	StateDone     ArtifactState = "done"
)

var legalTransitions = map[ArtifactState]ArtifactState{
	StatePending:  StateInFlight,
	StateInFlight: StateDone,
}

// CanTransition reports whether an artifact may move from one state to the other.
func CanTransition(from, to ArtifactState) bool {
	next, ok := legalTransitions[from]
	return ok && next == to
}

// JobStore holds job artifacts and their error logs
type JobStore interface {
	// WriteArtifact writes a new artifact into the pending state and returns its name.
	WriteArtifact(ctx context.Context, batch *domain.Batch) (string, error)
	List(ctx context.Context, state ArtifactState) ([]string, error)
	// Move relocates an artifact atomically. Only legal transitions are accepted.
	Move(ctx context.Context, name string, from, to ArtifactState) error
	Read(ctx context.Context, name string, state ArtifactState) (*domain.Batch, error)
	WriteErrorLog(ctx context.Context, name string, entries []domain.ErrorLogEntry) error
}

// ControlStore persists the BatchControl record
type ControlStore interface {
	Load(ctx context.Context) (domain.BatchControl, error)
	Save(ctx context.Context, c domain.BatchControl) error
}
