package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"payment-server/internal/domain"
	"payment-server/internal/logger"
)

const (
	artifactExt = ".json"
	errorLogExt = ".err"
)

// FileJobStore keeps job artifacts on the local filesystem. Directory membership is the
// artifact's state; moves between directories use rename, which is atomic on one filesystem.
type FileJobStore struct {
	dirs     map[ArtifactState]string
	errorDir string
}

// NewFileJobStore creates the pipeline directories if they don't exist
func NewFileJobStore(cfg Config) (*FileJobStore, error) {
	for _, dir := range []string{cfg.JobDir, cfg.ProcessingDir, cfg.ProcessedDir, cfg.ErrorDir} {
		if dir == "" {
			return nil, fmt.Errorf("job store directory not configured")
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &FileJobStore{
		dirs: map[ArtifactState]string{
			StatePending:  cfg.JobDir,
			StateInFlight: cfg.ProcessingDir,
			StateDone:     cfg.ProcessedDir,
		},
		errorDir: cfg.ErrorDir,
	}, nil
}

// ArtifactName returns the file name of the artifact for a batch
func ArtifactName(batchID int64) string {
	return strconv.FormatInt(batchID, 10) + artifactExt
}

// ErrorLogName returns the error log file name mirroring an artifact name
func ErrorLogName(artifact string) string {
	return artifact + errorLogExt
}

func (s *FileJobStore) path(state ArtifactState, name string) (string, error) {
	dir, ok := s.dirs[state]
	if !ok {
		return "", fmt.Errorf("unknown artifact state %q", state)
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(dir, name), nil
}

func (s *FileJobStore) WriteArtifact(ctx context.Context, batch *domain.Batch) (string, error) {
	name := ArtifactName(batch.BatchID)
	dest, err := s.path(StatePending, name)
	if err != nil {
		return "", err
	}
	for _, state := range []ArtifactState{StatePending, StateInFlight, StateDone} {
		p, _ := s.path(state, name)
		if _, err := os.Stat(p); err == nil {
			return "", fmt.Errorf("artifact %s already exists in %s", name, state)
		}
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("failed to encode batch %d: %w", batch.BatchID, err)
	}
	if err := writeFileAtomic(dest, data); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	return name, nil
}

// List returns artifact names in a state, ordered by batch id
func (s *FileJobStore) List(ctx context.Context, state ArtifactState) ([]string, error) {
	dir, ok := s.dirs[state]
	if !ok {
		return nil, fmt.Errorf("unknown artifact state %q", state)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s artifacts: %w", state, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), artifactExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Slice(names, func(i, j int) bool { return lessArtifact(names[i], names[j]) })
	return names, nil
}

func lessArtifact(a, b string) bool {
	ai, aerr := strconv.ParseInt(strings.TrimSuffix(a, artifactExt), 10, 64)
	bi, berr := strconv.ParseInt(strings.TrimSuffix(b, artifactExt), 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

func (s *FileJobStore) Move(ctx context.Context, name string, from, to ArtifactState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	src, err := s.path(from, name)
	if err != nil {
		return err
	}
	dest, err := s.path(to, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("artifact %s already exists in %s", name, to)
	}
	logger.FileMove(src, dest)
	if err := os.Rename(src, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s in %s", ErrArtifactNotFound, name, from)
		}
		return fmt.Errorf("failed to move artifact %s: %w", name, err)
	}
	return nil
}

func (s *FileJobStore) Read(ctx context.Context, name string, state ArtifactState) (*domain.Batch, error) {
	p, err := s.path(state, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", ErrArtifactNotFound, name, state)
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	var batch domain.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", name, err)
	}
	return &batch, nil
}

func (s *FileJobStore) WriteErrorLog(ctx context.Context, name string, entries []domain.ErrorLogEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode error log: %w", err)
	}
	dest := filepath.Join(s.errorDir, ErrorLogName(name))
	if err := writeFileAtomic(dest, data); err != nil {
		return fmt.Errorf("failed to write error log for %s: %w", name, err)
	}
	return nil
}

// writeFileAtomic writes to a hidden temp file in the destination directory and
// renames it into place so readers never observe a partial file.
func writeFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}
