package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"payment-server/internal/domain"
)

// FileControlStore keeps BatchControl in a single JSON file
type FileControlStore struct {
	path string
}

func NewFileControlStore(path string) (*FileControlStore, error) {
	if path == "" {
		return nil, fmt.Errorf("batch control file not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create control directory: %w", err)
	}
	return &FileControlStore{path: path}, nil
}

// Load returns the zero record when the file does not exist yet
func (s *FileControlStore) Load(ctx context.Context) (domain.BatchControl, error) {
	var c domain.BatchControl
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("failed to read batch control: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse batch control: %w", err)
	}
	return c, nil
}

func (s *FileControlStore) Save(ctx context.Context, c domain.BatchControl) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode batch control: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write batch control: %w", err)
	}
	return nil
}
