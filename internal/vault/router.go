package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"payment-server/internal/domain"
	"payment-server/internal/logger"
)

// Router relocates newly arrived account files into the bucketed account store
type Router struct {
	incomingDir string
	accountDir  string
	errorDir    string
}

func NewRouter(incomingDir, accountDir, errorDir string) (*Router, error) {
	for _, dir := range []string{incomingDir, accountDir, errorDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Router{incomingDir: incomingDir, accountDir: accountDir, errorDir: errorDir}, nil
}

type routeError struct {
	Error string    `json:"error"`
	Date  time.Time `json:"date"`
	File  string    `json:"file"`
}

// RouteIncoming moves every file in the incoming directory. It returns the number of
// files routed; failures are recorded as <file>.err in the error directory.
func (r *Router) RouteIncoming(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(r.incomingDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list incoming accounts: %w", err)
	}
	routed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return routed, ctx.Err()
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := r.route(e.Name()); err != nil {
			logger.Error("Failed to route account file", "file", e.Name(), "error", err)
			r.recordFailure(e.Name(), err)
			continue
		}
		routed++
	}
	return routed, nil
}

func (r *Router) route(name string) error {
	src := filepath.Join(r.incomingDir, name)
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	var rec domain.AccountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("invalid account file: %w", err)
	}
	if rec.DonorID <= 0 || rec.Account == "" {
		return fmt.Errorf("account file is missing donor_id or account")
	}
	dest, err := AccountPath(r.accountDir, rec.FirstName, rec.LastName, rec.DonorID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	logger.Info("Routed account file", "file", name, "donor_id", rec.DonorID)
	return os.Remove(src)
}

func (r *Router) recordFailure(name string, cause error) {
	data, _ := json.Marshal(routeError{Error: cause.Error(), Date: time.Now().UTC(), File: name})
	dest := filepath.Join(r.errorDir, name+".err")
	if err := os.WriteFile(dest, data, 0640); err != nil {
		logger.Error("Failed to write routing error", "file", name, "error", err)
		return
	}
	// keep the bad file out of the next scan
	if err := os.Rename(filepath.Join(r.incomingDir, name), filepath.Join(r.errorDir, name)); err != nil {
		logger.Warn("Failed to quarantine account file", "file", name, "error", err)
	}
}
