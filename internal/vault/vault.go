package vault

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"payment-server/internal/domain"
	"payment-server/internal/security"
)

var ErrAccountNotFound = errors.New("missing account credentials")

// Vault resolves donor bank credentials from the bucketed account store
type Vault struct {
	root string
}

func New(root string) *Vault {
	return &Vault{root: root}
}

// bucket returns the lowercased first two characters of a name. Whitespace is kept so
// paths match the ones written by the account intake tooling.
func bucket(name string) string {
	name = strings.ToLower(name)
	if utf8.RuneCountInString(name) <= 2 {
		return name
	}
	_, size1 := utf8.DecodeRuneInString(name)
	_, size2 := utf8.DecodeRuneInString(name[size1:])
	return name[:size1+size2]
}

// AccountPath derives <root>/<last name prefix>/<first name prefix>/<donor id>.json
func AccountPath(root, firstName, lastName string, donorID int64) (string, error) {
	top, bottom := bucket(lastName), bucket(firstName)
	if top == "" || bottom == "" {
		return "", fmt.Errorf("donor %d: first and last name are required", donorID)
	}
	if strings.ContainsAny(top+bottom, `/\`) || top == "." || top == ".." || bottom == "." || bottom == ".." {
		return "", fmt.Errorf("donor %d: name produces an invalid path", donorID)
	}
	return filepath.Join(root, top, bottom, strconv.FormatInt(donorID, 10)+".json"), nil
}

// Lookup loads the donor's account record. A missing file yields ErrAccountNotFound.
func (v *Vault) Lookup(ctx context.Context, donorID int64, firstName, lastName string) (*domain.AccountRecord, error) {
	path, err := AccountPath(v.root, firstName, lastName, donorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountNotFound, err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account file: %w", err)
	}
	var rec domain.AccountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse account file: %w", err)
	}
	if rec.DonorID != donorID {
		return nil, fmt.Errorf("account file donor id %d does not match %d", rec.DonorID, donorID)
	}
	return &rec, nil
}

// OpenAccount decrypts the account blob of a record
func OpenAccount(priv *rsa.PrivateKey, rec *domain.AccountRecord) (*domain.BankAccount, error) {
	pt, err := security.Decrypt(priv, rec.Account)
	if err != nil {
		return nil, err
	}
	var acct domain.BankAccount
	if err := json.Unmarshal(pt, &acct); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted account: %w", err)
	}
	if acct.AccountNumber == "" || acct.RoutingNumber == "" {
		return nil, fmt.Errorf("decrypted account is incomplete")
	}
	return &acct, nil
}

// SealAccount encrypts a bank account for storage in a record
func SealAccount(pub *rsa.PublicKey, acct *domain.BankAccount) (string, error) {
	data, err := json.Marshal(acct)
	if err != nil {
		return "", fmt.Errorf("failed to encode account: %w", err)
	}
	return security.Encrypt(pub, data)
}
