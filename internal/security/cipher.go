package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
)

var ErrNilKey = errors.New("rsa key is nil")

// Encrypt seals plaintext with RSA-OAEP (SHA-1, the padding used by the account
// intake tooling) and returns it base64 encoded.
func Encrypt(pub *rsa.PublicKey, plaintext []byte) (string, error) {
	if pub == nil {
		return "", ErrNilKey
	}
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt
func Decrypt(priv *rsa.PrivateKey, ciphertext string) ([]byte, error) {
	if priv == nil {
		return nil, ErrNilKey
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	pt, err := rsa.DecryptOAEP(sha1.New(), nil, priv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return pt, nil
}
