package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// LoadPrivateKey reads an RSA private key in PKCS#1, PKCS#8 or OpenSSH format.
// An empty passphrase loads an unencrypted key.
func LoadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return ParsePrivateKey(data, passphrase)
}

func ParsePrivateKey(data []byte, passphrase string) (*rsa.PrivateKey, error) {
	var (
		raw any
		err error
	)
	if passphrase == "" {
		raw, err = ssh.ParseRawPrivateKey(data)
	} else {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, []byte(passphrase))
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("private key is encrypted, passphrase required")
		}
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", raw)
	}
	return key, nil
}

// LoadPublicKey reads an RSA public key as PEM (PKIX or PKCS#1) or as an
// authorized_keys line.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return ParsePublicKey(data)
}

func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		switch block.Type {
		case "RSA PUBLIC KEY":
			return x509.ParsePKCS1PublicKey(block.Bytes)
		case "PUBLIC KEY":
			pub, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse public key: %w", err)
			}
			key, ok := pub.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("public key is %T, want RSA", pub)
			}
			return key, nil
		default:
			return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
		}
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported ssh public key type %s", pub.Type())
	}
	key, ok := cpk.CryptoPublicKey().(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %s, want RSA", pub.Type())
	}
	return key, nil
}
