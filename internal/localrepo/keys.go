// SPDX-License-Identifier: MPL-2.0

package localrepo

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSigning is the sentinel error wrapped by SigningError. Signing
// failures are fatal: falling back to an unsigned index would be
// silently accepted by a resolver configured to trust the local
// repository, creating a trust gap.
var ErrSigning = errors.New("index signing failed")

// signerName is the key identity embedded in signature member names
// (.SIGN.RSA.<signerName>). It must match the public key filename
// registered with apk at install time.
const signerName = "local.rsa.pub"

// keyBits sizes the locally generated trust anchor.
const keyBits = 2048

// SigningError wraps any failure to load the key or produce a signature.
type SigningError struct {
	Path string
	Err  error
}

// Error implements the error interface for SigningError.
func (e *SigningError) Error() string {
	return fmt.Sprintf("signing with %s: %v", e.Path, e.Err)
}

// Unwrap returns the sentinel ErrSigning.
func (e *SigningError) Unwrap() error { return ErrSigning }

// EnsureKey generates the local RSA keypair at keyPath (private) and
// keyPath+".pub" (public) if the private key does not already exist. An
// existing key is never regenerated: its public half is the trust anchor
// apk was configured with at install time, and replacing it would
// invalidate every index signed so far.
func EnsureKey(keyPath string) error {
	if _, err := os.Stat(keyPath); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat key %s: %w", keyPath, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return &SigningError{Path: keyPath, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := writeFileAtomic(keyPath, privPEM, 0o600); err != nil {
		return err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return &SigningError{Path: keyPath, Err: err}
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return writeFileAtomic(keyPath+".pub", pubPEM, 0o644)
}

// LoadKey reads the private key at keyPath, accepting PKCS#1 and PKCS#8
// PEM encodings.
func LoadKey(keyPath string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &SigningError{Path: keyPath, Err: err}
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &SigningError{Path: keyPath, Err: errors.New("no PEM block found")}
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &SigningError{Path: keyPath, Err: fmt.Errorf("parse private key: %w", err)}
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, &SigningError{Path: keyPath, Err: fmt.Errorf("unsupported key type %T", parsed)}
	}
	return key, nil
}

// LoadPublicKey reads the public half of the trust anchor, for
// verification.
func LoadPublicKey(pubPath string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", pubPath, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", pubPath)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", pubPath, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key type %T in %s", parsed, pubPath)
	}
	return pub, nil
}
