// Package security manages the ed25519 key pair that signs ledger blocks.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	PublicKeyFile  = "server.pub"
	PrivateKeyFile = "server.priv"
)

// GenerateKeyPair creates a new ed25519 key pair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// SaveKeyPair writes both keys hex-encoded with owner-only permissions.
func SaveKeyPair(pub ed25519.PublicKey, priv ed25519.PrivateKey, pubPath, privPath string) error {
	for _, p := range []string{pubPath, privPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return err
		}
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0o600); err != nil {
		return err
	}
	return os.WriteFile(privPath, []byte(hex.EncodeToString(priv)), 0o600)
}

// LoadPrivateKey loads a hex-encoded ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	b, err := readHex(path, ed25519.PrivateKeySize)
	if err != nil {
		return nil, fmt.Errorf("private key %s: %w", path, err)
	}
	return ed25519.PrivateKey(b), nil
}

// LoadPublicKey loads a hex-encoded ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	b, err := readHex(path, ed25519.PublicKeySize)
	if err != nil {
		return nil, fmt.Errorf("public key %s: %w", path, err)
	}
	return ed25519.PublicKey(b), nil
}

func readHex(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, errors.New("invalid key size")
	}
	return b, nil
}

// EnsureKeyPair loads the key pair from dir, generating and saving a new one
// when none exists. created reports whether new keys were written.
func EnsureKeyPair(dir string) (pub ed25519.PublicKey, priv ed25519.PrivateKey, created bool, err error) {
	pubPath := filepath.Join(dir, PublicKeyFile)
	privPath := filepath.Join(dir, PrivateKeyFile)

	if _, statErr := os.Stat(privPath); errors.Is(statErr, os.ErrNotExist) {
		pub, priv, err = GenerateKeyPair()
		if err != nil {
			return nil, nil, false, err
		}
		if err := SaveKeyPair(pub, priv, pubPath, privPath); err != nil {
			return nil, nil, false, err
		}
		return pub, priv, true, nil
	}

	priv, err = LoadPrivateKey(privPath)
	if err != nil {
		return nil, nil, false, err
	}
	pub = priv.Public().(ed25519.PublicKey)
	if onDisk, err := LoadPublicKey(pubPath); err == nil && !onDisk.Equal(pub) {
		return nil, nil, false, fmt.Errorf("%s does not match %s", pubPath, privPath)
	}
	return pub, priv, false, nil
}

// SignHex signs data and returns the hex signature.
func SignHex(priv ed25519.PrivateKey, data []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, data))
}

// VerifyHex checks a hex signature against a hex public key.
func VerifyHex(pubHex string, data []byte, sigHex string) (bool, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, err
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, errors.New("invalid public key size")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}
