package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"copper/internal/security"
)

// ErrTampered is wrapped by every verification failure.
var ErrTampered = errors.New("ledger tampered")

// Verify recomputes each block hash, checks the links and indexes, and
// checks each signature against the embedded public key. When trusted is
// non-nil every block must also be signed by that key.
func (l *Ledger) Verify(trusted ed25519.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, b := range l.blocks {
		if b.Index != i {
			return fmt.Errorf("%w: index mismatch: expected %d got %d", ErrTampered, i, b.Index)
		}
		h, err := b.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", i, err)
		}
		if h != b.Hash {
			return fmt.Errorf("%w: hash mismatch at index %d", ErrTampered, i)
		}
		if i > 0 && b.PrevHash != l.blocks[i-1].Hash {
			return fmt.Errorf("%w: prev hash mismatch at index %d", ErrTampered, i)
		}
		if i == 0 && b.PrevHash != "" {
			return fmt.Errorf("%w: genesis block has a prev hash", ErrTampered)
		}
		if err := verifySignature(b, trusted); err != nil {
			return fmt.Errorf("%w: index %d: %v", ErrTampered, i, err)
		}
	}
	return nil
}

func verifySignature(b *Block, trusted ed25519.PublicKey) error {
	pub, err := hex.DecodeString(b.PubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.New("invalid public key")
	}
	if trusted != nil && !ed25519.PublicKey(pub).Equal(trusted) {
		return errors.New("signed by an untrusted key")
	}
	ok, err := security.VerifyHex(b.PubKey, []byte(b.Hash), b.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %v", err)
	}
	if !ok {
		return errors.New("bad signature")
	}
	return nil
}
