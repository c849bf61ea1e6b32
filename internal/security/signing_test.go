package security

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureKeyPairCreatesThenLoads(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	pub, priv, created, err := EnsureKeyPair(dir)
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}
	info, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("private key mode = %v", info.Mode().Perm())
	}

	pub2, priv2, created, err := EnsureKeyPair(dir)
	if err != nil || created {
		t.Fatalf("second call: created=%v err=%v", created, err)
	}
	if !pub.Equal(pub2) || !priv.Equal(priv2) {
		t.Errorf("reloaded keys differ")
	}
}

func TestEnsureKeyPairDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	_, priv, _ := GenerateKeyPair()
	otherPub, _, _ := GenerateKeyPair()
	if err := SaveKeyPair(otherPub, priv, filepath.Join(dir, PublicKeyFile), filepath.Join(dir, PrivateKeyFile)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, _, err := EnsureKeyPair(dir); err == nil {
		t.Errorf("expected mismatch error")
	}
}

func TestSignAndVerifyHex(t *testing.T) {
	pub, priv, _ := GenerateKeyPair()
	sig := SignHex(priv, []byte("block-hash"))

	ok, err := VerifyHex(hexOf(pub), []byte("block-hash"), sig)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
	ok, _ = VerifyHex(hexOf(pub), []byte("other"), sig)
	if ok {
		t.Errorf("signature must not verify other data")
	}
	if _, err := VerifyHex("zz", nil, sig); err == nil {
		t.Errorf("expected decode error")
	}
}

func TestLoadRejectsBadSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pub")
	if err := os.WriteFile(path, []byte("abcd\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPublicKey(path); err == nil {
		t.Errorf("expected size error")
	}
}

func hexOf(b []byte) string { return hex.EncodeToString(b) }
