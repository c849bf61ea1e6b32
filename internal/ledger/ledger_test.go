package ledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"copper/internal/jobs"
	"copper/internal/security"
)

func openTemp(t *testing.T) (*Ledger, string) {
	t.Helper()
	_, priv, err := security.GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate keys: %v", err)
	}
	path := filepath.Join(t.TempDir(), "ledger", "jobs.jsonl")
	l, err := Open(path, "node-1", priv)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	return l, path
}

// Test block creation and hashing
func TestNewBlockAndHash(t *testing.T) {
	blk, err := newBlock(0, Event{JobID: "j1", Status: "queued"}, "", "node-1", nowFixed())
	if err != nil {
		t.Fatalf("failed to create block: %v", err)
	}
	h, err := blk.ComputeHash()
	if err != nil {
		t.Fatalf("failed to recompute hash: %v", err)
	}
	if h != blk.Hash {
		t.Errorf("hash mismatch: got %s, want %s", blk.Hash, h)
	}
}

func TestAppendChainsAndVerifies(t *testing.T) {
	l, _ := openTemp(t)

	b1, err := l.Append(Event{JobID: "j1", Status: "queued"})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	b2, err := l.Append(Event{JobID: "j1", Status: "running"})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if b2.PrevHash != b1.Hash || b2.Index != 1 {
		t.Errorf("block 2 not chained: %+v", b2)
	}
	if err := l.Verify(nil); err != nil {
		t.Errorf("chain verification failed: %v", err)
	}
}

func TestRecordJob(t *testing.T) {
	l, _ := openTemp(t)
	job := jobs.Job{ID: "j2", Status: jobs.StatusGenerated, Progress: "2 of 2 candidates generated",
		Result: &jobs.Result{Tests: []string{"a", "b"}}}
	if err := l.Record(job); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(jobs.Job{ID: "j2", Status: jobs.StatusFailed, Error: "verification failed"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	got := l.ForJob("j2")
	if len(got) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(got))
	}
	if got[0].ArtifactHash != HashFlows([]string{"a", "b"}) || got[0].Detail != job.Progress {
		t.Errorf("unexpected block: %+v", got[0])
	}
	if got[1].Detail != "verification failed" {
		t.Errorf("failure detail not recorded: %+v", got[1])
	}
}

// Test tampering detection
func TestTamperingDetection(t *testing.T) {
	l, path := openTemp(t)
	for _, s := range []string{"queued", "running", "generated"} {
		if _, err := l.Append(Event{JobID: "j3", Status: s}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	blocks := l.Blocks()
	blocks[1].Status = "passed"
	rewrite(t, path, blocks)

	reopened, err := Open(path, "", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := reopened.Verify(nil); !errors.Is(err, ErrTampered) {
		t.Errorf("expected tamper detection, got %v", err)
	}
}

func TestForgedSignatureDetected(t *testing.T) {
	l, path := openTemp(t)
	if _, err := l.Append(Event{JobID: "j4", Status: "queued"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	other, _, _ := security.GenerateKeyPair()
	reopened, _ := Open(path, "", nil)
	if err := reopened.Verify(other); !errors.Is(err, ErrTampered) {
		t.Errorf("expected untrusted key rejection, got %v", err)
	}
}

// Test ledger persistence (write, reload, verify)
func TestLedgerPersistence(t *testing.T) {
	l, path := openTemp(t)
	if _, err := l.Append(Event{JobID: "j5", Status: "queued"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	reopened, err := Open(path, "node-1", l.priv)
	if err != nil {
		t.Fatalf("failed to reopen ledger: %v", err)
	}
	if reopened.Len() != 1 || reopened.LastHash() != l.LastHash() {
		t.Fatalf("reloaded ledger differs")
	}
	if _, err := reopened.Append(Event{JobID: "j5", Status: "running"}); err != nil {
		t.Fatalf("append after reload: %v", err)
	}
	if err := reopened.Verify(l.pub); err != nil {
		t.Errorf("reloaded ledger verification failed: %v", err)
	}
}

func TestReadOnlyLedgerCannotAppend(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "l.jsonl"), "", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := l.Append(Event{JobID: "x"}); err == nil {
		t.Errorf("expected error appending without a key")
	}
}

func TestHashFlowsIsOrderSensitive(t *testing.T) {
	if HashFlows([]string{"ab", "c"}) == HashFlows([]string{"a", "bc"}) {
		t.Errorf("re-split flows must not collide")
	}
	if HashFlows(nil) != "" {
		t.Errorf("empty flows should have no digest")
	}
}

func rewrite(t *testing.T, path string, blocks []Block) {
	t.Helper()
	if err := Rewrite(path, blocks); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
}

func nowFixed() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
