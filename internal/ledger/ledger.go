package ledger

import (
	"bufio"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"copper/internal/jobs"
	"copper/internal/prompt"
	"copper/internal/security"
)

// Ledger is an append-only JSONL file of signed blocks, mirrored in memory.
type Ledger struct {
	mu     sync.Mutex
	blocks []*Block
	path   string
	signer string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	now    func() time.Time
}

// Open loads an existing ledger file or creates an empty one. priv may be nil
// for read-only use (inspect, verify).
func Open(path, signer string, priv ed25519.PrivateKey) (*Ledger, error) {
	l := &Ledger{path: path, signer: signer, priv: priv, now: time.Now}
	if len(priv) == ed25519.PrivateKeySize {
		l.pub = priv.Public().(ed25519.PublicKey)
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var blk Block
		if err := dec.Decode(&blk); err != nil {
			return nil, fmt.Errorf("decode ledger entry %d: %w", len(l.blocks), err)
		}
		l.blocks = append(l.blocks, &blk)
	}
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Append chains, signs and persists one event.
func (l *Ledger) Append(ev Event) (*Block, error) {
	if len(l.priv) != ed25519.PrivateKeySize {
		return nil, errors.New("ledger opened without a signing key")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	if n := len(l.blocks); n > 0 {
		prev = l.blocks[n-1].Hash
	}
	blk, err := newBlock(len(l.blocks), ev, prev, l.signer, l.now())
	if err != nil {
		return nil, err
	}
	blk.Signature = security.SignHex(l.priv, []byte(blk.Hash))
	blk.PubKey = hex.EncodeToString(l.pub)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(blk); err != nil {
		return nil, fmt.Errorf("write ledger file: %w", err)
	}

	l.blocks = append(l.blocks, blk)
	cp := *blk
	return &cp, nil
}

// Record appends the job's current status.
func (l *Ledger) Record(job jobs.Job) error {
	ev := Event{JobID: job.ID, Status: string(job.Status)}
	switch {
	case job.Error != "":
		ev.Detail = prompt.Truncate(job.Error, 500)
	default:
		ev.Detail = job.Progress
	}
	if job.Result != nil {
		ev.ArtifactHash = HashFlows(job.Result.Tests)
	}
	_, err := l.Append(ev)
	return err
}

// Blocks returns copies of every block in order.
func (l *Ledger) Blocks() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Block, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = *b
	}
	return out
}

// ForJob returns the blocks recorded for one job.
func (l *Ledger) ForJob(id string) []Block {
	var out []Block
	for _, b := range l.Blocks() {
		if b.JobID == id {
			out = append(out, b)
		}
	}
	return out
}

// Len returns the number of blocks.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// LastHash returns the hash of the newest block, or "" when empty.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}

// Rewrite replaces the file at path with blocks, bypassing chaining and
// signing. It exists for tamper drills; Verify must reject the result.
func Rewrite(path string, blocks []Block) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, b := range blocks {
		if err := enc.Encode(b); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
