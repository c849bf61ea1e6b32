// Package ledger keeps a tamper-evident record of job status changes: a
// hash-chained JSON-lines file whose blocks are signed with the server key.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Block is one job event.
type Block struct {
	Index        int    `json:"index"`
	Timestamp    string `json:"timestamp"`
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	Detail       string `json:"detail,omitempty"`
	ArtifactHash string `json:"artifactHash,omitempty"`
	PrevHash     string `json:"prevHash"`
	Hash         string `json:"hash"`
	Signer       string `json:"signer"`
	Signature    string `json:"signature"`
	PubKey       string `json:"pubKey"`
}

// canonicalData returns the bytes the block hash covers. Hash, Signature and
// PubKey are excluded.
func (b *Block) canonicalData() ([]byte, error) {
	view := struct {
		Index        int    `json:"index"`
		Timestamp    string `json:"timestamp"`
		JobID        string `json:"jobId"`
		Status       string `json:"status"`
		Detail       string `json:"detail"`
		ArtifactHash string `json:"artifactHash"`
		PrevHash     string `json:"prevHash"`
		Signer       string `json:"signer"`
	}{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		JobID:        b.JobID,
		Status:       b.Status,
		Detail:       b.Detail,
		ArtifactHash: b.ArtifactHash,
		PrevHash:     b.PrevHash,
		Signer:       b.Signer,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA-256 over canonicalData.
func (b *Block) ComputeHash() (string, error) {
	data, err := b.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Event is the payload of a block before it is chained.
type Event struct {
	JobID        string
	Status       string
	Detail       string
	ArtifactHash string
}

func newBlock(index int, ev Event, prevHash, signer string, at time.Time) (*Block, error) {
	blk := &Block{
		Index:        index,
		Timestamp:    at.UTC().Format(time.RFC3339Nano),
		JobID:        ev.JobID,
		Status:       ev.Status,
		Detail:       ev.Detail,
		ArtifactHash: ev.ArtifactHash,
		PrevHash:     prevHash,
		Signer:       signer,
	}
	h, err := blk.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute block hash: %w", err)
	}
	blk.Hash = h
	return blk, nil
}
