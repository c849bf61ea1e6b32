// Package jobs owns asynchronous generation jobs: their ids, their monotonic
// status lifecycle, and the workers that drive them.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"copper/internal/prompt"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidRequest    = errors.New("invalid generation request")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrClosed            = errors.New("job manager closed")
)

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusGenerated Status = "generated"
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a poller may stop waiting on s.
func (s Status) Terminal() bool {
	return s == StatusGenerated || s == StatusPassed || s == StatusFailed
}

// Final reports whether no transition out of s exists.
func (s Status) Final() bool {
	return s == StatusPassed || s == StatusFailed
}

// IsTerminal reports whether the raw status string is terminal.
func IsTerminal(status string) bool { return Status(status).Terminal() }

var transitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusFailed},
	StatusRunning:   {StatusGenerated, StatusFailed},
	StatusGenerated: {StatusPassed, StatusFailed},
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Result is attached to generated and passed jobs.
type Result struct {
	Tests        []string `json:"tests"`
	Paths        []string `json:"paths,omitempty"`
	Verification string   `json:"verification,omitempty"`
}

// Job is a snapshot of one generation job.
type Job struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  string    `json:"progress,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (j Job) clone() Job {
	if j.Result != nil {
		r := *j.Result
		r.Tests = append([]string(nil), r.Tests...)
		r.Paths = append([]string(nil), r.Paths...)
		j.Result = &r
	}
	return j
}

// MaxCount bounds the number of flows one request may ask for.
const MaxCount = 20

// Request is an immutable generation request.
type Request struct {
	UserMessage   string               `json:"userMessage"`
	ModifiedFiles []prompt.ChangedFile `json:"modifiedFiles"`
	RelatedFiles  []string             `json:"relatedFiles"`
	Count         int                  `json:"count,omitempty"`
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if strings.TrimSpace(r.UserMessage) == "" && len(r.ModifiedFiles) == 0 {
		return fmt.Errorf("%w: userMessage or modifiedFiles is required", ErrInvalidRequest)
	}
	if r.Count < 0 || r.Count > MaxCount {
		return fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidRequest, MaxCount)
	}
	for i, f := range r.ModifiedFiles {
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("%w: modifiedFiles[%d].path is empty", ErrInvalidRequest, i)
		}
	}
	for i, p := range r.RelatedFiles {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: relatedFiles[%d] is empty", ErrInvalidRequest, i)
		}
	}
	return nil
}
