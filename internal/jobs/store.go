package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type record struct {
	mu  sync.Mutex
	job Job
}

// Store is the in-memory job table. The map is guarded by an RWMutex and each
// record by its own mutex, so readers never wait on a job other than theirs.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*record
	now     func() time.Time
	observe func(Job)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*record), now: time.Now}
}

// Observe registers fn to receive every created job and every status change.
// fn runs while the job is locked, so a job's events arrive in the order its
// status changed. It must not call back into the store.
func (s *Store) Observe(fn func(Job)) {
	s.mu.Lock()
	s.observe = fn
	s.mu.Unlock()
}

func (s *Store) observer() func(Job) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observe
}

// Create allocates a queued job with a random id.
func (s *Store) Create() Job {
	now := s.now()
	rec := &record{job: Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Progress:  "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}}

	if fn := s.observer(); fn != nil {
		fn(rec.job.clone())
	}
	s.mu.Lock()
	s.jobs[rec.job.ID] = rec
	s.mu.Unlock()
	return rec.job.clone()
}

func (s *Store) lookup(id string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// Get returns a snapshot of the job.
func (s *Store) Get(id string) (Job, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.clone(), nil
}

// Transition moves the job to status to, applying mutate under the job lock.
// A result survives only in generated and passed jobs, an error only in
// failed ones.
func (s *Store) Transition(id string, to Status, mutate func(*Job)) (Job, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !CanTransition(rec.job.Status, to) {
		return rec.job.clone(), fmt.Errorf("%w: %s → %s", ErrInvalidTransition, rec.job.Status, to)
	}
	rec.job.Status = to
	if mutate != nil {
		mutate(&rec.job)
	}
	if to != StatusFailed {
		rec.job.Error = ""
	}
	if to != StatusGenerated && to != StatusPassed {
		rec.job.Result = nil
	}
	rec.job.UpdatedAt = s.now()

	snapshot := rec.job.clone()
	if fn := s.observer(); fn != nil {
		fn(snapshot.clone())
	}
	return snapshot, nil
}

// SetProgress updates the progress note of a job that is not yet settled.
func (s *Store) SetProgress(id, progress string) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status.Final() {
		return fmt.Errorf("%w: job is %s", ErrInvalidTransition, rec.job.Status)
	}
	rec.job.Progress = progress
	rec.job.UpdatedAt = s.now()
	return nil
}

// List returns snapshots of every job, oldest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.jobs))
	for _, r := range s.jobs {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	out := make([]Job, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		out = append(out, r.job.clone())
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
