package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"copper/internal/prompt"
)

// Generator produces count grammar-valid flows for a prompt.
type Generator interface {
	GenerateMany(ctx context.Context, prompt string, count int, progress func(done, total int)) ([]string, error)
}

// ArtifactStore persists the flows of a job and returns their locations.
type ArtifactStore interface {
	SaveFlows(jobID string, flows []string) ([]string, error)
}

// Journal observes every status change. Record is called with the job locked,
// once per change and in order.
type Journal interface {
	Record(job Job) error
}

// Verifier runs a generated flow downstream and reports its output.
type Verifier interface {
	Verify(ctx context.Context, path string) (string, error)
}

// Metrics observes job execution.
type Metrics interface {
	JobStarted()
	JobStopped()
	RecordJob(status string, d time.Duration)
}

// Config tunes the manager.
type Config struct {
	MaxConcurrent int64
	DefaultCount  int
	MaxChars      int
}

// Manager schedules one worker per job. Workers are bounded by a weighted
// semaphore; Submit never waits for a slot.
type Manager struct {
	store     *Store
	gen       Generator
	assembler *prompt.Assembler
	read      func(string) ([]byte, error)
	artifacts ArtifactStore
	journals  []Journal
	verifier  Verifier
	metrics   Metrics
	logger    *zap.Logger
	count     int

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes a Manager.
type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithArtifacts(a ArtifactStore) Option { return func(m *Manager) { m.artifacts = a } }

func WithJournal(j ...Journal) Option {
	return func(m *Manager) { m.journals = append(m.journals, j...) }
}

func WithVerifier(v Verifier) Option { return func(m *Manager) { m.verifier = v } }

func WithMetrics(mt Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithReader sets how related file bodies are read. Defaults to os.ReadFile.
func WithReader(read func(string) ([]byte, error)) Option {
	return func(m *Manager) { m.read = read }
}

// WithStore shares an existing store.
func WithStore(s *Store) Option { return func(m *Manager) { m.store = s } }

// NewManager constructs a Manager around gen.
func NewManager(gen Generator, cfg Config, opts ...Option) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.DefaultCount <= 0 {
		cfg.DefaultCount = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:     NewStore(),
		gen:       gen,
		assembler: &prompt.Assembler{MaxChars: cfg.MaxChars},
		read:      os.ReadFile,
		logger:    zap.NewNop(),
		count:     cfg.DefaultCount,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.store.Observe(m.journal)
	return m
}

// Submit validates req, records a queued job and starts its worker.
func (m *Manager) Submit(_ context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if m.ctx.Err() != nil {
		return "", ErrClosed
	}
	if req.Count == 0 {
		req.Count = m.count
	}

	job := m.store.Create()
	m.logger.Info("job queued", zap.String("job_id", job.ID), zap.Int("count", req.Count))

	m.wg.Add(1)
	go m.execute(job.ID, req)
	return job.ID, nil
}

// Status returns a snapshot of the job.
func (m *Manager) Status(id string) (Job, error) {
	return m.store.Get(id)
}

// List returns every known job.
func (m *Manager) List() []Job {
	return m.store.List()
}

// Complete records the downstream outcome of a generated job.
func (m *Manager) Complete(id string, passed bool, detail string) (Job, error) {
	to := StatusFailed
	if passed {
		to = StatusPassed
	}
	job, err := m.store.Transition(id, to, func(j *Job) {
		j.Progress = "verified"
		if passed {
			if j.Result != nil {
				j.Result.Verification = detail
			}
			return
		}
		j.Result = nil
		j.Error = "verification failed"
		if detail != "" {
			j.Error += ": " + detail
		}
	})
	if err != nil {
		return job, err
	}
	m.settled(job)
	return job, nil
}

// Close stops scheduling. Jobs still waiting for a worker slot fail; running
// jobs continue until Wait returns.
func (m *Manager) Close() {
	m.cancel()
}

// Wait blocks until every worker has returned or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) execute(id string, req Request) {
	defer m.wg.Done()
	log := m.logger.With(zap.String("job_id", id))

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		m.fail(id, fmt.Errorf("could not be scheduled: %w", ErrClosed), log)
		return
	}
	defer m.sem.Release(1)

	_, err := m.store.Transition(id, StatusRunning, func(j *Job) { j.Progress = "assembling context" })
	if err != nil {
		log.Error("cannot start job", zap.Error(err))
		return
	}
	if m.metrics != nil {
		m.metrics.JobStarted()
		defer m.metrics.JobStopped()
	}
	log.Info("job running")

	result, err := m.run(id, req)
	if err != nil {
		m.fail(id, err, log)
		return
	}

	job, err := m.store.Transition(id, StatusGenerated, func(j *Job) {
		j.Result = result
		j.Progress = fmt.Sprintf("%d of %d candidates generated", len(result.Tests), req.Count)
	})
	if err != nil {
		log.Error("cannot record result", zap.Error(err))
		return
	}
	m.settled(job)
	log.Info("job generated", zap.Int("flows", len(result.Tests)))

	if m.verifier != nil && len(result.Paths) > 0 {
		m.verify(id, result.Paths, log)
	}
}

// run performs assembly, generation and persistence. Panics become errors.
func (m *Manager) run(id string, req Request) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	related := prompt.LoadRelated(req.RelatedFiles, m.read, m.logger)
	text := m.assembler.Assemble(req.UserMessage, req.ModifiedFiles, related)

	m.progress(id, fmt.Sprintf("generating 0 of %d candidates", req.Count))
	flows, err := m.gen.GenerateMany(context.Background(), text, req.Count, func(done, total int) {
		m.progress(id, fmt.Sprintf("%d of %d candidates generated", done, total))
	})
	if err != nil {
		return nil, err
	}

	res = &Result{Tests: flows}
	if m.artifacts != nil {
		m.progress(id, "saving artifacts")
		paths, err := m.artifacts.SaveFlows(id, flows)
		if err != nil {
			return nil, fmt.Errorf("save artifacts: %w", err)
		}
		res.Paths = paths
	}
	return res, nil
}

func (m *Manager) verify(id string, paths []string, log *zap.Logger) {
	m.progress(id, "verifying")
	var (
		outputs []string
		failed  error
	)
	for _, p := range paths {
		out, err := m.verifier.Verify(context.Background(), p)
		outputs = append(outputs, strings.TrimSpace(out))
		if err != nil {
			failed = fmt.Errorf("%s: %w", p, err)
			break
		}
	}

	detail := strings.Join(outputs, "\n")
	if failed != nil {
		detail = failed.Error()
	}
	if _, err := m.Complete(id, failed == nil, detail); err != nil && !errors.Is(err, ErrInvalidTransition) {
		log.Error("cannot record verification", zap.Error(err))
	}
}

func (m *Manager) fail(id string, cause error, log *zap.Logger) {
	job, err := m.store.Transition(id, StatusFailed, func(j *Job) {
		j.Error = cause.Error()
		j.Progress = "failed"
	})
	if err != nil {
		log.Error("cannot record failure", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	m.settled(job)
	log.Warn("job failed", zap.Error(cause))
}

func (m *Manager) progress(id, note string) {
	if err := m.store.SetProgress(id, note); err != nil {
		m.logger.Debug("progress dropped", zap.String("job_id", id), zap.Error(err))
	}
}

func (m *Manager) settled(job Job) {
	if m.metrics != nil {
		m.metrics.RecordJob(string(job.Status), job.UpdatedAt.Sub(job.CreatedAt))
	}
}

func (m *Manager) journal(job Job) {
	for _, j := range m.journals {
		if err := j.Record(job); err != nil {
			m.logger.Warn("journal record failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}
