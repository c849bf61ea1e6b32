// Package server exposes the job manager over HTTP.
package server

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"copper/internal/jobs"
	"copper/internal/poller"
)

// Jobs is the lifecycle surface served by the API. *jobs.Manager satisfies it.
type Jobs interface {
	Submit(ctx context.Context, req jobs.Request) (string, error)
	Status(id string) (jobs.Job, error)
	Complete(id string, passed bool, detail string) (jobs.Job, error)
	List() []jobs.Job
}

// History serves jobs that are no longer held in memory.
type History interface {
	Get(ctx context.Context, id string) (jobs.Job, error)
	Recent(ctx context.Context, status string, limit int) ([]jobs.Job, error)
	Counts(ctx context.Context) (map[string]int, error)
}

// Ledger is the job-event ledger checked by /api/ledger/verify.
type Ledger interface {
	Verify(trusted ed25519.PublicKey) error
	Len() int
	LastHash() string
}

// Metrics observes served requests.
type Metrics interface {
	RecordHTTP(route, code string)
	poller.Recorder
}

// Config tunes the HTTP surface.
type Config struct {
	Addr        string
	SyncTimeout time.Duration
	Poller      poller.Config
}

// Server routes HTTP requests to the job manager.
type Server struct {
	cfg        Config
	jobs       Jobs
	history    History
	ledger     Ledger
	trusted    ed25519.PublicKey
	metrics    Metrics
	metricsH   http.Handler
	logger     *zap.Logger
	syncPoller *poller.Poller
}

// Option customizes a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

// WithLedger enables ledger verification. When trusted is set every block must
// be signed by it.
func WithLedger(l Ledger, trusted ed25519.PublicKey) Option {
	return func(s *Server) {
		s.ledger = l
		s.trusted = trusted
	}
}

// WithMetrics records request metrics and serves h at /metrics when h is non-nil.
func WithMetrics(m Metrics, h http.Handler) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsH = h
	}
}

// New builds a Server. A zero SyncTimeout means five minutes.
func New(j Jobs, cfg Config, opts ...Option) *Server {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 5 * time.Minute
	}
	s := &Server{cfg: cfg, jobs: j, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	var rec poller.Recorder
	if s.metrics != nil {
		rec = s.metrics
	}
	s.syncPoller = poller.New(poller.Local(j), cfg.Poller, s.logger.Named("sync"), rec)
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metricsH != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsH)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate-tests", s.handleGenerate)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/summary", s.handleJobSummary)
		r.Get("/job/{jobId}", s.handleGetJob)
		r.Post("/job/{jobId}/outcome", s.handleOutcome)
		r.Get("/ledger/verify", s.handleVerifyLedger)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting copper api", zap.String("addr", s.cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down copper api")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
