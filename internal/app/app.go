// Package app wires configuration into a running copper service.
package app

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"copper/internal/config"
	"copper/internal/generator"
	"copper/internal/grammar"
	"copper/internal/history"
	"copper/internal/jobs"
	"copper/internal/ledger"
	"copper/internal/llm"
	"copper/internal/llm/gemini"
	"copper/internal/llm/mock"
	"copper/internal/llm/openai"
	"copper/internal/observability"
	"copper/internal/prompt"
	"copper/internal/security"
	"copper/internal/server"
	"copper/internal/storage"
	"copper/internal/verify"
)

// App owns every long-lived component of the service.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Registry  *llm.Registry
	Generator *generator.Generator
	Manager   *jobs.Manager
	Artifacts *storage.ArtifactStorage
	Ledger    *ledger.Ledger
	PublicKey ed25519.PublicKey
	History   *history.Store
}

// New builds the service. Persistence components are optional: an empty
// ledger_path or history_path disables them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	reg, err := BuildRegistry(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	a.Registry = reg
	proposer, err := reg.Resolve(cfg.Generator.Provider)
	if err != nil {
		return nil, err
	}

	a.Generator = generator.New(proposer, grammar.NewMaestro(), generator.Config{
		Attempts:        cfg.Generator.Attempts,
		ProposalTimeout: cfg.Generator.ProposalTimeout,
		ToolName:        prompt.ToolName,
	}, generator.WithLogger(logger.Named("generator")), generator.WithRecorder(a.Metrics))

	a.Artifacts = storage.NewArtifactStorage(cfg.Jobs.ArtifactDir)
	opts := []jobs.Option{
		jobs.WithLogger(logger.Named("jobs")),
		jobs.WithArtifacts(a.Artifacts),
		jobs.WithMetrics(a.Metrics),
	}

	if cfg.Jobs.LedgerPath != "" {
		pub, priv, created, err := security.EnsureKeyPair(cfg.Jobs.KeyDir)
		if err != nil {
			return nil, fmt.Errorf("server keys: %w", err)
		}
		if created {
			logger.Info("generated server key pair", zap.String("dir", cfg.Jobs.KeyDir))
		}
		led, err := ledger.Open(cfg.Jobs.LedgerPath, "copper", priv)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		// A chain that does not verify is never extended.
		if err := led.Verify(pub); err != nil {
			return nil, fmt.Errorf("ledger %s: %w", cfg.Jobs.LedgerPath, err)
		}
		a.Ledger, a.PublicKey = led, pub
		opts = append(opts, jobs.WithJournal(led))
	}

	if cfg.Jobs.HistoryPath != "" {
		h, err := history.Open(cfg.Jobs.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		n, err := h.FailUnfinished(ctx, "server restarted before the job finished")
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		if n > 0 {
			logger.Warn("marked interrupted jobs as failed", zap.Int64("count", n))
		}
		a.History = h
		opts = append(opts, jobs.WithJournal(h))
	}

	switch {
	case cfg.Jobs.VerifyCommand != "":
		opts = append(opts, jobs.WithVerifier(&verify.Executor{
			Command: cfg.Jobs.VerifyCommand,
			Timeout: cfg.Jobs.VerifyTimeout,
			Logs:    a.Artifacts,
			Logger:  logger.Named("verify"),
		}))
	case cfg.Jobs.VerifyAgentURL != "":
		opts = append(opts, jobs.WithVerifier(&verify.Remote{
			URL:    cfg.Jobs.VerifyAgentURL,
			Client: &http.Client{Timeout: cfg.Jobs.VerifyTimeout},
		}))
	}

	a.Manager = jobs.NewManager(a.Generator, jobs.Config{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		DefaultCount:  cfg.Generator.Count,
		MaxChars:      cfg.Prompt.MaxChars,
	}, opts...)

	logger.Info("copper ready",
		zap.String("provider", proposer.Name()),
		zap.Int("attempts", a.Generator.Attempts()),
		zap.Bool("ledger", a.Ledger != nil),
		zap.Bool("history", a.History != nil),
	)
	return a, nil
}

// Server returns the HTTP API over the manager.
func (a *App) Server() *server.Server {
	opts := []server.Option{server.WithLogger(a.Logger.Named("http"))}
	if a.History != nil {
		opts = append(opts, server.WithHistory(a.History))
	}
	if a.Ledger != nil {
		opts = append(opts, server.WithLedger(a.Ledger, a.PublicKey))
	}
	var metricsHandler http.Handler
	if a.Config.Server.MetricsEnabled {
		metricsHandler = a.Metrics.Handler()
	}
	opts = append(opts, server.WithMetrics(a.Metrics, metricsHandler))

	return server.New(a.Manager, server.Config{
		Addr:        a.Config.Server.Addr,
		SyncTimeout: a.Config.Server.SyncTimeout,
	}, opts...)
}

// Shutdown stops scheduling, waits for running jobs and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	a.Manager.Close()
	err := a.Manager.Wait(ctx)
	if a.History != nil {
		err = errors.Join(err, a.History.Close())
	}
	return err
}

// BuildRegistry registers the offline mock proposer and the configured
// remote provider.
func BuildRegistry(ctx context.Context, cfg *config.Config) (*llm.Registry, error) {
	reg := llm.NewRegistry()
	reg.Register(mock.NewCanned())

	switch strings.ToLower(cfg.Generator.Provider) {
	case "openai":
		key := firstNonEmpty(cfg.Providers.OpenAI.APIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, errors.New("providers.openai.api_key is required (or COPPER_PROVIDERS_OPENAI_API_KEY / OPENAI_API_KEY)")
		}
		reg.Register(openai.NewProvider(openai.Config{
			BaseURL:          cfg.Providers.OpenAI.BaseURL,
			APIKey:           key,
			Model:            cfg.Generator.Model,
			Verbosity:        cfg.Generator.Verbosity,
			MinimalReasoning: cfg.Generator.MinimalReasoning,
			Timeout:          cfg.Providers.OpenAI.Timeout,
		}))
	case "gemini":
		key := firstNonEmpty(cfg.Providers.Gemini.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		model := cfg.Generator.Model
		if strings.HasPrefix(model, "gpt") {
			model = ""
		}
		p, err := gemini.NewProvider(ctx, gemini.Config{APIKey: key, Model: model})
		if err != nil {
			return nil, err
		}
		reg.Register(p)
	}
	return reg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
