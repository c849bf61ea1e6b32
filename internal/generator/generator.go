// Package generator runs the bounded propose-and-validate loop that turns an
// assembled prompt into grammar-valid flows.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"copper/internal/grammar"
	"copper/internal/llm"
	"copper/internal/prompt"
)

var (
	// ErrProposalUnavailable marks an attempt where the oracle produced nothing usable.
	ErrProposalUnavailable = errors.New("proposal unavailable")
	// ErrGenerationExhausted is returned when every attempt failed.
	ErrGenerationExhausted = errors.New("generation exhausted")
)

const (
	DefaultAttempts = 2
	MaxAttempts     = 5

	// CorrectiveSuffix is appended to the prompt on every attempt after the first.
	CorrectiveSuffix = "\n\nCORRECTION: Grammar violation! For mapping commands like 'tapOn:', 'takeScreenshot:', etc:\n" +
		"- Simple form: 'tapOn: \"text\"' (one line)\n" +
		"- Map form: 'tapOn:' then NEWLINE, then '  id: \"...\"' (indented 2 spaces)\n" +
		"NEVER mix forms. After a colon in map form, ALWAYS have a newline before the indented properties."
)

// Attempt outcomes reported to the Recorder.
const (
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
	OutcomeNone    = "none"
	OutcomeError   = "error"
)

// Recorder observes attempt outcomes.
type Recorder interface {
	RecordAttempt(provider, outcome string)
}

// Config bounds the loop.
type Config struct {
	Attempts        int
	ProposalTimeout time.Duration
	ToolName        string
}

// Candidate is the result of one attempt.
type Candidate struct {
	Attempt int
	Text    string
	Source  string
	Valid   bool
	Err     error
}

// Outcome is the accepted text plus the history of attempts that led to it.
type Outcome struct {
	Text     string
	Attempts []Candidate
}

// Generator couples a proposal oracle with a grammar oracle.
type Generator struct {
	proposer   llm.Proposer
	oracle     grammar.Oracle
	cfg        Config
	logger     *zap.Logger
	recorder   Recorder
	extractors []llm.Extractor
}

// Option customizes a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRecorder sets the attempt recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Generator) { g.recorder = r }
}

// WithExtractors replaces the extraction order.
func WithExtractors(e ...llm.Extractor) Option {
	return func(g *Generator) {
		if len(e) > 0 {
			g.extractors = e
		}
	}
}

// New constructs a Generator. Attempts is clamped to [1, MaxAttempts].
func New(p llm.Proposer, o grammar.Oracle, cfg Config, opts ...Option) *Generator {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Attempts > MaxAttempts {
		cfg.Attempts = MaxAttempts
	}
	if cfg.ToolName == "" {
		cfg.ToolName = prompt.ToolName
	}
	g := &Generator{
		proposer:   p,
		oracle:     o,
		cfg:        cfg,
		logger:     zap.NewNop(),
		extractors: llm.DefaultExtractors,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Attempts returns the configured attempt budget.
func (g *Generator) Attempts() int { return g.cfg.Attempts }

// AttemptPrompt returns the prompt sent on the given zero-based attempt.
func AttemptPrompt(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return base + CorrectiveSuffix
}

// GenerateOne returns the first candidate that passes the grammar oracle.
func (g *Generator) GenerateOne(ctx context.Context, base string) (Outcome, error) {
	var (
		out     Outcome
		lastErr error
	)
	for attempt := 0; attempt < g.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		c := g.attempt(ctx, base, attempt)
		out.Attempts = append(out.Attempts, c)
		if c.Valid {
			out.Text = c.Text
			return out, nil
		}
		lastErr = c.Err
	}
	return out, fmt.Errorf("%w after %d attempts: %w", ErrGenerationExhausted, g.cfg.Attempts, lastErr)
}

func (g *Generator) attempt(ctx context.Context, base string, attempt int) Candidate {
	c := Candidate{Attempt: attempt}
	log := g.logger.With(zap.String("provider", g.proposer.Name()), zap.Int("attempt", attempt+1))

	callCtx := ctx
	if g.cfg.ProposalTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.ProposalTimeout)
		defer cancel()
	}

	resp, err := g.proposer.Propose(callCtx, llm.Proposal{
		Prompt:   AttemptPrompt(base, attempt),
		Grammar:  g.oracle.Definition(),
		ToolName: g.cfg.ToolName,
	})
	if err != nil {
		c.Err = fmt.Errorf("%w: %w", ErrProposalUnavailable, err)
		g.record(OutcomeError)
		log.Warn("proposal failed", zap.Error(err))
		return c
	}

	text, source, ok := llm.Extract(resp, g.extractors...)
	if !ok {
		c.Err = ErrProposalUnavailable
		g.record(OutcomeNone)
		log.Warn("no candidate in response", zap.Int("output_items", len(resp.Output)))
		return c
	}
	c.Text, c.Source = text, source

	if err := g.oracle.Validate(text); err != nil {
		c.Err = err
		g.record(OutcomeInvalid)
		log.Warn("candidate rejected by grammar",
			zap.String("source", source),
			zap.Error(err),
			zap.String("candidate", prompt.Truncate(text, 400)),
		)
		return c
	}

	c.Valid = true
	g.record(OutcomeValid)
	log.Debug("candidate accepted", zap.String("source", source), zap.Int("chars", len(text)))
	return c
}

func (g *Generator) record(outcome string) {
	if g.recorder != nil {
		g.recorder.RecordAttempt(g.proposer.Name(), outcome)
	}
}

// GenerateMany produces count flows, each with its own attempt budget. It
// stops at the first flow that exhausts its budget and returns nothing.
// progress, when set, is called after each accepted flow.
func (g *Generator) GenerateMany(ctx context.Context, base string, count int, progress func(done, total int)) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}
	flows := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out, err := g.GenerateOne(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("flow %d of %d: %w", i+1, count, err)
		}
		flows = append(flows, out.Text)
		if progress != nil {
			progress(i+1, count)
		}
	}
	return flows, nil
}
