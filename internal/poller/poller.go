// Package poller waits for a job to settle within a hard wall-clock budget,
// querying in fixed slices and returning the best-known snapshot.
package poller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"copper/internal/jobs"
)

const (
	DefaultSliceMax     = 8 * time.Second
	DefaultInterval     = time.Second
	DefaultQueryTimeout = 5 * time.Second
)

// Result is the outcome of one status query. It is a snapshot and is never
// persisted.
type Result struct {
	OK         bool      `json:"ok"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
	Job        *jobs.Job `json:"job,omitempty"`
	Raw        string    `json:"raw,omitempty"`
	Err        string    `json:"error,omitempty"`
}

// Status returns the job status carried by the snapshot, if any.
func (r Result) Status() string {
	if r.Job == nil {
		return ""
	}
	return string(r.Job.Status)
}

// Terminal reports whether the snapshot ends polling.
func (r Result) Terminal() bool {
	return r.OK && r.Job != nil && r.Job.Status.Terminal()
}

// Querier performs one status query. Transport failures are reported in the
// Result, never as a panic or a Go error.
type Querier interface {
	Query(ctx context.Context, jobID string) Result
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(ctx context.Context, jobID string) Result

func (f QuerierFunc) Query(ctx context.Context, jobID string) Result { return f(ctx, jobID) }

// Recorder observes each query.
type Recorder interface {
	RecordPoll(result string)
}

// Config sets the slice size, the query cadence and the per-query timeout.
type Config struct {
	SliceMax     time.Duration
	Interval     time.Duration
	QueryTimeout time.Duration
}

// Poller drives a Querier.
type Poller struct {
	q        Querier
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
}

// New creates a Poller; zero Config fields take the defaults.
func New(q Querier, cfg Config, logger *zap.Logger, rec Recorder) *Poller {
	if cfg.SliceMax <= 0 {
		cfg.SliceMax = DefaultSliceMax
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{q: q, cfg: cfg, logger: logger, recorder: rec}
}

// SplitBudget divides total into slices of at most sliceMax: 20s with an
// 8s maximum yields 8s, 8s, 4s.
func SplitBudget(total, sliceMax time.Duration) []time.Duration {
	if total <= 0 || sliceMax <= 0 {
		return nil
	}
	var out []time.Duration
	for total > 0 {
		d := min(total, sliceMax)
		out = append(out, d)
		total -= d
	}
	return out
}

// PollUntilTerminal queries jobID until it reaches a terminal status or total
// elapses, and returns the last snapshot observed.
func (p *Poller) PollUntilTerminal(ctx context.Context, jobID string, total time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, total)
	defer cancel()
	deadline, _ := ctx.Deadline()

	last := Result{Err: "no status query completed"}
	sliceStart := time.Now()
	for i, slice := range SplitBudget(total, p.cfg.SliceMax) {
		sliceEnd := sliceStart.Add(slice)
		if sliceEnd.After(deadline) {
			sliceEnd = deadline
		}

		var done bool
		last, done = p.pollSlice(ctx, jobID, sliceEnd, last)
		p.logger.Debug("poll slice finished",
			zap.String("job_id", jobID),
			zap.Int("slice", i+1),
			zap.String("status", last.Status()),
			zap.String("error", last.Err),
		)
		if done {
			return last
		}
		sliceStart = sliceEnd
	}
	return last
}

// pollSlice queries at the configured interval until sliceEnd. done is true
// when the snapshot is terminal or the overall budget is gone.
func (p *Poller) pollSlice(ctx context.Context, jobID string, sliceEnd time.Time, last Result) (Result, bool) {
	for {
		if ctx.Err() != nil {
			return last, true
		}
		last = p.query(ctx, jobID)
		if last.Terminal() {
			return last, true
		}

		next := time.Now().Add(p.cfg.Interval)
		if !next.Before(sliceEnd) {
			wait := time.Until(sliceEnd)
			if wait > 0 && !sleep(ctx, wait) {
				return last, true
			}
			return last, false
		}
		if !sleep(ctx, p.cfg.Interval) {
			return last, true
		}
	}
}

func (p *Poller) query(ctx context.Context, jobID string) Result {
	qctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	res := p.q.Query(qctx, jobID)
	if p.recorder != nil {
		switch {
		case !res.OK:
			p.recorder.RecordPoll("error")
		case res.Terminal():
			p.recorder.RecordPoll("terminal")
		default:
			p.recorder.RecordPoll("ok")
		}
	}
	return res
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// StatusSource is satisfied by *jobs.Manager.
type StatusSource interface {
	Status(id string) (jobs.Job, error)
}

// Local queries an in-process job store.
func Local(src StatusSource) Querier {
	return QuerierFunc(func(ctx context.Context, jobID string) Result {
		if err := ctx.Err(); err != nil {
			return Result{Err: err.Error()}
		}
		job, err := src.Status(jobID)
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			return Result{HTTPStatus: http.StatusNotFound, Err: err.Error()}
		case err != nil:
			return Result{HTTPStatus: http.StatusInternalServerError, Err: err.Error()}
		}
		return Result{OK: true, HTTPStatus: http.StatusOK, Job: &job}
	})
}
