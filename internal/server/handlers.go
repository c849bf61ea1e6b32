package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"copper/internal/jobs"
)

// maxBody bounds request bodies; diffs are already truncated client side.
const maxBody = 8 << 20

type generateRequest struct {
	jobs.Request
	Async bool `json:"async"`
}

type outcomeRequest struct {
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/generate-tests[?async=1]
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.jobs.Submit(r.Context(), body.Request)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if body.Async || isTrue(r.URL.Query().Get("async")) {
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "status": string(jobs.StatusQueued)})
		return
	}

	// The synchronous form waits for the job with the same bounded poller
	// remote callers use.
	res := s.syncPoller.PollUntilTerminal(r.Context(), id, s.cfg.SyncTimeout)
	switch {
	case res.Job == nil || !res.Job.Status.Terminal():
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "status": res.Status()})
	case res.Job.Status == jobs.StatusFailed:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "jobId": id, "error": res.Job.Error})
	default:
		var tests []string
		if res.Job.Result != nil {
			tests = res.Job.Result.Tests
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobId": id, "tests": tests})
	}
}

// GET /api/job/{jobId}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	job, err := s.jobs.Status(id)
	if errors.Is(err, jobs.ErrNotFound) && s.history != nil {
		job, err = s.history.Get(r.Context(), id)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GET /api/jobs?status=&limit=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	if s.history != nil {
		list, err := s.history.Recent(r.Context(), status, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
		return
	}

	all := s.jobs.List()
	list := make([]jobs.Job, 0, len(all))
	for i := len(all) - 1; i >= 0 && len(list) < limit; i-- {
		if status == "" || string(all[i].Status) == status {
			list = append(list, all[i])
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// GET /api/jobs/summary
func (s *Server) handleJobSummary(w http.ResponseWriter, r *http.Request) {
	counts := make(map[string]int)
	if s.history != nil {
		var err error
		if counts, err = s.history.Counts(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	} else {
		for _, j := range s.jobs.List() {
			counts[string(j.Status)]++
		}
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts, "total": total})
}

// POST /api/job/{jobId}/outcome
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var body outcomeRequest
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := s.jobs.Complete(chi.URLParam(r, "jobId"), body.Passed, body.Detail)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GET /api/ledger/verify
func (s *Server) handleVerifyLedger(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, errors.New("ledger disabled"))
		return
	}
	if err := s.ledger.Verify(s.trusted); err != nil {
		s.logger.Warn("ledger verification failed", zap.Error(err))
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "blocks": s.ledger.Len(), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "blocks": s.ledger.Len(), "head": s.ledger.LastHash()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
