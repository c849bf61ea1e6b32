// Package client talks to the copper HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"copper/internal/jobs"
	"copper/internal/poller"
	"copper/internal/prompt"
)

// rawLimit caps the non-JSON body kept in a poll snapshot.
const rawLimit = 1000

// SubmitResponse is the body of an accepted async submission.
type SubmitResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// LedgerReport is returned by GET /api/ledger/verify.
type LedgerReport struct {
	OK     bool   `json:"ok"`
	Blocks int    `json:"blocks"`
	Head   string `json:"head,omitempty"`
	Error  string `json:"error,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for baseURL. A zero timeout means 20s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// URL joins path onto the base URL.
func (c *Client) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.base + path
}

// Submit posts an async generation request.
func (c *Client) Submit(ctx context.Context, req jobs.Request) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/generate-tests?async=1", req, &out)
	return out, err
}

// PendingError reports a synchronous generation that outlived the server's
// wait. The job keeps running and can be polled by JobID.
type PendingError struct {
	JobID  string
	Status string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("job %s still %s", e.JobID, e.Status)
}

// Generate posts a synchronous request and returns the flows. A job the
// server stopped waiting for is reported as a *PendingError.
func (c *Client) Generate(ctx context.Context, req jobs.Request) ([]string, error) {
	var out struct {
		OK     bool     `json:"ok"`
		JobID  string   `json:"jobId"`
		Status string   `json:"status"`
		Tests  []string `json:"tests"`
	}
	code, err := c.doStatus(ctx, http.MethodPost, "/api/generate-tests", req, &out)
	if err != nil {
		return nil, err
	}
	if code == http.StatusAccepted {
		return nil, &PendingError{JobID: out.JobID, Status: out.Status}
	}
	return out.Tests, nil
}

// Job fetches one job snapshot.
func (c *Client) Job(ctx context.Context, id string) (jobs.Job, error) {
	var out jobs.Job
	err := c.do(ctx, http.MethodGet, "/api/job/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Jobs lists recent jobs, newest first, optionally filtered by status.
func (c *Client) Jobs(ctx context.Context, status string, limit int) ([]jobs.Job, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Jobs, err
}

// Summary returns the number of known jobs per status.
func (c *Client) Summary(ctx context.Context) (map[string]int, error) {
	var out struct {
		Counts map[string]int `json:"counts"`
	}
	err := c.do(ctx, http.MethodGet, "/api/jobs/summary", nil, &out)
	return out.Counts, err
}

// Complete reports the downstream outcome of a generated job.
func (c *Client) Complete(ctx context.Context, id string, passed bool, detail string) (jobs.Job, error) {
	var out jobs.Job
	body := map[string]any{"passed": passed, "detail": detail}
	err := c.do(ctx, http.MethodPost, "/api/job/"+url.PathEscape(id)+"/outcome", body, &out)
	return out, err
}

// VerifyLedger asks the server to verify its job-event ledger.
func (c *Client) VerifyLedger(ctx context.Context) (LedgerReport, error) {
	var out LedgerReport
	err := c.do(ctx, http.MethodGet, "/api/ledger/verify", nil, &out)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusConflict {
		return LedgerReport{OK: false, Error: apiErr.Message}, nil
	}
	return out, err
}

// Query implements poller.Querier. It never returns a Go error: transport
// and decoding failures are carried in the snapshot.
func (c *Client) Query(ctx context.Context, jobID string) poller.Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL("/api/job/"+url.PathEscape(jobID)), nil)
	if err != nil {
		return poller.Result{Err: err.Error()}
	}
	res, err := c.http.Do(req)
	if err != nil {
		return poller.Result{Err: err.Error()}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return poller.Result{HTTPStatus: res.StatusCode, Err: err.Error()}
	}

	out := poller.Result{HTTPStatus: res.StatusCode}
	if res.StatusCode >= 400 {
		out.Err = errorMessage(body, res.Status)
		return out
	}
	var job jobs.Job
	if err := json.Unmarshal(body, &job); err != nil || job.Status == "" {
		out.Raw = prompt.Truncate(string(body), rawLimit)
		out.Err = "response is not a job snapshot"
		return out
	}
	out.OK = true
	out.Job = &job
	return out
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.doStatus(ctx, method, path, in, out)
	return err
}

// doStatus is do that also returns the status code of a successful response.
func (c *Client) doStatus(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, err
	}
	if res.StatusCode >= 300 {
		return res.StatusCode, &APIError{StatusCode: res.StatusCode, Message: errorMessage(data, res.Status)}
	}
	if out == nil || len(data) == 0 {
		return res.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return res.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return res.StatusCode, nil
}

func errorMessage(body []byte, fallback string) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return prompt.Truncate(s, rawLimit)
	}
	return fallback
}
