package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copper/internal/jobs"
)

func TestURLJoining(t *testing.T) {
	c := New("http://localhost:5055/", 0)
	assert.Equal(t, "http://localhost:5055/api/job/x", c.URL("api/job/x"))
	assert.Equal(t, "http://localhost:5055/api/job/x", c.URL("/api/job/x"))
}

func TestSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate-tests", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("async"))

		var req jobs.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "add login flow", req.UserMessage)

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"jobId":"abc","status":"queued"}`))
	}))
	defer srv.Close()

	out, err := New(srv.URL, 0).Submit(context.Background(), jobs.Request{UserMessage: "add login flow"})
	require.NoError(t, err)
	assert.Equal(t, SubmitResponse{JobID: "abc", Status: "queued"}, out)
}

func TestSubmitAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid generation request: userMessage or modifiedFiles is required"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, 0).Submit(context.Background(), jobs.Request{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "userMessage")
}

func TestQuerySnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/job/done":
			_, _ = w.Write([]byte(`{"id":"done","status":"generated","result":{"tests":["t"]}}`))
		case "/api/job/html":
			_, _ = w.Write([]byte("<html>" + strings.Repeat("x", 5000) + "</html>"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"job not found"}`))
		}
	}))
	defer srv.Close()
	c := New(srv.URL, 0)

	res := c.Query(context.Background(), "done")
	require.True(t, res.Terminal())
	assert.Equal(t, []string{"t"}, res.Job.Result.Tests)

	res = c.Query(context.Background(), "html")
	assert.False(t, res.OK)
	assert.Equal(t, 200, res.HTTPStatus)
	assert.LessOrEqual(t, len([]rune(res.Raw)), rawLimit)

	res = c.Query(context.Background(), "missing")
	assert.False(t, res.OK)
	assert.Equal(t, 404, res.HTTPStatus)
	assert.Equal(t, "job not found", res.Err)
}

func TestQueryTransportError(t *testing.T) {
	res := New("http://127.0.0.1:1", 0).Query(context.Background(), "x")
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Err)
	assert.Zero(t, res.HTTPStatus)
}

func TestJobsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs", r.URL.Path)
		assert.Equal(t, "failed", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"jobs":[{"id":"a","status":"failed","error":"boom"}]}`))
	}))
	defer srv.Close()

	list, err := New(srv.URL, 0).Jobs(context.Background(), "failed", 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "boom", list[0].Error)
}

func TestGenerateReportsPendingJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("async"))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"jobId":"slow","status":"running"}`))
	}))
	defer srv.Close()

	tests, err := New(srv.URL, 0).Generate(context.Background(), jobs.Request{UserMessage: "x"})
	assert.Nil(t, tests)
	var pending *PendingError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, "slow", pending.JobID)
	assert.Equal(t, "running", pending.Status)
	assert.Equal(t, "job slow still running", err.Error())
}

func TestGenerateReturnsFlows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"jobId":"j","tests":["appId: \"a\"\n---\n- back\n"]}`))
	}))
	defer srv.Close()

	tests, err := New(srv.URL, 0).Generate(context.Background(), jobs.Request{UserMessage: "x"})
	require.NoError(t, err)
	assert.Len(t, tests, 1)
}
