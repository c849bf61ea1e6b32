package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"copper/internal/generator"
	"copper/internal/gitdiff"
	"copper/internal/grammar"
	"copper/internal/jobs"
	"copper/internal/llm/mock"
	"copper/internal/poller"
	"copper/internal/prompt"
	"copper/internal/server"
	"copper/internal/settings"
)

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return res, text.Text
}

// backend runs the real API in front of a canned generator and records every
// generation request it receives.
type backend struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []jobs.Request
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	gen := generator.New(mock.NewCanned(), grammar.NewMaestro(), generator.Config{ToolName: prompt.ToolName})
	mgr := jobs.NewManager(gen, jobs.Config{DefaultCount: 1}, jobs.WithReader(func(string) ([]byte, error) {
		return nil, os.ErrNotExist
	}))
	api := server.New(mgr, server.Config{}).Handler()

	b := &backend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/api/generate-tests" {
			data, _ := io.ReadAll(r.Body)
			var req jobs.Request
			_ = json.Unmarshal(data, &req)
			b.mu.Lock()
			b.requests = append(b.requests, req)
			b.mu.Unlock()
			r.Body = io.NopCloser(bytes.NewReader(data))
		}
		api.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		b.srv.Close()
		mgr.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Wait(ctx)
	})
	return b
}

func (b *backend) last(t *testing.T) jobs.Request {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.requests)
	return b.requests[len(b.requests)-1]
}

func newTools(t *testing.T, baseURL, workDir string) *Tools {
	t.Helper()
	st := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	if baseURL != "" {
		_, err := st.SetAPIBaseURL(baseURL)
		require.NoError(t, err)
	}
	return NewTools(st, Config{
		PollBudget:    3 * time.Second,
		Poller:        poller.Config{SliceMax: time.Second, Interval: 20 * time.Millisecond},
		ClientTimeout: time.Second,
		WorkDir:       workDir,
	}, zap.NewNop())
}

func TestTestModificationSubmitsAndPolls(t *testing.T) {
	b := newBackend(t)
	work := t.TempDir()
	tools := newTools(t, b.srv.URL, work)

	res, text := call(t, tools.HandleTestModification, map[string]any{
		"user_message": "add login flow",
		"modified_files": []any{
			map[string]any{"target_file": `src\login.ts`, "patch": "+login()"},
			map[string]any{"filepath": "src/app.ts"},
			"not an object",
			map[string]any{"diff": "no path"},
		},
		"related_files": []any{"src/auth.ts", 42},
	})
	require.False(t, res.IsError)

	var ack Ack
	require.NoError(t, json.Unmarshal([]byte(text), &ack))
	assert.True(t, ack.OK, ack.Error)
	assert.True(t, ack.Terminal)
	assert.Equal(t, "generated", ack.Status)
	require.NotNil(t, ack.Job)
	require.NotNil(t, ack.Job.Result)
	require.Len(t, ack.Job.Result.Tests, 1)
	assert.NoError(t, grammar.NewMaestro().Validate(ack.Job.Result.Tests[0]))

	root := work
	if r, err := gitdiff.FindRoot(work); err == nil {
		root = r
	}
	req := b.last(t)
	assert.Equal(t, "add login flow", req.UserMessage)
	require.Len(t, req.ModifiedFiles, 2)
	assert.Equal(t, filepath.Join(root, "src", "login.ts"), req.ModifiedFiles[0].Path)
	assert.Equal(t, "+login()", req.ModifiedFiles[0].Diff)
	assert.Equal(t, filepath.Join(root, "src", "app.ts"), req.ModifiedFiles[1].Path)
	assert.Empty(t, req.ModifiedFiles[1].Diff)
	assert.Equal(t, []string{filepath.Join(root, "src", "auth.ts")}, req.RelatedFiles)
}

func TestTestModificationDetectsGitChanges(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	repo := t.TempDir()
	out, err := exec.Command("git", "-C", repo, "init", "-q").CombinedOutput()
	require.NoError(t, err, string(out))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "new.txt"), []byte("hello\n"), 0o644))

	b := newBackend(t)
	tools := newTools(t, b.srv.URL, repo)

	_, text := call(t, tools.HandleTestModification, map[string]any{"user_message": "cover the new file"})
	var ack Ack
	require.NoError(t, json.Unmarshal([]byte(text), &ack))
	assert.True(t, ack.OK, ack.Error)

	req := b.last(t)
	require.Len(t, req.ModifiedFiles, 1)
	assert.Equal(t, filepath.Join(repo, "new.txt"), req.ModifiedFiles[0].Path)
	assert.Equal(t, gitdiff.NewFileDiff("new.txt", "hello\n"), req.ModifiedFiles[0].Diff)
}

func TestTestModificationBackendDown(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	tools := newTools(t, url, t.TempDir())
	res, text := call(t, tools.HandleTestModification, map[string]any{
		"user_message":   "x",
		"modified_files": []any{map[string]any{"path": "a.ts", "diff": ""}},
	})
	require.False(t, res.IsError)

	var ack Ack
	require.NoError(t, json.Unmarshal([]byte(text), &ack))
	assert.False(t, ack.OK)
	assert.NotEmpty(t, ack.Error)
	assert.Equal(t, url+"/api/generate-tests", ack.URL)
}

func TestTestModificationRequiresMessage(t *testing.T) {
	tools := newTools(t, "", t.TempDir())
	res, text := call(t, tools.HandleTestModification, map[string]any{"user_message": 3})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "user_message")
}

func TestTestModificationAcceptsBlankMessage(t *testing.T) {
	dir := t.TempDir()
	if _, err := gitdiff.FindRoot(dir); err == nil {
		t.Skip("temp dir is inside a git work tree")
	}
	b := newBackend(t)
	tools := newTools(t, b.srv.URL, dir)

	_, text := call(t, tools.HandleTestModification, map[string]any{"user_message": "  "})
	var ack Ack
	require.NoError(t, json.Unmarshal([]byte(text), &ack))
	assert.True(t, ack.OK, ack.Error)
	assert.NotEmpty(t, ack.JobID)
	assert.Equal(t, DefaultTask, b.last(t).UserMessage)
}

func TestPollJobUnknown(t *testing.T) {
	b := newBackend(t)
	tools := newTools(t, b.srv.URL, t.TempDir())
	tools.cfg.PollBudget = 100 * time.Millisecond

	_, text := call(t, tools.HandlePollJob, map[string]any{"job_id": "missing"})
	var ack Ack
	require.NoError(t, json.Unmarshal([]byte(text), &ack))
	assert.False(t, ack.OK)
	assert.False(t, ack.Terminal)
	assert.Equal(t, http.StatusNotFound, ack.HTTPStatus)

	res, _ := call(t, tools.HandlePollJob, map[string]any{})
	assert.True(t, res.IsError)
}

func TestToggleAndGetSettings(t *testing.T) {
	tools := newTools(t, "", t.TempDir())

	_, text := call(t, tools.HandleGetSettings, nil)
	assert.JSONEq(t, `{"copperEnabled":false,"apiBaseUrl":"http://localhost:5055"}`, text)

	_, text = call(t, tools.HandleToggle, map[string]any{"enabled": true})
	assert.Equal(t, "Copper enabled: true", text)

	_, text = call(t, tools.HandleGetSettings, nil)
	assert.JSONEq(t, `{"copperEnabled":true,"apiBaseUrl":"http://localhost:5055"}`, text)

	res, _ := call(t, tools.HandleToggle, map[string]any{"enabled": "yes"})
	assert.True(t, res.IsError)
}

func TestNormalize(t *testing.T) {
	files := NormalizeModified([]any{
		map[string]any{"path": `a\b.ts`, "delta": "d"},
		map[string]any{"file": "c.ts", "diff": "x", "patch": "y"},
		map[string]any{"path": 1},
	})
	assert.Equal(t, []prompt.ChangedFile{{Path: "a/b.ts", Diff: "d"}, {Path: "c.ts", Diff: "x"}}, files)
	assert.Empty(t, NormalizeModified("nope"))
	assert.Equal(t, []string{"x"}, NormalizeRelated([]any{"x", "", nil}))
}

func TestNewRegistersServer(t *testing.T) {
	assert.NotNil(t, New("test", newTools(t, "", t.TempDir())))
}
