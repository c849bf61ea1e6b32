package verify

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copper/internal/storage"
)

func writeFlow(t *testing.T, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "job-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, "flow_1.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestCommandFor(t *testing.T) {
	e := &Executor{Command: "maestro test {file} --format junit"}
	assert.Equal(t, "maestro test '/tmp/a b.yaml' --format junit", e.CommandFor("/tmp/a b.yaml"))

	e = &Executor{Command: "cat"}
	assert.Equal(t, `cat '/tmp/it'\''s.yaml'`, e.CommandFor("/tmp/it's.yaml"))
}

func TestExecutorRunsCommandAndSavesLog(t *testing.T) {
	path := writeFlow(t, "appId: \"x\"\n")
	logs := storage.NewArtifactStorage(t.TempDir())
	e := &Executor{Command: "cat {file}", Logs: logs}

	out, err := e.Verify(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "appId: \"x\"\n", out)

	entries, err := os.ReadDir(logs.JobDir("job-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestExecutorFailureAndTimeout(t *testing.T) {
	path := writeFlow(t, "")

	_, err := (&Executor{Command: "exit 3 #"}).Verify(context.Background(), path)
	assert.Error(t, err)

	_, err = (&Executor{Command: "sleep 5 #", Timeout: 50 * time.Millisecond}).Verify(context.Background(), path)
	assert.ErrorContains(t, err, "timed out")
}

func TestRemoteAgentRoundTrip(t *testing.T) {
	agent := httptest.NewServer(AgentHandler(&Executor{Command: "grep -q back {file}"}, t.TempDir(), nil))
	defer agent.Close()

	r := &Remote{URL: agent.URL}
	_, err := r.Verify(context.Background(), writeFlow(t, "- back\n"))
	assert.NoError(t, err)

	_, err = r.Verify(context.Background(), writeFlow(t, "- launchApp\n"))
	assert.ErrorContains(t, err, "failed on agent")
}

func TestRemoteAgentUnreachable(t *testing.T) {
	r := &Remote{URL: "http://127.0.0.1:1"}
	_, err := r.Verify(context.Background(), writeFlow(t, "x"))
	assert.ErrorContains(t, err, "unreachable")
}
