package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"copper/internal/client"
	"copper/internal/config"
	"copper/internal/jobs"
	"copper/internal/ledger"
	"copper/internal/poller"
	"copper/internal/security"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Generator.Provider = "mock"
	cfg.Generator.Count = 2
	cfg.Jobs.ArtifactDir = filepath.Join(dir, "artifacts")
	cfg.Jobs.LedgerPath = filepath.Join(dir, "ledger.jsonl")
	cfg.Jobs.KeyDir = filepath.Join(dir, "keys")
	cfg.Jobs.HistoryPath = filepath.Join(dir, "history.db")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestServiceEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	srv := httptest.NewServer(a.Server().Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Shutdown(ctx))
	})

	c := client.New(srv.URL, time.Second)
	ctx := context.Background()
	sub, err := c.Submit(ctx, jobs.Request{UserMessage: "add login flow"})
	require.NoError(t, err)

	res := poller.New(c, poller.Config{Interval: 20 * time.Millisecond}, nil, nil).PollUntilTerminal(ctx, sub.JobID, 5*time.Second)
	require.Equal(t, "generated", res.Status(), res.Err)
	require.Len(t, res.Job.Result.Paths, 2)
	for _, p := range res.Job.Result.Paths {
		assert.FileExists(t, p)
		assert.Equal(t, a.Artifacts.JobDir(sub.JobID), filepath.Dir(p))
	}

	report, err := c.VerifyLedger(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Len(t, a.Ledger.ForJob(sub.JobID), report.Blocks)

	archived, err := a.History.Get(ctx, sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusGenerated, archived.Status)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestTamperedLedgerStopsStartup(t *testing.T) {
	cfg := testConfig(t)
	_, priv, _, err := security.EnsureKeyPair(cfg.Jobs.KeyDir)
	require.NoError(t, err)
	led, err := ledger.Open(cfg.Jobs.LedgerPath, "copper", priv)
	require.NoError(t, err)
	require.NoError(t, led.Record(jobs.Job{ID: "j", Status: jobs.StatusQueued}))
	require.NoError(t, led.Record(jobs.Job{ID: "j", Status: jobs.StatusFailed, Error: "boom"}))

	blocks := led.Blocks()
	blocks[1].Status = string(jobs.StatusPassed)
	require.NoError(t, ledger.Rewrite(cfg.Jobs.LedgerPath, blocks))

	_, err = New(context.Background(), cfg, zap.NewNop())
	require.ErrorIs(t, err, ledger.ErrTampered)
}

func TestIntactLedgerReopens(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = a.Manager.Submit(context.Background(), jobs.Request{UserMessage: "scroll", Count: 1})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	again, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Positive(t, again.Ledger.Len())
	require.NoError(t, again.Shutdown(ctx))
}

func TestOpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.Default()
	_, err := BuildRegistry(context.Background(), cfg)
	require.Error(t, err)

	cfg.Providers.OpenAI.APIKey = "sk-test"
	reg, err := BuildRegistry(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"mock", "openai"}, reg.Names())
}

func TestGeminiRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	cfg := config.Default()
	cfg.Generator.Provider = "gemini"
	_, err := BuildRegistry(context.Background(), cfg)
	require.Error(t, err)
}

func TestMockOnlyRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.Generator.Provider = "mock"
	reg, err := BuildRegistry(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"mock"}, reg.Names())
}
