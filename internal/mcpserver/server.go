// Package mcpserver exposes copper to coding agents as MCP tools.
package mcpserver

import (
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"copper/internal/client"
	"copper/internal/poller"
	"copper/internal/settings"
)

// DefaultPollBudget is how long one tool call waits for a job. Agents cap a
// tool call at well under a minute.
const DefaultPollBudget = 20 * time.Second

// Config tunes the tool handlers.
type Config struct {
	PollBudget    time.Duration
	Poller        poller.Config
	ClientTimeout time.Duration
	// WorkDir is where the git repository is searched for. Empty means the
	// process working directory.
	WorkDir string
}

// Tools holds the handlers behind the MCP tools.
type Tools struct {
	settings *settings.Store
	cfg      Config
	logger   *zap.Logger
}

// NewTools builds the tool handlers around a settings store.
func NewTools(st *settings.Store, cfg Config, logger *zap.Logger) *Tools {
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = DefaultPollBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tools{settings: st, cfg: cfg, logger: logger}
}

// New returns an MCP server with every copper tool registered.
func New(version string, t *Tools) *server.MCPServer {
	s := server.NewMCPServer(
		"copper",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.AddTool(testModificationTool(), t.HandleTestModification)
	s.AddTool(pollJobTool(), t.HandlePollJob)
	s.AddTool(toggleTool(), t.HandleToggle)
	s.AddTool(getSettingsTool(), t.HandleGetSettings)
	return s
}

const instructions = `copper generates Maestro UI test flows for the change you just made.
Call test_modification ALWAYS after finishing a change, passing the user's
original request, the modified files with their diffs and any related files.
If the returned job is not finished yet, call poll_job with its jobId.`

func testModificationTool() mcp.Tool {
	return mcp.NewTool("test_modification",
		mcp.WithDescription("Accepts context for test generation after an agent completes a change: the original user message,"+
			" a list of modified files with their diffs, and a list of related files. Should be called ALWAYS after the agent finishes its work."),
		mcp.WithString("user_message",
			mcp.Required(),
			mcp.Description("The original user request that initiated the change."),
		),
		mcp.WithArray("modified_files",
			mcp.Description("Modified files, each {path, diff}. Detected from git when empty."),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
					"diff": map[string]any{"type": "string"},
				},
			}),
		),
		mcp.WithArray("related_files",
			mcp.Description("Paths of files influenced by the change or useful for writing tests."),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
}

func pollJobTool() mcp.Tool {
	return mcp.NewTool("poll_job",
		mcp.WithDescription("Wait a bounded time for a test generation job and return its latest status."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("The jobId returned by test_modification.")),
	)
}

func toggleTool() mcp.Tool {
	return mcp.NewTool("toggle_copper",
		mcp.WithDescription("Enable or disable Copper integration. When enabled, Copper-related actions should run"+
			" automatically after the agent finishes."),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("Whether Copper is enabled.")),
	)
}

func getSettingsTool() mcp.Tool {
	return mcp.NewTool("get_settings",
		mcp.WithDescription("Return server settings including 'copperEnabled'."),
	)
}

// client returns an API client for the configured base URL, and the URL of
// the generation endpoint for error reports.
func (t *Tools) client() (*client.Client, string) {
	st, err := t.settings.Load()
	if err != nil {
		t.logger.Warn("settings unreadable, using defaults", zap.Error(err))
	}
	return client.New(st.URL("/"), t.cfg.ClientTimeout), st.URL("/api/generate-tests")
}

func (t *Tools) workDir() string {
	if t.cfg.WorkDir != "" {
		return t.cfg.WorkDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
