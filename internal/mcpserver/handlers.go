package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"copper/internal/gitdiff"
	"copper/internal/jobs"
	"copper/internal/poller"
	"copper/internal/prompt"
)

// DefaultTask replaces a blank user message when there are no changes to
// describe either. The tool accepts any string, the API does not.
const DefaultTask = "Write a smoke-test flow that launches the app and checks its first screen."

// Ack is the JSON text returned by test_modification and poll_job.
type Ack struct {
	OK         bool      `json:"ok"`
	JobID      string    `json:"jobId,omitempty"`
	Status     string    `json:"status,omitempty"`
	Terminal   bool      `json:"terminal"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
	Job        *jobs.Job `json:"job,omitempty"`
	Raw        string    `json:"raw,omitempty"`
	Error      string    `json:"error,omitempty"`
	URL        string    `json:"url,omitempty"`
}

// HandleTestModification submits a generation job for the described change
// and waits a bounded time for it.
func (t *Tools) HandleTestModification(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	userMessage, ok := args["user_message"].(string)
	if !ok {
		return mcp.NewToolResultError("Invalid input: 'user_message' must be a string."), nil
	}

	wd := t.workDir()
	root, err := gitdiff.FindRoot(wd)
	if err != nil {
		root = ""
	}

	modified := NormalizeModified(args["modified_files"])
	if len(modified) == 0 && root != "" {
		files, err := (&gitdiff.Repo{Root: root}).Collect(ctx)
		if err != nil {
			t.logger.Warn("git change detection failed", zap.String("root", root), zap.Error(err))
		}
		modified = files
	}

	if strings.TrimSpace(userMessage) == "" && len(modified) == 0 {
		userMessage = DefaultTask
	}

	base := root
	if base == "" {
		base = wd
	}
	for i := range modified {
		modified[i].Path = Absolute(base, modified[i].Path)
	}
	related := NormalizeRelated(args["related_files"])
	for i := range related {
		related[i] = Absolute(base, related[i])
	}

	c, url := t.client()
	sub, err := c.Submit(ctx, jobs.Request{UserMessage: userMessage, ModifiedFiles: modified, RelatedFiles: related})
	if err != nil {
		return jsonResult(Ack{OK: false, Error: err.Error(), URL: url})
	}
	t.logger.Info("job submitted", zap.String("job_id", sub.JobID), zap.Int("modified", len(modified)))

	res := poller.New(c, t.cfg.Poller, t.logger, nil).PollUntilTerminal(ctx, sub.JobID, t.cfg.PollBudget)
	return jsonResult(ackFrom(sub.JobID, res))
}

// HandlePollJob waits a bounded time for an existing job.
func (t *Tools) HandlePollJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := req.GetArguments()["job_id"].(string)
	if strings.TrimSpace(id) == "" {
		return mcp.NewToolResultError("Invalid input: 'job_id' is required."), nil
	}
	c, _ := t.client()
	res := poller.New(c, t.cfg.Poller, t.logger, nil).PollUntilTerminal(ctx, id, t.cfg.PollBudget)
	return jsonResult(ackFrom(id, res))
}

// HandleToggle stores the enabled flag.
func (t *Tools) HandleToggle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enabled, ok := req.GetArguments()["enabled"].(bool)
	if !ok {
		return mcp.NewToolResultError("Invalid input: 'enabled' must be a boolean."), nil
	}
	st, err := t.settings.SetEnabled(enabled)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("save settings: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Copper enabled: %t", st.CopperEnabled)), nil
}

// HandleGetSettings returns the settings as JSON.
func (t *Tools) HandleGetSettings(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.settings.Load()
	if err != nil {
		t.logger.Warn("settings unreadable, using defaults", zap.Error(err))
	}
	return jsonResult(st)
}

func ackFrom(id string, res poller.Result) Ack {
	return Ack{
		OK:         res.OK,
		JobID:      id,
		Status:     res.Status(),
		Terminal:   res.Terminal(),
		HTTPStatus: res.HTTPStatus,
		Job:        res.Job,
		Raw:        res.Raw,
		Error:      res.Err,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

var (
	pathKeys = []string{"path", "target_file", "file", "filepath"}
	diffKeys = []string{"diff", "patch", "delta"}
)

// NormalizeModified accepts modified file entries under any of the key names
// agents use. Entries without a string path are dropped; a missing diff is
// kept as empty.
func NormalizeModified(raw any) []prompt.ChangedFile {
	list, _ := raw.([]any)
	out := make([]prompt.ChangedFile, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		path := firstString(entry, pathKeys)
		if path == "" {
			continue
		}
		out = append(out, prompt.ChangedFile{
			Path: strings.ReplaceAll(path, "\\", "/"),
			Diff: firstString(entry, diffKeys),
		})
	}
	return out
}

// NormalizeRelated keeps the string entries of raw.
func NormalizeRelated(raw any) []string {
	list, _ := raw.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Absolute resolves p against base.
func Absolute(base, p string) string {
	p = filepath.FromSlash(strings.ReplaceAll(p, "\\", "/"))
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p)
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
