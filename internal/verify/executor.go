// Package verify runs generated flows downstream, either through a local
// shell command or on a remote verification agent.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Placeholder in Command is replaced by the quoted flow path.
const Placeholder = "{file}"

// LogSink stores command output for a job.
type LogSink interface {
	SaveLog(jobID, name, output string) (string, error)
}

// Executor runs Command in a shell for each flow, e.g. "maestro test {file}".
type Executor struct {
	Command string
	Timeout time.Duration
	Logs    LogSink
	Logger  *zap.Logger
}

// CommandFor renders the shell command for a flow path.
func (e *Executor) CommandFor(path string) string {
	quoted := shellQuote(path)
	if strings.Contains(e.Command, Placeholder) {
		return strings.ReplaceAll(e.Command, Placeholder, quoted)
	}
	return e.Command + " " + quoted
}

// Verify executes the command and returns its combined output.
func (e *Executor) Verify(ctx context.Context, path string) (string, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	line := e.CommandFor(path)
	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("timed out after %s", timeout)
	}

	if e.Logs != nil {
		jobID := filepath.Base(filepath.Dir(path))
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if logPath, logErr := e.Logs.SaveLog(jobID, "verify_"+name, out.String()); logErr == nil && e.Logger != nil {
			e.Logger.Debug("verification log saved", zap.String("path", logPath))
		}
	}
	if e.Logger != nil {
		e.Logger.Info("verification finished",
			zap.String("command", line),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
	}
	return out.String(), err
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
