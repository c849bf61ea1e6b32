package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"copper/internal/logging"
	"copper/internal/verify"
	"copper/internal/version"
)

// The agent runs next to a device and executes the flows the server sends
// to POST /run.
func main() {
	var (
		addr    string
		command string
		workDir string
		timeout time.Duration
		level   string
	)

	root := &cobra.Command{
		Use:     "copper-agent",
		Short:   "Run generated flows on this machine for a copper server",
		Version: version.Full(),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(level, "console")
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			exec := &verify.Executor{Command: command, Timeout: timeout, Logger: logger}
			server := &http.Server{
				Addr:              addr,
				Handler:           verify.AgentHandler(exec, workDir, logger),
				ReadHeaderTimeout: 5 * time.Second,
			}
			logger.Info("agent listening", zap.String("addr", addr), zap.String("command", command))
			return server.ListenAndServe()
		},
	}

	root.Flags().StringVar(&addr, "addr", ":9090", "Listen address")
	root.Flags().StringVar(&command, "command", "maestro test {file}", "Command run for each flow")
	root.Flags().StringVar(&workDir, "work-dir", os.TempDir(), "Directory flows are written to")
	root.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Per-flow timeout")
	root.Flags().StringVar(&level, "log-level", "info", "Log level")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
