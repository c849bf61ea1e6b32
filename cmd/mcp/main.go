package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"copper/internal/logging"
	"copper/internal/mcpserver"
	"copper/internal/settings"
	"copper/internal/version"
)

// copper-mcp speaks MCP over stdio; logs go to stderr.
func main() {
	var (
		settingsPath string
		budget       time.Duration
		workDir      string
		level        string
	)

	root := &cobra.Command{
		Use:     "copper-mcp",
		Short:   "MCP server exposing copper tools to coding agents",
		Version: version.Full(),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(level, "json")
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			tools := mcpserver.NewTools(settings.NewStore(settingsPath), mcpserver.Config{
				PollBudget: budget,
				WorkDir:    workDir,
			}, logger)
			return server.ServeStdio(mcpserver.New(version.Version, tools))
		},
	}
	root.Flags().StringVar(&settingsPath, "settings", settings.DefaultPath(), "Settings file")
	root.Flags().DurationVar(&budget, "budget", mcpserver.DefaultPollBudget, "How long one tool call waits for a job")
	root.Flags().StringVar(&workDir, "work-dir", "", "Repository directory (default: current directory)")
	root.Flags().StringVar(&level, "log-level", "info", "Log level")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
