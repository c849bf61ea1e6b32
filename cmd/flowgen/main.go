package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"copper/internal/app"
	"copper/internal/config"
	"copper/internal/flow"
	"copper/internal/generator"
	"copper/internal/gitdiff"
	"copper/internal/grammar"
	"copper/internal/logging"
	"copper/internal/prompt"
	"copper/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:          "flowgen",
		Short:        "Generate and check Maestro flows locally, without the server",
		Version:      version.Full(),
		SilenceUsage: true,
	}
	root.AddCommand(generateCmd(), examplesCmd(), validateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func generateCmd() *cobra.Command {
	var (
		cfgPath string
		message string
		related []string
		count   int
		useMock bool
		useGit  bool
		outDir  string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the constrained generator once and print the flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if useMock {
				cfg.Generator.Provider = "mock"
			}
			if count <= 0 {
				count = cfg.Generator.Count
			}
			logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			ctx := cmd.Context()
			reg, err := app.BuildRegistry(ctx, cfg)
			if err != nil {
				return err
			}
			proposer, err := reg.Resolve(cfg.Generator.Provider)
			if err != nil {
				return err
			}

			var changed []prompt.ChangedFile
			if useGit {
				if changed, err = collect(ctx); err != nil {
					return err
				}
			}
			text := (&prompt.Assembler{MaxChars: cfg.Prompt.MaxChars}).Assemble(
				message, changed, prompt.LoadRelated(related, os.ReadFile, logger))

			gen := generator.New(proposer, grammar.NewMaestro(), generator.Config{
				Attempts:        cfg.Generator.Attempts,
				ProposalTimeout: cfg.Generator.ProposalTimeout,
				ToolName:        prompt.ToolName,
			}, generator.WithLogger(logger))

			flows, err := gen.GenerateMany(ctx, text, count, func(done, total int) {
				logger.Info("progress", zap.Int("done", done), zap.Int("total", total))
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for i, f := range flows {
				if outDir != "" {
					if err := write(outDir, fmt.Sprintf("flow_%d.yaml", i+1), f); err != nil {
						return err
					}
				}
				fmt.Fprintf(w, "# flow %d of %d\n%s\n", i+1, len(flows), f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "Path to config file")
	cmd.Flags().StringVarP(&message, "message", "m", "", "What the change does")
	cmd.Flags().StringSliceVar(&related, "related", nil, "Related files to include as context")
	cmd.Flags().IntVar(&count, "count", 0, "Number of flows (config default when 0)")
	cmd.Flags().BoolVar(&useMock, "mock", false, "Use the offline template proposer")
	cmd.Flags().BoolVar(&useGit, "git", false, "Attach changed files from the enclosing git repository")
	cmd.Flags().StringVar(&outDir, "out", "", "Also write flows to this directory")
	return cmd
}

func examplesCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "examples",
		Short: "Validate the reference flows and optionally write them out",
		RunE: func(cmd *cobra.Command, args []string) error {
			oracle := grammar.NewMaestro()
			examples := flow.Examples()
			w := cmd.OutOrStdout()
			var failed error
			for _, name := range flow.ExampleNames() {
				text := examples[name]
				if err := oracle.Validate(text); err != nil {
					fmt.Fprintf(w, "INVALID %s: %v\n", name, err)
					failed = errors.Join(failed, fmt.Errorf("%s: %w", name, err))
					continue
				}
				if outDir != "" {
					if err := write(outDir, name, text); err != nil {
						return err
					}
				}
				fmt.Fprintf(w, "ok      %s\n", name)
			}
			return failed
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "Directory to write valid examples to")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check flow files against the grammar",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oracle := grammar.NewMaestro()
			w := cmd.OutOrStdout()
			var failed error
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				if err := oracle.Validate(string(data)); err != nil {
					fmt.Fprintf(w, "INVALID %s: %v\n", path, err)
					failed = errors.Join(failed, fmt.Errorf("%s: %w", path, err))
					continue
				}
				f, err := flow.Parse(data)
				if err != nil {
					fmt.Fprintf(w, "ok      %s\n", path)
					continue
				}
				fmt.Fprintf(w, "ok      %s  %s\n", path, f.Summary())
			}
			return failed
		},
	}
}

func collect(ctx context.Context) ([]prompt.ChangedFile, error) {
	repo, err := gitdiff.Open(".")
	if err != nil {
		return nil, err
	}
	return repo.Collect(ctx)
}

func write(dir, name, text string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644)
}
