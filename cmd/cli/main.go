package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"copper/internal/client"
	"copper/internal/gitdiff"
	"copper/internal/jobs"
	"copper/internal/logging"
	"copper/internal/poller"
	"copper/internal/prompt"
	"copper/internal/settings"
	"copper/internal/version"
)

type options struct {
	settingsPath string
	apiURL       string
	logLevel     string
	budget       time.Duration
}

func main() {
	opts := &options{}
	root := &cobra.Command{
		Use:           "copper",
		Short:         "Submit code changes to copper and follow the generated test flows",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.settingsPath, "settings", settings.DefaultPath(), "Settings file")
	root.PersistentFlags().StringVar(&opts.apiURL, "api", "", "API base URL (overrides settings)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level")
	root.PersistentFlags().DurationVar(&opts.budget, "budget", 20*time.Second, "Wall-clock budget for polling")

	root.AddCommand(
		submitCmd(opts),
		statusCmd(opts),
		pollCmd(opts),
		outcomeCmd(opts),
		historyCmd(opts),
		ledgerCmd(opts),
		diffCmd(),
		settingsCmd(opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (o *options) store() *settings.Store { return settings.NewStore(o.settingsPath) }

func (o *options) client() *client.Client {
	base := o.apiURL
	if base == "" {
		st, err := o.store().Load()
		if err != nil {
			fmt.Fprintln(os.Stderr, "warning:", err)
		}
		base = st.URL("/")
	}
	return client.New(base, 0)
}

func (o *options) logger() *zap.Logger {
	l, err := logging.NewLogger(o.logLevel, "console")
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (o *options) poll(ctx context.Context, c *client.Client, id string) poller.Result {
	return poller.New(c, poller.Config{}, o.logger(), nil).PollUntilTerminal(ctx, id, o.budget)
}

func submitCmd(opts *options) *cobra.Command {
	var (
		message string
		related []string
		count   int
		noGit   bool
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the working tree changes for test generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req := jobs.Request{UserMessage: message, RelatedFiles: related, Count: count}
			if !noGit {
				files, err := collect(ctx)
				if err != nil {
					return err
				}
				req.ModifiedFiles = files
			}

			c := opts.client()
			sub, err := c.Submit(ctx, req)
			if err != nil {
				return err
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), sub)
			}
			return printJSON(cmd.OutOrStdout(), opts.poll(ctx, c, sub.JobID))
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "What the change does")
	cmd.Flags().StringSliceVar(&related, "related", nil, "Related files to include as context")
	cmd.Flags().IntVar(&count, "count", 0, "Number of flows (server default when 0)")
	cmd.Flags().BoolVar(&noGit, "no-git", false, "Do not attach changed files from git")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the job is terminal or the budget elapses")
	return cmd
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := opts.client().Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func pollCmd(opts *options) *cobra.Command {
	var writeDir string
	cmd := &cobra.Command{
		Use:   "poll JOB_ID",
		Short: "Wait a bounded time for a job to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := opts.poll(cmd.Context(), opts.client(), args[0])
			if writeDir != "" && res.Job != nil && res.Job.Result != nil {
				if err := writeFlows(writeDir, res.Job.Result.Tests); err != nil {
					return err
				}
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Terminal() {
				return fmt.Errorf("job %s not finished after %s (status %q)", args[0], opts.budget, res.Status())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&writeDir, "out", "", "Write generated flows to this directory")
	return cmd
}

func outcomeCmd(opts *options) *cobra.Command {
	var (
		passed bool
		detail string
	)
	cmd := &cobra.Command{
		Use:   "outcome JOB_ID",
		Short: "Report the downstream result of a generated job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := opts.client().Complete(cmd.Context(), args[0], passed, detail)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().BoolVar(&passed, "passed", false, "Flows passed")
	cmd.Flags().StringVar(&detail, "detail", "", "Free-form detail")
	return cmd
}

func historyCmd(opts *options) *cobra.Command {
	var (
		status  string
		limit   int
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if summary {
				counts, err := opts.client().Summary(cmd.Context())
				if err != nil {
					return err
				}
				statuses := make([]string, 0, len(counts))
				for s := range counts {
					statuses = append(statuses, s)
				}
				sort.Strings(statuses)
				for _, s := range statuses {
					fmt.Fprintf(cmd.OutOrStdout(), "%-9s  %d\n", s, counts[s])
				}
				return nil
			}
			list, err := opts.client().Jobs(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, j := range list {
				line := fmt.Sprintf("%s  %-9s  %s", j.ID, j.Status, j.CreatedAt.Format(time.RFC3339))
				if j.Error != "" {
					line += "  " + prompt.Truncate(j.Error, 80)
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum jobs")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print job counts per status instead")
	return cmd
}

func ledgerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "Ask the server to verify its job ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := opts.client().VerifyLedger(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK {
				return errors.New("ledger verification failed")
			}
			return nil
		},
	}
}

func diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Print the changed files and diffs that submit would send",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collect(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, f := range files {
				fmt.Fprintf(w, "==> %s\n%s\n", f.Path, f.Diff)
			}
			return nil
		},
	}
}

func settingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the settings file",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.store().Load()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	update := func(use, short string, fn func(*settings.Store, []string) (settings.Settings, error), nargs int) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(nargs),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := fn(opts.store(), args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Copper enabled: %t (api %s)\n", st.CopperEnabled, st.APIBaseURL)
				return nil
			},
		}
	}
	cmd.AddCommand(
		show,
		update("enable", "Enable copper", func(s *settings.Store, _ []string) (settings.Settings, error) { return s.SetEnabled(true) }, 0),
		update("disable", "Disable copper", func(s *settings.Store, _ []string) (settings.Settings, error) { return s.SetEnabled(false) }, 0),
		update("toggle", "Flip the enabled flag", func(s *settings.Store, _ []string) (settings.Settings, error) { return s.Toggle() }, 0),
		update("set-url URL", "Set the API base URL", func(s *settings.Store, a []string) (settings.Settings, error) {
			return s.SetAPIBaseURL(strings.TrimSpace(a[0]))
		}, 1),
	)
	return cmd
}

func collect(ctx context.Context) ([]prompt.ChangedFile, error) {
	repo, err := gitdiff.Open(".")
	if err != nil {
		return nil, err
	}
	files, err := repo.Collect(ctx)
	if err != nil {
		return nil, err
	}
	for i := range files {
		files[i].Path = repo.Abs(files[i].Path)
	}
	return files, nil
}

func writeFlows(dir string, flows []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, f := range flows {
		name := filepath.Join(dir, fmt.Sprintf("flow_%d.yaml", i+1))
		if err := os.WriteFile(name, []byte(f), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
