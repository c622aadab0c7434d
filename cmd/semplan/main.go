// Package main provides the semplan binary entry point.
// Semplan turns a free-text goal into a dependency-ordered plan using LLM
// providers, with a deterministic fallback when none can answer.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/semplan/llm/providers"

	"github.com/c360studio/semplan/output"
	"github.com/c360studio/semplan/planner"
	"github.com/c360studio/semplan/session"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semplan"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(defaultEnv()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func rootCmd(e *env) *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Turn a goal into a dependency-ordered plan",
		Long: `Semplan asks LLM providers to break a goal into actionable tasks.

If the first provider fails, one alternate is tried. If that fails too,
a simple four-step plan is produced locally, so generate always answers.
Conversations and plans are kept in sessions for refine and critique.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(e.stdout)
	cmd.SetErr(e.stderr)

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML or TOML)")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.StringVarP(&flags.provider, "provider", "p", "", "Provider to try first")
	pf.StringVarP(&flags.sessionID, "session", "s", "", "Session ID")

	cmd.AddCommand(
		generateCmd(e, &flags),
		refineCmd(e, &flags),
		critiqueCmd(e, &flags),
		showCmd(e, &flags),
		historyCmd(e, &flags),
		providersCmd(e, &flags),
		callsCmd(e, &flags),
		initCmd(e, &flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

// withApp builds the App for one command invocation.
func withApp(e *env, flags *globalFlags, fn func(app *App) error) error {
	app, err := NewApp(e, *flags)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func generateCmd(e *env, flags *globalFlags) *cobra.Command {
	var (
		asJSON      bool
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "generate <goal>",
		Short: "Generate a plan for a goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(e, flags, func(app *App) error {
				ctx := cmd.Context()
				sess, err := app.loadSession(ctx, flags.sessionID)
				if err != nil {
					return err
				}

				res, genErr := app.coordinator.GeneratePlan(ctx, sess, planner.Request{
					Goal:     strings.Join(args, " "),
					Provider: flags.provider,
				})
				// The session records failures too.
				if err := app.saveSession(ctx, sess); err != nil {
					return err
				}
				if genErr != nil {
					return genErr
				}

				out := cmd.OutOrStdout()
				if err := writeResult(out, sess, res, asJSON); err != nil {
					return err
				}
				if showMetrics {
					return app.writeMetrics(cmd.ErrOrStderr())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print provider metrics to stderr when done")
	return cmd
}

func refineCmd(e *env, flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "refine <feedback>",
		Short: "Revise the session's active plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(e, flags, func(app *App) error {
				ctx := cmd.Context()
				sess, err := app.requireSession(ctx, flags.sessionID)
				if err != nil {
					return err
				}

				res, refineErr := app.coordinator.RefinePlan(ctx, sess, planner.Request{
					Feedback: strings.Join(args, " "),
					Provider: flags.provider,
				})
				if err := app.saveSession(ctx, sess); err != nil {
					return err
				}
				if refineErr != nil {
					return refineErr
				}
				return writeResult(cmd.OutOrStdout(), sess, res, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	return cmd
}

func critiqueCmd(e *env, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "critique",
		Short: "Ask a provider to review the session's active plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(e, flags, func(app *App) error {
				ctx := cmd.Context()
				sess, err := app.requireSession(ctx, flags.sessionID)
				if err != nil {
					return err
				}

				res, critiqueErr := app.coordinator.Critique(ctx, sess, planner.Request{Provider: flags.provider})
				if err := app.saveSession(ctx, sess); err != nil {
					return err
				}
				if critiqueErr != nil {
					return critiqueErr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n(%s)\n", res.Critique, sourceLabel(res))
				return nil
			})
		},
	}
}

func showCmd(e *env, flags *globalFlags) *cobra.Command {
	var (
		planID     string
		asJSON     bool
		asMarkdown bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a plan from a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(e, flags, func(app *App) error {
				sess, err := app.requireSession(cmd.Context(), flags.sessionID)
				if err != nil {
					return err
				}

				plan := sess.ActivePlan()
				if planID != "" {
					plan = sess.Plan(planID)
				}
				if plan == nil {
					return fmt.Errorf("%w: %s", planner.ErrNoActivePlan, sess.ID)
				}
				switch {
				case asJSON:
					return writeJSON(cmd.OutOrStdout(), plan)
				case asMarkdown:
					_, err := fmt.Fprint(cmd.OutOrStdout(), output.NewTransformer().TransformPlan(plan))
					return err
				}
				renderPlan(cmd.OutOrStdout(), plan)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "Plan ID (default: the active plan)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	cmd.Flags().BoolVar(&asMarkdown, "markdown", false, "Print the plan as a markdown document")
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")
	return cmd
}

func historyCmd(e *env, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List sessions, or the messages of --session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(e, flags, func(app *App) error {
				out := cmd.OutOrStdout()
				if flags.sessionID != "" {
					sess, err := app.requireSession(cmd.Context(), flags.sessionID)
					if err != nil {
						return err
					}
					renderHistory(out, sess)
					return nil
				}

				lister, ok := app.store.(session.Lister)
				if !ok {
					return fmt.Errorf("session store cannot list sessions")
				}
				summaries, err := lister.List(cmd.Context())
				if err != nil {
					return err
				}
				renderSessions(out, summaries)
				return nil
			})
		},
	}
}

func providersCmd(e *env, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List usable providers in preference order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(e, flags, func(app *App) error {
				return writeJSON(cmd.OutOrStdout(), app.registry)
			})
		},
	}
}

func callsCmd(e *env, flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Show recent provider calls (sqlite session driver only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(e, flags, func(app *App) error {
				if app.calls == nil {
					return fmt.Errorf("call recording requires session.driver: sqlite")
				}
				records, err := app.calls.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				renderCalls(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of calls to show")
	return cmd
}

func initCmd(e *env, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default user config if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(e, flags, func(app *App) error {
				if err := app.loader.EnsureUserConfig(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "User config ready.")
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
