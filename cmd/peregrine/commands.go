package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/peregrine/internal/logging"
	"github.com/example/peregrine/internal/migration"
	"github.com/example/peregrine/internal/migrator"
)

const timeLayout = "2006-01-02 15:04:05"

// cli holds the state of one command invocation.
type cli struct {
	envFile string
	app     *app
}

// close releases the app built for the invocation, if any. It runs whether
// or not the subcommand succeeded.
func (c *cli) close(ctx context.Context) error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close(ctx)
	c.app = nil
	return err
}

func (c *cli) migrator() *migrator.Migrator { return c.app.migrator }

func newRootCommand(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "peregrine",
		Short:        "Versioned SQL migrations for SQLite",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd.ErrOrStderr(), c.envFile)
			if err != nil {
				return err
			}
			c.app = a
			cmd.SetContext(logging.ContextWithLogger(cmd.Context(), a.logger))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.envFile, "env-file", "", "Load environment variables from this file (default: optional .env)")

	rootCmd.AddCommand(
		migrateCmd(c.migrator),
		rollbackCmd(c.migrator),
		planCmd(c.migrator),
		statusCmd(c.migrator),
	)
	return rootCmd
}

// run executes one command line and always releases the app it built.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	rootCmd := newRootCommand(c)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, c.close(context.WithoutCancel(ctx)))
}

// migrateCmd applies pending scripts.
func migrateCmd(resolve func() *migrator.Migrator) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := resolve().Migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if report.Applied == 0 && report.Replaced == 0 {
				fmt.Fprintln(out, "No pending migrations.")
			} else {
				fmt.Fprintf(out, "Applied %d migration(s), replaced %d prerelease migration(s).\n", report.Applied, report.Replaced)
			}
			fmt.Fprintf(out, "Current version: %s\n", versionOrNone(report.Current))
			return nil
		},
	}
}

// rollbackCmd reverts applied migrations.
func rollbackCmd(resolve func() *migrator.Migrator) *cobra.Command {
	var (
		count  int
		target string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var strategy migrator.StrategyFunc
			switch {
			case all:
				strategy = migrator.RollbackAll()
			case target != "":
				version, err := migration.ParseVersion(target)
				if err != nil {
					return err
				}
				strategy = migrator.RollbackTo(version)
			default:
				if count <= 0 {
					return fmt.Errorf("--count must be positive")
				}
				strategy = migrator.RollbackCount(count)
			}

			remaining, err := resolve().Rollback(cmd.Context(), strategy)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}

			current := migration.Version{}
			if len(remaining) > 0 {
				current = remaining[len(remaining)-1].Version()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) remain applied. Current version: %s\n", len(remaining), versionOrNone(current))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Number of migrations to roll back")
	cmd.Flags().StringVar(&target, "target", "", "Roll back every migration newer than this version")
	cmd.Flags().BoolVar(&all, "all", false, "Roll back as far as reverse scripts allow")
	cmd.MarkFlagsMutuallyExclusive("count", "target", "all")
	cmd.MarkFlagsOneRequired("count", "target", "all")
	return cmd
}

// planCmd previews a migration run.
func planCmd(resolve func() *migrator.Migrator) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what migrate would do without changing the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := resolve().Plan(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to plan migration: %w", err)
			}

			return writeTable(cmd.OutOrStdout(), []string{"VERSION", "DESCRIPTION", "ACTION"}, func(w io.Writer) {
				for _, step := range steps {
					action := string(step.Action)
					if step.Replaces != "" {
						action = fmt.Sprintf("%s (%s)", action, step.Replaces)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", step.Version, step.Description, action)
				}
			})
		},
	}
}

// statusCmd lists applied and pending migrations.
func statusCmd(resolve func() *migrator.Migrator) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := resolve().Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			err = writeTable(out, []string{"VERSION", "DESCRIPTION", "STATUS", "APPLIED AT"}, func(w io.Writer) {
				for _, record := range status.Applied {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", record.Version, record.Description, "applied", record.Timestamp.Format(timeLayout))
				}
				for _, pending := range status.Pending {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", pending.Version(), pending.Description(), "pending", "-")
				}
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Current version: %s\n", versionOrNone(status.Current))
			return nil
		},
	}
}

func writeTable(out io.Writer, headers []string, rows func(io.Writer)) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	for i, h := range headers {
		sep := "\t"
		if i == len(headers)-1 {
			sep = "\n"
		}
		fmt.Fprint(w, h, sep)
	}
	rows(w)
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}

func versionOrNone(v migration.Version) string {
	if v.IsZero() {
		return "none"
	}
	return v.String()
}
