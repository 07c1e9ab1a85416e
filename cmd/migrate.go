package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/config"
	"github.com/lockplane/migrator/internal/executor"
	"github.com/lockplane/migrator/internal/graph"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/planner"
	"github.com/lockplane/migrator/internal/recorder"
	"github.com/lockplane/migrator/internal/sqlcheck"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [app] [migration|zero]",
	Short: "Apply or unapply migrations",
	Long: `Bring the database to a target migration.

With no arguments every unapplied migration is applied. With an app the
app's latest migration is the target. With an app and a migration name the
database moves to exactly that migration: forward if it is not applied,
backward (unapplying its dependents) if it is. "zero" unapplies the app.`,
	Example: `  # Apply everything
  migrator migrate

  # Show the SQL without running it
  migrator migrate --dry-run

  # Roll polls back to 0002_choice
  migrator migrate polls 0002_choice

  # Mark existing tables as migrated without touching them
  migrator migrate polls 0001_initial --fake`,
	Args: cobra.MaximumNArgs(2),
	Run:  runMigrateCommand,
}

type migrateOptions struct {
	Fake       bool
	DryRun     bool
	WholePlan  bool
	Backward   bool
	SkipChecks bool
	JSON       bool
}

var migrateOpts migrateOptions

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateOpts.Fake, "fake", false, "Record migrations as applied (or unapplied) without running them")
	migrateCmd.Flags().BoolVar(&migrateOpts.DryRun, "dry-run", false, "Print the SQL that would run without executing it")
	migrateCmd.Flags().BoolVar(&migrateOpts.WholePlan, "whole-plan", false, "Run the whole plan in one transaction")
	migrateCmd.Flags().BoolVar(&migrateOpts.Backward, "backward", false, "Force a backward plan to the target")
	migrateCmd.Flags().BoolVar(&migrateOpts.SkipChecks, "skip-checks", false, "Skip RunSQL validation")
	migrateCmd.Flags().BoolVar(&migrateOpts.JSON, "json", false, "Print the plan (and dry-run SQL) as JSON")
}

func runMigrateCommand(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(flagVerbose)
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	p, err := loadProject(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to load project: %v", err)
	}
	conn, err := p.connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := migrate(ctx, p, conn, args, migrateOpts, cmd.OutOrStdout()); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

// resolveTarget turns the positional arguments into a plan target and
// direction
func resolveTarget(g *graph.Graph, applied map[migration.Key]bool, args []string, backward bool) (planner.Target, planner.Direction, error) {
	direction := planner.Forward
	if backward {
		direction = planner.Backward
	}
	switch len(args) {
	case 0:
		if backward {
			return planner.Target{}, direction, errors.New("--backward needs an app and a target migration")
		}
		return planner.Latest(), direction, nil
	case 1:
		leaves := g.LeafNodes(args[0])
		if len(leaves) == 0 {
			return planner.Target{}, direction, &apperrors.NotFoundError{Kind: "app", Name: args[0]}
		}
		if len(leaves) > 1 {
			return planner.Target{}, direction, fmt.Errorf("app %s has %d leaf migrations %v; name the target", args[0], len(leaves), leaves)
		}
		return planner.To(leaves[0]), direction, nil
	}

	if args[1] == "zero" {
		return planner.Zero(args[0]), planner.Backward, nil
	}
	key := migration.Key{AppLabel: args[0], Name: args[1]}
	if !g.Has(key) {
		return planner.Target{}, direction, &apperrors.NotFoundError{Kind: "migration", Name: key.String()}
	}
	effective := g.EffectiveApplied(applied)
	if effective[key] {
		direction = planner.Backward
	}
	return planner.To(key), direction, nil
}

func migrate(ctx context.Context, p *project, conn *connection, args []string, opts migrateOptions, out io.Writer) error {
	g, err := p.graph(ctx)
	if err != nil {
		return err
	}
	records, err := conn.recorder.Applied(ctx)
	if err != nil {
		return err
	}
	applied := recorder.AppliedSet(records)

	target, direction, err := resolveTarget(g, applied, args, opts.Backward)
	if err != nil {
		return err
	}
	mode := planner.PerMigration
	if opts.WholePlan {
		mode = planner.WholePlan
	}
	plan, err := planner.Build(g, applied, target, direction, planner.Options{Fake: opts.Fake, TransactionMode: mode})
	if err != nil {
		return fmt.Errorf("failed to plan: %w", err)
	}
	if plan.IsEmpty() {
		_, _ = color.New(color.FgGreen).Fprintln(out, "✓ No migrations to apply.")
		return nil
	}

	if !opts.SkipChecks {
		if err := checkPlanSQL(plan, conn.dialect, p.logger, out); err != nil {
			return err
		}
	}

	exec := executor.New(executor.NewSQLEditor(conn.db, conn.driver), conn.recorder, p.logger)
	if opts.DryRun {
		statements, err := exec.DryRun(ctx, plan)
		if err != nil {
			return err
		}
		return printDryRun(out, plan, statements, opts.JSON)
	}

	fmt.Fprintf(out, "Running %s plan (%d migrations):\n", plan.Direction, len(plan.Entries))
	result, err := exec.Run(ctx, plan)
	for _, k := range result.Committed {
		verb := "Applied"
		if plan.Direction == planner.Backward {
			verb = "Unapplied"
		}
		if opts.Fake {
			verb += " (fake)"
		}
		_, _ = color.New(color.FgGreen).Fprintf(out, "  ✓ %s %s\n", verb, k)
	}
	if err != nil {
		var execErr *executor.ExecutionError
		if errors.As(err, &execErr) {
			printFailure(out, execErr.Failure)
		}
		return err
	}
	return nil
}

// checkPlanSQL validates RunSQL operations of every entry before anything
// runs; errors abort, data-loss findings are logged
func checkPlanSQL(plan *planner.MigrationPlan, dialect string, logger *zap.Logger, out io.Writer) error {
	var failed bool
	for _, entry := range plan.Entries {
		if !entry.TouchesSchema() {
			continue
		}
		checked := migration.New(entry.Migration.AppLabel, entry.Migration.Name, entry.Operations...)
		report := sqlcheck.CheckMigration(checked, dialect)
		for _, w := range report.Warnings() {
			logger.Warn("RunSQL may lose data", zap.String("migration", w.Migration), zap.Int("index", w.Operation), zap.String("code", w.Code))
		}
		for _, e := range report.Errors() {
			failed = true
			_, _ = color.New(color.FgRed).Fprintf(out, "✗ %s\n", e)
		}
	}
	if failed {
		return &apperrors.InvalidMigrationError{Reason: "RunSQL validation failed (use --skip-checks to bypass)"}
	}
	return nil
}

func printDryRun(out io.Writer, plan *planner.MigrationPlan, statements []executor.Statement, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(struct {
			Plan       *planner.MigrationPlan `json:"plan"`
			Statements []executor.Statement   `json:"statements"`
		}{plan, statements}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	current := migration.Key{}
	for _, s := range statements {
		if s.Migration != current {
			current = s.Migration
			_, _ = color.New(color.Bold).Fprintf(out, "-- %s (%s)\n", current, plan.Direction)
		}
		fmt.Fprintf(out, "-- %s\n%s;\n", s.Description, s.SQL)
	}
	if len(statements) == 0 {
		fmt.Fprintln(out, "-- no SQL (fake or state-only entries only)")
	}
	return nil
}

func printFailure(out io.Writer, f *executor.Failure) {
	red := color.New(color.FgRed)
	_, _ = red.Fprintf(out, "  ✗ %s failed", f.Migration)
	if f.OperationIndex >= 0 {
		_, _ = red.Fprintf(out, " at operation %d (%s)", f.OperationIndex, f.Operation)
	}
	_, _ = red.Fprintf(out, ": %v\n", f.Err)
	if f.PartiallyApplied {
		_, _ = color.New(color.FgYellow).Fprintf(out, "  ⚠ %d operations of this non-atomic migration were applied and remain in the database\n", f.AppliedOperations)
	}
}
