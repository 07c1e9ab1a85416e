package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lockplane/migrator/internal/config"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/planner/multiphase"
	"github.com/lockplane/migrator/internal/state"
)

var zeroDowntimeCmd = &cobra.Command{
	Use:   "zerodowntime <app> <migration>",
	Short: "Split a risky operation into deployable phases",
	Long: `Find the first operation of an unapplied migration that would lock a live
table (or the one given with --operation) and print the phased plan that
replaces it: expand/contract for renames, nullable-then-backfill for new
NOT NULL columns, shadow columns for type changes and a deprecation period
for dropped tables.

With --write the migration is cut at that operation: it keeps the
operations before it, each phase becomes its own migration, and the
operations after it move to <migration>_rest.`,
	Args: cobra.ExactArgs(2),
	Run:  runZeroDowntimeCommand,
}

type zeroDowntimeOptions struct {
	Operation int
	Backfill  string
	Write     bool
	JSON      bool
}

var zeroDowntimeOpts zeroDowntimeOptions

func init() {
	rootCmd.AddCommand(zeroDowntimeCmd)
	zeroDowntimeCmd.Flags().IntVar(&zeroDowntimeOpts.Operation, "operation", -1, "0-based index of the operation to split (default: first risky one)")
	zeroDowntimeCmd.Flags().StringVar(&zeroDowntimeOpts.Backfill, "backfill", "", "SQL expression that fills the new column")
	zeroDowntimeCmd.Flags().BoolVar(&zeroDowntimeOpts.Write, "write", false, "Rewrite the migration into phase migrations")
	zeroDowntimeCmd.Flags().BoolVar(&zeroDowntimeOpts.JSON, "json", false, "Print the phased plan as JSON")
}

func runZeroDowntimeCommand(cmd *cobra.Command, args []string) {
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
	key := migration.Key{AppLabel: args[0], Name: args[1]}
	if err := zeroDowntime(context.Background(), p, key, zeroDowntimeOpts, cmd.OutOrStdout()); err != nil {
		log.Fatalf("zerodowntime failed: %v", err)
	}
}

// splitTarget returns the index of the operation to split and the state it
// runs on
func splitTarget(m *migration.Migration, before *state.ProjectState, index int) (int, *state.ProjectState, error) {
	s := before.Clone()
	for i, op := range m.Operations {
		if i == index || (index < 0 && multiphase.Detect(op, s) != "") {
			return i, s, nil
		}
		if err := op.StateForwards(s); err != nil {
			return 0, nil, fmt.Errorf("failed to replay %s operation %d: %w", m.Key(), i, err)
		}
	}
	if index >= 0 {
		return 0, nil, fmt.Errorf("%s has no operation %d", m.Key(), index)
	}
	return -1, nil, nil
}

func zeroDowntime(ctx context.Context, p *project, key migration.Key, opts zeroDowntimeOptions, out io.Writer) error {
	g, err := p.graph(ctx)
	if err != nil {
		return err
	}
	m, ok := g.Node(key)
	if !ok {
		return fmt.Errorf("migration %s not found", key)
	}
	before, err := stateBefore(g, key)
	if err != nil {
		return err
	}
	index, opState, err := splitTarget(m, before, opts.Operation)
	if err != nil {
		return err
	}
	if index < 0 {
		_, _ = color.New(color.FgGreen).Fprintf(out, "✓ %s has no operations that need phasing\n", key)
		return nil
	}

	op := m.Operations[index]
	plan, err := multiphase.Split(op, opState, multiphase.Options{
		BaseName:     m.Name,
		Dependencies: []migration.Key{key},
		Backfill:     opts.Backfill,
	})
	if err != nil {
		return err
	}

	if opts.JSON {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else {
		printPhasedPlan(out, op, plan, multiphase.IsRisky(op, opState))
	}

	if !opts.Write {
		return nil
	}
	if dependents := g.Dependents(key); len(dependents) > 0 {
		return fmt.Errorf("%s has dependents %v; only the newest migration can be split", key, dependents)
	}
	return writePhases(p, m, index, plan, out)
}

func writePhases(p *project, m *migration.Migration, index int, plan *multiphase.Plan, out io.Writer) error {
	rest := m.Operations[index+1:]
	head := *m
	head.Operations = append([]migration.Operation(nil), m.Operations[:index]...)

	written := []*migration.Migration{&head}
	written = append(written, plan.Migrations()...)
	if len(rest) > 0 {
		tail := migration.New(m.AppLabel, m.Name+"_rest", rest...)
		tail.Atomic = m.Atomic
		tail.Dependencies = []migration.Key{written[len(written)-1].Key()}
		written = append(written, tail)
	}
	for _, w := range written {
		path, err := p.primary.Save(w)
		if err != nil {
			return err
		}
		_, _ = color.New(color.FgGreen).Fprintf(out, "✓ %s\n", path)
	}
	return nil
}

func printPhasedPlan(out io.Writer, op migration.Operation, plan *multiphase.Plan, risky bool) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(out, "%s\n", op.Describe())
	fmt.Fprintf(out, "Pattern: %s\n%s\n", plan.Pattern, plan.Description)
	if risky {
		_, _ = color.New(color.FgYellow).Fprintln(out, "⚠ Running this operation directly blocks writes to the table")
	}
	for _, ph := range plan.Phases {
		fmt.Fprintln(out)
		_, _ = bold.Fprintf(out, "Phase %d: %s\n", ph.Number, ph.Description)
		fmt.Fprintf(out, "  Migration: %s\n", ph.Migration.Key())
		fmt.Fprintf(out, "  Lock: %s\n", ph.LockImpact)
		for _, o := range ph.Migration.Operations {
			fmt.Fprintf(out, "    - %s\n", o.Describe())
		}
		if ph.RequiresCodeDeploy {
			_, _ = color.New(color.FgCyan).Fprintln(out, "  Requires a code deploy:")
			for _, c := range ph.CodeChangesRequired {
				fmt.Fprintf(out, "    • %s\n", c)
			}
		}
		for _, v := range ph.Verification {
			fmt.Fprintf(out, "  Verify: %s\n", v)
		}
	}
	for _, n := range plan.SafetyNotes {
		_, _ = color.New(color.FgYellow).Fprintf(out, "\n⚠ %s\n", n)
	}
}
