package cmd

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lockplane/migrator/internal/config"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/source"
	"github.com/lockplane/migrator/internal/squash"
)

var squashCmd = &cobra.Command{
	Use:   "squash <app> [from] <to>",
	Short: "Fold a run of migrations into one replacement migration",
	Long: `Write a migration that replaces the app's migrations from..to (inclusive,
from defaults to the first). The originals stay on disk; databases that
applied them keep working and new databases run the squashed migration.`,
	Args: cobra.RangeArgs(2, 3),
	Run:  runSquashCommand,
}

var (
	squashName   string
	squashDryRun bool
)

func init() {
	rootCmd.AddCommand(squashCmd)
	squashCmd.Flags().StringVarP(&squashName, "name", "n", "", "Name of the squashed migration")
	squashCmd.Flags().BoolVar(&squashDryRun, "dry-run", false, "Print the squashed migration instead of writing it")
}

func runSquashCommand(cmd *cobra.Command, args []string) {
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

	app, from, to := args[0], "", args[len(args)-1]
	if len(args) == 3 {
		from = args[1]
	}
	if err := squashMigrations(context.Background(), p, app, from, to, squashName, squashDryRun, cmd.OutOrStdout()); err != nil {
		log.Fatalf("squash failed: %v", err)
	}
}

func squashMigrations(ctx context.Context, p *project, app, from, to, name string, dryRun bool, out io.Writer) error {
	g, err := p.graph(ctx)
	if err != nil {
		return err
	}
	run, err := squash.Run(g, app, from, to)
	if err != nil {
		return err
	}
	squashed, err := squash.Squash(run, name)
	if err != nil {
		return err
	}
	base, err := stateBefore(g, run[0].Key())
	if err != nil {
		return err
	}
	if err := squash.Verify(base, run, squashed); err != nil {
		return err
	}

	before := 0
	for _, m := range run {
		before += len(m.Operations)
	}
	if dryRun {
		data, err := source.Encode(squashed)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	if g.Has(migration.Key{AppLabel: app, Name: squashed.Name}) {
		return fmt.Errorf("migration %s.%s already exists", app, squashed.Name)
	}
	path, err := p.primary.Save(squashed)
	if err != nil {
		return err
	}
	_, _ = color.New(color.FgGreen).Fprintf(out, "✓ Squashed %d migrations (%d operations) into %s (%d operations)\n",
		len(run), before, path, len(squashed.Operations))
	return nil
}
