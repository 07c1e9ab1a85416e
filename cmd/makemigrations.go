package cmd

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lockplane/migrator/internal/autodetect"
	"github.com/lockplane/migrator/internal/config"
	"github.com/lockplane/migrator/internal/prompt"
	"github.com/lockplane/migrator/internal/registry"
	"github.com/lockplane/migrator/internal/source"
)

var makeMigrationsCmd = &cobra.Command{
	Use:   "makemigrations [app...]",
	Short: "Write migrations for changes to the declared models",
	Long: `Compare the declared models (models_path in migrator.toml) with the state
the existing migrations produce and write one migration per changed app.

Removed and added models or fields that look alike are offered as renames.
Without --interactive the best match per name is accepted automatically.`,
	Run: runMakeMigrationsCommand,
}

type makeMigrationsOptions struct {
	Name        string
	Interactive bool
	DryRun      bool
	NoRenames   bool
}

var makeMigrationsOpts makeMigrationsOptions

func init() {
	rootCmd.AddCommand(makeMigrationsCmd)
	makeMigrationsCmd.Flags().StringVarP(&makeMigrationsOpts.Name, "name", "n", "", "Migration name (single app only)")
	makeMigrationsCmd.Flags().BoolVarP(&makeMigrationsOpts.Interactive, "interactive", "i", false, "Confirm rename candidates interactively")
	makeMigrationsCmd.Flags().BoolVar(&makeMigrationsOpts.DryRun, "dry-run", false, "Print the migrations instead of writing them")
	makeMigrationsCmd.Flags().BoolVar(&makeMigrationsOpts.NoRenames, "no-renames", false, "Treat every rename candidate as a remove and an add")
}

func runMakeMigrationsCommand(cmd *cobra.Command, args []string) {
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

	opts := makeMigrationsOpts
	var resolver autodetect.RenameResolver
	switch {
	case opts.NoRenames:
		resolver = autodetect.RejectAllResolver{}
	case opts.Interactive:
		resolver = prompt.NewResolver()
	}
	if err := makeMigrations(context.Background(), p, args, opts, resolver, cmd.OutOrStdout()); err != nil {
		log.Fatalf("makemigrations failed: %v", err)
	}
}

func makeMigrations(ctx context.Context, p *project, apps []string, opts makeMigrationsOptions, resolver autodetect.RenameResolver, out io.Writer) error {
	if opts.Name != "" && len(apps) != 1 {
		return fmt.Errorf("--name needs exactly one app")
	}
	reg, err := registry.Load(p.cfg.ModelsFile())
	if err != nil {
		return err
	}
	simConfig, err := p.cfg.SimilarityConfig()
	if err != nil {
		return err
	}
	g, err := p.graph(ctx)
	if err != nil {
		return err
	}
	current, err := projectState(g)
	if err != nil {
		return fmt.Errorf("failed to replay migrations: %w", err)
	}
	recorded, err := p.source.AllMigrations(ctx)
	if err != nil {
		return err
	}

	detector := &autodetect.Autodetector{
		Current:  current,
		Desired:  reg,
		Config:   simConfig,
		Resolver: resolver,
		Recorded: recorded,
		Logger:   p.logger,
	}
	changes, err := detector.Detect()
	if err != nil {
		return err
	}
	for _, r := range changes.Renames {
		_, _ = color.New(color.FgCyan).Fprintf(out, "Detected rename: %s\n", r)
	}

	targets := apps
	if len(targets) == 0 {
		targets = changes.Apps()
	}
	written := 0
	for _, app := range targets {
		ops := changes.ForApp(app)
		name := opts.Name
		if name == "" {
			name = autoName(g, app, ops)
		}
		m, ok := autodetect.MakeMigration(app, name, changes, g)
		if !ok {
			continue
		}
		written++
		// later apps in this run may depend on it
		if err := g.AddNode(m); err == nil {
			for _, d := range m.Dependencies {
				_ = g.AddDependency(m.Key(), d)
			}
		}
		if opts.DryRun {
			data, err := source.Encode(m)
			if err != nil {
				return err
			}
			_, _ = color.New(color.Bold).Fprintf(out, "# %s\n", m.Key())
			fmt.Fprintln(out, string(data))
			continue
		}
		path, err := p.primary.Save(m)
		if err != nil {
			return err
		}
		p.logger.Info("Wrote migration", zap.String("migration", m.Key().String()), zap.String("path", path))
		_, _ = color.New(color.FgGreen).Fprintf(out, "✓ %s\n", path)
		for _, op := range m.Operations {
			fmt.Fprintf(out, "    - %s\n", op.Describe())
		}
	}
	if written == 0 {
		fmt.Fprintln(out, "No changes detected")
	}
	return nil
}
