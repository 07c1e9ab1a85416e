package cmd

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lockplane/migrator/internal/config"
	"github.com/lockplane/migrator/internal/graph"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/recorder"
)

var showMigrationsCmd = &cobra.Command{
	Use:   "showmigrations [app...]",
	Short: "List migrations and whether they are applied",
	Run:   runShowMigrationsCommand,
}

func init() {
	rootCmd.AddCommand(showMigrationsCmd)
}

func runShowMigrationsCommand(cmd *cobra.Command, args []string) {
	ctx := context.Background()
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
	g, err := p.graph(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}
	conn, err := p.connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	records, err := conn.recorder.Applied(ctx)
	if err != nil {
		log.Fatalf("Failed to read applied migrations: %v", err)
	}
	if err := showMigrations(cmd.OutOrStdout(), g, recorder.AppliedSet(records), args); err != nil {
		log.Fatalf("%v", err)
	}
}

// showMigrations prints each app's migrations in graph order. Squashed
// migrations count as applied once everything they replace is.
func showMigrations(out io.Writer, g *graph.Graph, applied map[migration.Key]bool, apps []string) error {
	order, err := g.TopologicalOrder()
	if err != nil {
		return err
	}
	effective := g.EffectiveApplied(applied)

	wanted := make(map[string]bool, len(apps))
	for _, a := range apps {
		wanted[a] = true
	}
	byApp := make(map[string][]migration.Key)
	var appOrder []string
	for _, k := range order {
		if len(wanted) > 0 && !wanted[k.AppLabel] {
			continue
		}
		if _, seen := byApp[k.AppLabel]; !seen {
			appOrder = append(appOrder, k.AppLabel)
		}
		byApp[k.AppLabel] = append(byApp[k.AppLabel], k)
	}
	for _, a := range apps {
		if _, ok := byApp[a]; !ok {
			fmt.Fprintf(out, "%s\n (no migrations)\n", a)
		}
	}

	green := color.New(color.FgGreen)
	for _, app := range appOrder {
		_, _ = color.New(color.Bold).Fprintln(out, app)
		for _, k := range byApp[app] {
			m, _ := g.Node(k)
			note := ""
			if len(m.Replaces) > 0 {
				note = fmt.Sprintf(" (%d squashed migrations)", len(m.Replaces))
			}
			if effective[k] {
				_, _ = green.Fprintf(out, " [X] %s%s\n", k.Name, note)
			} else {
				fmt.Fprintf(out, " [ ] %s%s\n", k.Name, note)
			}
		}
	}
	return nil
}
