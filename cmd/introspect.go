package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/lockplane/migrator/internal/config"
	"github.com/lockplane/migrator/internal/recorder"
	"github.com/lockplane/migrator/internal/schema"
)

var introspectCmd = &cobra.Command{
	Use:   "introspect",
	Short: "Print the live database schema as JSON",
	Long: `Introspect the selected database and print its schema as a JSON snapshot,
the format diff reads. The migration ledger table is left out.`,
	Example: `  migrator introspect > current.json
  migrator introspect --db postgresql://localhost:5432/app?sslmode=disable`,
	Run: runIntrospect,
}

var introspectHash bool

func init() {
	rootCmd.AddCommand(introspectCmd)
	introspectCmd.Flags().BoolVar(&introspectHash, "hash", false, "Print only the schema hash")
}

func runIntrospect(cmd *cobra.Command, args []string) {
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
	conn, err := p.connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	current, err := conn.driver.IntrospectSchema(ctx, conn.db)
	if err != nil {
		log.Fatalf("Failed to introspect schema: %v", err)
	}
	tables := current.Tables[:0]
	for _, t := range current.Tables {
		if t.Name != recorder.TableName {
			tables = append(tables, t)
		}
	}
	current.Tables = tables

	if introspectHash {
		hash, err := schema.ComputeSchemaHash(current)
		if err != nil {
			log.Fatalf("Failed to hash schema: %v", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return
	}
	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal schema to JSON: %v", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
}
