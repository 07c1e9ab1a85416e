package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lockplane/migrator/internal/schema"
)

var diffCmd = &cobra.Command{
	Use:   "diff <current> <target>",
	Short: "Compare two schema snapshots and report unsafe changes",
	Long: `Load two schemas (JSON snapshots, .sql files or directories of .sql
files), print the differences and classify each change. Exits non-zero when
a change would fail or lose data without a declared backfill.`,
	Args: cobra.ExactArgs(2),
	Run:  runDiffCommand,
}

var (
	diffJSON       bool
	diffBackfilled []string
)

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "Print the diff and validation report as JSON")
	diffCmd.Flags().StringSliceVar(&diffBackfilled, "backfilled", nil, "table.column entries that have a backfill plan")
}

func runDiffCommand(cmd *cobra.Command, args []string) {
	valid, err := diffSchemas(cmd.OutOrStdout(), args[0], args[1], diffBackfilled, diffJSON)
	if err != nil {
		log.Fatalf("diff failed: %v", err)
	}
	if !valid {
		os.Exit(1)
	}
}

func diffSchemas(out io.Writer, currentPath, targetPath string, backfilled []string, asJSON bool) (bool, error) {
	current, err := schema.LoadSchema(currentPath)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", currentPath, err)
	}
	target, err := schema.LoadSchema(targetPath)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", targetPath, err)
	}
	diff := schema.DiffSchemas(current, target)
	report := schema.Validate(diff, schema.ValidateOptions{Backfilled: backfilled, Target: target})

	if asJSON {
		data, err := json.MarshalIndent(struct {
			Diff   *schema.SchemaDiff       `json:"diff"`
			Report *schema.ValidationReport `json:"report"`
		}{diff, report}, "", "  ")
		if err != nil {
			return false, fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return report.Valid, nil
	}

	if diff.IsEmpty() {
		_, _ = color.New(color.FgGreen).Fprintln(out, "✓ Schemas are identical")
		return true, nil
	}
	for _, op := range schema.OperationsFromDiff("db", diff) {
		fmt.Fprintf(out, "  • %s\n", op.Describe())
	}
	for _, w := range report.Warnings {
		_, _ = color.New(color.FgYellow).Fprintf(out, "⚠ %s\n", w)
	}
	for _, e := range report.Errors {
		_, _ = color.New(color.FgRed).Fprintf(out, "✗ %s\n", e)
	}
	if report.Valid {
		_, _ = color.New(color.FgGreen).Fprintln(out, "✓ Changes are valid")
	}
	if !report.Reversible {
		_, _ = color.New(color.FgYellow).Fprintln(out, "⚠ Some changes cannot be reversed without data loss")
	}
	return report.Valid, nil
}
