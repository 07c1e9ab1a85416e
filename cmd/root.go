package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	flagEnvironment string
	flagDatabaseURL string
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "migrator",
	Short: "Declarative schema migrations with dependency graphs",
	Long: `migrator keeps a database schema in step with declared models.

Models are declared in YAML, makemigrations writes the operations that move
the recorded state to the declared one, and migrate plans and applies them
in dependency order, recording each applied migration in the database.`,
	Version: getVersion(),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagEnvironment, "environment", "e", "", "Named environment from migrator.toml (defaults to default_environment)")
	rootCmd.PersistentFlags().StringVar(&flagDatabaseURL, "db", "", "Database connection string (overrides the environment)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger logs to stderr; only warnings and errors unless verbose
func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = !verbose
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
