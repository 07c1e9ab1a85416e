package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/lockplane/migrator/internal/autodetect"
	"github.com/lockplane/migrator/internal/source"
)

// FileName is the project configuration file looked up from the working
// directory
const FileName = "migrator.toml"

const (
	defaultEnvironmentName = "local"
	defaultDatabaseURL     = "sqlite://migrator.db"
	defaultMigrationsDir   = "migrations"
	defaultModelsPath      = "models.yaml"
)

// EnvironmentConfig describes a single named environment from migrator.toml.
type EnvironmentConfig struct {
	DatabaseURL string `toml:"database_url"`
}

// AutodetectConfig holds rename detection tuning. Zero values fall back to
// the autodetect defaults.
type AutodetectConfig struct {
	ModelThreshold    float64 `toml:"model_threshold"`
	FieldThreshold    float64 `toml:"field_threshold"`
	JaroWinklerWeight float64 `toml:"jaro_winkler_weight"`
	LevenshteinWeight float64 `toml:"levenshtein_weight"`
}

// SourcesConfig lists extra migration directories merged after
// migrations_dir
type SourcesConfig struct {
	ConflictPolicy string   `toml:"conflict_policy"`
	Extra          []string `toml:"extra"`
}

type Config struct {
	DefaultEnvironment string                       `toml:"default_environment"`
	DatabaseURL        string                       `toml:"database_url"`
	MigrationsDir      string                       `toml:"migrations_dir"`
	ModelsPath         string                       `toml:"models_path"`
	Environments       map[string]EnvironmentConfig `toml:"environments"`
	Autodetect         AutodetectConfig             `toml:"autodetect"`
	Sources            SourcesConfig                `toml:"sources"`
	ConfigFilePath     string                       `toml:"-"`

	configDir  string
	projectDir string
}

// LoadConfig finds migrator.toml by walking up from the working directory,
// stopping at the first project root. No file yields an empty Config.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadConfigFrom(startDir)
}

// LoadConfigFrom is LoadConfig starting at dir
func LoadConfigFrom(startDir string) (*Config, error) {
	dir := startDir
	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return ReadFile(configPath)
		}

		if isProjectRoot(dir) {
			return &Config{configDir: dir, projectDir: dir}, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return &Config{configDir: startDir}, nil
}

// ReadFile parses one configuration file
func ReadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
	}
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}
	config.ConfigFilePath = configPath
	config.configDir = filepath.Dir(configPath)
	config.projectDir = findProjectRoot(config.configDir)
	return &config, nil
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod", "package.json"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

func findProjectRoot(dir string) string {
	for {
		if isProjectRoot(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ConfigDir is the directory holding migrator.toml, or the start directory
// when no file was found
func (c *Config) ConfigDir() string { return c.configDir }

// ProjectDir is the nearest project root at or above ConfigDir
func (c *Config) ProjectDir() string { return c.projectDir }

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) || c.configDir == "" {
		return path
	}
	return filepath.Join(c.configDir, path)
}

// MigrationDirs returns migrations_dir followed by the extra sources, each
// resolved against ConfigDir
func (c *Config) MigrationDirs() []string {
	dir := c.MigrationsDir
	if dir == "" {
		dir = defaultMigrationsDir
	}
	dirs := []string{c.resolve(dir)}
	for _, extra := range c.Sources.Extra {
		dirs = append(dirs, c.resolve(extra))
	}
	return dirs
}

// ModelsFile returns the model declaration file resolved against ConfigDir
func (c *Config) ModelsFile() string {
	if c.ModelsPath == "" {
		return c.resolve(defaultModelsPath)
	}
	return c.resolve(c.ModelsPath)
}

// SimilarityConfig builds the rename detection settings. Unset thresholds
// or weights keep their defaults.
func (c *Config) SimilarityConfig() (autodetect.SimilarityConfig, error) {
	a := c.Autodetect
	if a == (AutodetectConfig{}) {
		return autodetect.DefaultSimilarityConfig(), nil
	}
	def := autodetect.DefaultSimilarityConfig()
	if a.ModelThreshold == 0 {
		a.ModelThreshold = def.ModelThreshold()
	}
	if a.FieldThreshold == 0 {
		a.FieldThreshold = def.FieldThreshold()
	}
	if a.JaroWinklerWeight == 0 && a.LevenshteinWeight == 0 {
		a.JaroWinklerWeight, a.LevenshteinWeight = 0.7, 0.3
	}
	cfg, err := autodetect.NewSimilarityConfigWithWeights(a.ModelThreshold, a.FieldThreshold, a.JaroWinklerWeight, a.LevenshteinWeight)
	if err != nil {
		return autodetect.SimilarityConfig{}, fmt.Errorf("invalid [autodetect] in %s: %w", c.ConfigFilePath, err)
	}
	return cfg, nil
}

// ConflictPolicy reads [sources] conflict_policy
func (c *Config) ConflictPolicy() (source.ConflictPolicy, error) {
	p, err := source.ParsePolicy(c.Sources.ConflictPolicy)
	if err != nil {
		return "", fmt.Errorf("invalid [sources] in %s: %w", c.ConfigFilePath, err)
	}
	return p, nil
}
