package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ResolvedEnvironment represents a fully-resolved environment with concrete values.
type ResolvedEnvironment struct {
	Name        string
	DatabaseURL string
	DotenvPath  string
	FromConfig  bool
	FromDotenv  bool
}

// ResolveEnvironment resolves a named environment into a connection string.
// Precedence: .env.<name> DATABASE_URL, then [environments.<name>], then the
// top-level database_url, then the sqlite default.
func ResolveEnvironment(config *Config, name string) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		if config != nil && config.DefaultEnvironment != "" {
			envName = config.DefaultEnvironment
		} else {
			envName = defaultEnvironmentName
		}
	}

	resolved := &ResolvedEnvironment{Name: envName}

	var envExists bool
	if config != nil {
		if cfg, ok := config.Environments[envName]; ok {
			envExists = true
			resolved.FromConfig = true
			resolved.DatabaseURL = cfg.DatabaseURL
		}
		if resolved.DatabaseURL == "" {
			resolved.DatabaseURL = config.DatabaseURL
		}
	}

	dotenvFileName := ".env." + envName
	var baseDir, projectDir string
	if config != nil {
		baseDir, projectDir = config.ConfigDir(), config.ProjectDir()
	}
	if baseDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			baseDir = cwd
		}
	}
	resolved.DotenvPath = filepath.Join(baseDir, dotenvFileName)

	if _, err := os.Stat(resolved.DotenvPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to access %s: %w", resolved.DotenvPath, err)
		}
		if projectDir != "" && projectDir != baseDir {
			altPath := filepath.Join(projectDir, dotenvFileName)
			if info, err := os.Stat(altPath); err == nil && !info.IsDir() {
				resolved.DotenvPath = altPath
			}
		}
	}

	if info, err := os.Stat(resolved.DotenvPath); err == nil && !info.IsDir() {
		values, err := godotenv.Read(resolved.DotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", resolved.DotenvPath, err)
		}
		resolved.FromDotenv = true
		if value := values["DATABASE_URL"]; value != "" {
			resolved.DatabaseURL = value
		} else if value := values["LIBSQL_URL"]; value != "" {
			resolved.DatabaseURL = value
			if token := values["LIBSQL_AUTH_TOKEN"]; token != "" {
				resolved.DatabaseURL = fmt.Sprintf("%s?authToken=%s", value, token)
			}
		}
	}

	if config != nil && len(config.Environments) > 0 && !envExists && !resolved.FromDotenv {
		return nil, fmt.Errorf("environment %q not defined in %s and %s not found", envName, FileName, resolved.DotenvPath)
	}

	if resolved.DatabaseURL == "" {
		resolved.DatabaseURL = defaultDatabaseURL
	}
	return resolved, nil
}
