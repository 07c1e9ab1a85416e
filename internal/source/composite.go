package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/migration"
)

// ConflictPolicy decides what happens when two sources define the same
// migration key with different content
type ConflictPolicy string

const (
	// PolicyWarn logs the conflict and lets the later source win
	PolicyWarn ConflictPolicy = "warn"
	// PolicyError fails the merge with apperrors.ErrConflict
	PolicyError ConflictPolicy = "error"
)

// ParsePolicy reads a policy name; empty means PolicyWarn
func ParsePolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case "", PolicyWarn:
		return PolicyWarn, nil
	case PolicyError:
		return PolicyError, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q (expected warn or error)", s)
}

// CompositeSource merges several sources in order
type CompositeSource struct {
	Sources []Source
	Policy  ConflictPolicy
	Logger  *zap.Logger
}

func NewCompositeSource(policy ConflictPolicy, logger *zap.Logger, sources ...Source) *CompositeSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompositeSource{Sources: sources, Policy: policy, Logger: logger}
}

// sameMigration compares everything that affects planning and execution
func sameMigration(a, b *migration.Migration) bool {
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	if errA != nil || errB != nil {
		return migration.Equivalent(a.Operations, b.Operations)
	}
	return string(ea) == string(eb)
}

func (c *CompositeSource) AllMigrations(ctx context.Context) ([]*migration.Migration, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	merged := make(map[migration.Key]*migration.Migration)
	origin := make(map[migration.Key]int)
	for i, src := range c.Sources {
		ms, err := src.AllMigrations(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read source %d: %w", i, err)
		}
		for _, m := range ms {
			k := m.Key()
			existing, ok := merged[k]
			if ok && !sameMigration(existing, m) {
				if c.Policy == PolicyError {
					return nil, fmt.Errorf("migration %s differs between sources %d and %d: %w", k, origin[k], i, apperrors.ErrConflict)
				}
				logger.Warn("Conflicting migration definitions, using the later source",
					zap.String("migration", k.String()),
					zap.Int("previous_source", origin[k]),
					zap.Int("source", i))
			}
			merged[k] = m
			origin[k] = i
		}
	}

	out := make([]*migration.Migration, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	sortMigrations(out)
	return out, nil
}

func (c *CompositeSource) MigrationsForApp(ctx context.Context, app string) ([]*migration.Migration, error) {
	all, err := c.AllMigrations(ctx)
	if err != nil {
		return nil, err
	}
	return filterApp(all, app), nil
}

func (c *CompositeSource) GetMigration(ctx context.Context, app, name string) (*migration.Migration, error) {
	all, err := c.AllMigrations(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.AppLabel == app && m.Name == name {
			return m, nil
		}
	}
	return nil, notFound(app, name)
}
