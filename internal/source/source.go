// Package source loads migrations from where they are stored: memory, a
// directory of YAML files, or several sources merged together.
package source

import (
	"context"
	"sort"
	"strings"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/migration"
)

// Source provides migration definitions
type Source interface {
	AllMigrations(ctx context.Context) ([]*migration.Migration, error)
	MigrationsForApp(ctx context.Context, app string) ([]*migration.Migration, error)
	// GetMigration returns apperrors.ErrNotFound for unknown keys
	GetMigration(ctx context.Context, app, name string) (*migration.Migration, error)
}

// ValidatePathComponent rejects app labels and migration names that cannot
// safely be used as a single path element
func ValidatePathComponent(label, value string) error {
	reject := func(reason string) error {
		return &apperrors.PathTraversalError{Label: label, Value: value, Reason: reason}
	}
	switch {
	case value == "":
		return reject("must not be empty")
	case value == "." || strings.Contains(value, ".."):
		return reject("must not reference a parent directory")
	case strings.ContainsAny(value, `/\`):
		return reject("must not contain path separators")
	case strings.ContainsRune(value, 0):
		return reject("must not contain NUL bytes")
	}
	return nil
}

func notFound(app, name string) error {
	return &apperrors.NotFoundError{Kind: "migration", Name: migration.Key{AppLabel: app, Name: name}.String()}
}

func sortMigrations(ms []*migration.Migration) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Key().Less(ms[j].Key()) })
}

func filterApp(ms []*migration.Migration, app string) []*migration.Migration {
	var out []*migration.Migration
	for _, m := range ms {
		if m.AppLabel == app {
			out = append(out, m)
		}
	}
	return out
}

// MemorySource serves migrations held in memory
type MemorySource struct {
	migrations map[migration.Key]*migration.Migration
}

func NewMemorySource(ms ...*migration.Migration) *MemorySource {
	s := &MemorySource{migrations: make(map[migration.Key]*migration.Migration)}
	for _, m := range ms {
		s.Add(m)
	}
	return s
}

// Add stores m, replacing any migration with the same key
func (s *MemorySource) Add(m *migration.Migration) {
	s.migrations[m.Key()] = m
}

func (s *MemorySource) AllMigrations(context.Context) ([]*migration.Migration, error) {
	out := make([]*migration.Migration, 0, len(s.migrations))
	for _, m := range s.migrations {
		out = append(out, m)
	}
	sortMigrations(out)
	return out, nil
}

func (s *MemorySource) MigrationsForApp(ctx context.Context, app string) ([]*migration.Migration, error) {
	all, _ := s.AllMigrations(ctx)
	return filterApp(all, app), nil
}

func (s *MemorySource) GetMigration(_ context.Context, app, name string) (*migration.Migration, error) {
	m, ok := s.migrations[migration.Key{AppLabel: app, Name: name}]
	if !ok {
		return nil, notFound(app, name)
	}
	return m, nil
}
