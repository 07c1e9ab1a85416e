package migration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/state"
)

// Key identifies a migration by app label and name
type Key struct {
	AppLabel string `json:"app" yaml:"app"`
	Name     string `json:"name" yaml:"name"`
}

func (k Key) String() string { return k.AppLabel + "." + k.Name }

// Less orders keys by their string form
func (k Key) Less(other Key) bool { return k.String() < other.String() }

// ParseKey splits "app.name"
func ParseKey(s string) (Key, error) {
	app, name, ok := strings.Cut(s, ".")
	if !ok || app == "" || name == "" {
		return Key{}, &apperrors.InvalidMigrationError{Reason: fmt.Sprintf("malformed migration key %q, expected app.name", s)}
	}
	return Key{AppLabel: app, Name: name}, nil
}

// SwappableDependency points at a migration in an app chosen by a setting,
// falling back to DefaultApp when the setting is unset
type SwappableDependency struct {
	Setting       string `json:"setting" yaml:"setting"`
	DefaultApp    string `json:"default_app" yaml:"default_app"`
	MigrationName string `json:"migration" yaml:"migration"`
}

// Resolve returns the dependency key using settings
func (d SwappableDependency) Resolve(settings func(string) (string, bool)) Key {
	app := d.DefaultApp
	if settings != nil {
		if v, ok := settings(d.Setting); ok && v != "" {
			app = v
		}
	}
	return Key{AppLabel: app, Name: d.MigrationName}
}

// Migration is a named, ordered list of operations plus dependency metadata
type Migration struct {
	AppLabel              string
	Name                  string
	Operations            []Operation
	Dependencies          []Key
	OptionalDependencies  []Key
	SwappableDependencies []SwappableDependency
	Atomic                bool
	Initial               bool
	Replaces              []Key
	// StateOnly entries update bookkeeping without touching the schema
	StateOnly bool
	// DatabaseOnly entries touch the schema without being recorded
	DatabaseOnly bool
}

// New creates an atomic migration
func New(app, name string, ops ...Operation) *Migration {
	return &Migration{AppLabel: app, Name: name, Operations: ops, Atomic: true}
}

func (m *Migration) Key() Key { return Key{AppLabel: m.AppLabel, Name: m.Name} }

// Validate rejects malformed migrations
func (m *Migration) Validate() error {
	key := m.Key().String()
	fail := func(reason string) error {
		return &apperrors.InvalidMigrationError{Key: key, Reason: reason}
	}
	if m.AppLabel == "" {
		return fail("empty app label")
	}
	if m.Name == "" {
		return fail("empty name")
	}
	if m.StateOnly && m.DatabaseOnly {
		return fail("cannot be both state_only and database_only")
	}
	for _, dep := range m.Dependencies {
		if dep.AppLabel == "" || dep.Name == "" {
			return fail(fmt.Sprintf("malformed dependency %q", dep.String()))
		}
		if dep == m.Key() {
			return fail("depends on itself")
		}
	}
	for _, r := range m.Replaces {
		if r == m.Key() {
			return fail("replaces itself")
		}
	}
	for i, op := range m.Operations {
		if op == nil {
			return fail(fmt.Sprintf("operation %d is nil", i))
		}
	}
	return nil
}

// Apply replays the migration's operations onto s
func Apply(s *state.ProjectState, m *Migration) error {
	for i, op := range m.Operations {
		if err := op.StateForwards(s); err != nil {
			return fmt.Errorf("failed to apply %s operation %d (%s): %w", m.Key(), i, op.Describe(), err)
		}
	}
	return nil
}

// Replay rebuilds a project state from migrations given in dependency order
func Replay(migrations []*Migration) (*state.ProjectState, error) {
	s := state.NewProjectState()
	for _, m := range migrations {
		if err := Apply(s, m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Unapply returns the operations that undo m, in execution order, given the
// state before m was applied
func Unapply(before *state.ProjectState, m *Migration) ([]Operation, error) {
	s := before.Clone()
	reversed := make([]Operation, 0, len(m.Operations))
	for i, op := range m.Operations {
		inverse, err := op.Reverse(s)
		if err != nil {
			var irr *apperrors.IrreversibleError
			if errors.As(err, &irr) {
				irr.Migration = m.Key().String()
			}
			return nil, err
		}
		reversed = append(reversed, inverse)
		if err := op.StateForwards(s); err != nil {
			return nil, fmt.Errorf("failed to apply %s operation %d (%s): %w", m.Key(), i, op.Describe(), err)
		}
	}
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	return reversed, nil
}
