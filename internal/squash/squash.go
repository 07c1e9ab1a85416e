// Package squash folds a run of migrations into one replacement migration.
package squash

import (
	"fmt"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/graph"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// DefaultName names the squash of first..last
func DefaultName(first, last migration.Key) string {
	return fmt.Sprintf("%s_squashed_%s", first.Name, last.Name)
}

func invalid(key migration.Key, format string, args ...interface{}) error {
	return &apperrors.InvalidMigrationError{Key: key.String(), Reason: fmt.Sprintf(format, args...)}
}

// Squash builds the migration that replaces run. run must be one app's
// migrations in order, each depending on the one before it. Dependencies
// that point outside the run are kept; the operations are the run's
// operations passed through migration.Optimize.
func Squash(run []*migration.Migration, name string) (*migration.Migration, error) {
	if len(run) < 2 {
		return nil, &apperrors.InvalidMigrationError{Reason: "need at least two migrations to squash"}
	}
	app := run[0].AppLabel
	if name == "" {
		name = DefaultName(run[0].Key(), run[len(run)-1].Key())
	}
	key := migration.Key{AppLabel: app, Name: name}

	inRun := make(map[migration.Key]bool, len(run))
	for i, m := range run {
		if m.AppLabel != app {
			return nil, invalid(key, "%s belongs to app %s, expected %s", m.Key(), m.AppLabel, app)
		}
		if i > 0 && !dependsOn(m, run[i-1].Key()) {
			return nil, invalid(key, "%s does not depend on %s", m.Key(), run[i-1].Key())
		}
		if m.StateOnly != run[0].StateOnly || m.DatabaseOnly != run[0].DatabaseOnly {
			return nil, invalid(key, "%s mixes state-only or database-only migrations", m.Key())
		}
		inRun[m.Key()] = true
	}
	if inRun[key] {
		return nil, invalid(key, "name collides with a squashed migration")
	}

	out := &migration.Migration{
		AppLabel:     app,
		Name:         name,
		Atomic:       true,
		Initial:      run[0].Initial,
		StateOnly:    run[0].StateOnly,
		DatabaseOnly: run[0].DatabaseOnly,
	}
	seen := map[migration.Key]bool{}
	seenOptional := map[migration.Key]bool{}
	seenSwappable := map[migration.SwappableDependency]bool{}
	var ops []migration.Operation
	for _, m := range run {
		out.Atomic = out.Atomic && m.Atomic
		ops = append(ops, m.Operations...)

		// already squashed migrations contribute what they replace
		if len(m.Replaces) > 0 {
			out.Replaces = append(out.Replaces, m.Replaces...)
		} else {
			out.Replaces = append(out.Replaces, m.Key())
		}

		for _, d := range m.Dependencies {
			if !inRun[d] && !seen[d] {
				seen[d] = true
				out.Dependencies = append(out.Dependencies, d)
			}
		}
		for _, d := range m.OptionalDependencies {
			if !inRun[d] && !seenOptional[d] {
				seenOptional[d] = true
				out.OptionalDependencies = append(out.OptionalDependencies, d)
			}
		}
		for _, d := range m.SwappableDependencies {
			if !seenSwappable[d] {
				seenSwappable[d] = true
				out.SwappableDependencies = append(out.SwappableDependencies, d)
			}
		}
	}
	out.Operations = migration.Optimize(ops)
	return out, nil
}

func dependsOn(m *migration.Migration, k migration.Key) bool {
	for _, d := range m.Dependencies {
		if d == k {
			return true
		}
	}
	return false
}

// Run selects app's migrations from..to (inclusive) in graph order. An
// empty from starts at the app's first migration.
func Run(g *graph.Graph, app, from, to string) ([]*migration.Migration, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	var run []*migration.Migration
	started := from == ""
	for _, k := range order {
		if k.AppLabel != app {
			continue
		}
		if k.Name == from {
			started = true
		}
		if !started {
			continue
		}
		m, _ := g.Node(k)
		// an existing squash of part of the range is not squashed again
		if len(m.Replaces) > 0 && k.Name != from && k.Name != to {
			continue
		}
		run = append(run, m)
		if k.Name == to {
			return run, nil
		}
	}
	if !started {
		return nil, &apperrors.NodeNotFoundError{Message: "squash start not found", Node: app + "." + from}
	}
	return nil, &apperrors.NodeNotFoundError{Message: "squash end not found after start", Node: app + "." + to}
}

// Verify checks that the squashed migration reaches the same state as the
// run it replaces when both start from base
func Verify(base *state.ProjectState, run []*migration.Migration, squashed *migration.Migration) error {
	if base == nil {
		base = state.NewProjectState()
	}
	want := base.Clone()
	for _, m := range run {
		if err := migration.Apply(want, m); err != nil {
			return fmt.Errorf("failed to apply %s: %w", m.Key(), err)
		}
	}
	got := base.Clone()
	if err := migration.Apply(got, squashed); err != nil {
		return fmt.Errorf("failed to apply %s: %w", squashed.Key(), err)
	}
	if !got.Equal(want) {
		return invalid(squashed.Key(), "squashed operations do not reproduce the original state")
	}
	return nil
}
