package planner

import (
	"fmt"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/graph"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// Target selects where a plan ends
type Target struct {
	key    migration.Key
	app    string
	latest bool
}

// Latest targets every leaf of the graph
func Latest() Target { return Target{latest: true} }

// Zero targets the point before the app's first migration
func Zero(app string) Target { return Target{app: app} }

// To targets one migration
func To(key migration.Key) Target { return Target{key: key} }

func (t Target) String() string {
	switch {
	case t.latest:
		return "latest"
	case t.app != "":
		return t.app + ".zero"
	default:
		return t.key.String()
	}
}

// Options tune plan construction
type Options struct {
	// Fake marks every entry as fake: the ledger is updated, the schema is not
	Fake            bool
	TransactionMode TransactionMode
}

// Build walks g from the applied set to target. Forward plans hold the
// unapplied target and its unapplied ancestors in topological order.
// Backward plans hold the applied migrations depending on the target (the
// target itself stays applied), or for Zero every applied migration of the
// app and its applied dependents, in reverse topological order. Squashed
// migrations are resolved through graph.Collapse before walking.
//
// All errors are returned before any entry is produced: a missing target is
// NodeNotFound, an operation without an inverse in a backward plan is
// Irreversible, and WholePlan mode with a non-atomic entry is InvalidMigration.
func Build(g *graph.Graph, applied map[migration.Key]bool, target Target, direction Direction, opts Options) (*MigrationPlan, error) {
	effective := g.EffectiveApplied(applied)
	collapsed, err := g.Collapse(effective)
	if err != nil {
		return nil, err
	}
	order, err := collapsed.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	var plan *MigrationPlan
	switch direction {
	case Forward:
		plan, err = buildForward(collapsed, order, effective, target, opts)
	case Backward:
		plan, err = buildBackward(collapsed, order, effective, target, opts)
	default:
		err = fmt.Errorf("unknown direction %d", direction)
	}
	if err != nil {
		return nil, err
	}
	plan.Mode = opts.TransactionMode

	if opts.TransactionMode == WholePlan {
		for _, e := range plan.Entries {
			if e.TouchesSchema() && !e.Atomic {
				return nil, &apperrors.InvalidMigrationError{
					Key:    e.Key().String(),
					Reason: "non-atomic migration cannot run in a whole-plan transaction",
				}
			}
		}
	}
	return plan, nil
}

// resolve maps a target key onto the collapsed graph
func resolve(g *graph.Graph, key migration.Key) (migration.Key, error) {
	if g.Has(key) {
		return key, nil
	}
	if r, ok := g.Replacement(key); ok && g.Has(r) {
		return r, nil
	}
	return migration.Key{}, &apperrors.NodeNotFoundError{Message: "target migration not found", Node: key.String()}
}

// replayApplied rebuilds the state of the applied nodes, in order, leaving
// out skip
func replayApplied(g *graph.Graph, order []migration.Key, applied, skip map[migration.Key]bool) (*state.ProjectState, error) {
	s := state.NewProjectState()
	for _, k := range order {
		if !applied[k] || skip[k] {
			continue
		}
		m, _ := g.Node(k)
		if err := migration.Apply(s, m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func buildForward(g *graph.Graph, order []migration.Key, applied map[migration.Key]bool, target Target, opts Options) (*MigrationPlan, error) {
	want := make(map[migration.Key]bool)
	switch {
	case target.latest:
		for _, k := range order {
			want[k] = true
		}
	case target.app != "":
		return nil, &apperrors.InvalidMigrationError{Reason: fmt.Sprintf("cannot migrate forward to %s", target)}
	default:
		k, err := resolve(g, target.key)
		if err != nil {
			return nil, err
		}
		want[k] = true
		for _, a := range g.Ancestors(k) {
			want[a] = true
		}
	}

	s, err := replayApplied(g, order, applied, nil)
	if err != nil {
		return nil, err
	}

	plan := &MigrationPlan{Direction: Forward}
	for _, k := range order {
		if !want[k] || applied[k] {
			continue
		}
		m, _ := g.Node(k)
		entry := newEntry(m, Forward, opts)
		entry.Operations = m.Operations
		entry.Before = s.Clone()
		if err := migration.Apply(s, m); err != nil {
			return nil, err
		}
		plan.Entries = append(plan.Entries, entry)
	}
	plan.After = s
	return plan, nil
}

func buildBackward(g *graph.Graph, order []migration.Key, applied map[migration.Key]bool, target Target, opts Options) (*MigrationPlan, error) {
	drop := make(map[migration.Key]bool)
	switch {
	case target.latest:
		return nil, &apperrors.InvalidMigrationError{Reason: "cannot migrate backward to latest"}
	case target.app != "":
		for _, k := range order {
			if k.AppLabel != target.app {
				continue
			}
			drop[k] = true
			for _, d := range g.Descendants(k) {
				drop[d] = true
			}
		}
	default:
		k, err := resolve(g, target.key)
		if err != nil {
			return nil, err
		}
		for _, d := range g.Descendants(k) {
			drop[d] = true
		}
	}

	plan := &MigrationPlan{Direction: Backward}
	removed := make(map[migration.Key]bool)
	for i := len(order) - 1; i >= 0; i-- {
		k := order[i]
		if !drop[k] || !applied[k] {
			continue
		}
		m, _ := g.Node(k)

		current, err := replayApplied(g, order, applied, removed)
		if err != nil {
			return nil, err
		}
		removed[k] = true
		before, err := replayApplied(g, order, applied, removed)
		if err != nil {
			return nil, err
		}
		ops, err := migration.Unapply(before, m)
		if err != nil {
			return nil, fmt.Errorf("failed to plan unapply of %s: %w", k, err)
		}

		entry := newEntry(m, Backward, opts)
		entry.Operations = ops
		entry.Before = current
		plan.Entries = append(plan.Entries, entry)
	}

	after, err := replayApplied(g, order, applied, removed)
	if err != nil {
		return nil, err
	}
	plan.After = after
	return plan, nil
}

func newEntry(m *migration.Migration, d Direction, opts Options) *PlanEntry {
	return &PlanEntry{
		Migration:    m,
		Direction:    d,
		Atomic:       m.Atomic,
		Fake:         opts.Fake,
		StateOnly:    m.StateOnly,
		DatabaseOnly: m.DatabaseOnly,
	}
}
