// Package multiphase splits a risky operation into ordered phases. Each phase
// is a deployable migration depending on the previous phase's migration.
package multiphase

import (
	"fmt"
	"sort"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/locks"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// Pattern names
const (
	PatternNotNullColumn  = "not_null_column"
	PatternExpandContract = "expand_contract"
	PatternTypeChange     = "type_change"
	PatternDeprecation    = "deprecation"
)

// Phase is one deployable step of a Plan
type Phase struct {
	Number              int                  `json:"phase"`
	Name                string               `json:"name"`
	Description         string               `json:"description"`
	RequiresCodeDeploy  bool                 `json:"requires_code_deploy"`
	CodeChangesRequired []string             `json:"code_changes_required,omitempty"`
	Verification        []string             `json:"verification,omitempty"`
	LockImpact          string               `json:"lock_impact"`
	Migration           *migration.Migration `json:"-"`
}

// Plan is the phased replacement for a single operation
type Plan struct {
	Operation   migration.Operation `json:"-"`
	Pattern     string              `json:"pattern"`
	Description string              `json:"description"`
	Phases      []Phase             `json:"phases"`
	SafetyNotes []string            `json:"safety_notes,omitempty"`
}

// Migrations returns the phase migrations in order
func (p *Plan) Migrations() []*migration.Migration {
	out := make([]*migration.Migration, len(p.Phases))
	for i := range p.Phases {
		out[i] = p.Phases[i].Migration
	}
	return out
}

// Options name the phase migrations
type Options struct {
	// BaseName prefixes every phase migration name; phase migrations are
	// named <base>_phase<N>_<phase name>
	BaseName string
	// Dependencies of the first phase
	Dependencies []migration.Key
	// Backfill is the SQL expression used to fill the new column. Required
	// for not_null_column; type_change defaults to a CAST of the old column.
	Backfill string
}

// Detect names the pattern op needs, or "" when op can run as is
func Detect(op migration.Operation, before *state.ProjectState) string {
	switch o := op.(type) {
	case *migration.AddField:
		if _, ok := before.GetModel(o.App, o.Model); !ok {
			return ""
		}
		if !o.Field.Nullable && o.Field.Default() == nil && !o.Field.IsPrimaryKey() {
			return PatternNotNullColumn
		}
	case *migration.RenameField:
		if m, ok := before.GetModel(o.App, o.Model); ok && m.HasField(o.OldName) {
			return PatternExpandContract
		}
	case *migration.AlterField:
		if m, ok := before.GetModel(o.App, o.Model); ok {
			if old, ok := m.GetField(o.Field.Name); ok && old.ColumnType() != o.Field.ColumnType() {
				return PatternTypeChange
			}
		}
	case *migration.DeleteModel:
		if _, ok := before.GetModel(o.App, o.Name); ok {
			return PatternDeprecation
		}
	}
	return ""
}

// IsRisky reports whether op matches a phased pattern and takes a lock that
// blocks writes on an existing table
func IsRisky(op migration.Operation, before *state.ProjectState) bool {
	return Detect(op, before) != "" && locks.ForOperation(op, before).BlocksWrites
}

// Split produces the phased plan for op
func Split(op migration.Operation, before *state.ProjectState, opts Options) (*Plan, error) {
	if before == nil {
		before = state.NewProjectState()
	}
	if opts.BaseName == "" {
		return nil, &apperrors.InvalidMigrationError{Reason: "phase migrations need a base name"}
	}

	var (
		plan *Plan
		err  error
	)
	switch pattern := Detect(op, before); pattern {
	case PatternNotNullColumn:
		plan, err = splitNotNull(op.(*migration.AddField), before, opts)
	case PatternExpandContract:
		plan, err = splitRename(op.(*migration.RenameField), before, opts)
	case PatternTypeChange:
		plan, err = splitTypeChange(op.(*migration.AlterField), before, opts)
	case PatternDeprecation:
		plan, err = splitDeprecation(op.(*migration.DeleteModel), before, opts)
	default:
		return nil, &apperrors.InvalidMigrationError{Reason: fmt.Sprintf("%s does not need a phased migration", op.Describe())}
	}
	if err != nil {
		return nil, err
	}
	plan.Operation = op
	return plan, nil
}

// builder chains phase migrations and tracks the state each phase runs on
type builder struct {
	app    string
	opts   Options
	state  *state.ProjectState
	phases []Phase
}

func newBuilder(app string, before *state.ProjectState, opts Options) *builder {
	return &builder{app: app, opts: opts, state: before.Clone()}
}

func (b *builder) add(p Phase, ops ...migration.Operation) error {
	p.Number = len(b.phases) + 1
	m := migration.New(b.app, fmt.Sprintf("%s_phase%d_%s", b.opts.BaseName, p.Number, p.Name), ops...)
	if p.Number == 1 {
		m.Dependencies = append([]migration.Key(nil), b.opts.Dependencies...)
	} else {
		m.Dependencies = []migration.Key{b.phases[p.Number-2].Migration.Key()}
	}

	impacts, err := locks.Analyze(b.state, ops)
	if err != nil {
		return fmt.Errorf("failed to analyze phase %d: %w", p.Number, err)
	}
	p.LockImpact = "None"
	if li, ok := locks.Strongest(impacts); ok {
		p.LockImpact = fmt.Sprintf("%s (%s)", li.Lock, li.Explanation)
	}
	if err := migration.Apply(b.state, m); err != nil {
		return err
	}

	p.Migration = m
	b.phases = append(b.phases, p)
	return nil
}

func quote(name string) string { return `"` + name + `"` }

func tableOf(before *state.ProjectState, app, model string) string {
	if m, ok := before.GetModel(app, model); ok {
		return m.TableName()
	}
	return state.DefaultTableName(app, model)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
