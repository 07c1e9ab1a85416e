// Package autodetect infers the operations that turn the replayed project
// state into the declared models.
package autodetect

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/graph"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// Registry supplies the declared models
type Registry interface {
	DeclaredModels() []*state.ModelState
}

// Autodetector diffs Current against the models Desired declares
type Autodetector struct {
	Current  *state.ProjectState
	Desired  Registry
	Config   SimilarityConfig
	Resolver RenameResolver // nil means AutoResolver
	// Recorded migrations are checked for operations identical to the
	// detected ones
	Recorded []*migration.Migration
	Logger   *zap.Logger
}

// Changes is the result of Detect
type Changes struct {
	Operations []migration.Operation
	// RenameCandidates lists every rename that was offered to the resolver
	RenameCandidates []RenameCandidate
	// Renames are the candidates the resolver accepted
	Renames []RenameCandidate
}

// IsEmpty reports whether nothing changed
func (c *Changes) IsEmpty() bool { return len(c.Operations) == 0 }

// Apps returns the app labels the operations touch, sorted
func (c *Changes) Apps() []string {
	seen := make(map[string]bool)
	for _, op := range c.Operations {
		if app := opApp(op); app != "" {
			seen[app] = true
		}
	}
	apps := make([]string, 0, len(seen))
	for app := range seen {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}

// ForApp returns the operations that belong to app, in order
func (c *Changes) ForApp(app string) []migration.Operation {
	var ops []migration.Operation
	for _, op := range c.Operations {
		if opApp(op) == app {
			ops = append(ops, op)
		}
	}
	return ops
}

func opApp(op migration.Operation) string {
	switch o := op.(type) {
	case *migration.CreateModel:
		return o.App
	case *migration.DeleteModel:
		return o.App
	case *migration.RenameModel:
		return o.App
	case *migration.AddField:
		return o.App
	case *migration.RemoveField:
		return o.App
	case *migration.AlterField:
		return o.App
	case *migration.RenameField:
		return o.App
	case *migration.AddIndex:
		return o.App
	case *migration.RemoveIndex:
		return o.App
	case *migration.AddConstraint:
		return o.App
	case *migration.RemoveConstraint:
		return o.App
	case *migration.CreateExtension, *migration.DropExtension, *migration.RunSQL:
		return ""
	default:
		panic(fmt.Sprintf("unhandled operation %T", op))
	}
}

func (a *Autodetector) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func (a *Autodetector) resolver() RenameResolver {
	if a.Resolver == nil {
		return AutoResolver{}
	}
	return a.Resolver
}

// Detect computes the ordered operations. Renames are resolved first (models,
// then fields) and applied to a working copy of Current, which is then diffed
// against the desired state. Operation order:
//
//	RenameModel, RenameField, CreateModel (referenced models first),
//	AddField, AlterField, RemoveIndex/RemoveConstraint,
//	AddIndex/AddConstraint, RemoveField, DeleteModel (referencing models first)
func (a *Autodetector) Detect() (*Changes, error) {
	current := a.Current
	if current == nil {
		current = state.NewProjectState()
	}
	desired := state.NewProjectState()
	if a.Desired != nil {
		for _, m := range a.Desired.DeclaredModels() {
			desired.AddModel(m)
		}
	}

	working := current.Clone()
	changes := &Changes{}
	var ops []migration.Operation

	modelRenames, err := a.resolveRenames(changes, a.modelCandidates(working, desired))
	if err != nil {
		return nil, err
	}
	for _, c := range modelRenames {
		op := &migration.RenameModel{App: c.App, OldName: c.OldName, NewName: c.NewName}
		if err := op.StateForwards(working); err != nil {
			return nil, fmt.Errorf("failed to apply rename %s: %w", c, err)
		}
		ops = append(ops, op)
	}

	fieldRenames, err := a.resolveRenames(changes, a.fieldCandidates(working, desired))
	if err != nil {
		return nil, err
	}
	for _, c := range fieldRenames {
		op := &migration.RenameField{App: c.App, Model: c.Model, OldName: c.OldName, NewName: c.NewName}
		if err := op.StateForwards(working); err != nil {
			return nil, fmt.Errorf("failed to apply rename %s: %w", c, err)
		}
		ops = append(ops, op)
	}

	ops = append(ops, diffStates(working, desired)...)
	changes.Operations = ops

	if err := a.checkDuplicates(changes); err != nil {
		return nil, err
	}
	a.logger().Debug("detected changes",
		zap.Int("operations", len(changes.Operations)),
		zap.Int("rename_candidates", len(changes.RenameCandidates)),
		zap.Int("renames", len(changes.Renames)))
	return changes, nil
}

func (a *Autodetector) resolveRenames(changes *Changes, candidates []RenameCandidate) ([]RenameCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	changes.RenameCandidates = append(changes.RenameCandidates, candidates...)

	accepted, err := a.resolver().Resolve(append([]RenameCandidate(nil), candidates...))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve renames: %w", err)
	}
	if err := checkResolution(candidates, accepted); err != nil {
		return nil, err
	}
	accepted = append([]RenameCandidate(nil), accepted...)
	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].sortKey() < accepted[j].sortKey() })
	for _, c := range accepted {
		a.logger().Info("accepted rename", zap.String("rename", c.String()))
	}
	changes.Renames = append(changes.Renames, accepted...)
	return accepted, nil
}

// modelCandidates pairs models only in current with models only in desired
// within the same app
func (a *Autodetector) modelCandidates(current, desired *state.ProjectState) []RenameCandidate {
	var deleted, created []*state.ModelState
	for _, m := range current.Models() {
		if _, ok := desired.GetModel(m.AppLabel, m.Name); !ok {
			deleted = append(deleted, m)
		}
	}
	for _, m := range desired.Models() {
		if _, ok := current.GetModel(m.AppLabel, m.Name); !ok {
			created = append(created, m)
		}
	}

	var out []RenameCandidate
	for _, from := range deleted {
		for _, to := range created {
			if from.AppLabel != to.AppLabel {
				continue
			}
			score := a.Config.ModelSimilarity(from, to)
			if score < a.Config.ModelThreshold() {
				continue
			}
			out = append(out, RenameCandidate{
				Kind: RenameModelKind, App: from.AppLabel,
				OldName: from.Name, NewName: to.Name, Score: score,
			})
		}
	}
	sortCandidates(out)
	return out
}

// fieldCandidates pairs removed and added fields of models present on both sides
func (a *Autodetector) fieldCandidates(current, desired *state.ProjectState) []RenameCandidate {
	var out []RenameCandidate
	for _, to := range desired.Models() {
		from, ok := current.GetModel(to.AppLabel, to.Name)
		if !ok {
			continue
		}
		for _, oldName := range from.FieldNames() {
			if to.HasField(oldName) {
				continue
			}
			for _, newName := range to.FieldNames() {
				if from.HasField(newName) {
					continue
				}
				score := a.Config.FieldSimilarity(from.Fields[oldName], to.Fields[newName])
				if score < a.Config.FieldThreshold() {
					continue
				}
				out = append(out, RenameCandidate{
					Kind: RenameFieldKind, App: to.AppLabel, Model: to.Name,
					OldName: oldName, NewName: newName, Score: score,
				})
			}
		}
	}
	sortCandidates(out)
	return out
}

// diffStates emits the rename-free operations turning current into desired
func diffStates(current, desired *state.ProjectState) []migration.Operation {
	var (
		creates, addFields, alterFields []migration.Operation
		removeIdx, addIdx, removeFields []migration.Operation
		created, deleted                []*state.ModelState
	)

	for _, to := range desired.Models() {
		from, ok := current.GetModel(to.AppLabel, to.Name)
		if !ok {
			created = append(created, to)
			continue
		}

		for _, name := range to.FieldNames() {
			f := to.Fields[name]
			old, exists := from.Fields[name]
			switch {
			case !exists:
				addFields = append(addFields, &migration.AddField{App: to.AppLabel, Model: to.Name, Field: f.Clone()})
			case !old.Equal(f):
				alterFields = append(alterFields, &migration.AlterField{App: to.AppLabel, Model: to.Name, Field: f.Clone()})
			}
		}
		for _, name := range from.FieldNames() {
			if !to.HasField(name) {
				removeFields = append(removeFields, &migration.RemoveField{App: to.AppLabel, Model: to.Name, Name: name})
			}
		}

		removed, added := diffIndexes(from, to)
		removeIdx = append(removeIdx, removed...)
		addIdx = append(addIdx, added...)
	}

	for _, m := range orderByReferences(created) {
		create := &migration.CreateModel{App: m.AppLabel, Name: m.Name, Table: m.Table}
		for _, name := range primaryKeyFirst(m) {
			create.Fields = append(create.Fields, m.Fields[name].Clone())
		}
		creates = append(creates, create)
		_, added := diffIndexes(&state.ModelState{AppLabel: m.AppLabel, Name: m.Name}, m)
		addIdx = append(addIdx, added...)
	}

	for _, m := range current.Models() {
		if _, ok := desired.GetModel(m.AppLabel, m.Name); !ok {
			deleted = append(deleted, m)
		}
	}
	ordered := orderByReferences(deleted)
	deletes := make([]migration.Operation, 0, len(ordered))
	for i := len(ordered) - 1; i >= 0; i-- {
		deletes = append(deletes, &migration.DeleteModel{App: ordered[i].AppLabel, Name: ordered[i].Name})
	}

	var ops []migration.Operation
	for _, group := range [][]migration.Operation{creates, addFields, alterFields, removeIdx, addIdx, removeFields, deletes} {
		ops = append(ops, group...)
	}
	return ops
}

// diffIndexes compares index and constraint maps; a changed definition is
// removed and re-added
func diffIndexes(from, to *state.ModelState) (removed, added []migration.Operation) {
	app, model := to.AppLabel, to.Name

	for _, name := range sortedKeys(from.Indexes) {
		if idx, ok := to.Indexes[name]; !ok || !sameIndex(idx, from.Indexes[name]) {
			removed = append(removed, &migration.RemoveIndex{App: app, Model: model, Name: name})
		}
	}
	for _, name := range sortedKeys(from.Constraints) {
		if c, ok := to.Constraints[name]; !ok || !sameConstraint(c, from.Constraints[name]) {
			removed = append(removed, &migration.RemoveConstraint{App: app, Model: model, Name: name})
		}
	}
	for _, name := range sortedKeys(to.Indexes) {
		idx := to.Indexes[name]
		if old, ok := from.Indexes[name]; ok && sameIndex(old, idx) {
			continue
		}
		idx.Columns = append([]string(nil), idx.Columns...)
		added = append(added, &migration.AddIndex{App: app, Model: model, Index: idx})
	}
	for _, name := range sortedKeys(to.Constraints) {
		c := to.Constraints[name]
		if old, ok := from.Constraints[name]; ok && sameConstraint(old, c) {
			continue
		}
		c.Columns = append([]string(nil), c.Columns...)
		added = append(added, &migration.AddConstraint{App: app, Model: model, Constraint: c})
	}
	return removed, added
}

// orderByReferences sorts models so each follows the models it references;
// self references and cycles fall back to key order
func orderByReferences(models []*state.ModelState) []*state.ModelState {
	byKey := make(map[string]*state.ModelState, len(models))
	keys := make([]string, 0, len(models))
	for _, m := range models {
		byKey[m.Key().String()] = m
		keys = append(keys, m.Key().String())
	}
	sort.Strings(keys)

	var out []*state.ModelState
	marks := make(map[string]bool)
	var visit func(key string)
	visit = func(key string) {
		if marks[key] {
			return
		}
		marks[key] = true
		m := byKey[key]
		var refs []string
		for _, name := range m.FieldNames() {
			ref := m.Fields[name].References()
			if _, ok := byKey[ref]; ok && ref != key {
				refs = append(refs, ref)
			}
		}
		sort.Strings(refs)
		for _, ref := range refs {
			visit(ref)
		}
		out = append(out, m)
	}
	for _, key := range keys {
		visit(key)
	}
	return out
}

func primaryKeyFirst(m *state.ModelState) []string {
	names := m.FieldNames()
	sort.SliceStable(names, func(i, j int) bool {
		return m.Fields[names[i]].IsPrimaryKey() && !m.Fields[names[j]].IsPrimaryKey()
	})
	return names
}

// checkDuplicates fails when an app's detected operations equal the
// operations of one of its recorded migrations
func (a *Autodetector) checkDuplicates(changes *Changes) error {
	if changes.IsEmpty() {
		return nil
	}
	for _, app := range changes.Apps() {
		ops := changes.ForApp(app)
		for _, m := range a.Recorded {
			if m.AppLabel == app && migration.Equivalent(ops, m.Operations) {
				return &apperrors.DuplicateOperationsError{Existing: m.Key().String()}
			}
		}
	}
	return nil
}

// MakeMigration wraps the app's detected operations in a migration that
// depends on the app's current leaf migrations and on the leaves of every
// other app its operations reference. It returns false when the app has no
// operations.
func MakeMigration(app, name string, changes *Changes, g *graph.Graph) (*migration.Migration, bool) {
	ops := changes.ForApp(app)
	if len(ops) == 0 {
		return nil, false
	}
	m := migration.New(app, name, ops...)

	deps := make(map[migration.Key]bool)
	if g != nil {
		for _, leaf := range g.LeafNodes(app) {
			deps[leaf] = true
		}
		for _, op := range ops {
			for _, ref := range op.References() {
				if ref.AppLabel == app {
					continue
				}
				for _, leaf := range g.LeafNodes(ref.AppLabel) {
					deps[leaf] = true
				}
			}
		}
	}
	for k := range deps {
		m.Dependencies = append(m.Dependencies, k)
	}
	sort.Slice(m.Dependencies, func(i, j int) bool { return m.Dependencies[i].Less(m.Dependencies[j]) })
	m.Initial = g == nil || len(g.LeafNodes(app)) == 0
	return m, true
}
