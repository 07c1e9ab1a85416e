package migration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/state"
)

// Kind names an Operation variant
type Kind string

const (
	KindCreateModel      Kind = "CreateModel"
	KindDeleteModel      Kind = "DeleteModel"
	KindRenameModel      Kind = "RenameModel"
	KindAddField         Kind = "AddField"
	KindRemoveField      Kind = "RemoveField"
	KindAlterField       Kind = "AlterField"
	KindRenameField      Kind = "RenameField"
	KindAddIndex         Kind = "AddIndex"
	KindRemoveIndex      Kind = "RemoveIndex"
	KindAddConstraint    Kind = "AddConstraint"
	KindRemoveConstraint Kind = "RemoveConstraint"
	KindCreateExtension  Kind = "CreateExtension"
	KindDropExtension    Kind = "DropExtension"
	KindRunSQL           Kind = "RunSQL"
)

// Operation is a single schema change. The set of implementations is closed;
// consumers switch over the concrete types.
type Operation interface {
	Kind() Kind
	Describe() string
	// StateForwards applies the change to s
	StateForwards(s *state.ProjectState) error
	// Reverse returns the operation undoing this one, given the state before it ran
	Reverse(before *state.ProjectState) (Operation, error)
	// References lists the models the operation touches or points at
	References() []state.ModelKey

	isOperation()
}

func invalid(format string, args ...interface{}) error {
	return &apperrors.InvalidMigrationError{Reason: fmt.Sprintf(format, args...)}
}

func irreversible(op Operation) error {
	return &apperrors.IrreversibleError{Operation: op.Describe()}
}

func getModel(s *state.ProjectState, app, name string) (*state.ModelState, error) {
	m, ok := s.GetModel(app, name)
	if !ok {
		return nil, invalid("model %s.%s does not exist", app, name)
	}
	return m, nil
}

func checkColumns(m *state.ModelState, what string, columns []string) error {
	for _, col := range columns {
		if !m.HasField(col) {
			return invalid("%s on %s.%s uses unknown field %s", what, m.AppLabel, m.Name, col)
		}
	}
	return nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fieldRefs(app, model string, f state.FieldState) []state.ModelKey {
	refs := []state.ModelKey{{AppLabel: app, Name: model}}
	if target, ok := state.ParseModelKey(f.References()); ok {
		refs = append(refs, target)
	}
	return refs
}

// CreateModel creates a model and its table, with any indexes and
// constraints declared alongside it
type CreateModel struct {
	App         string                `json:"app" yaml:"app"`
	Name        string                `json:"name" yaml:"name"`
	Table       string                `json:"table,omitempty" yaml:"table,omitempty"`
	Fields      []state.FieldState    `json:"fields" yaml:"fields"`
	Indexes     []database.Index      `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	Constraints []database.Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

func (op *CreateModel) isOperation() {}
func (op *CreateModel) Kind() Kind   { return KindCreateModel }
func (op *CreateModel) Describe() string {
	return fmt.Sprintf("Create model %s.%s", op.App, op.Name)
}

// Model returns the model the operation creates
func (op *CreateModel) Model() *state.ModelState {
	m := state.NewModelState(op.App, op.Name, op.Fields...)
	m.Table = op.Table
	for _, idx := range op.Indexes {
		if m.Indexes == nil {
			m.Indexes = make(map[string]database.Index)
		}
		idx.Columns = append([]string(nil), idx.Columns...)
		m.Indexes[idx.Name] = idx
	}
	for _, c := range op.Constraints {
		if m.Constraints == nil {
			m.Constraints = make(map[string]database.Constraint)
		}
		m.Constraints[c.Name] = c.Clone()
	}
	return m
}

func (op *CreateModel) StateForwards(s *state.ProjectState) error {
	if _, ok := s.GetModel(op.App, op.Name); ok {
		return invalid("model %s.%s already exists", op.App, op.Name)
	}
	m := op.Model()
	for _, idx := range op.Indexes {
		if err := checkColumns(m, "index "+idx.Name, idx.Columns); err != nil {
			return err
		}
	}
	for _, c := range op.Constraints {
		if err := checkColumns(m, "constraint "+c.Name, c.Columns); err != nil {
			return err
		}
	}
	s.AddModel(m)
	return nil
}

func (op *CreateModel) Reverse(*state.ProjectState) (Operation, error) {
	return &DeleteModel{App: op.App, Name: op.Name}, nil
}

func (op *CreateModel) References() []state.ModelKey {
	refs := []state.ModelKey{{AppLabel: op.App, Name: op.Name}}
	for _, f := range op.Fields {
		if target, ok := state.ParseModelKey(f.References()); ok {
			refs = append(refs, target)
		}
	}
	return refs
}

// DeleteModel drops a model and its table
type DeleteModel struct {
	App  string `json:"app" yaml:"app"`
	Name string `json:"name" yaml:"name"`
}

func (op *DeleteModel) isOperation() {}
func (op *DeleteModel) Kind() Kind   { return KindDeleteModel }
func (op *DeleteModel) Describe() string {
	return fmt.Sprintf("Delete model %s.%s", op.App, op.Name)
}

func (op *DeleteModel) StateForwards(s *state.ProjectState) error {
	if _, err := getModel(s, op.App, op.Name); err != nil {
		return err
	}
	s.RemoveModel(op.App, op.Name)
	return nil
}

func (op *DeleteModel) Reverse(before *state.ProjectState) (Operation, error) {
	m, ok := before.GetModel(op.App, op.Name)
	if !ok {
		return nil, irreversible(op)
	}
	create := &CreateModel{App: m.AppLabel, Name: m.Name, Table: m.Table}
	for _, name := range m.FieldNames() {
		create.Fields = append(create.Fields, m.Fields[name].Clone())
	}
	for _, name := range sortedNames(m.Indexes) {
		idx := m.Indexes[name]
		idx.Columns = append([]string(nil), idx.Columns...)
		create.Indexes = append(create.Indexes, idx)
	}
	for _, name := range sortedNames(m.Constraints) {
		create.Constraints = append(create.Constraints, m.Constraints[name].Clone())
	}
	return create, nil
}

func (op *DeleteModel) References() []state.ModelKey {
	return []state.ModelKey{{AppLabel: op.App, Name: op.Name}}
}

// RenameModel renames a model. The table follows the rename unless it was set explicitly.
type RenameModel struct {
	App     string `json:"app" yaml:"app"`
	OldName string `json:"old_name" yaml:"old_name"`
	NewName string `json:"new_name" yaml:"new_name"`
}

func (op *RenameModel) isOperation() {}
func (op *RenameModel) Kind() Kind   { return KindRenameModel }
func (op *RenameModel) Describe() string {
	return fmt.Sprintf("Rename model %s.%s to %s", op.App, op.OldName, op.NewName)
}

func (op *RenameModel) StateForwards(s *state.ProjectState) error {
	m, err := getModel(s, op.App, op.OldName)
	if err != nil {
		return err
	}
	if _, exists := s.GetModel(op.App, op.NewName); exists {
		return invalid("model %s.%s already exists", op.App, op.NewName)
	}
	renamed := m.Clone()
	renamed.Name = op.NewName
	s.RemoveModel(op.App, op.OldName)
	s.AddModel(renamed)
	if oldTable, newTable := m.TableName(), renamed.TableName(); oldTable != newTable {
		repointForeignKeys(s, oldTable, func(c *database.Constraint) { c.ReferencedTable = newTable })
	}

	// repoint references held by other models
	oldRef := op.App + "." + op.OldName
	for _, other := range s.Models() {
		for name, f := range other.Fields {
			if f.References() == oldRef {
				other.Fields[name] = f.WithParam(state.ParamReferences, op.App+"."+op.NewName)
			}
		}
	}
	return nil
}

func (op *RenameModel) Reverse(*state.ProjectState) (Operation, error) {
	return &RenameModel{App: op.App, OldName: op.NewName, NewName: op.OldName}, nil
}

func (op *RenameModel) References() []state.ModelKey {
	return []state.ModelKey{{AppLabel: op.App, Name: op.OldName}, {AppLabel: op.App, Name: op.NewName}}
}

// AddField adds a field (column) to a model
type AddField struct {
	App   string           `json:"app" yaml:"app"`
	Model string           `json:"model" yaml:"model"`
	Field state.FieldState `json:"field" yaml:"field"`
}

func (op *AddField) isOperation() {}
func (op *AddField) Kind() Kind   { return KindAddField }
func (op *AddField) Describe() string {
	return fmt.Sprintf("Add field %s to %s.%s", op.Field.Name, op.App, op.Model)
}

func (op *AddField) StateForwards(s *state.ProjectState) error {
	m, err := getModel(s, op.App, op.Model)
	if err != nil {
		return err
	}
	if m.HasField(op.Field.Name) {
		return invalid("field %s already exists on %s.%s", op.Field.Name, op.App, op.Model)
	}
	m.AddField(op.Field)
	return nil
}

func (op *AddField) Reverse(*state.ProjectState) (Operation, error) {
	return &RemoveField{App: op.App, Model: op.Model, Name: op.Field.Name}, nil
}

func (op *AddField) References() []state.ModelKey { return fieldRefs(op.App, op.Model, op.Field) }

// RemoveField drops a field (column) from a model
type RemoveField struct {
	App   string `json:"app" yaml:"app"`
	Model string `json:"model" yaml:"model"`
	Name  string `json:"name" yaml:"name"`
}

func (op *RemoveField) isOperation() {}
func (op *RemoveField) Kind() Kind   { return KindRemoveField }
func (op *RemoveField) Describe() string {
	return fmt.Sprintf("Remove field %s from %s.%s", op.Name, op.App, op.Model)
}

func (op *RemoveField) StateForwards(s *state.ProjectState) error {
	m, err := getModel(s, op.App, op.Model)
	if err != nil {
		return err
	}
	if !m.HasField(op.Name) {
		return invalid("field %s does not exist on %s.%s", op.Name, op.App, op.Model)
	}
	if dep := dependentOn(m, op.Name); dep != "" {
		return invalid("field %s on %s.%s is still used by %s", op.Name, op.App, op.Model, dep)
	}
	m.RemoveField(op.Name)
	return nil
}

// dependentOn names the first index or constraint that lists column
func dependentOn(m *state.ModelState, column string) string {
	for _, name := range sortedNames(m.Indexes) {
		if containsName(m.Indexes[name].Columns, column) {
			return "index " + name
		}
	}
	for _, name := range sortedNames(m.Constraints) {
		if containsName(m.Constraints[name].Columns, column) {
			return "constraint " + name
		}
	}
	return ""
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (op *RemoveField) Reverse(before *state.ProjectState) (Operation, error) {
	m, ok := before.GetModel(op.App, op.Model)
	if !ok {
		return nil, irreversible(op)
	}
	f, ok := m.GetField(op.Name)
	if !ok {
		return nil, irreversible(op)
	}
	return &AddField{App: op.App, Model: op.Model, Field: f}, nil
}

func (op *RemoveField) References() []state.ModelKey {
	return []state.ModelKey{{AppLabel: op.App, Name: op.Model}}
}

// AlterField replaces a field's definition; Field is the new definition
type AlterField struct {
	App   string           `json:"app" yaml:"app"`
	Model string           `json:"model" yaml:"model"`
	Field state.FieldState `json:"field" yaml:"field"`
}

func (op *AlterField) isOperation() {}
func (op *AlterField) Kind() Kind   { return KindAlterField }
func (op *AlterField) Describe() string {
	return fmt.Sprintf("Alter field %s on %s.%s", op.Field.Name, op.App, op.Model)
}

func (op *AlterField) StateForwards(s *state.ProjectState) error {
	m, err := getModel(s, op.App, op.Model)
	if err != nil {
		return err
	}
	if !m.HasField(op.Field.Name) {
		return invalid("field %s does not exist on %s.%s", op.Field.Name, op.App, op.Model)
	}
	m.AddField(op.Field)
	return nil
}

func (op *AlterField) Reverse(before *state.ProjectState) (Operation, error) {
	m, ok := before.GetModel(op.App, op.Model)
	if !ok {
		return nil, irreversible(op)
	}
	f, ok := m.GetField(op.Field.Name)
	if !ok {
		return nil, irreversible(op)
	}
	return &AlterField{App: op.App, Model: op.Model, Field: f}, nil
}

func (op *AlterField) References() []state.ModelKey { return fieldRefs(op.App, op.Model, op.Field) }

// RenameField renames a field (column)
type RenameField struct {
	App     string `json:"app" yaml:"app"`
	Model   string `json:"model" yaml:"model"`
	OldName string `json:"old_name" yaml:"old_name"`
	NewName string `json:"new_name" yaml:"new_name"`
}

func (op *RenameField) isOperation() {}
func (op *RenameField) Kind() Kind   { return KindRenameField }
func (op *RenameField) Describe() string {
	return fmt.Sprintf("Rename field %s on %s.%s to %s", op.OldName, op.App, op.Model, op.NewName)
}

func (op *RenameField) StateForwards(s *state.ProjectState) error {
	m, err := getModel(s, op.App, op.Model)
	if err != nil {
		return err
	}
	f, ok := m.GetField(op.OldName)
	if !ok {
		return invalid("field %s does not exist on %s.%s", op.OldName, op.App, op.Model)
	}
	if m.HasField(op.NewName) {
		return invalid("field %s already exists on %s.%s", op.NewName, op.App, op.Model)
	}
	m.RemoveField(op.OldName)
	m.AddField(f.WithName(op.NewName))
	renameColumns(m, op.OldName, op.NewName)
	repointForeignKeys(s, m.TableName(), func(c *database.Constraint) {
		c.ReferencedColumns = replaceName(c.ReferencedColumns, op.OldName, op.NewName)
	})
	return nil
}

// repointForeignKeys applies fn to every composite foreign key targeting table
func repointForeignKeys(s *state.ProjectState, table string, fn func(*database.Constraint)) {
	for _, other := range s.Models() {
		for name, c := range other.Constraints {
			if c.Kind == database.ConstraintForeignKey && c.ReferencedTable == table {
				c = c.Clone()
				fn(&c)
				other.Constraints[name] = c
			}
		}
	}
}

// index and constraint column lists follow a renamed column
func renameColumns(m *state.ModelState, oldName, newName string) {
	for name, idx := range m.Indexes {
		idx.Columns = replaceName(idx.Columns, oldName, newName)
		m.Indexes[name] = idx
	}
	for name, c := range m.Constraints {
		c.Columns = replaceName(c.Columns, oldName, newName)
		m.Constraints[name] = c
	}
}

func replaceName(names []string, oldName, newName string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if n == oldName {
			n = newName
		}
		out[i] = n
	}
	return out
}

func (op *RenameField) Reverse(*state.ProjectState) (Operation, error) {
	return &RenameField{App: op.App, Model: op.Model, OldName: op.NewName, NewName: op.OldName}, nil
}

func (op *RenameField) References() []state.ModelKey {
	return []state.ModelKey{{AppLabel: op.App, Name: op.Model}}
}

// AddIndex creates an index on a model's table
type AddIndex struct {
	App   string         `json:"app" yaml:"app"`
	Model string         `json:"model" yaml:"model"`
	Index database.Index `json:"index" yaml:"index"`
}

func (op *AddIndex) isOperation() {}
func (op *AddIndex) Kind() Kind   { return KindAddIndex }
func (op *AddIndex) Describe() string {
	return fmt.Sprintf("Add index %s on %s.%s (%s)", op.Index.Name, op.App, op.Model, strings.Join(op.Index.Columns, ", "))
}

func (op *AddIndex) StateForwards(s *state.ProjectState) error {
	m, err := getModel(s, op.App, op.Model)
	if err != nil {
		return err
	}
	if _, exists := m.Indexes[op.Index.Name]; exists {
		return invalid("index %s already exists on %s.%s", op.Index.Name, op.App, op.Model)
	}
	if m.Indexes == nil {
		m.Indexes = make(map[string]database.Index)
	}
	idx := op.Index
	idx.Columns = append([]string(nil), idx.Columns...)
	m.Indexes[idx.Name] = idx
	return nil
}

func (op *AddIndex) Reverse(*state.ProjectState) (Operation, error) {
	return &RemoveIndex{App: op.App, Model: op.Model, Name: op.Index.Name}, nil
}

func (op *AddIndex) References() []state.ModelKey {
	return []state.ModelKey{{AppLabel: op.App, Name: op.Model}}
}

// RemoveIndex drops an index
type RemoveIndex struct {
	App   string `json:"app" yaml:"app"`
	Model string `json:"model" yaml:"model"`
	Name  string `json:"name" yaml:"name"`
}

func (op *RemoveIndex) isOperation() {}
func (op *RemoveIndex) Kind() Kind   { return KindRemoveIndex }
func (op *RemoveIndex) Describe() string {
	return fmt.Sprintf("Remove index %s from %s.%s", op.Name, op.App, op.Model)
}

func (op *RemoveIndex) StateForwards(s *state.ProjectState) error {
	m, err := getModel(s, op.App, op.Model)
	if err != nil {
		return err
	}
	if _, exists := m.Indexes[op.Name]; !exists {
		return invalid("index %s does not exist on %s.%s", op.Name, op.App, op.Model)
	}
	delete(m.Indexes, op.Name)
	return nil
}

func (op *RemoveIndex) Reverse(before *state.ProjectState) (Operation, error) {
	m, ok := before.GetModel(op.App, op.Model)
	if !ok {
		return nil, irreversible(op)
	}
	idx, ok := m.Indexes[op.Name]
	if !ok {
		return nil, irreversible(op)
	}
	idx.Columns = append([]string(nil), idx.Columns...)
	return &AddIndex{App: op.App, Model: op.Model, Index: idx}, nil
}

func (op *RemoveIndex) References() []state.ModelKey {
	return []state.ModelKey{{AppLabel: op.App, Name: op.Model}}
}

// AddConstraint adds a unique, check or composite foreign key constraint
type AddConstraint struct {
	App        string              `json:"app" yaml:"app"`
	Model      string              `json:"model" yaml:"model"`
	Constraint database.Constraint `json:"constraint" yaml:"constraint"`
}

func (op *AddConstraint) isOperation() {}
func (op *AddConstraint) Kind() Kind   { return KindAddConstraint }
func (op *AddConstraint) Describe() string {
	return fmt.Sprintf("Add %s constraint %s on %s.%s", op.Constraint.Kind, op.Constraint.Name, op.App, op.Model)
}

func (op *AddConstraint) StateForwards(s *state.ProjectState) error {
	m, err := getModel(s, op.App, op.Model)
	if err != nil {
		return err
	}
	if _, exists := m.Constraints[op.Constraint.Name]; exists {
		return invalid("constraint %s already exists on %s.%s", op.Constraint.Name, op.App, op.Model)
	}
	if m.Constraints == nil {
		m.Constraints = make(map[string]database.Constraint)
	}
	m.Constraints[op.Constraint.Name] = op.Constraint.Clone()
	return nil
}

func (op *AddConstraint) Reverse(*state.ProjectState) (Operation, error) {
	return &RemoveConstraint{App: op.App, Model: op.Model, Name: op.Constraint.Name}, nil
}

func (op *AddConstraint) References() []state.ModelKey {
	return []state.ModelKey{{AppLabel: op.App, Name: op.Model}}
}

// RemoveConstraint drops a constraint added by AddConstraint
type RemoveConstraint struct {
	App   string `json:"app" yaml:"app"`
	Model string `json:"model" yaml:"model"`
	Name  string `json:"name" yaml:"name"`
}

func (op *RemoveConstraint) isOperation() {}
func (op *RemoveConstraint) Kind() Kind   { return KindRemoveConstraint }
func (op *RemoveConstraint) Describe() string {
	return fmt.Sprintf("Remove constraint %s from %s.%s", op.Name, op.App, op.Model)
}

func (op *RemoveConstraint) StateForwards(s *state.ProjectState) error {
	m, err := getModel(s, op.App, op.Model)
	if err != nil {
		return err
	}
	if _, exists := m.Constraints[op.Name]; !exists {
		return invalid("constraint %s does not exist on %s.%s", op.Name, op.App, op.Model)
	}
	delete(m.Constraints, op.Name)
	return nil
}

func (op *RemoveConstraint) Reverse(before *state.ProjectState) (Operation, error) {
	m, ok := before.GetModel(op.App, op.Model)
	if !ok {
		return nil, irreversible(op)
	}
	c, ok := m.Constraints[op.Name]
	if !ok {
		return nil, irreversible(op)
	}
	return &AddConstraint{App: op.App, Model: op.Model, Constraint: c.Clone()}, nil
}

func (op *RemoveConstraint) References() []state.ModelKey {
	return []state.ModelKey{{AppLabel: op.App, Name: op.Model}}
}

// CreateExtension installs a database extension
type CreateExtension struct {
	Name string `json:"name" yaml:"name"`
}

func (op *CreateExtension) isOperation()     {}
func (op *CreateExtension) Kind() Kind       { return KindCreateExtension }
func (op *CreateExtension) Describe() string { return fmt.Sprintf("Create extension %s", op.Name) }

func (op *CreateExtension) StateForwards(s *state.ProjectState) error {
	s.AddExtension(op.Name)
	return nil
}

func (op *CreateExtension) Reverse(before *state.ProjectState) (Operation, error) {
	if before.HasExtension(op.Name) {
		// already installed before; undoing must not remove it
		return &RunSQL{}, nil
	}
	return &DropExtension{Name: op.Name}, nil
}

func (op *CreateExtension) References() []state.ModelKey { return nil }

// DropExtension removes a database extension
type DropExtension struct {
	Name string `json:"name" yaml:"name"`
}

func (op *DropExtension) isOperation()     {}
func (op *DropExtension) Kind() Kind       { return KindDropExtension }
func (op *DropExtension) Describe() string { return fmt.Sprintf("Drop extension %s", op.Name) }

func (op *DropExtension) StateForwards(s *state.ProjectState) error {
	s.RemoveExtension(op.Name)
	return nil
}

func (op *DropExtension) Reverse(*state.ProjectState) (Operation, error) {
	return &CreateExtension{Name: op.Name}, nil
}

func (op *DropExtension) References() []state.ModelKey { return nil }

// RunSQL runs raw statements. It has no effect on the project state and is
// reversible only when ReverseSQL is given; an empty RunSQL is a no-op.
type RunSQL struct {
	SQL        []string `json:"sql,omitempty" yaml:"sql,omitempty"`
	ReverseSQL []string `json:"reverse_sql,omitempty" yaml:"reverse_sql,omitempty"`
	Note       string   `json:"note,omitempty" yaml:"note,omitempty"`
}

func (op *RunSQL) isOperation() {}
func (op *RunSQL) Kind() Kind   { return KindRunSQL }
func (op *RunSQL) Describe() string {
	if op.Note != "" {
		return "Run SQL: " + op.Note
	}
	if len(op.SQL) == 0 {
		return "Run SQL (no-op)"
	}
	return fmt.Sprintf("Run SQL (%d statements)", len(op.SQL))
}

func (op *RunSQL) StateForwards(*state.ProjectState) error { return nil }

func (op *RunSQL) Reverse(*state.ProjectState) (Operation, error) {
	if len(op.SQL) > 0 && len(op.ReverseSQL) == 0 {
		return nil, irreversible(op)
	}
	return &RunSQL{SQL: op.ReverseSQL, ReverseSQL: op.SQL, Note: op.Note}, nil
}

func (op *RunSQL) References() []state.ModelKey { return nil }
