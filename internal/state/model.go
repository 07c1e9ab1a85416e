package state

import (
	"sort"
	"strings"
	"unicode"

	"github.com/lockplane/migrator/database"
)

// ModelKey identifies a model within a ProjectState
type ModelKey struct {
	AppLabel string
	Name     string
}

func (k ModelKey) String() string { return k.AppLabel + "." + k.Name }

// ParseModelKey splits "app.Model"
func ParseModelKey(s string) (ModelKey, bool) {
	app, name, ok := strings.Cut(s, ".")
	if !ok || app == "" || name == "" {
		return ModelKey{}, false
	}
	return ModelKey{AppLabel: app, Name: name}, true
}

// ModelState is the shape of one model. Field order is not significant.
type ModelState struct {
	AppLabel    string                         `json:"app_label" yaml:"app_label"`
	Name        string                         `json:"name" yaml:"name"`
	Table       string                         `json:"table,omitempty" yaml:"table,omitempty"`
	Fields      map[string]FieldState          `json:"fields" yaml:"fields"`
	Indexes     map[string]database.Index      `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	Constraints map[string]database.Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// NewModelState creates a model with the given fields
func NewModelState(app, name string, fields ...FieldState) *ModelState {
	m := &ModelState{AppLabel: app, Name: name, Fields: make(map[string]FieldState, len(fields))}
	for _, f := range fields {
		m.Fields[f.Name] = f.Clone()
	}
	return m
}

func (m *ModelState) Key() ModelKey { return ModelKey{AppLabel: m.AppLabel, Name: m.Name} }

// AddField inserts or overwrites a field
func (m *ModelState) AddField(f FieldState) {
	if m.Fields == nil {
		m.Fields = make(map[string]FieldState)
	}
	m.Fields[f.Name] = f.Clone()
}

// RemoveField is a no-op when the field is absent
func (m *ModelState) RemoveField(name string) {
	delete(m.Fields, name)
}

// GetField returns a copy of the named field
func (m *ModelState) GetField(name string) (FieldState, bool) {
	f, ok := m.Fields[name]
	if !ok {
		return FieldState{}, false
	}
	return f.Clone(), true
}

func (m *ModelState) HasField(name string) bool {
	_, ok := m.Fields[name]
	return ok
}

// FieldNames returns field names sorted
func (m *ModelState) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrimaryKey returns the name of the primary key field, or "id"
func (m *ModelState) PrimaryKey() string {
	for _, name := range m.FieldNames() {
		if m.Fields[name].IsPrimaryKey() {
			return name
		}
	}
	return "id"
}

// TableName returns the explicit table, or <app>_<model> in lower snake case
func (m *ModelState) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return DefaultTableName(m.AppLabel, m.Name)
}

// DefaultTableName derives a table name: ("blog", "BlogPost") -> "blog_blog_post"
func DefaultTableName(app, model string) string {
	return strings.ToLower(app) + "_" + snake(model)
}

func snake(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) && runes[i-1] != '_' {
				sb.WriteRune('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Clone returns a deep copy
func (m *ModelState) Clone() *ModelState {
	out := &ModelState{AppLabel: m.AppLabel, Name: m.Name, Table: m.Table, Fields: make(map[string]FieldState, len(m.Fields))}
	for name, f := range m.Fields {
		out.Fields[name] = f.Clone()
	}
	if m.Indexes != nil {
		out.Indexes = make(map[string]database.Index, len(m.Indexes))
		for name, idx := range m.Indexes {
			idx.Columns = append([]string(nil), idx.Columns...)
			out.Indexes[name] = idx
		}
	}
	if m.Constraints != nil {
		out.Constraints = make(map[string]database.Constraint, len(m.Constraints))
		for name, c := range m.Constraints {
			out.Constraints[name] = c.Clone()
		}
	}
	return out
}

// Equal compares identity, table, fields, indexes and constraints
func (m *ModelState) Equal(other *ModelState) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.AppLabel != other.AppLabel || m.Name != other.Name || m.TableName() != other.TableName() {
		return false
	}
	if len(m.Fields) != len(other.Fields) || len(m.Indexes) != len(other.Indexes) || len(m.Constraints) != len(other.Constraints) {
		return false
	}
	for name, f := range m.Fields {
		of, ok := other.Fields[name]
		if !ok || !f.Equal(of) {
			return false
		}
	}
	for name, idx := range m.Indexes {
		oidx, ok := other.Indexes[name]
		if !ok || idx.Unique != oidx.Unique || !sameStrings(idx.Columns, oidx.Columns) {
			return false
		}
	}
	for name, c := range m.Constraints {
		oc, ok := other.Constraints[name]
		if !ok || !c.Equal(oc) {
			return false
		}
	}
	return true
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
