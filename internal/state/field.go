package state

import (
	"sort"
	"strings"
)

// Params keys understood across the engine
const (
	ParamDefault    = "default"
	ParamMaxLength  = "max_length"
	ParamPrimaryKey = "primary_key"
	ParamUnique     = "unique"
	ParamReferences = "references" // "app.Model"
	ParamToField    = "to_field"
	ParamOnDelete   = "on_delete"
	ParamOnUpdate   = "on_update"
	ParamFKName     = "fk_name"
)

// FieldState is the shape of one field. It is a value type: the With*
// helpers return modified copies and never touch the receiver.
type FieldState struct {
	Name      string            `json:"name" yaml:"name"`
	FieldType string            `json:"field_type" yaml:"field_type"`
	Nullable  bool              `json:"nullable" yaml:"nullable"`
	Params    map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// NewField creates a field with no params
func NewField(name, fieldType string, nullable bool) FieldState {
	return FieldState{Name: name, FieldType: fieldType, Nullable: nullable}
}

// Clone returns a copy that shares no map with f
func (f FieldState) Clone() FieldState {
	if f.Params != nil {
		params := make(map[string]string, len(f.Params))
		for k, v := range f.Params {
			params[k] = v
		}
		f.Params = params
	}
	return f
}

// WithName returns a copy of f renamed
func (f FieldState) WithName(name string) FieldState {
	out := f.Clone()
	out.Name = name
	return out
}

// WithNullable returns a copy of f with the given nullability
func (f FieldState) WithNullable(nullable bool) FieldState {
	out := f.Clone()
	out.Nullable = nullable
	return out
}

// WithType returns a copy of f with the given type
func (f FieldState) WithType(fieldType string) FieldState {
	out := f.Clone()
	out.FieldType = fieldType
	return out
}

// WithParam returns a copy of f with the param set
func (f FieldState) WithParam(key, value string) FieldState {
	out := f.Clone()
	if out.Params == nil {
		out.Params = make(map[string]string)
	}
	out.Params[key] = value
	return out
}

// WithoutParam returns a copy of f with the param removed
func (f FieldState) WithoutParam(key string) FieldState {
	out := f.Clone()
	delete(out.Params, key)
	if len(out.Params) == 0 {
		out.Params = nil
	}
	return out
}

// Param returns a param value
func (f FieldState) Param(key string) (string, bool) {
	v, ok := f.Params[key]
	return v, ok
}

// Default returns the default expression, or nil
func (f FieldState) Default() *string {
	if v, ok := f.Params[ParamDefault]; ok {
		return &v
	}
	return nil
}

func (f FieldState) IsPrimaryKey() bool { return f.Params[ParamPrimaryKey] == "true" }

func (f FieldState) IsUnique() bool { return f.Params[ParamUnique] == "true" }

// References returns the "app.Model" this field points to, or ""
func (f FieldState) References() string { return f.Params[ParamReferences] }

// ColumnType is the physical column type, folding max_length into the type
func (f FieldState) ColumnType() string {
	if n, ok := f.Params[ParamMaxLength]; ok && !strings.Contains(f.FieldType, "(") {
		return f.FieldType + "(" + n + ")"
	}
	return f.FieldType
}

// Equal compares all attributes including params
func (f FieldState) Equal(other FieldState) bool {
	if f.Name != other.Name || f.FieldType != other.FieldType || f.Nullable != other.Nullable {
		return false
	}
	if len(f.Params) != len(other.Params) {
		return false
	}
	for k, v := range f.Params {
		if ov, ok := other.Params[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ChangedAttributes lists what differs between f and other, ignoring the name:
// "type", "nullable" and "param:<key>" entries, sorted
func (f FieldState) ChangedAttributes(other FieldState) []string {
	var changes []string
	if f.FieldType != other.FieldType {
		changes = append(changes, "type")
	}
	if f.Nullable != other.Nullable {
		changes = append(changes, "nullable")
	}
	keys := map[string]bool{}
	for k := range f.Params {
		keys[k] = true
	}
	for k := range other.Params {
		keys[k] = true
	}
	for k := range keys {
		a, aok := f.Params[k]
		b, bok := other.Params[k]
		if aok != bok || a != b {
			changes = append(changes, "param:"+k)
		}
	}
	sort.Strings(changes)
	return changes
}
