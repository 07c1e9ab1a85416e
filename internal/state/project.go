package state

import (
	"sort"
)

// ProjectState maps (app_label, name) to ModelState. AddModel and
// RemoveModel are the only mutators of the model set.
type ProjectState struct {
	models     map[ModelKey]*ModelState
	extensions map[string]bool
}

// NewProjectState returns a state with zero models
func NewProjectState() *ProjectState {
	return &ProjectState{
		models:     make(map[ModelKey]*ModelState),
		extensions: make(map[string]bool),
	}
}

// AddModel inserts or overwrites by key. The state keeps its own copy.
func (s *ProjectState) AddModel(m *ModelState) {
	s.models[m.Key()] = m.Clone()
}

// RemoveModel is a no-op when the model is absent
func (s *ProjectState) RemoveModel(app, name string) {
	delete(s.models, ModelKey{AppLabel: app, Name: name})
}

// GetModel returns the stored model; changes through the pointer are
// changes to the state
func (s *ProjectState) GetModel(app, name string) (*ModelState, bool) {
	m, ok := s.models[ModelKey{AppLabel: app, Name: name}]
	return m, ok
}

// ModelByTable finds the model stored in the given table
func (s *ProjectState) ModelByTable(table string) (*ModelState, bool) {
	for _, key := range s.Keys() {
		if m := s.models[key]; m.TableName() == table {
			return m, true
		}
	}
	return nil, false
}

func (s *ProjectState) Len() int { return len(s.models) }

// Keys returns model keys sorted by app label then name
func (s *ProjectState) Keys() []ModelKey {
	keys := make([]ModelKey, 0, len(s.models))
	for k := range s.models {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].AppLabel != keys[j].AppLabel {
			return keys[i].AppLabel < keys[j].AppLabel
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}

// Models returns the stored models in key order
func (s *ProjectState) Models() []*ModelState {
	keys := s.Keys()
	out := make([]*ModelState, len(keys))
	for i, k := range keys {
		out[i] = s.models[k]
	}
	return out
}

// AppModels returns the models of one app in key order
func (s *ProjectState) AppModels(app string) []*ModelState {
	var out []*ModelState
	for _, m := range s.Models() {
		if m.AppLabel == app {
			out = append(out, m)
		}
	}
	return out
}

func (s *ProjectState) AddExtension(name string) { s.extensions[name] = true }

func (s *ProjectState) RemoveExtension(name string) { delete(s.extensions, name) }

func (s *ProjectState) HasExtension(name string) bool { return s.extensions[name] }

// Extensions returns installed extension names sorted
func (s *ProjectState) Extensions() []string {
	out := make([]string, 0, len(s.extensions))
	for name := range s.extensions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clone returns a value-independent deep copy
func (s *ProjectState) Clone() *ProjectState {
	out := NewProjectState()
	for k, m := range s.models {
		out.models[k] = m.Clone()
	}
	for name := range s.extensions {
		out.extensions[name] = true
	}
	return out
}

// Equal compares the model sets and extensions
func (s *ProjectState) Equal(other *ProjectState) bool {
	if len(s.models) != len(other.models) || len(s.extensions) != len(other.extensions) {
		return false
	}
	for k, m := range s.models {
		om, ok := other.models[k]
		if !ok || !m.Equal(om) {
			return false
		}
	}
	for name := range s.extensions {
		if !other.extensions[name] {
			return false
		}
	}
	return true
}
