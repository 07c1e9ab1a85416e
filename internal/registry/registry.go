// Package registry holds the declared models the autodetector compares
// against. A Registry is an explicit object: build one, register models (or
// load declaration files) and pass it by reference.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/state"
)

// Registry stores models by (app_label, name)
type Registry struct {
	models map[state.ModelKey]*state.ModelState
}

func New() *Registry {
	return &Registry{models: make(map[state.ModelKey]*state.ModelState)}
}

// Register adds or replaces a model. The registry keeps its own copy.
func (r *Registry) Register(m *state.ModelState) error {
	if m == nil || m.AppLabel == "" || m.Name == "" {
		return fmt.Errorf("model must have an app label and a name")
	}
	r.models[m.Key()] = m.Clone()
	return nil
}

// DeclaredModels returns copies of the registered models sorted by key
func (r *Registry) DeclaredModels() []*state.ModelState {
	keys := make([]state.ModelKey, 0, len(r.models))
	for k := range r.models {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]*state.ModelState, len(keys))
	for i, k := range keys {
		out[i] = r.models[k].Clone()
	}
	return out
}

// State returns the declared models as a project state
func (r *Registry) State() *state.ProjectState {
	s := state.NewProjectState()
	for _, m := range r.models {
		s.AddModel(m)
	}
	return s
}

type declFile struct {
	App    string      `yaml:"app"`
	Models []declModel `yaml:"models"`
}

type declModel struct {
	Name        string                `yaml:"name"`
	Table       string                `yaml:"table"`
	Fields      []declField           `yaml:"fields"`
	Indexes     []database.Index      `yaml:"indexes"`
	Constraints []database.Constraint `yaml:"constraints"`
}

type declField struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Nullable   bool              `yaml:"nullable"`
	PrimaryKey bool              `yaml:"primary_key"`
	Unique     bool              `yaml:"unique"`
	MaxLength  int               `yaml:"max_length"`
	Default    *string           `yaml:"default"`
	References string            `yaml:"references"`
	ToField    string            `yaml:"to_field"`
	OnDelete   string            `yaml:"on_delete"`
	OnUpdate   string            `yaml:"on_update"`
	Params     map[string]string `yaml:"params"`
}

// LoadFile reads a YAML declaration file:
//
//	app: blog
//	models:
//	  - name: Post
//	    fields:
//	      - {name: id, type: bigint, primary_key: true}
//	      - {name: title, type: varchar, max_length: 200}
//	      - {name: author, type: bigint, references: auth.User, on_delete: CASCADE}
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model file %s: %w", path, err)
	}
	var decl declFile
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return fmt.Errorf("failed to parse model file %s: %w", path, err)
	}
	if decl.App == "" {
		return fmt.Errorf("model file %s: app is required", path)
	}

	for _, dm := range decl.Models {
		m, err := dm.model(decl.App)
		if err != nil {
			return fmt.Errorf("model file %s: %w", path, err)
		}
		if err := r.Register(m); err != nil {
			return fmt.Errorf("model file %s: %w", path, err)
		}
	}
	return nil
}

// LoadDir loads every .yaml/.yml file in dir in name order
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read models directory %s: %w", dir, err)
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a declaration file or a directory of them
func Load(path string) (*Registry, error) {
	r := New()
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models %s: %w", path, err)
	}
	if info.IsDir() {
		err = r.LoadDir(path)
	} else {
		err = r.LoadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (dm declModel) model(app string) (*state.ModelState, error) {
	if dm.Name == "" {
		return nil, fmt.Errorf("model without a name in app %s", app)
	}
	m := state.NewModelState(app, dm.Name)
	m.Table = dm.Table
	for _, df := range dm.Fields {
		if df.Name == "" || df.Type == "" {
			return nil, fmt.Errorf("%s.%s: every field needs a name and a type", app, dm.Name)
		}
		if m.HasField(df.Name) {
			return nil, fmt.Errorf("%s.%s: duplicate field %s", app, dm.Name, df.Name)
		}
		m.AddField(df.field(app))
	}
	for _, idx := range dm.Indexes {
		if m.Indexes == nil {
			m.Indexes = make(map[string]database.Index)
		}
		m.Indexes[idx.Name] = idx
	}
	for _, c := range dm.Constraints {
		if m.Constraints == nil {
			m.Constraints = make(map[string]database.Constraint)
		}
		m.Constraints[c.Name] = c
	}
	return m, nil
}

func (df declField) field(app string) state.FieldState {
	f := state.NewField(df.Name, df.Type, df.Nullable)
	for k, v := range df.Params {
		f = f.WithParam(k, v)
	}
	if df.PrimaryKey {
		f = f.WithParam(state.ParamPrimaryKey, "true")
	}
	if df.Unique {
		f = f.WithParam(state.ParamUnique, "true")
	}
	if df.MaxLength > 0 {
		f = f.WithParam(state.ParamMaxLength, fmt.Sprintf("%d", df.MaxLength))
	}
	if df.Default != nil {
		f = f.WithParam(state.ParamDefault, *df.Default)
	}
	if df.References != "" {
		ref := df.References
		if !strings.Contains(ref, ".") {
			ref = app + "." + ref
		}
		f = f.WithParam(state.ParamReferences, ref)
	}
	if df.ToField != "" {
		f = f.WithParam(state.ParamToField, df.ToField)
	}
	if df.OnDelete != "" {
		f = f.WithParam(state.ParamOnDelete, df.OnDelete)
	}
	if df.OnUpdate != "" {
		f = f.WithParam(state.ParamOnUpdate, df.OnUpdate)
	}
	return f
}
