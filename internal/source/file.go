package source

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/migration"
)

//go:embed migration.schema.json
var migrationSchemaJSON []byte

var migrationSchema = gojsonschema.NewBytesLoader(migrationSchemaJSON)

// document is the on-disk form of a migration
type document struct {
	App                   string                          `yaml:"app"`
	Name                  string                          `yaml:"name"`
	Initial               bool                            `yaml:"initial,omitempty"`
	Atomic                *bool                           `yaml:"atomic,omitempty"`
	StateOnly             bool                            `yaml:"state_only,omitempty"`
	DatabaseOnly          bool                            `yaml:"database_only,omitempty"`
	Dependencies          []string                        `yaml:"dependencies,omitempty"`
	OptionalDependencies  []string                        `yaml:"optional_dependencies,omitempty"`
	SwappableDependencies []migration.SwappableDependency `yaml:"swappable_dependencies,omitempty"`
	Replaces              []string                        `yaml:"replaces,omitempty"`
	Operations            []migration.Envelope            `yaml:"operations"`
}

func keyStrings(keys []migration.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func parseKeys(values []string) ([]migration.Key, error) {
	var keys []migration.Key
	for _, v := range values {
		k, err := migration.ParseKey(v)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Encode renders m as a YAML migration document
func Encode(m *migration.Migration) ([]byte, error) {
	doc := document{
		App:                   m.AppLabel,
		Name:                  m.Name,
		Initial:               m.Initial,
		StateOnly:             m.StateOnly,
		DatabaseOnly:          m.DatabaseOnly,
		Dependencies:          keyStrings(m.Dependencies),
		OptionalDependencies:  keyStrings(m.OptionalDependencies),
		SwappableDependencies: m.SwappableDependencies,
		Replaces:              keyStrings(m.Replaces),
		Operations:            make([]migration.Envelope, len(m.Operations)),
	}
	if !m.Atomic {
		atomic := false
		doc.Atomic = &atomic
	}
	for i, op := range m.Operations {
		doc.Operations[i] = migration.Envelope{Op: op.Kind(), Body: op}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Key(), err)
	}
	return data, nil
}

// Decode validates a YAML migration document against the embedded JSON
// Schema and decodes it
func Decode(data []byte) (*migration.Migration, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse migration YAML: %w", err)
	}
	result, err := gojsonschema.Validate(migrationSchema, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to validate migration document: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, &apperrors.InvalidMigrationError{Reason: strings.Join(problems, "; ")}
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode migration: %w", err)
	}

	m := &migration.Migration{
		AppLabel:              doc.App,
		Name:                  doc.Name,
		Initial:               doc.Initial,
		Atomic:                doc.Atomic == nil || *doc.Atomic,
		StateOnly:             doc.StateOnly,
		DatabaseOnly:          doc.DatabaseOnly,
		SwappableDependencies: doc.SwappableDependencies,
	}
	if m.Dependencies, err = parseKeys(doc.Dependencies); err != nil {
		return nil, err
	}
	if m.OptionalDependencies, err = parseKeys(doc.OptionalDependencies); err != nil {
		return nil, err
	}
	if m.Replaces, err = parseKeys(doc.Replaces); err != nil {
		return nil, err
	}
	for _, env := range doc.Operations {
		m.Operations = append(m.Operations, env.Body)
	}
	return m, nil
}

// FileSource reads migrations from <Root>/<app>/<name>.yaml
type FileSource struct {
	Root string
}

func NewFileSource(root string) *FileSource {
	return &FileSource{Root: root}
}

func isMigrationFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".yaml" || ext == ".yml") && !strings.HasPrefix(name, ".")
}

// apps lists the app directories under Root
func (s *FileSource) apps() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory %s: %w", s.Root, err)
	}
	var apps []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := ValidatePathComponent("app label", e.Name()); err != nil {
			return nil, err
		}
		apps = append(apps, e.Name())
	}
	sort.Strings(apps)
	return apps, nil
}

func (s *FileSource) AllMigrations(ctx context.Context) ([]*migration.Migration, error) {
	apps, err := s.apps()
	if err != nil {
		return nil, err
	}
	var all []*migration.Migration
	for _, app := range apps {
		ms, err := s.MigrationsForApp(ctx, app)
		if err != nil {
			return nil, err
		}
		all = append(all, ms...)
	}
	return all, nil
}

func (s *FileSource) MigrationsForApp(ctx context.Context, app string) ([]*migration.Migration, error) {
	if err := ValidatePathComponent("app label", app); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.Root, app)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read app directory %s: %w", dir, err)
	}

	var ms []*migration.Migration
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || e.Type()&os.ModeSymlink != 0 || !isMigrationFile(e.Name()) {
			continue
		}
		m, err := s.load(app, filepath.Join(dir, e.Name()), strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	sortMigrations(ms)
	return ms, nil
}

func (s *FileSource) GetMigration(_ context.Context, app, name string) (*migration.Migration, error) {
	if err := ValidatePathComponent("app label", app); err != nil {
		return nil, err
	}
	if err := ValidatePathComponent("migration name", name); err != nil {
		return nil, err
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(s.Root, app, name+ext)
		if _, err := os.Stat(path); err == nil {
			return s.load(app, path, name)
		}
	}
	return nil, notFound(app, name)
}

// load decodes one file and checks it sits where its key says it should
func (s *FileSource) load(app, path, name string) (*migration.Migration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration %s: %w", path, err)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	if m.AppLabel != app || m.Name != name {
		return nil, &apperrors.InvalidMigrationError{
			Key:    m.Key().String(),
			Reason: fmt.Sprintf("stored at %s, expected %s/%s", path, m.AppLabel, m.Name),
		}
	}
	return m, nil
}

// Save writes m to <Root>/<app>/<name>.yaml and returns the path
func (s *FileSource) Save(m *migration.Migration) (string, error) {
	if err := ValidatePathComponent("app label", m.AppLabel); err != nil {
		return "", err
	}
	if err := ValidatePathComponent("migration name", m.Name); err != nil {
		return "", err
	}
	data, err := Encode(m)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.Root, m.AppLabel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, m.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
