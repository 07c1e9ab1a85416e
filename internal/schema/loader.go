package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lockplane/migrator/database"
)

//go:embed snapshot.schema.json
var snapshotSchemaJSON []byte

var snapshotSchema = gojsonschema.NewBytesLoader(snapshotSchemaJSON)

// LoadSchema reads a schema snapshot from a .json file, a .sql file of
// PostgreSQL DDL, or a directory whose .sql files are read in name order.
func LoadSchema(path string) (*database.Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	if info.IsDir() {
		return loadSchemaFromDir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSONSchema(data)
	case ".sql":
		return ParseSQL(string(data))
	default:
		return nil, fmt.Errorf("unsupported schema file %s: expected .json or .sql", path)
	}
}

// LoadJSONSchema validates a JSON snapshot against the embedded JSON Schema
// and decodes it
func LoadJSONSchema(data []byte) (*database.Schema, error) {
	result, err := gojsonschema.Validate(snapshotSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to validate JSON schema: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("schema JSON is invalid: %s", strings.Join(problems, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var schema database.Schema
	if err := dec.Decode(&schema); err != nil {
		return nil, fmt.Errorf("failed to decode JSON schema: %w", err)
	}
	return &schema, nil
}

func loadSchemaFromDir(dir string) (*database.Schema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema directory %s: %w", dir, err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		if strings.HasSuffix(strings.ToLower(entry.Name()), ".sql") {
			sqlFiles = append(sqlFiles, filepath.Join(dir, entry.Name()))
		}
	}
	if len(sqlFiles) == 0 {
		return nil, fmt.Errorf("no .sql files found in directory %s", dir)
	}
	sort.Strings(sqlFiles)

	var builder strings.Builder
	for _, file := range sqlFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read SQL file %s: %w", file, err)
		}
		builder.WriteString(fmt.Sprintf("-- File: %s\n", file))
		builder.Write(data)
		if len(data) == 0 || data[len(data)-1] != '\n' {
			builder.WriteByte('\n')
		}
		// a file's last statement may omit its semicolon; on its own line
		// the terminator also survives a trailing line comment
		if !strings.HasSuffix(strings.TrimSpace(string(data)), ";") {
			builder.WriteString(";\n")
		}
		builder.WriteByte('\n')
	}
	return ParseSQL(builder.String())
}
