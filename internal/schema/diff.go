package schema

import (
	"sort"

	"github.com/lockplane/migrator/database"
)

// SchemaDiff represents all differences between two schemas. Every list is
// sorted by name.
type SchemaDiff struct {
	AddedTables       []database.Table `json:"added_tables,omitempty"`
	RemovedTables     []database.Table `json:"removed_tables,omitempty"`
	ModifiedTables    []TableDiff      `json:"modified_tables,omitempty"`
	AddedExtensions   []string         `json:"added_extensions,omitempty"`
	RemovedExtensions []string         `json:"removed_extensions,omitempty"`
}

// TableDiff represents changes to a single table. An index, foreign key or
// constraint whose definition changed under the same name shows up as
// removed and added.
type TableDiff struct {
	TableName          string                `json:"table_name"`
	AddedColumns       []database.Column     `json:"added_columns,omitempty"`
	RemovedColumns     []database.Column     `json:"removed_columns,omitempty"`
	ModifiedColumns    []database.ColumnDiff `json:"modified_columns,omitempty"`
	AddedIndexes       []database.Index      `json:"added_indexes,omitempty"`
	RemovedIndexes     []database.Index      `json:"removed_indexes,omitempty"`
	AddedForeignKeys   []database.ForeignKey `json:"added_foreign_keys,omitempty"`
	RemovedForeignKeys []database.ForeignKey `json:"removed_foreign_keys,omitempty"`
	AddedConstraints   []database.Constraint `json:"added_constraints,omitempty"`
	RemovedConstraints []database.Constraint `json:"removed_constraints,omitempty"`

	// Current and Target are the full table definitions on both sides
	Current database.Table `json:"-"`
	Target  database.Table `json:"-"`
}

// ColumnChange is a modified column together with its table
type ColumnChange struct {
	Table string
	database.ColumnDiff
}

// DiffSchemas compares two schemas and returns their differences. Neither
// input is modified.
func DiffSchemas(current, desired *database.Schema) *SchemaDiff {
	if current == nil {
		current = &database.Schema{}
	}
	if desired == nil {
		desired = &database.Schema{}
	}
	diff := &SchemaDiff{}

	currentTables := make(map[string]*database.Table)
	for i := range current.Tables {
		currentTables[current.Tables[i].Name] = &current.Tables[i]
	}
	desiredTables := make(map[string]*database.Table)
	for i := range desired.Tables {
		desiredTables[desired.Tables[i].Name] = &desired.Tables[i]
	}

	for _, name := range sortedKeys(desiredTables) {
		desiredTable := desiredTables[name]
		currentTable, exists := currentTables[name]
		if !exists {
			diff.AddedTables = append(diff.AddedTables, desiredTable.Clone())
			continue
		}
		if tableDiff := diffTables(currentTable, desiredTable); !tableDiff.IsEmpty() {
			diff.ModifiedTables = append(diff.ModifiedTables, *tableDiff)
		}
	}
	for _, name := range sortedKeys(currentTables) {
		if _, exists := desiredTables[name]; !exists {
			diff.RemovedTables = append(diff.RemovedTables, currentTables[name].Clone())
		}
	}

	for _, ext := range sortedStrings(desired.Extensions) {
		if !current.HasExtension(ext) {
			diff.AddedExtensions = append(diff.AddedExtensions, ext)
		}
	}
	for _, ext := range sortedStrings(current.Extensions) {
		if !desired.HasExtension(ext) {
			diff.RemovedExtensions = append(diff.RemovedExtensions, ext)
		}
	}
	return diff
}

func diffTables(current, desired *database.Table) *TableDiff {
	diff := &TableDiff{
		TableName: current.Name,
		Current:   current.Clone(),
		Target:    desired.Clone(),
	}

	currentCols := make(map[string]*database.Column)
	for i := range current.Columns {
		currentCols[current.Columns[i].Name] = &current.Columns[i]
	}
	desiredCols := make(map[string]*database.Column)
	for i := range desired.Columns {
		desiredCols[desired.Columns[i].Name] = &desired.Columns[i]
	}

	for _, name := range sortedKeys(desiredCols) {
		desiredCol := desiredCols[name]
		currentCol, exists := currentCols[name]
		if !exists {
			diff.AddedColumns = append(diff.AddedColumns, desiredCol.Clone())
			continue
		}
		if colDiff := diffColumns(currentCol, desiredCol); colDiff != nil {
			diff.ModifiedColumns = append(diff.ModifiedColumns, *colDiff)
		}
	}
	for _, name := range sortedKeys(currentCols) {
		if _, exists := desiredCols[name]; !exists {
			diff.RemovedColumns = append(diff.RemovedColumns, currentCols[name].Clone())
		}
	}

	currentIdxs := make(map[string]database.Index)
	for _, idx := range current.Indexes {
		currentIdxs[idx.Name] = idx
	}
	desiredIdxs := make(map[string]database.Index)
	for _, idx := range desired.Indexes {
		desiredIdxs[idx.Name] = idx
	}
	for _, name := range sortedKeys(desiredIdxs) {
		if cur, exists := currentIdxs[name]; !exists || !equalIndexes(cur, desiredIdxs[name]) {
			diff.AddedIndexes = append(diff.AddedIndexes, desiredIdxs[name])
		}
	}
	for _, name := range sortedKeys(currentIdxs) {
		if des, exists := desiredIdxs[name]; !exists || !equalIndexes(currentIdxs[name], des) {
			diff.RemovedIndexes = append(diff.RemovedIndexes, currentIdxs[name])
		}
	}

	currentFKs := make(map[string]database.ForeignKey)
	for _, fk := range current.ForeignKeys {
		currentFKs[fk.Name] = fk
	}
	desiredFKs := make(map[string]database.ForeignKey)
	for _, fk := range desired.ForeignKeys {
		desiredFKs[fk.Name] = fk
	}
	for _, name := range sortedKeys(desiredFKs) {
		if cur, exists := currentFKs[name]; !exists || !equalForeignKeys(cur, desiredFKs[name]) {
			diff.AddedForeignKeys = append(diff.AddedForeignKeys, desiredFKs[name].Clone())
		}
	}
	for _, name := range sortedKeys(currentFKs) {
		if des, exists := desiredFKs[name]; !exists || !equalForeignKeys(currentFKs[name], des) {
			diff.RemovedForeignKeys = append(diff.RemovedForeignKeys, currentFKs[name].Clone())
		}
	}

	currentCons := make(map[string]database.Constraint)
	for _, c := range current.Constraints {
		currentCons[c.Name] = c
	}
	desiredCons := make(map[string]database.Constraint)
	for _, c := range desired.Constraints {
		desiredCons[c.Name] = c
	}
	for _, name := range sortedKeys(desiredCons) {
		if cur, exists := currentCons[name]; !exists || !equalConstraints(cur, desiredCons[name]) {
			diff.AddedConstraints = append(diff.AddedConstraints, desiredCons[name])
		}
	}
	for _, name := range sortedKeys(currentCons) {
		if des, exists := desiredCons[name]; !exists || !equalConstraints(currentCons[name], des) {
			diff.RemovedConstraints = append(diff.RemovedConstraints, currentCons[name])
		}
	}

	return diff
}

// diffColumns compares two columns and returns their differences
func diffColumns(current, desired *database.Column) *database.ColumnDiff {
	var changes []string

	if current.LogicalType() != desired.LogicalType() {
		changes = append(changes, "type")
	}
	if current.Nullable != desired.Nullable {
		changes = append(changes, "nullable")
	}
	if !equalDefaults(current.Default, desired.Default) {
		changes = append(changes, "default")
	}
	if current.IsPrimaryKey != desired.IsPrimaryKey {
		changes = append(changes, "primary_key")
	}

	if len(changes) == 0 {
		return nil
	}
	return &database.ColumnDiff{
		ColumnName: current.Name,
		Old:        current.Clone(),
		New:        desired.Clone(),
		Changes:    changes,
	}
}

func equalDefaults(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalIndexes(a, b database.Index) bool {
	return a.Unique == b.Unique && equalStrings(a.Columns, b.Columns)
}

func equalForeignKeys(a, b database.ForeignKey) bool {
	return a.ReferencedTable == b.ReferencedTable &&
		equalStrings(a.Columns, b.Columns) &&
		equalStrings(a.ReferencedColumns, b.ReferencedColumns) &&
		equalDefaults(a.OnDelete, b.OnDelete) &&
		equalDefaults(a.OnUpdate, b.OnUpdate)
}

func equalConstraints(a, b database.Constraint) bool {
	return a.Equal(b)
}

func equalStrings(a, b []string) bool {
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

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// IsEmpty returns true if there are no differences
func (d *TableDiff) IsEmpty() bool {
	return len(d.AddedColumns) == 0 &&
		len(d.RemovedColumns) == 0 &&
		len(d.ModifiedColumns) == 0 &&
		len(d.AddedIndexes) == 0 &&
		len(d.RemovedIndexes) == 0 &&
		len(d.AddedForeignKeys) == 0 &&
		len(d.RemovedForeignKeys) == 0 &&
		len(d.AddedConstraints) == 0 &&
		len(d.RemovedConstraints) == 0
}

// IsEmpty returns true if there are no differences
func (d *SchemaDiff) IsEmpty() bool {
	return len(d.AddedTables) == 0 &&
		len(d.RemovedTables) == 0 &&
		len(d.ModifiedTables) == 0 &&
		len(d.AddedExtensions) == 0 &&
		len(d.RemovedExtensions) == 0
}

// ModifiedColumns flattens the column modifications of every table
func (d *SchemaDiff) ModifiedColumns() []ColumnChange {
	var out []ColumnChange
	for _, td := range d.ModifiedTables {
		for _, cd := range td.ModifiedColumns {
			out = append(out, ColumnChange{Table: td.TableName, ColumnDiff: cd})
		}
	}
	return out
}
