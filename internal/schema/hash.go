package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/lockplane/migrator/database"
)

// ComputeSchemaHash returns a deterministic sha256 of a schema. Tables,
// columns, indexes, foreign keys, constraints and extensions are sorted so
// declaration order never changes the hash; types compare by LogicalType.
func ComputeSchemaHash(schema *database.Schema) (string, error) {
	if schema == nil {
		schema = &database.Schema{}
	}
	data, err := json.Marshal(canonicalizeSchema(schema))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalizeSchema(schema *database.Schema) map[string]interface{} {
	sortedTables := append([]database.Table(nil), schema.Tables...)
	sort.Slice(sortedTables, func(i, j int) bool { return sortedTables[i].Name < sortedTables[j].Name })

	tables := make([]interface{}, 0, len(sortedTables))
	for _, table := range sortedTables {
		tableMap := map[string]interface{}{
			"name":    table.Name,
			"columns": canonicalizeColumns(table.Columns),
		}
		if len(table.Indexes) > 0 {
			tableMap["indexes"] = canonicalizeIndexes(table.Indexes)
		}
		if len(table.ForeignKeys) > 0 {
			tableMap["foreign_keys"] = canonicalizeForeignKeys(table.ForeignKeys)
		}
		if len(table.Constraints) > 0 {
			tableMap["constraints"] = canonicalizeConstraints(table.Constraints)
		}
		tables = append(tables, tableMap)
	}

	out := map[string]interface{}{"tables": tables}
	if len(schema.Extensions) > 0 {
		out["extensions"] = sortedStrings(schema.Extensions)
	}
	return out
}

func canonicalizeColumns(columns []database.Column) []interface{} {
	sortedCols := append([]database.Column(nil), columns...)
	sort.Slice(sortedCols, func(i, j int) bool { return sortedCols[i].Name < sortedCols[j].Name })

	result := make([]interface{}, 0, len(sortedCols))
	for _, col := range sortedCols {
		colMap := map[string]interface{}{
			"name":           col.Name,
			"type":           col.LogicalType(),
			"nullable":       col.Nullable,
			"is_primary_key": col.IsPrimaryKey,
		}
		if col.Default != nil {
			colMap["default"] = *col.Default
		}
		result = append(result, colMap)
	}
	return result
}

func canonicalizeIndexes(indexes []database.Index) []interface{} {
	sorted := append([]database.Index(nil), indexes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	result := make([]interface{}, 0, len(sorted))
	for _, idx := range sorted {
		result = append(result, map[string]interface{}{
			"name":    idx.Name,
			"columns": idx.Columns,
			"unique":  idx.Unique,
		})
	}
	return result
}

func canonicalizeForeignKeys(fks []database.ForeignKey) []interface{} {
	sorted := append([]database.ForeignKey(nil), fks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	result := make([]interface{}, 0, len(sorted))
	for _, fk := range sorted {
		fkMap := map[string]interface{}{
			"name":               fk.Name,
			"columns":            fk.Columns,
			"referenced_table":   fk.ReferencedTable,
			"referenced_columns": fk.ReferencedColumns,
		}
		if fk.OnDelete != nil {
			fkMap["on_delete"] = *fk.OnDelete
		}
		if fk.OnUpdate != nil {
			fkMap["on_update"] = *fk.OnUpdate
		}
		result = append(result, fkMap)
	}
	return result
}

func canonicalizeConstraints(constraints []database.Constraint) []interface{} {
	sorted := append([]database.Constraint(nil), constraints...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	result := make([]interface{}, 0, len(sorted))
	for _, c := range sorted {
		cMap := map[string]interface{}{"name": c.Name, "kind": c.Kind}
		if len(c.Columns) > 0 {
			cMap["columns"] = c.Columns
		}
		if c.Check != "" {
			cMap["check"] = c.Check
		}
		result = append(result, cMap)
	}
	return result
}
