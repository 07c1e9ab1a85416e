package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/lockplane/migrator/database"
)

// Introspector implements database.Introspector for PostgreSQL
type Introspector struct{}

// NewIntrospector creates a new PostgreSQL introspector
func NewIntrospector() *Introspector {
	return &Introspector{}
}

// IntrospectSchema reads the tables of current_schema() and installed extensions
func (i *Introspector) IntrospectSchema(ctx context.Context, db *sql.DB) (*database.Schema, error) {
	tables, err := i.GetTables(ctx, db)
	if err != nil {
		return nil, err
	}

	schema := &database.Schema{Tables: make([]database.Table, 0, len(tables))}
	for _, name := range tables {
		table := database.Table{Name: name}
		if table.Columns, err = i.GetColumns(ctx, db, name); err != nil {
			return nil, fmt.Errorf("failed to get columns for table %s: %w", name, err)
		}
		if table.Indexes, err = i.GetIndexes(ctx, db, name); err != nil {
			return nil, fmt.Errorf("failed to get indexes for table %s: %w", name, err)
		}
		if table.ForeignKeys, err = i.GetForeignKeys(ctx, db, name); err != nil {
			return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", name, err)
		}
		if table.Constraints, err = i.GetConstraints(ctx, db, name); err != nil {
			return nil, fmt.Errorf("failed to get constraints for table %s: %w", name, err)
		}
		schema.Tables = append(schema.Tables, table)
	}

	if schema.Extensions, err = i.GetExtensions(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to get extensions: %w", err)
	}
	return schema, nil
}

// GetTables returns all base table names in current_schema()
func (i *Introspector) GetTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetColumns returns the columns of a table in ordinal order
func (i *Introspector) GetColumns(ctx context.Context, db *sql.DB, tableName string) ([]database.Column, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.column_default,
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
				  ON tc.constraint_name = kcu.constraint_name
				  AND tc.table_schema = kcu.table_schema
				WHERE tc.table_name = c.table_name
				  AND tc.table_schema = c.table_schema
				  AND tc.constraint_type = 'PRIMARY KEY'
				  AND kcu.column_name = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema()
		  AND c.table_name = $1
		ORDER BY c.ordinal_position
	`, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []database.Column
	for rows.Next() {
		var (
			col        database.Column
			nullable   string
			defaultVal sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &defaultVal, &col.IsPrimaryKey); err != nil {
			return nil, err
		}
		col.Type = strings.TrimSpace(col.Type)
		col.Nullable = nullable == "YES"

		switch {
		case defaultVal.Valid && isSerialDefault(defaultVal.String):
			// the nextval() default is implied by the serial pseudo-type
			if strings.EqualFold(col.Type, "bigint") {
				col.Type = "bigserial"
			} else if strings.EqualFold(col.Type, "integer") {
				col.Type = "serial"
			}
		case defaultVal.Valid:
			normalized := normalizeDefault(defaultVal.String)
			col.Default = &normalized
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// GetIndexes returns the indexes of a table that do not back a primary key or
// unique constraint
func (i *Introspector) GetIndexes(ctx context.Context, db *sql.DB, tableName string) ([]database.Index, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			ic.relname,
			ix.indisunique,
			ARRAY(
				SELECT a.attname
				FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			)
		FROM pg_index ix
		JOIN pg_class ic ON ic.oid = ix.indexrelid
		JOIN pg_class tc ON tc.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = tc.relnamespace
		WHERE n.nspname = current_schema()
		  AND tc.relname = $1
		  AND NOT ix.indisprimary
		  AND NOT EXISTS (
			SELECT 1 FROM pg_constraint con
			WHERE con.conindid = ix.indexrelid AND con.contype IN ('p', 'u')
		  )
		ORDER BY ic.relname
	`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes for table %q: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var indexes []database.Index
	for rows.Next() {
		var idx database.Index
		var cols pq.StringArray
		if err := rows.Scan(&idx.Name, &idx.Unique, &cols); err != nil {
			return nil, err
		}
		idx.Columns = []string(cols)
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

// GetForeignKeys returns the foreign keys of a table, sorted by name
func (i *Introspector) GetForeignKeys(ctx context.Context, db *sql.DB, tableName string) ([]database.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			tc.constraint_name,
			kcu.column_name,
			ccu.table_name,
			ccu.column_name,
			rc.update_rule,
			rc.delete_rule
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		JOIN information_schema.referential_constraints AS rc
			ON rc.constraint_name = tc.constraint_name
			AND rc.constraint_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = current_schema()
			AND tc.table_name = $1
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byName := make(map[string]*database.ForeignKey)
	var names []string
	for rows.Next() {
		var name, column, refTable, refColumn, updateRule, deleteRule string
		if err := rows.Scan(&name, &column, &refTable, &refColumn, &updateRule, &deleteRule); err != nil {
			return nil, err
		}

		fk, ok := byName[name]
		if !ok {
			fk = &database.ForeignKey{Name: name, ReferencedTable: refTable}
			if updateRule != "NO ACTION" {
				v := updateRule
				fk.OnUpdate = &v
			}
			if deleteRule != "NO ACTION" {
				v := deleteRule
				fk.OnDelete = &v
			}
			byName[name] = fk
			names = append(names, name)
		}
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fks := make([]database.ForeignKey, 0, len(names))
	for _, name := range names {
		fks = append(fks, *byName[name])
	}
	return fks, nil
}

// GetConstraints returns the unique and check constraints of a table
func (i *Introspector) GetConstraints(ctx context.Context, db *sql.DB, tableName string) ([]database.Constraint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			con.conname,
			con.contype,
			ARRAY(
				SELECT a.attname
				FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			),
			COALESCE(pg_get_constraintdef(con.oid), '')
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = current_schema()
		  AND c.relname = $1
		  AND con.contype IN ('u', 'c')
		ORDER BY con.conname
	`, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var constraints []database.Constraint
	for rows.Next() {
		var (
			c       database.Constraint
			contype string
			cols    pq.StringArray
			def     string
		)
		if err := rows.Scan(&c.Name, &contype, &cols, &def); err != nil {
			return nil, err
		}
		c.Columns = []string(cols)
		if contype == "c" {
			c.Kind = database.ConstraintCheck
			c.Check = checkExpression(def)
		} else {
			c.Kind = database.ConstraintUnique
		}
		constraints = append(constraints, c)
	}
	return constraints, rows.Err()
}

// GetExtensions returns installed extensions other than plpgsql
func (i *Introspector) GetExtensions(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT extname FROM pg_extension WHERE extname <> 'plpgsql' ORDER BY extname`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// isSerialDefault checks if a default value is from a sequence (indicating SERIAL/BIGSERIAL)
func isSerialDefault(defaultVal string) bool {
	return strings.HasPrefix(defaultVal, "nextval(") && strings.Contains(defaultVal, "_seq")
}

// normalizeDefault strips a trailing redundant cast ('{}'::jsonb -> '{}')
func normalizeDefault(defaultVal string) string {
	if idx := strings.LastIndex(defaultVal, "::"); idx > 0 {
		before := defaultVal[:idx]
		if strings.Count(before, "'")%2 == 0 {
			return before
		}
	}
	return defaultVal
}

// checkExpression turns "CHECK ((price > 0))" into "price > 0"
func checkExpression(def string) string {
	expr := strings.TrimSpace(strings.TrimPrefix(def, "CHECK"))
	for strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") && balanced(expr[1:len(expr)-1]) {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	}
	return expr
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
