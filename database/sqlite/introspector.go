package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lockplane/migrator/database"
)

// Introspector implements database.Introspector for SQLite
type Introspector struct{}

// NewIntrospector creates a new SQLite introspector
func NewIntrospector() *Introspector {
	return &Introspector{}
}

// IntrospectSchema reads every user table of the SQLite database
func (i *Introspector) IntrospectSchema(ctx context.Context, db *sql.DB) (*database.Schema, error) {
	tables, err := i.GetTables(ctx, db)
	if err != nil {
		return nil, err
	}

	schema := &database.Schema{}
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
		schema.Tables = append(schema.Tables, table)
	}
	return schema, nil
}

// GetTables returns all table names in the SQLite database
func (i *Introspector) GetTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

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

// GetColumns returns the columns of a table in declaration order
func (i *Introspector) GetColumns(ctx context.Context, db *sql.DB, tableName string) ([]database.Column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []database.Column
	for rows.Next() {
		var (
			cid, notNull, pk int
			col              database.Column
			defaultVal       sql.NullString
		)
		// cid, name, type, notnull, dflt_value, pk
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		col.Nullable = notNull == 0
		col.IsPrimaryKey = pk > 0
		if defaultVal.Valid {
			v := defaultVal.String
			col.Default = &v
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// GetIndexes returns explicitly created indexes of a table, sorted by name.
// Indexes SQLite creates for PRIMARY KEY and UNIQUE clauses are skipped.
func (i *Introspector) GetIndexes(ctx context.Context, db *sql.DB, tableName string) ([]database.Index, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", tableName))
	if err != nil {
		return nil, err
	}

	var indexes []database.Index
	for rows.Next() {
		var (
			seq, unique, partial int
			name, origin         string
		)
		// seq, name, unique, origin, partial
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		if origin != "c" || strings.HasPrefix(name, "sqlite_autoindex") {
			continue
		}
		indexes = append(indexes, database.Index{Name: name, Unique: unique == 1})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// index_info is queried after index_list is closed; a single-connection
	// pool would otherwise deadlock
	for n := range indexes {
		cols, err := i.indexColumns(ctx, db, indexes[n].Name)
		if err != nil {
			return nil, err
		}
		indexes[n].Columns = cols
	}

	sort.Slice(indexes, func(a, b int) bool { return indexes[a].Name < indexes[b].Name })
	return indexes, nil
}

func (i *Introspector) indexColumns(ctx context.Context, db *sql.DB, indexName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", indexName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		// seqno, cid, name
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

// GetForeignKeys returns the foreign keys of a table.
// SQLite does not keep constraint names, so they are synthesized as
// fk_<table>_<columns>.
func (i *Introspector) GetForeignKeys(ctx context.Context, db *sql.DB, tableName string) ([]database.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int]*database.ForeignKey)
	var ids []int
	for rows.Next() {
		var (
			id, seq                             int
			table, from, onUpdate, onDelete, mt string
			to                                  sql.NullString
		)
		// id, seq, table, from, to, on_update, on_delete, match
		if err := rows.Scan(&id, &seq, &table, &from, &to, &onUpdate, &onDelete, &mt); err != nil {
			return nil, err
		}

		fk, ok := byID[id]
		if !ok {
			fk = &database.ForeignKey{ReferencedTable: table}
			if onUpdate != "NO ACTION" {
				v := onUpdate
				fk.OnUpdate = &v
			}
			if onDelete != "NO ACTION" {
				v := onDelete
				fk.OnDelete = &v
			}
			byID[id] = fk
			ids = append(ids, id)
		}
		fk.Columns = append(fk.Columns, from)
		if to.Valid {
			fk.ReferencedColumns = append(fk.ReferencedColumns, to.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Ints(ids)
	var fks []database.ForeignKey
	for _, id := range ids {
		fk := byID[id]
		fk.Name = fmt.Sprintf("fk_%s_%s", tableName, strings.Join(fk.Columns, "_"))
		fks = append(fks, *fk)
	}
	sort.Slice(fks, func(a, b int) bool { return fks[a].Name < fks[b].Name })
	return fks, nil
}
