package database

import (
	"context"
	"database/sql"
	"sort"
	"strings"
)

// Schema represents a physical database schema
type Schema struct {
	Tables     []Table  `json:"tables"`
	Extensions []string `json:"extensions,omitempty"`
}

// Table represents a database table
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	Indexes     []Index      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty"`
}

// Column represents a table column
type Column struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	Default      *string `json:"default,omitempty"`
	IsPrimaryKey bool    `json:"is_primary_key"`
}

// Index represents a table index
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// ForeignKey represents a foreign key constraint
type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
	OnDelete          *string  `json:"on_delete,omitempty"`
	OnUpdate          *string  `json:"on_update,omitempty"`
}

// Constraint kinds
const (
	ConstraintUnique = "unique"
	ConstraintCheck  = "check"
	// ConstraintForeignKey carries a composite foreign key in model state;
	// tables hold it in ForeignKeys, never in Constraints
	ConstraintForeignKey = "foreign_key"
)

// Constraint represents a named table constraint; foreign keys appear here
// only as model state
type Constraint struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Columns []string `json:"columns,omitempty"`
	Check   string   `json:"check,omitempty"`

	ReferencedTable   string   `json:"referenced_table,omitempty" yaml:"referenced_table,omitempty"`
	ReferencedColumns []string `json:"referenced_columns,omitempty" yaml:"referenced_columns,omitempty"`
	OnDelete          *string  `json:"on_delete,omitempty" yaml:"on_delete,omitempty"`
	OnUpdate          *string  `json:"on_update,omitempty" yaml:"on_update,omitempty"`
}

// ForeignKeyConstraint wraps fk as a constraint of kind ConstraintForeignKey
func ForeignKeyConstraint(fk ForeignKey) Constraint {
	return Constraint{
		Name:              fk.Name,
		Kind:              ConstraintForeignKey,
		Columns:           append([]string(nil), fk.Columns...),
		ReferencedTable:   fk.ReferencedTable,
		ReferencedColumns: append([]string(nil), fk.ReferencedColumns...),
		OnDelete:          fk.OnDelete,
		OnUpdate:          fk.OnUpdate,
	}
}

// ForeignKey unwraps a ConstraintForeignKey constraint
func (c Constraint) ForeignKey() ForeignKey {
	return ForeignKey{
		Name:              c.Name,
		Columns:           append([]string(nil), c.Columns...),
		ReferencedTable:   c.ReferencedTable,
		ReferencedColumns: append([]string(nil), c.ReferencedColumns...),
		OnDelete:          c.OnDelete,
		OnUpdate:          c.OnUpdate,
	}
}

// Equal compares everything but the name
func (c Constraint) Equal(o Constraint) bool {
	return c.Kind == o.Kind && c.Check == o.Check && c.ReferencedTable == o.ReferencedTable &&
		sameNames(c.Columns, o.Columns) && sameNames(c.ReferencedColumns, o.ReferencedColumns) &&
		sameAction(c.OnDelete, o.OnDelete) && sameAction(c.OnUpdate, o.OnUpdate)
}

func sameNames(a, b []string) bool {
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

func sameAction(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Clone copies the column lists
func (c Constraint) Clone() Constraint {
	c.Columns = append([]string(nil), c.Columns...)
	if c.ReferencedColumns != nil {
		c.ReferencedColumns = append([]string(nil), c.ReferencedColumns...)
	}
	return c
}

// LogicalType returns the dialect-neutral, lower-cased type name used for comparisons
func (c Column) LogicalType() string {
	return strings.ToLower(strings.TrimSpace(c.Type))
}

// Table returns the table with the given name, or nil
func (s *Schema) Table(name string) *Table {
	if s == nil {
		return nil
	}
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// Column returns the column with the given name, or nil
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// HasExtension reports whether the extension is installed
func (s *Schema) HasExtension(name string) bool {
	for _, ext := range s.Extensions {
		if ext == name {
			return true
		}
	}
	return false
}

// ReferencingForeignKeys returns "table.fk" names of foreign keys in other tables that point at table
func (s *Schema) ReferencingForeignKeys(table string) []string {
	var refs []string
	for _, t := range s.Tables {
		if t.Name == table {
			continue
		}
		for _, fk := range t.ForeignKeys {
			if fk.ReferencedTable == table {
				refs = append(refs, t.Name+"."+fk.Name)
			}
		}
	}
	sort.Strings(refs)
	return refs
}

// Clone returns a deep copy of the schema
func (s *Schema) Clone() *Schema {
	if s == nil {
		return &Schema{}
	}
	out := &Schema{
		Tables:     make([]Table, len(s.Tables)),
		Extensions: append([]string(nil), s.Extensions...),
	}
	for i, t := range s.Tables {
		out.Tables[i] = t.Clone()
	}
	return out
}

// Clone returns a deep copy of the table
func (t Table) Clone() Table {
	out := Table{Name: t.Name}
	for _, c := range t.Columns {
		out.Columns = append(out.Columns, c.Clone())
	}
	for _, idx := range t.Indexes {
		idx.Columns = append([]string(nil), idx.Columns...)
		out.Indexes = append(out.Indexes, idx)
	}
	for _, fk := range t.ForeignKeys {
		out.ForeignKeys = append(out.ForeignKeys, fk.Clone())
	}
	for _, c := range t.Constraints {
		out.Constraints = append(out.Constraints, c.Clone())
	}
	return out
}

// Clone returns a copy of the column that shares no pointers with the original
func (c Column) Clone() Column {
	if c.Default != nil {
		d := *c.Default
		c.Default = &d
	}
	return c
}

// Clone returns a copy of the foreign key that shares no memory with the original
func (fk ForeignKey) Clone() ForeignKey {
	fk.Columns = append([]string(nil), fk.Columns...)
	fk.ReferencedColumns = append([]string(nil), fk.ReferencedColumns...)
	if fk.OnDelete != nil {
		v := *fk.OnDelete
		fk.OnDelete = &v
	}
	if fk.OnUpdate != nil {
		v := *fk.OnUpdate
		fk.OnUpdate = &v
	}
	return fk
}

// Introspector defines the interface for database schema introspection
type Introspector interface {
	// IntrospectSchema reads the entire database schema
	IntrospectSchema(ctx context.Context, db *sql.DB) (*Schema, error)

	// GetTables returns all table names in the database
	GetTables(ctx context.Context, db *sql.DB) ([]string, error)

	// GetColumns returns all columns for a given table
	GetColumns(ctx context.Context, db *sql.DB, tableName string) ([]Column, error)

	// GetIndexes returns all indexes for a given table
	GetIndexes(ctx context.Context, db *sql.DB, tableName string) ([]Index, error)

	// GetForeignKeys returns all foreign keys for a given table
	GetForeignKeys(ctx context.Context, db *sql.DB, tableName string) ([]ForeignKey, error)
}

// ColumnDiff represents changes to a column
type ColumnDiff struct {
	ColumnName string   `json:"column_name"`
	Old        Column   `json:"old"`
	New        Column   `json:"new"`
	Changes    []string `json:"changes"` // "type", "nullable", "default", "primary_key"
}

// HasChange reports whether the named attribute changed
func (d ColumnDiff) HasChange(change string) bool {
	for _, c := range d.Changes {
		if c == change {
			return true
		}
	}
	return false
}

// PlanStep represents one logical change rendered as one or more SQL statements
type PlanStep struct {
	Description string   `json:"description"`
	SQL         []string `json:"sql"`
}

// SQLGenerator defines the interface for generating database-specific SQL
type SQLGenerator interface {
	// CreateTable generates SQL to create a table
	CreateTable(table Table) (sql string, description string)

	// DropTable generates SQL to drop a table
	DropTable(table Table) (sql string, description string)

	// RenameTable generates SQL to rename a table
	RenameTable(oldName, newName string) (sql string, description string)

	// AddColumn generates SQL to add a column to a table
	AddColumn(tableName string, col Column) (sql string, description string)

	// DropColumn generates SQL to drop a column from a table
	DropColumn(tableName string, col Column) (sql string, description string)

	// RenameColumn generates SQL to rename a column
	RenameColumn(tableName, oldName, newName string) (sql string, description string)

	// ModifyColumn generates SQL to modify a column (type, nullability, default).
	// table is the definition before the change; returns multiple steps if
	// needed (e.g., SQLite table recreation)
	ModifyColumn(table Table, diff ColumnDiff) []PlanStep

	// AddIndex generates SQL to add an index
	AddIndex(tableName string, idx Index) (sql string, description string)

	// DropIndex generates SQL to drop an index
	DropIndex(tableName string, idx Index) (sql string, description string)

	// AddForeignKey generates SQL to add a foreign key constraint
	AddForeignKey(table Table, fk ForeignKey) []PlanStep

	// DropForeignKey generates SQL to drop a foreign key constraint
	DropForeignKey(table Table, fk ForeignKey) []PlanStep

	// AddConstraint generates SQL to add a unique or check constraint
	AddConstraint(table Table, c Constraint) []PlanStep

	// DropConstraint generates SQL to drop a unique or check constraint
	DropConstraint(table Table, c Constraint) []PlanStep

	// CreateExtension generates SQL to install a database extension.
	// Returns an empty statement when the dialect has no extensions.
	CreateExtension(name string) (sql string, description string)

	// DropExtension generates SQL to remove a database extension
	DropExtension(name string) (sql string, description string)

	// FormatColumnDefinition formats a column definition for CREATE TABLE
	FormatColumnDefinition(col Column) string

	// ParameterPlaceholder returns the parameter placeholder for this database
	// PostgreSQL: $1, $2, etc.
	// SQLite: ?, ?, etc.
	ParameterPlaceholder(position int) string
}

// Features passed to Driver.SupportsFeature
const (
	FeatureCascade          = "CASCADE"
	FeatureAlterColumn      = "ALTER_COLUMN"
	FeatureAddForeignKey    = "ALTER_ADD_FOREIGN_KEY"
	FeatureAddConstraint    = "ALTER_ADD_CONSTRAINT"
	FeatureForeignKeys      = "FOREIGN_KEYS"
	FeatureDropColumn       = "DROP_COLUMN"
	FeatureRenameColumn     = "RENAME_COLUMN"
	FeatureExtensions       = "EXTENSIONS"
	FeatureTransactionalDDL = "TRANSACTIONAL_DDL"
)

// Driver represents a database driver with introspection and SQL generation
type Driver interface {
	Introspector
	SQLGenerator

	// Name returns the database driver name (e.g., "postgres", "sqlite")
	Name() string

	// SupportsFeature checks if the database supports a specific feature
	SupportsFeature(feature string) bool
}
