package schema

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/state"
)

// ParseSQL reads PostgreSQL DDL into a schema. CREATE TABLE (with column and
// table constraints), CREATE INDEX and CREATE EXTENSION are understood;
// other statements are ignored.
func ParseSQL(sql string) (*database.Schema, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SQL: %w", err)
	}

	schema := &database.Schema{}
	for _, stmt := range tree.Stmts {
		if stmt.Stmt == nil {
			continue
		}
		switch node := stmt.Stmt.Node.(type) {
		case *pg_query.Node_CreateStmt:
			table, err := parseCreateTable(sql, node.CreateStmt)
			if err != nil {
				return nil, fmt.Errorf("failed to parse CREATE TABLE: %w", err)
			}
			schema.Tables = append(schema.Tables, *table)

		case *pg_query.Node_IndexStmt:
			if err := parseCreateIndex(schema, node.IndexStmt); err != nil {
				return nil, fmt.Errorf("failed to parse CREATE INDEX: %w", err)
			}

		case *pg_query.Node_CreateExtensionStmt:
			if !schema.HasExtension(node.CreateExtensionStmt.Extname) {
				schema.Extensions = append(schema.Extensions, node.CreateExtensionStmt.Extname)
			}
		}
	}
	return schema, nil
}

func parseCreateTable(sql string, stmt *pg_query.CreateStmt) (*database.Table, error) {
	if stmt.Relation == nil {
		return nil, fmt.Errorf("CREATE TABLE missing relation")
	}
	table := &database.Table{Name: stmt.Relation.Relname}

	for _, elt := range stmt.TableElts {
		if elt.Node == nil {
			continue
		}
		switch node := elt.Node.(type) {
		case *pg_query.Node_ColumnDef:
			if err := parseColumnDef(sql, table, node.ColumnDef); err != nil {
				return nil, err
			}
		case *pg_query.Node_Constraint:
			if err := parseTableConstraint(sql, table, node.Constraint); err != nil {
				return nil, err
			}
		}
	}
	return table, nil
}

func parseColumnDef(sql string, table *database.Table, colDef *pg_query.ColumnDef) error {
	if colDef.Colname == "" {
		return fmt.Errorf("column missing name")
	}
	col := database.Column{Name: colDef.Colname, Nullable: true}
	if colDef.TypeName != nil {
		col.Type = formatTypeName(colDef.TypeName)
	}

	for _, c := range colDef.Constraints {
		cons, ok := c.Node.(*pg_query.Node_Constraint)
		if !ok {
			continue
		}
		con := cons.Constraint
		switch con.Contype {
		case pg_query.ConstrType_CONSTR_NOTNULL:
			col.Nullable = false
		case pg_query.ConstrType_CONSTR_NULL:
			col.Nullable = true
		case pg_query.ConstrType_CONSTR_DEFAULT:
			if con.RawExpr != nil {
				def := formatExpr(con.RawExpr)
				col.Default = &def
			}
		case pg_query.ConstrType_CONSTR_PRIMARY:
			col.IsPrimaryKey = true
			col.Nullable = false
		case pg_query.ConstrType_CONSTR_UNIQUE:
			table.Constraints = append(table.Constraints, database.Constraint{
				Name:    nameOr(con.Conname, state.UniqueIndexName(table.Name, col.Name)),
				Kind:    database.ConstraintUnique,
				Columns: []string{col.Name},
			})
		case pg_query.ConstrType_CONSTR_CHECK:
			table.Constraints = append(table.Constraints, database.Constraint{
				Name:    nameOr(con.Conname, fmt.Sprintf("%s_%s_check", table.Name, col.Name)),
				Kind:    database.ConstraintCheck,
				Columns: []string{col.Name},
				Check:   checkText(sql, int(con.Location)),
			})
		case pg_query.ConstrType_CONSTR_FOREIGN:
			fk := foreignKey(con, table.Name, []string{col.Name})
			table.ForeignKeys = append(table.ForeignKeys, fk)
		}
	}

	table.Columns = append(table.Columns, col)
	return nil
}

func parseTableConstraint(sql string, table *database.Table, con *pg_query.Constraint) error {
	switch con.Contype {
	case pg_query.ConstrType_CONSTR_PRIMARY:
		for _, name := range nodeNames(con.Keys) {
			col := table.Column(name)
			if col == nil {
				return fmt.Errorf("primary key column %s not found in table %s", name, table.Name)
			}
			col.IsPrimaryKey = true
			col.Nullable = false
		}
	case pg_query.ConstrType_CONSTR_UNIQUE:
		cols := nodeNames(con.Keys)
		table.Constraints = append(table.Constraints, database.Constraint{
			Name:    nameOr(con.Conname, fmt.Sprintf("%s_%s_key", table.Name, strings.Join(cols, "_"))),
			Kind:    database.ConstraintUnique,
			Columns: cols,
		})
	case pg_query.ConstrType_CONSTR_CHECK:
		table.Constraints = append(table.Constraints, database.Constraint{
			Name:  nameOr(con.Conname, fmt.Sprintf("%s_check", table.Name)),
			Kind:  database.ConstraintCheck,
			Check: checkText(sql, int(con.Location)),
		})
	case pg_query.ConstrType_CONSTR_FOREIGN:
		table.ForeignKeys = append(table.ForeignKeys, foreignKey(con, table.Name, nodeNames(con.FkAttrs)))
	}
	return nil
}

func foreignKey(con *pg_query.Constraint, table string, cols []string) database.ForeignKey {
	fk := database.ForeignKey{
		Name:              con.Conname,
		Columns:           cols,
		ReferencedColumns: nodeNames(con.PkAttrs),
	}
	if fk.Name == "" {
		fk.Name = state.ForeignKeyName(table, strings.Join(cols, "_"))
	}
	if con.Pktable != nil {
		fk.ReferencedTable = con.Pktable.Relname
	}
	if len(fk.ReferencedColumns) == 0 {
		fk.ReferencedColumns = []string{"id"}
	}
	fk.OnDelete = fkAction(con.FkDelAction)
	fk.OnUpdate = fkAction(con.FkUpdAction)
	return fk
}

// fkAction maps the parser's single-letter action codes; NO ACTION is the default
func fkAction(code string) *string {
	var action string
	switch code {
	case "r":
		action = "RESTRICT"
	case "c":
		action = "CASCADE"
	case "n":
		action = "SET NULL"
	case "d":
		action = "SET DEFAULT"
	default:
		return nil
	}
	return &action
}

func parseCreateIndex(schema *database.Schema, stmt *pg_query.IndexStmt) error {
	if stmt.Relation == nil {
		return fmt.Errorf("CREATE INDEX missing relation")
	}
	table := schema.Table(stmt.Relation.Relname)
	if table == nil {
		return fmt.Errorf("index %s references unknown table %s", stmt.Idxname, stmt.Relation.Relname)
	}
	idx := database.Index{Name: stmt.Idxname, Unique: stmt.Unique}
	for _, p := range stmt.IndexParams {
		if elem, ok := p.Node.(*pg_query.Node_IndexElem); ok && elem.IndexElem.Name != "" {
			idx.Columns = append(idx.Columns, elem.IndexElem.Name)
		}
	}
	if idx.Name == "" {
		idx.Name = fmt.Sprintf("%s_%s_idx", table.Name, strings.Join(idx.Columns, "_"))
	}
	table.Indexes = append(table.Indexes, idx)
	return nil
}

func nodeNames(nodes []*pg_query.Node) []string {
	var out []string
	for _, n := range nodes {
		if s, ok := n.Node.(*pg_query.Node_String_); ok {
			out = append(out, s.String_.Sval)
		}
	}
	return out
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// checkText returns the parenthesized expression following the CHECK keyword at loc
func checkText(sql string, loc int) string {
	if loc < 0 || loc >= len(sql) {
		return ""
	}
	open := strings.Index(sql[loc:], "(")
	if open < 0 {
		return ""
	}
	start := loc + open
	depth := 0
	for i := start; i < len(sql); i++ {
		switch sql[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return strings.TrimSpace(sql[start+1 : i])
			}
		}
	}
	return ""
}

// formatTypeName converts a TypeName node to its SQL spelling, e.g. varchar(255)
func formatTypeName(typeName *pg_query.TypeName) string {
	var parts []string
	for _, name := range typeName.Names {
		if nameNode, ok := name.Node.(*pg_query.Node_String_); ok {
			parts = append(parts, nameNode.String_.Sval)
		}
	}
	if len(parts) == 0 {
		return ""
	}

	typeStr := strings.Join(parts, ".")
	if len(parts) > 1 && parts[0] == "pg_catalog" {
		typeStr = parts[len(parts)-1]
	}
	if normalized, ok := typeMap[strings.ToLower(typeStr)]; ok {
		typeStr = normalized
	}

	var mods []string
	for _, mod := range typeName.Typmods {
		if constNode, ok := mod.Node.(*pg_query.Node_AConst); ok {
			if ival := constNode.AConst.GetIval(); ival != nil {
				mods = append(mods, fmt.Sprintf("%d", ival.Ival))
			}
		}
	}
	if len(mods) > 0 {
		typeStr = fmt.Sprintf("%s(%s)", typeStr, strings.Join(mods, ","))
	}
	if len(typeName.ArrayBounds) > 0 {
		typeStr += "[]"
	}
	return typeStr
}

// pg_query reports internal type names (int4, bool); map them to the
// names introspection returns
var typeMap = map[string]string{
	"int2":        "smallint",
	"int4":        "integer",
	"int8":        "bigint",
	"serial2":     "smallserial",
	"serial4":     "serial",
	"serial8":     "bigserial",
	"bool":        "boolean",
	"bpchar":      "char",
	"float4":      "real",
	"float8":      "double precision",
	"timestamptz": "timestamp with time zone",
	"timetz":      "time with time zone",
}

var sqlValueFunctions = map[pg_query.SQLValueFunctionOp]string{
	pg_query.SQLValueFunctionOp_SVFOP_CURRENT_DATE:        "CURRENT_DATE",
	pg_query.SQLValueFunctionOp_SVFOP_CURRENT_TIME:        "CURRENT_TIME",
	pg_query.SQLValueFunctionOp_SVFOP_CURRENT_TIME_N:      "CURRENT_TIME",
	pg_query.SQLValueFunctionOp_SVFOP_CURRENT_TIMESTAMP:   "CURRENT_TIMESTAMP",
	pg_query.SQLValueFunctionOp_SVFOP_CURRENT_TIMESTAMP_N: "CURRENT_TIMESTAMP",
	pg_query.SQLValueFunctionOp_SVFOP_LOCALTIME:           "LOCALTIME",
	pg_query.SQLValueFunctionOp_SVFOP_LOCALTIME_N:         "LOCALTIME",
	pg_query.SQLValueFunctionOp_SVFOP_LOCALTIMESTAMP:      "LOCALTIMESTAMP",
	pg_query.SQLValueFunctionOp_SVFOP_LOCALTIMESTAMP_N:    "LOCALTIMESTAMP",
	pg_query.SQLValueFunctionOp_SVFOP_CURRENT_ROLE:        "CURRENT_ROLE",
	pg_query.SQLValueFunctionOp_SVFOP_CURRENT_USER:        "CURRENT_USER",
	pg_query.SQLValueFunctionOp_SVFOP_USER:                "USER",
	pg_query.SQLValueFunctionOp_SVFOP_SESSION_USER:        "SESSION_USER",
	pg_query.SQLValueFunctionOp_SVFOP_CURRENT_CATALOG:     "CURRENT_CATALOG",
	pg_query.SQLValueFunctionOp_SVFOP_CURRENT_SCHEMA:      "CURRENT_SCHEMA",
}

// formatExpr renders a default expression. Casts are dropped, matching how
// introspection normalizes defaults.
func formatExpr(node *pg_query.Node) string {
	if node == nil {
		return ""
	}
	switch expr := node.Node.(type) {
	case *pg_query.Node_AConst:
		if ival := expr.AConst.GetIval(); ival != nil {
			return fmt.Sprintf("%d", ival.Ival)
		}
		if fval := expr.AConst.GetFval(); fval != nil {
			return fval.Fval
		}
		if bval := expr.AConst.GetBoolval(); bval != nil {
			if bval.Boolval {
				return "true"
			}
			return "false"
		}
		if sval := expr.AConst.GetSval(); sval != nil {
			return "'" + strings.ReplaceAll(sval.Sval, "'", "''") + "'"
		}
		if expr.AConst.Isnull {
			return "NULL"
		}

	case *pg_query.Node_FuncCall:
		if n := len(expr.FuncCall.Funcname); n > 0 {
			if nameNode, ok := expr.FuncCall.Funcname[n-1].Node.(*pg_query.Node_String_); ok {
				var args []string
				for _, arg := range expr.FuncCall.Args {
					args = append(args, formatExpr(arg))
				}
				return fmt.Sprintf("%s(%s)", nameNode.String_.Sval, strings.Join(args, ", "))
			}
		}

	case *pg_query.Node_TypeCast:
		return formatExpr(expr.TypeCast.Arg)

	case *pg_query.Node_SqlvalueFunction:
		if name, ok := sqlValueFunctions[expr.SqlvalueFunction.Op]; ok {
			return name
		}
	}
	return "UNDEFINED_EXPRESSION"
}
