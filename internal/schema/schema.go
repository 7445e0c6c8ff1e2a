// Package schema declares every table the population store writes as an
// explicit descriptor (ordered columns, key and foreign keys) and renders the
// descriptors to SQLite or Postgres DDL.
package schema

import (
	"fmt"
	"strings"
)

// ColumnType is the logical type of a column.
type ColumnType string

// Logical column types.
const (
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
	TypeText    ColumnType = "text"
	TypeBoolean ColumnType = "boolean"
)

// Column is one named, typed column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// ForeignKey declares that Columns reference RefColumns of RefTable.
type ForeignKey struct {
	Columns    []string
	RefTable   string
	RefColumns []string
}

// Table describes a table. Column order is the order of row values.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	Unique      [][]string
	ForeignKeys []ForeignKey
}

// Dialect selects the SQL flavour for rendering.
type Dialect string

// Supported dialects.
const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ColumnNames returns column names in order.
func (t Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

func (t Table) column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Validate checks the descriptor is self-consistent. refs supplies the
// referenced tables so foreign keys can be checked against their targets.
func (t Table) Validate(refs ...Table) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("schema: table name required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("schema %s: no columns", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema %s: empty column name", t.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("schema %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
		switch c.Type {
		case TypeInteger, TypeReal, TypeText, TypeBoolean:
		default:
			return fmt.Errorf("schema %s.%s: unknown type %q", t.Name, c.Name, c.Type)
		}
	}
	if len(t.PrimaryKey) == 0 {
		return fmt.Errorf("schema %s: primary key required", t.Name)
	}
	for _, name := range t.PrimaryKey {
		c, ok := t.column(name)
		if !ok {
			return fmt.Errorf("schema %s: primary key column %s not declared", t.Name, name)
		}
		if c.Nullable {
			return fmt.Errorf("schema %s: primary key column %s is nullable", t.Name, name)
		}
	}
	for _, u := range t.Unique {
		for _, name := range u {
			if _, ok := t.column(name); !ok {
				return fmt.Errorf("schema %s: unique column %s not declared", t.Name, name)
			}
		}
	}
	byName := make(map[string]Table, len(refs))
	for _, r := range refs {
		byName[r.Name] = r
	}
	for _, fk := range t.ForeignKeys {
		if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
			return fmt.Errorf("schema %s: foreign key to %s has mismatched columns", t.Name, fk.RefTable)
		}
		for _, name := range fk.Columns {
			if _, ok := t.column(name); !ok {
				return fmt.Errorf("schema %s: foreign key column %s not declared", t.Name, name)
			}
		}
		ref, ok := byName[fk.RefTable]
		if !ok {
			continue
		}
		for i, name := range fk.RefColumns {
			rc, ok := ref.column(name)
			if !ok {
				return fmt.Errorf("schema %s: foreign key references missing %s.%s", t.Name, fk.RefTable, name)
			}
			lc, _ := t.column(fk.Columns[i])
			if lc.Type != rc.Type {
				return fmt.Errorf("schema %s: foreign key %s type %s does not match %s.%s type %s", t.Name, lc.Name, lc.Type, fk.RefTable, name, rc.Type)
			}
		}
	}
	return nil
}

// CheckRow verifies that values line up with the columns: same length, a
// value of the column's type, and nil only where the column is nullable.
func (t Table) CheckRow(values []any) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("schema %s: row has %d values, want %d", t.Name, len(values), len(t.Columns))
	}
	for i, c := range t.Columns {
		v := values[i]
		if v == nil {
			if !c.Nullable {
				return fmt.Errorf("schema %s.%s: null in non-nullable column", t.Name, c.Name)
			}
			continue
		}
		if !typeMatches(c.Type, v) {
			return fmt.Errorf("schema %s.%s: value %v (%T) is not %s", t.Name, c.Name, v, v, c.Type)
		}
	}
	return nil
}

func typeMatches(ct ColumnType, v any) bool {
	switch ct {
	case TypeInteger:
		switch v.(type) {
		case int, int32, int64:
			return true
		}
	case TypeReal:
		switch v.(type) {
		case float32, float64:
			return true
		}
	case TypeText:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	}
	return false
}

// Quote returns name as a quoted identifier, valid in both dialects.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = Quote(n)
	}
	return strings.Join(q, ", ")
}

func sqlType(d Dialect, ct ColumnType) string {
	if d == Postgres {
		switch ct {
		case TypeInteger:
			return "BIGINT"
		case TypeReal:
			return "DOUBLE PRECISION"
		case TypeBoolean:
			return "BOOLEAN"
		default:
			return "TEXT"
		}
	}
	switch ct {
	case TypeInteger, TypeBoolean:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// CreateDDL renders the CREATE TABLE statement.
func (t Table) CreateDDL(d Dialect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", Quote(t.Name))
	lines := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+2)
	for _, c := range t.Columns {
		line := fmt.Sprintf("\t%s %s", Quote(c.Name), sqlType(d, c.Type))
		if !c.Nullable {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	lines = append(lines, fmt.Sprintf("\tPRIMARY KEY (%s)", quoteAll(t.PrimaryKey)))
	for _, u := range t.Unique {
		lines = append(lines, fmt.Sprintf("\tUNIQUE (%s)", quoteAll(u)))
	}
	for _, fk := range t.ForeignKeys {
		lines = append(lines, fmt.Sprintf("\tFOREIGN KEY (%s) REFERENCES %s (%s)", quoteAll(fk.Columns), Quote(fk.RefTable), quoteAll(fk.RefColumns)))
	}
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n);")
	return b.String()
}

// CreateIfNotExistsDDL renders CREATE TABLE IF NOT EXISTS.
func (t Table) CreateIfNotExistsDDL(d Dialect) string {
	return strings.Replace(t.CreateDDL(d), "CREATE TABLE ", "CREATE TABLE IF NOT EXISTS ", 1)
}

// DropDDL renders DROP TABLE IF EXISTS.
func (t Table) DropDDL() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", Quote(t.Name))
}

// Placeholder returns the n-th (1-based) bind placeholder.
func Placeholder(d Dialect, n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func placeholders(d Dialect, from, count int) string {
	out := make([]string, count)
	for i := range out {
		out[i] = Placeholder(d, from+i)
	}
	return strings.Join(out, ", ")
}

// InsertSQL renders a single-row INSERT over every column.
func (t Table) InsertSQL(d Dialect) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", Quote(t.Name), quoteAll(t.ColumnNames()), placeholders(d, 1, len(t.Columns)))
}

// SelectSQL renders a SELECT of every column ordered by primary key.
func (t Table) SelectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", quoteAll(t.ColumnNames()), Quote(t.Name), quoteAll(t.PrimaryKey))
}

// Script renders CREATE statements for tables in order, each terminated by
// a semicolon, for execution through SplitStatements.
func Script(d Dialect, ifNotExists bool, tables ...Table) string {
	var b strings.Builder
	for _, t := range tables {
		fmt.Fprintf(&b, "-- %s\n", t.Name)
		if ifNotExists {
			b.WriteString(t.CreateIfNotExistsDDL(d))
		} else {
			b.WriteString(t.CreateDDL(d))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
