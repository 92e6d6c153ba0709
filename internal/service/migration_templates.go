package service

import (
	"fmt"
	"regexp"
	"strings"
)

// Migration templates are pure string builders: template in, up/down script
// pair out, no I/O. Generated definitions go through the same validation as
// hand-written ones, so template correctness is testable without a database.

// ScriptPair is a generated up/down script pair.
type ScriptPair struct {
	UpScript   string `json:"up_script"`
	DownScript string `json:"down_script"`
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validIdentifier guards template inputs against anything that is not a plain
// SQL identifier; templates interpolate names directly into DDL.
func validIdentifier(name string) error {
	if !identPattern.MatchString(name) {
		return NewValidationError("identifier", fmt.Sprintf("%q is not a valid SQL identifier", name))
	}
	return nil
}

// AddColumnWithDefault generates scripts that add a column with a default
// value. SQLite cannot drop columns before 3.35, so the down script uses
// ALTER TABLE DROP COLUMN which libsql supports.
func AddColumnWithDefault(table, column, columnType, defaultValue string) (ScriptPair, error) {
	for _, name := range []string{table, column} {
		if err := validIdentifier(name); err != nil {
			return ScriptPair{}, err
		}
	}
	if columnType == "" {
		return ScriptPair{}, NewValidationError("column_type", "is required")
	}

	return ScriptPair{
		UpScript: fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s NOT NULL DEFAULT %s;",
			table, column, columnType, defaultValue),
		DownScript: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", table, column),
	}, nil
}

// CreateTenantScopedTable generates scripts for a table that carries a
// tenant_id column, with an index on it. Column definitions are passed
// through verbatim after the identifier columns.
func CreateTenantScopedTable(table string, columns []string) (ScriptPair, error) {
	if err := validIdentifier(table); err != nil {
		return ScriptPair{}, err
	}
	if len(columns) == 0 {
		return ScriptPair{}, NewValidationError("columns", "at least one column is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", table)
	b.WriteString("\tid TEXT PRIMARY KEY,\n")
	b.WriteString("\ttenant_id TEXT NOT NULL,\n")
	for _, col := range columns {
		fmt.Fprintf(&b, "\t%s,\n", col)
	}
	b.WriteString("\tcreated_at TEXT NOT NULL,\n")
	b.WriteString("\tupdated_at TEXT NOT NULL\n")
	b.WriteString(");\n")
	fmt.Fprintf(&b, "CREATE INDEX idx_%s_tenant ON %s(tenant_id);", table, table)

	return ScriptPair{
		UpScript:   b.String(),
		DownScript: fmt.Sprintf("DROP TABLE %s;", table),
	}, nil
}

// EnableRowLevelIsolation generates a trigger pair that rejects writes with a
// missing or empty tenant_id on a tenant-scoped table, approximating a
// row-level isolation policy on engines without native RLS.
func EnableRowLevelIsolation(table string) (ScriptPair, error) {
	if err := validIdentifier(table); err != nil {
		return ScriptPair{}, err
	}

	up := fmt.Sprintf(`CREATE TRIGGER trg_%[1]s_tenant_insert
BEFORE INSERT ON %[1]s
FOR EACH ROW WHEN NEW.tenant_id IS NULL OR NEW.tenant_id = ''
BEGIN
	SELECT RAISE(ABORT, 'tenant_id is required on %[1]s');
END;
CREATE TRIGGER trg_%[1]s_tenant_update
BEFORE UPDATE OF tenant_id ON %[1]s
FOR EACH ROW WHEN NEW.tenant_id IS NULL OR NEW.tenant_id = ''
BEGIN
	SELECT RAISE(ABORT, 'tenant_id is required on %[1]s');
END;`, table)

	down := fmt.Sprintf("DROP TRIGGER trg_%[1]s_tenant_insert;\nDROP TRIGGER trg_%[1]s_tenant_update;", table)

	return ScriptPair{UpScript: up, DownScript: down}, nil
}

// BulkAddColumnWithDefault applies AddColumnWithDefault over a list of tables,
// concatenating the scripts in order. The down script reverses in the
// opposite order.
func BulkAddColumnWithDefault(tables []string, column, columnType, defaultValue string) (ScriptPair, error) {
	if len(tables) == 0 {
		return ScriptPair{}, NewValidationError("tables", "at least one table is required")
	}

	var ups, downs []string
	for _, table := range tables {
		pair, err := AddColumnWithDefault(table, column, columnType, defaultValue)
		if err != nil {
			return ScriptPair{}, err
		}
		ups = append(ups, pair.UpScript)
		downs = append([]string{pair.DownScript}, downs...)
	}

	return ScriptPair{
		UpScript:   strings.Join(ups, "\n"),
		DownScript: strings.Join(downs, "\n"),
	}, nil
}

// BulkEnableRowLevelIsolation applies EnableRowLevelIsolation over a list of
// tables.
func BulkEnableRowLevelIsolation(tables []string) (ScriptPair, error) {
	if len(tables) == 0 {
		return ScriptPair{}, NewValidationError("tables", "at least one table is required")
	}

	var ups, downs []string
	for _, table := range tables {
		pair, err := EnableRowLevelIsolation(table)
		if err != nil {
			return ScriptPair{}, err
		}
		ups = append(ups, pair.UpScript)
		downs = append([]string{pair.DownScript}, downs...)
	}

	return ScriptPair{
		UpScript:   strings.Join(ups, "\n"),
		DownScript: strings.Join(downs, "\n"),
	}, nil
}
