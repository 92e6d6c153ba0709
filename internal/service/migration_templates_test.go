package service

import (
	"context"
	"strings"
	"testing"
)

func TestAddColumnWithDefault(t *testing.T) {
	pair, err := AddColumnWithDefault("menus", "is_published", "INTEGER", "0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(pair.UpScript, "ALTER TABLE menus ADD COLUMN is_published INTEGER NOT NULL DEFAULT 0") {
		t.Errorf("up script = %q", pair.UpScript)
	}
	if !strings.Contains(pair.DownScript, "ALTER TABLE menus DROP COLUMN is_published") {
		t.Errorf("down script = %q", pair.DownScript)
	}
}

func TestAddColumnWithDefault_Validation(t *testing.T) {
	tests := []struct {
		name       string
		table      string
		column     string
		columnType string
	}{
		{"invalid table", "menus; DROP TABLE users", "c", "TEXT"},
		{"invalid column", "menus", "c c", "TEXT"},
		{"empty type", "menus", "c", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := AddColumnWithDefault(tt.table, tt.column, tt.columnType, "''"); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestCreateTenantScopedTable(t *testing.T) {
	pair, err := CreateTenantScopedTable("meal_logs", []string{"meal_date TEXT NOT NULL", "servings INTEGER NOT NULL"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"CREATE TABLE meal_logs",
		"tenant_id TEXT NOT NULL",
		"meal_date TEXT NOT NULL",
		"CREATE INDEX idx_meal_logs_tenant ON meal_logs(tenant_id)",
	} {
		if !strings.Contains(pair.UpScript, want) {
			t.Errorf("up script missing %q:\n%s", want, pair.UpScript)
		}
	}
	if !strings.Contains(pair.DownScript, "DROP TABLE meal_logs") {
		t.Errorf("down script = %q", pair.DownScript)
	}

	if _, err := CreateTenantScopedTable("meal_logs", nil); err == nil {
		t.Error("expected error for empty column list")
	}
}

func TestEnableRowLevelIsolation(t *testing.T) {
	pair, err := EnableRowLevelIsolation("meal_logs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(pair.UpScript, "trg_meal_logs_tenant_insert") ||
		!strings.Contains(pair.UpScript, "trg_meal_logs_tenant_update") {
		t.Errorf("up script missing trigger pair:\n%s", pair.UpScript)
	}
	if !strings.Contains(pair.DownScript, "DROP TRIGGER trg_meal_logs_tenant_insert") {
		t.Errorf("down script = %q", pair.DownScript)
	}
}

func TestBulkAddColumnWithDefault(t *testing.T) {
	pair, err := BulkAddColumnWithDefault([]string{"menus", "meal_logs"}, "archived", "INTEGER", "0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	upMenus := strings.Index(pair.UpScript, "ALTER TABLE menus ADD")
	upLogs := strings.Index(pair.UpScript, "ALTER TABLE meal_logs ADD")
	if upMenus == -1 || upLogs == -1 || upMenus > upLogs {
		t.Errorf("up script order wrong:\n%s", pair.UpScript)
	}

	// Down reverses the order.
	downLogs := strings.Index(pair.DownScript, "ALTER TABLE meal_logs DROP")
	downMenus := strings.Index(pair.DownScript, "ALTER TABLE menus DROP")
	if downLogs == -1 || downMenus == -1 || downLogs > downMenus {
		t.Errorf("down script order wrong:\n%s", pair.DownScript)
	}

	if _, err := BulkAddColumnWithDefault(nil, "c", "TEXT", "''"); err == nil {
		t.Error("expected error for empty table list")
	}
}

func TestBulkEnableRowLevelIsolation(t *testing.T) {
	pair, err := BulkEnableRowLevelIsolation([]string{"menus", "meal_logs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(pair.UpScript, "trg_menus_tenant_insert") ||
		!strings.Contains(pair.UpScript, "trg_meal_logs_tenant_insert") {
		t.Errorf("up script missing triggers:\n%s", pair.UpScript)
	}
	if _, err := BulkEnableRowLevelIsolation(nil); err == nil {
		t.Error("expected error for empty table list")
	}
}

// Generated scripts must work end to end: create a definition from a template
// pair, run it, and roll it back.
func TestTemplateScripts_RunAndRollback(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	base, err := svc.migration.CreateDefinition(ctx, CreateMigrationInput{
		Name:       "create-menu-reviews",
		UpScript:   "CREATE TABLE menu_reviews (id TEXT PRIMARY KEY, rating INTEGER NOT NULL)",
		DownScript: "DROP TABLE menu_reviews",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pair, err := AddColumnWithDefault("menu_reviews", "comment", "TEXT", "''")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	addCol, err := svc.migration.CreateDefinition(ctx, CreateMigrationInput{
		Name:       "menu-reviews-add-comment",
		UpScript:   pair.UpScript,
		DownScript: pair.DownScript,
		DependsOn:  []string{base.ID},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := svc.migration.RunPending(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Status != ResultCompleted {
			t.Errorf("%s status = %s, want %s (%s)", r.Name, r.Status, ResultCompleted, r.Error)
		}
	}

	if _, err := svc.migration.Rollback(ctx, addCol.ID, nil); err != nil {
		t.Fatalf("rollback of column migration failed: %v", err)
	}
	if _, err := svc.migration.Rollback(ctx, base.ID, nil); err != nil {
		t.Fatalf("rollback of table migration failed: %v", err)
	}
}
