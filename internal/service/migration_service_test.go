package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/merendalabs/merenda-api/internal/models"
)

func TestCreateDefinition_Validation(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateMigrationInput
		field string
	}{
		{
			name:  "missing name",
			input: CreateMigrationInput{UpScript: "SELECT 1", DownScript: "SELECT 1"},
			field: "name",
		},
		{
			name:  "missing up script",
			input: CreateMigrationInput{Name: "m", DownScript: "SELECT 1"},
			field: "up_script",
		},
		{
			name:  "missing down script",
			input: CreateMigrationInput{Name: "m", UpScript: "SELECT 1"},
			field: "down_script",
		},
		{
			name: "unknown dependency",
			input: CreateMigrationInput{
				Name: "m", UpScript: "SELECT 1", DownScript: "SELECT 1",
				DependsOn: []string{"does-not-exist"},
			},
			field: "depends_on",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.migration.CreateDefinition(ctx, tt.input)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %s, want %s", verr.Field, tt.field)
			}
		})
	}
}

func TestCreateDefinition_DuplicateName(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	ts.createMigration(t, "dup", "SELECT 1", false, nil)
	_, err := ts.migration.CreateDefinition(ctx, CreateMigrationInput{
		Name: "dup", UpScript: "SELECT 1", DownScript: "SELECT 1",
	})
	var cerr *ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestRunPending_DependencyOrder(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	// Create in reverse-friendly order: m3 depends on m2 depends on m1.
	m1 := ts.createMigration(t, "m1", "CREATE TABLE t_m1 (id TEXT PRIMARY KEY)", false, nil)
	m2 := ts.createMigration(t, "m2", "CREATE TABLE t_m2 (id TEXT PRIMARY KEY)", false, []string{m1})
	m3 := ts.createMigration(t, "m3", "CREATE TABLE t_m3 (id TEXT PRIMARY KEY)", false, []string{m2})

	results, err := ts.migration.RunPending(ctx, nil)
	if err != nil {
		t.Fatalf("RunPending() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	wantOrder := []string{m1, m2, m3}
	for i, r := range results {
		if r.MigrationID != wantOrder[i] {
			t.Errorf("results[%d] = %s, want %s", i, r.Name, wantOrder[i])
		}
		if r.Status != ResultCompleted {
			t.Errorf("results[%d].Status = %s, want completed", i, r.Status)
		}
	}

	// Nothing left to run.
	results, err = ts.migration.RunPending(ctx, nil)
	if err != nil {
		t.Fatalf("second RunPending() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results on second run, want 0", len(results))
	}
}

func TestRunPending_FailureBlocksDependents(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	bad := ts.createMigration(t, "bad", "THIS IS NOT SQL", false, nil)
	blocked := ts.createMigration(t, "blocked", "CREATE TABLE t_blocked (id TEXT PRIMARY KEY)", false, []string{bad})
	independent := ts.createMigration(t, "independent", "CREATE TABLE t_independent (id TEXT PRIMARY KEY)", false, nil)

	results, err := ts.migration.RunPending(ctx, nil)
	if err != nil {
		t.Fatalf("RunPending() error = %v", err)
	}

	byID := make(map[string]ExecutionResult)
	for _, r := range results {
		byID[r.MigrationID] = r
	}
	if byID[bad].Status != ResultFailed {
		t.Errorf("bad status = %s, want failed", byID[bad].Status)
	}
	if byID[blocked].Status != ResultBlocked {
		t.Errorf("blocked status = %s, want blocked", byID[blocked].Status)
	}
	// An independent branch keeps running past the failure.
	if byID[independent].Status != ResultCompleted {
		t.Errorf("independent status = %s, want completed", byID[independent].Status)
	}
}

func TestRunOne(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	m1 := ts.createMigration(t, "one-dep", "CREATE TABLE t_one_dep (id TEXT PRIMARY KEY)", false, nil)
	m2 := ts.createMigration(t, "one-main", "CREATE TABLE t_one_main (id TEXT PRIMARY KEY)", false, []string{m1})

	// Dependency not yet completed.
	_, err := ts.migration.RunOne(ctx, m2, nil)
	var derr *DependencyNotSatisfiedError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DependencyNotSatisfiedError, got %v", err)
	}

	if _, err := ts.migration.RunOne(ctx, m1, nil); err != nil {
		t.Fatalf("RunOne(dep) error = %v", err)
	}
	result, err := ts.migration.RunOne(ctx, m2, nil)
	if err != nil {
		t.Fatalf("RunOne() error = %v", err)
	}
	if result.Status != ResultCompleted {
		t.Errorf("Status = %s, want completed", result.Status)
	}

	_, err = ts.migration.RunOne(ctx, "missing", nil)
	var nerr *NotFoundError
	if !errors.As(err, &nerr) {
		t.Errorf("expected NotFoundError for unknown migration, got %v", err)
	}
}

func TestRollback(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	m1 := ts.createMigration(t, "rb-base", "CREATE TABLE t_rb_base (id TEXT PRIMARY KEY)", false, nil)
	m2 := ts.createMigration(t, "rb-child", "CREATE TABLE t_rb_child (id TEXT PRIMARY KEY)", false, []string{m1})
	if _, err := ts.migration.RunPending(ctx, nil); err != nil {
		t.Fatalf("RunPending() error = %v", err)
	}

	// A completed dependent blocks the rollback.
	_, err := ts.migration.Rollback(ctx, m1, nil)
	var deperr *DependentMigrationsExistError
	if !errors.As(err, &deperr) {
		t.Fatalf("expected DependentMigrationsExistError, got %v", err)
	}

	result, err := ts.migration.Rollback(ctx, m2, nil)
	if err != nil {
		t.Fatalf("Rollback(child) error = %v", err)
	}
	if result.Status != ResultRolledBack {
		t.Errorf("Status = %s, want rolled_back", result.Status)
	}

	// With the dependent rolled back, the base can follow.
	if _, err := ts.migration.Rollback(ctx, m1, nil); err != nil {
		t.Fatalf("Rollback(base) error = %v", err)
	}

	exec, err := ts.repos.Migration.GetExecution(ctx, m1, nil)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if exec.Status != models.MigrationStatusRolledBack {
		t.Errorf("execution status = %s, want rolled_back", exec.Status)
	}

	// A rolled-back migration cannot be rolled back again.
	_, err = ts.migration.Rollback(ctx, m1, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for repeated rollback, got %v", err)
	}
}

func TestRecoverFailed(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	// The up script collides with a pre-existing table, so the first attempt
	// fails; dropping the table makes the retry succeed.
	id := ts.createMigration(t, "recover", "CREATE TABLE t_clash (id TEXT PRIMARY KEY)", false, nil)
	if err := ts.repos.Migration.ExecuteScript(ctx, "CREATE TABLE t_clash (id TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("failed to seed clashing table: %v", err)
	}

	results, err := ts.migration.RunPending(ctx, nil)
	if err != nil {
		t.Fatalf("RunPending() error = %v", err)
	}
	if len(results) != 1 || results[0].Status != ResultFailed {
		t.Fatalf("expected one failed result, got %v", results)
	}

	if err := ts.repos.Migration.ExecuteScript(ctx, "DROP TABLE t_clash"); err != nil {
		t.Fatalf("failed to drop clashing table: %v", err)
	}
	result, err := ts.migration.RecoverFailed(ctx, id, nil)
	if err != nil {
		t.Fatalf("RecoverFailed() error = %v", err)
	}
	if result.Status != ResultCompleted {
		t.Errorf("Status = %s, want completed", result.Status)
	}

	// Only failed executions can be recovered.
	_, err = ts.migration.RecoverFailed(ctx, id, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for completed execution, got %v", err)
	}
}

func TestValidateIntegrity(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	m1 := ts.createMigration(t, "int-base", "CREATE TABLE t_int_base (id TEXT PRIMARY KEY)", false, nil)
	m2 := ts.createMigration(t, "int-child", "CREATE TABLE t_int_child (id TEXT PRIMARY KEY)", false, []string{m1})
	if _, err := ts.migration.RunPending(ctx, nil); err != nil {
		t.Fatalf("RunPending() error = %v", err)
	}

	valid, issues, err := ts.migration.ValidateIntegrity(ctx, nil)
	if err != nil {
		t.Fatalf("ValidateIntegrity() error = %v", err)
	}
	if !valid || len(issues) != 0 {
		t.Fatalf("expected consistent state, got valid=%v issues=%v", valid, issues)
	}

	// Corrupt the state: the base rolled back underneath its completed child.
	exec, err := ts.repos.Migration.GetExecution(ctx, m1, nil)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	exec.Status = models.MigrationStatusRolledBack
	if err := ts.repos.Migration.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution() error = %v", err)
	}

	valid, issues, err = ts.migration.ValidateIntegrity(ctx, nil)
	if err != nil {
		t.Fatalf("ValidateIntegrity() error = %v", err)
	}
	if valid {
		t.Error("expected integrity violation")
	}
	if len(issues) != 1 {
		t.Errorf("got %d issues, want 1", len(issues))
	}
	_ = m2
}

func TestRunPending_TenantScope(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	ts.createMigration(t, "scope-global", "CREATE TABLE t_scope_global (id TEXT PRIMARY KEY)", false, nil)
	ts.createMigration(t, "scope-tenant", "CREATE TABLE IF NOT EXISTS t_scope_tenant (id TEXT PRIMARY KEY)", true, nil)

	// A global run skips tenant-specific definitions entirely.
	results, err := ts.migration.RunPending(ctx, nil)
	if err != nil {
		t.Fatalf("RunPending(nil) error = %v", err)
	}
	if len(results) != 1 || results[0].Name != "scope-global" {
		t.Fatalf("global run results = %v, want only scope-global", results)
	}

	tenantID := ts.createTenant(t, "scope-a")
	results, err = ts.migration.RunPending(ctx, &tenantID)
	if err != nil {
		t.Fatalf("RunPending(tenant) error = %v", err)
	}
	if len(results) != 1 || results[0].Name != "scope-tenant" {
		t.Fatalf("tenant run results = %v, want only scope-tenant", results)
	}

	// A second tenant gets its own execution record for the same definition.
	otherID := ts.createTenant(t, "scope-b")
	results, err = ts.migration.RunPending(ctx, &otherID)
	if err != nil {
		t.Fatalf("RunPending(other tenant) error = %v", err)
	}
	if len(results) != 1 || results[0].Status != ResultCompleted {
		t.Fatalf("other tenant results = %v, want one completed", results)
	}
}

func TestRunPending_RandomDAGOrder(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	// A fixed seed keeps the graph reproducible while covering more shapes
	// than a hand-written chain.
	rng := rand.New(rand.NewSource(1))
	const n = 12

	ids := make([]string, n)
	names := make([]string, n)
	deps := make([][]int, n)
	for i := 0; i < n; i++ {
		names[i] = fmt.Sprintf("dag-%02d", i)
		for j := 0; j < i; j++ {
			if rng.Float64() < 0.3 {
				deps[i] = append(deps[i], j)
			}
		}
		depIDs := make([]string, 0, len(deps[i]))
		for _, j := range deps[i] {
			depIDs = append(depIDs, ids[j])
		}
		up := fmt.Sprintf("CREATE TABLE t_dag_%02d (id TEXT PRIMARY KEY)", i)
		ids[i] = ts.createMigration(t, names[i], up, false, depIDs)
	}

	results, err := ts.migration.RunPending(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != n {
		t.Fatalf("got %d results, want %d", len(results), n)
	}

	pos := make(map[string]int, n)
	for i, r := range results {
		if r.Status != ResultCompleted {
			t.Errorf("migration %s: status = %s, want %s", r.Name, r.Status, ResultCompleted)
		}
		pos[r.Name] = i
	}

	for i := 0; i < n; i++ {
		for _, j := range deps[i] {
			if pos[names[j]] >= pos[names[i]] {
				t.Errorf("%s ran at %d before its dependency %s at %d",
					names[i], pos[names[i]], names[j], pos[names[j]])
			}
		}
	}

	// Definitions with no dependencies keep their creation order relative
	// to each other.
	lastRoot := -1
	for i := 0; i < n; i++ {
		if len(deps[i]) != 0 {
			continue
		}
		if pos[names[i]] < lastRoot {
			t.Errorf("root %s ran at %d, before an earlier-created root at %d",
				names[i], pos[names[i]], lastRoot)
		}
		lastRoot = pos[names[i]]
	}
}
