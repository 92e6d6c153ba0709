package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/merendalabs/merenda-api/internal/database/migrations"
	"github.com/merendalabs/merenda-api/internal/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs the bootstrap migrations and returns a connection that is cleaned
// up when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// insertTestInstitution inserts an institution and returns its ID.
func insertTestInstitution(t *testing.T, repos *Repositories, slug, cnpj string) string {
	t.Helper()
	inst := &models.Institution{
		ID:        ulid.Make().String(),
		Name:      "Test Institution",
		Slug:      slug,
		CNPJ:      cnpj,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := repos.Directory.CreateInstitution(context.Background(), inst); err != nil {
		t.Fatalf("failed to insert test institution: %v", err)
	}
	return inst.ID
}

// insertTestTenant inserts a tenant under an institution and returns its ID.
func insertTestTenant(t *testing.T, repos *Repositories, institutionID, slug string) string {
	t.Helper()
	tenant := &models.Tenant{
		ID:            ulid.Make().String(),
		InstitutionID: institutionID,
		Name:          "Test Tenant",
		Slug:          slug,
		Status:        models.TenantStatusActive,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := repos.Directory.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("failed to insert test tenant: %v", err)
	}
	return tenant.ID
}

// insertTestDefinition inserts a migration definition and returns its ID.
func insertTestDefinition(t *testing.T, repos *Repositories, name string, tenantSpecific bool, dependsOn []string) string {
	t.Helper()
	def := &models.MigrationDefinition{
		ID:             ulid.Make().String(),
		Name:           name,
		UpScript:       "CREATE TABLE IF NOT EXISTS t_" + name + " (id TEXT PRIMARY KEY)",
		DownScript:     "DROP TABLE IF EXISTS t_" + name,
		TenantSpecific: tenantSpecific,
		DependsOn:      dependsOn,
		CreatedAt:      time.Now().UTC(),
	}
	if err := repos.Migration.CreateDefinition(context.Background(), def); err != nil {
		t.Fatalf("failed to insert test definition: %v", err)
	}
	return def.ID
}
