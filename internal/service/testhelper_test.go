package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/merendalabs/merenda-api/internal/database/migrations"
	"github.com/merendalabs/merenda-api/internal/models"
	"github.com/merendalabs/merenda-api/internal/repository"
)

// testServices bundles the service layer over a fresh in-memory database.
type testServices struct {
	repos         *repository.Repositories
	migration     *MigrationService
	configuration *ConfigurationService
	provisioning  *ProvisioningService
}

func setupServices(t *testing.T) *testServices {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run bootstrap migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repos := repository.NewRepositories(db)
	migrationSvc := NewMigrationService(repos, logger)
	configurationSvc := NewConfigurationService(repos, logger)
	// Snapshot storage is disabled in tests; the snapshot step is a no-op.
	snapshotSvc := &SnapshotService{enabled: false, logger: logger}
	provisioningSvc := NewProvisioningService(repos, migrationSvc, configurationSvc, snapshotSvc, logger)

	return &testServices{
		repos:         repos,
		migration:     migrationSvc,
		configuration: configurationSvc,
		provisioning:  provisioningSvc,
	}
}

func (ts *testServices) createMigration(t *testing.T, name, upScript string, tenantSpecific bool, dependsOn []string) string {
	t.Helper()
	table := "t_" + strings.ReplaceAll(name, "-", "_")
	def, err := ts.migration.CreateDefinition(context.Background(), CreateMigrationInput{
		Name:           name,
		UpScript:       upScript,
		DownScript:     "DROP TABLE IF EXISTS " + table,
		TenantSpecific: tenantSpecific,
		DependsOn:      dependsOn,
	})
	if err != nil {
		t.Fatalf("failed to create migration %s: %v", name, err)
	}
	return def.ID
}

func (ts *testServices) createTenant(t *testing.T, slug string) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	inst := &models.Institution{
		ID:        ulid.Make().String(),
		Name:      "Test Institution",
		Slug:      slug + "-inst",
		CNPJ:      ulid.Make().String()[26-14:],
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ts.repos.Directory.CreateInstitution(ctx, inst); err != nil {
		t.Fatalf("failed to create institution: %v", err)
	}

	tenant := &models.Tenant{
		ID:            ulid.Make().String(),
		InstitutionID: inst.ID,
		Name:          "Test Tenant",
		Slug:          slug,
		Status:        models.TenantStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := ts.repos.Directory.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("failed to create tenant: %v", err)
	}
	return tenant.ID
}

func provisionInput(slug string) ProvisionInput {
	return ProvisionInput{
		Institution: InstitutionInput{
			Name: "Prefeitura de " + slug,
			Slug: slug,
			CNPJ: "12.345.678/0001-90",
			City: "São Paulo",
		},
		Tenant: TenantInput{
			Name: "Rede " + slug,
			Slug: slug,
		},
		Admin: AdminUserInput{
			Name:     "Admin",
			Email:    "admin@" + slug + ".example",
			Password: "s3nh4-forte",
		},
	}
}
