// Package repository defines repository interfaces for control plane data access.
// All durable state lives here; services never hold authoritative state in
// process memory since multiple API instances may serve the same database.
package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/merendalabs/merenda-api/internal/models"
)

// MigrationRepository defines data access for migration definitions and
// their per-scope execution records.
type MigrationRepository interface {
	CreateDefinition(ctx context.Context, def *models.MigrationDefinition) error
	GetDefinition(ctx context.Context, id string) (*models.MigrationDefinition, error)
	GetDefinitionByName(ctx context.Context, name string) (*models.MigrationDefinition, error)
	// ListDefinitions returns all definitions in creation order, which is the
	// stable tie-break for dependency-ordered execution.
	ListDefinitions(ctx context.Context) ([]*models.MigrationDefinition, error)

	CreateExecution(ctx context.Context, exec *models.MigrationExecution) error
	GetExecution(ctx context.Context, migrationID string, tenantID *string) (*models.MigrationExecution, error)
	// ListExecutions returns all executions; a non-nil tenantID filters to that
	// tenant's rows plus all global (NULL tenant) rows.
	ListExecutions(ctx context.Context, tenantID *string) ([]*models.MigrationExecution, error)
	UpdateExecution(ctx context.Context, exec *models.MigrationExecution) error

	// ExecuteScript runs a migration's up or down script inside its own
	// transaction, separate from the status bookkeeping.
	ExecuteScript(ctx context.Context, script string) error
}

// ConfigurationRepository defines data access for versioned tenant configuration.
type ConfigurationRepository interface {
	// CreateVersion appends a new version row. A unique (tenant_id, version)
	// constraint serializes concurrent writers; callers retry with the next
	// number on IsUniqueViolation.
	CreateVersion(ctx context.Context, v *models.ConfigurationVersion) error
	GetVersion(ctx context.Context, tenantID string, version int) (*models.ConfigurationVersion, error)
	GetLatestVersion(ctx context.Context, tenantID string) (*models.ConfigurationVersion, error)
	ListVersions(ctx context.Context, tenantID string) ([]*models.ConfigurationVersion, error)
	CountVersions(ctx context.Context, tenantID string) (int, error)
}

// ChangeRequestRepository defines data access for configuration change requests.
type ChangeRequestRepository interface {
	Create(ctx context.Context, req *models.ConfigurationChangeRequest) error
	GetByID(ctx context.Context, id string) (*models.ConfigurationChangeRequest, error)
	Update(ctx context.Context, req *models.ConfigurationChangeRequest) error
	ListByTenant(ctx context.Context, tenantID string, status models.ChangeRequestStatus) ([]*models.ConfigurationChangeRequest, error)
}

// ProvisioningRepository defines data access for provisioning run records.
type ProvisioningRepository interface {
	Create(ctx context.Context, p *models.ProvisioningProgress) error
	GetByID(ctx context.Context, id string) (*models.ProvisioningProgress, error)
	Update(ctx context.Context, p *models.ProvisioningProgress) error
	// MarkStaleRunning marks runs stuck in running longer than maxAge as
	// failed, for crash recovery at startup. Returns the number updated.
	MarkStaleRunning(ctx context.Context, maxAge time.Duration) (int64, error)
}

// ScheduleRepository defines data access for deprovisioning schedules.
type ScheduleRepository interface {
	Create(ctx context.Context, s *models.DeprovisionSchedule) error
	GetByID(ctx context.Context, id string) (*models.DeprovisionSchedule, error)
	Update(ctx context.Context, s *models.DeprovisionSchedule) error
	// ClaimDue atomically claims the next due scheduled entry, or returns nil.
	ClaimDue(ctx context.Context, now time.Time) (*models.DeprovisionSchedule, error)
}

// DirectoryRepository is the tenant directory adapter: CRUD for institution,
// tenant, and user rows. The orchestrator references these rows but the
// directory owns them.
type DirectoryRepository interface {
	CreateInstitution(ctx context.Context, inst *models.Institution) error
	GetInstitution(ctx context.Context, id string) (*models.Institution, error)
	GetInstitutionBySlug(ctx context.Context, slug string) (*models.Institution, error)
	GetInstitutionByCNPJ(ctx context.Context, cnpj string) (*models.Institution, error)
	DeleteInstitution(ctx context.Context, id string) error
	CountTenantsByInstitution(ctx context.Context, institutionID string) (int, error)

	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	UpdateTenantStatus(ctx context.Context, id string, status models.TenantStatus) error
	DeleteTenant(ctx context.Context, id string) error
	// DeleteTenantScopedRows removes rows owned by the tenant (users and any
	// tenant-scoped tables created by migrations) ahead of the tenant record
	// itself.
	DeleteTenantScopedRows(ctx context.Context, tenantID string) error

	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByTenantAndRole(ctx context.Context, tenantID, role string) (*models.User, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Migration     MigrationRepository
	Configuration ConfigurationRepository
	ChangeRequest ChangeRequestRepository
	Provisioning  ProvisioningRepository
	Schedule      ScheduleRepository
	Directory     DirectoryRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Migration:     NewSQLiteMigrationRepository(db),
		Configuration: NewSQLiteConfigurationRepository(db),
		ChangeRequest: NewSQLiteChangeRequestRepository(db),
		Provisioning:  NewSQLiteProvisioningRepository(db),
		Schedule:      NewSQLiteScheduleRepository(db),
		Directory:     NewSQLiteDirectoryRepository(db),
	}
}

// IsUniqueViolation reports whether err is a unique-constraint failure from
// the database.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
