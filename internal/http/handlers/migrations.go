package handlers

import (
	"context"

	"github.com/merendalabs/merenda-api/internal/models"
	"github.com/merendalabs/merenda-api/internal/service"
)

// MigrationHandler handles schema migration endpoints.
type MigrationHandler struct {
	migrationSvc *service.MigrationService
}

// NewMigrationHandler creates a new migration handler.
func NewMigrationHandler(migrationSvc *service.MigrationService) *MigrationHandler {
	return &MigrationHandler{migrationSvc: migrationSvc}
}

// CreateMigrationInput represents a migration definition creation request.
type CreateMigrationInput struct {
	Body struct {
		Name           string   `json:"name" minLength:"1" doc:"Unique migration name"`
		Description    string   `json:"description,omitempty" doc:"Human-readable description"`
		UpScript       string   `json:"up_script" minLength:"1" doc:"SQL applied when the migration runs"`
		DownScript     string   `json:"down_script" minLength:"1" doc:"SQL applied on rollback"`
		TenantSpecific bool     `json:"tenant_specific" doc:"Run once per tenant instead of once globally"`
		DependsOn      []string `json:"depends_on,omitempty" doc:"IDs of migrations that must complete first"`
	}
}

// CreateMigrationOutput represents a migration definition creation response.
type CreateMigrationOutput struct {
	Body models.MigrationDefinition
}

// CreateMigration registers a new migration definition. Definitions are
// immutable once created.
func (h *MigrationHandler) CreateMigration(ctx context.Context, input *CreateMigrationInput) (*CreateMigrationOutput, error) {
	def, err := h.migrationSvc.CreateDefinition(ctx, service.CreateMigrationInput{
		Name:           input.Body.Name,
		Description:    input.Body.Description,
		UpScript:       input.Body.UpScript,
		DownScript:     input.Body.DownScript,
		TenantSpecific: input.Body.TenantSpecific,
		DependsOn:      input.Body.DependsOn,
	})
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &CreateMigrationOutput{Body: *def}, nil
}

// ListMigrationsOutput represents the migration definition listing response.
type ListMigrationsOutput struct {
	Body struct {
		Migrations []*models.MigrationDefinition `json:"migrations"`
		Count      int                           `json:"count"`
	}
}

// ListMigrations lists all registered migration definitions.
func (h *MigrationHandler) ListMigrations(ctx context.Context, input *struct{}) (*ListMigrationsOutput, error) {
	defs, err := h.migrationSvc.ListDefinitions(ctx)
	if err != nil {
		return nil, mapServiceError(err)
	}
	out := &ListMigrationsOutput{}
	out.Body.Migrations = defs
	out.Body.Count = len(defs)
	return out, nil
}

// MigrationStatusInput represents a migration status request.
type MigrationStatusInput struct {
	TenantID string `query:"tenantId" doc:"Limit results to this tenant's executions plus global ones"`
}

// MigrationStatusOutput represents a migration status response.
type MigrationStatusOutput struct {
	Body struct {
		Executions []*models.MigrationExecution `json:"executions"`
		Count      int                          `json:"count"`
	}
}

// GetStatus lists execution records, optionally scoped to a tenant.
func (h *MigrationHandler) GetStatus(ctx context.Context, input *MigrationStatusInput) (*MigrationStatusOutput, error) {
	executions, err := h.migrationSvc.GetStatus(ctx, optionalTenant(input.TenantID))
	if err != nil {
		return nil, mapServiceError(err)
	}
	out := &MigrationStatusOutput{}
	out.Body.Executions = executions
	out.Body.Count = len(executions)
	return out, nil
}

// RunMigrationsInput represents a migration run request.
type RunMigrationsInput struct {
	Body struct {
		MigrationID string `json:"migration_id,omitempty" doc:"Run a single migration; leave empty to run all pending in dependency order"`
		TenantID    string `json:"tenant_id,omitempty" doc:"Tenant scope for tenant-specific migrations"`
	}
}

// MigrationResultsOutput represents per-migration execution results.
type MigrationResultsOutput struct {
	Body struct {
		Results []service.ExecutionResult `json:"results"`
	}
}

// RunMigrations runs pending migrations in dependency order, or a single
// migration when migration_id is set. A failed migration blocks its
// dependents while independent branches continue.
func (h *MigrationHandler) RunMigrations(ctx context.Context, input *RunMigrationsInput) (*MigrationResultsOutput, error) {
	tenantID := optionalTenant(input.Body.TenantID)

	out := &MigrationResultsOutput{}
	if input.Body.MigrationID != "" {
		result, err := h.migrationSvc.RunOne(ctx, input.Body.MigrationID, tenantID)
		if err != nil {
			return nil, mapServiceError(err)
		}
		out.Body.Results = []service.ExecutionResult{*result}
		return out, nil
	}

	results, err := h.migrationSvc.RunPending(ctx, tenantID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	out.Body.Results = results
	return out, nil
}

// RollbackMigrationInput represents a migration rollback request.
type RollbackMigrationInput struct {
	Body struct {
		MigrationID string `json:"migration_id" minLength:"1" doc:"Migration to roll back"`
		TenantID    string `json:"tenant_id,omitempty" doc:"Tenant scope for tenant-specific migrations"`
	}
}

// RollbackMigration rolls back a completed migration. Refused while
// completed migrations still depend on it.
func (h *MigrationHandler) RollbackMigration(ctx context.Context, input *RollbackMigrationInput) (*MigrationResultsOutput, error) {
	result, err := h.migrationSvc.Rollback(ctx, input.Body.MigrationID, optionalTenant(input.Body.TenantID))
	if err != nil {
		return nil, mapServiceError(err)
	}
	out := &MigrationResultsOutput{}
	out.Body.Results = []service.ExecutionResult{*result}
	return out, nil
}

// RecoverMigrationInput represents a failed-migration recovery request.
type RecoverMigrationInput struct {
	Body struct {
		MigrationID string `json:"migration_id" minLength:"1" doc:"Failed migration to re-run"`
		TenantID    string `json:"tenant_id,omitempty" doc:"Tenant scope for tenant-specific migrations"`
	}
}

// RecoverMigration re-runs a failed migration from scratch.
func (h *MigrationHandler) RecoverMigration(ctx context.Context, input *RecoverMigrationInput) (*MigrationResultsOutput, error) {
	result, err := h.migrationSvc.RecoverFailed(ctx, input.Body.MigrationID, optionalTenant(input.Body.TenantID))
	if err != nil {
		return nil, mapServiceError(err)
	}
	out := &MigrationResultsOutput{}
	out.Body.Results = []service.ExecutionResult{*result}
	return out, nil
}

// MigrationIntegrityInput represents an integrity check request.
type MigrationIntegrityInput struct {
	TenantID string `query:"tenantId" doc:"Tenant scope for the check"`
}

// MigrationIntegrityOutput represents an integrity check response.
type MigrationIntegrityOutput struct {
	Body struct {
		Valid  bool     `json:"valid"`
		Issues []string `json:"issues,omitempty"`
	}
}

// CheckIntegrity verifies that no completed execution depends on a
// migration that is not completed.
func (h *MigrationHandler) CheckIntegrity(ctx context.Context, input *MigrationIntegrityInput) (*MigrationIntegrityOutput, error) {
	valid, issues, err := h.migrationSvc.ValidateIntegrity(ctx, optionalTenant(input.TenantID))
	if err != nil {
		return nil, mapServiceError(err)
	}
	out := &MigrationIntegrityOutput{}
	out.Body.Valid = valid
	out.Body.Issues = issues
	return out, nil
}

// optionalTenant converts an empty tenant ID to the global scope.
func optionalTenant(tenantID string) *string {
	if tenantID == "" {
		return nil
	}
	return &tenantID
}
