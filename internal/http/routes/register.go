package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/merendalabs/merenda-api/internal/http/handlers"
	"github.com/merendalabs/merenda-api/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
func Register(api huma.API, h *handlers.Handlers) {
	// =========================================================================
	// Public Routes (no auth required)
	// =========================================================================

	// Health check
	mw.PublicGet(api, "/api/v1/health", h.HealthCheck,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("healthCheck"))

	// Kubernetes probes (hidden from docs - internal use only)
	mw.HiddenGet(api, "/healthz", h.Liveness)
	mw.HiddenGet(api, "/readyz", h.Readiness)

	// =========================================================================
	// Protected Routes (require operator bearer auth)
	// =========================================================================

	// --- Migrations ---
	mw.ProtectedGet(api, "/api/v1/migrations/status", h.Migrations.GetStatus,
		mw.WithTags("Migrations"),
		mw.WithSummary("List migration executions"),
		mw.WithOperationID("getMigrationStatus"))
	mw.ProtectedGet(api, "/api/v1/migrations/definitions", h.Migrations.ListMigrations,
		mw.WithTags("Migrations"),
		mw.WithSummary("List migration definitions"),
		mw.WithOperationID("listMigrationDefinitions"))
	mw.ProtectedGet(api, "/api/v1/migrations/integrity", h.Migrations.CheckIntegrity,
		mw.WithTags("Migrations"),
		mw.WithSummary("Check execution integrity"),
		mw.WithDescription("Verifies no completed migration depends on a migration that is not completed."),
		mw.WithOperationID("checkMigrationIntegrity"))
	mw.ProtectedPost(api, "/api/v1/migrations", h.Migrations.CreateMigration,
		mw.WithTags("Migrations"),
		mw.WithSummary("Create migration definition"),
		mw.WithOperationID("createMigration"))
	mw.ProtectedPost(api, "/api/v1/migrations/run", h.Migrations.RunMigrations,
		mw.WithTags("Migrations"),
		mw.WithSummary("Run migrations"),
		mw.WithDescription("Runs all pending migrations in dependency order, or a single migration when migration_id is given. A failure blocks dependents while independent branches continue."),
		mw.WithOperationID("runMigrations"))
	mw.ProtectedPost(api, "/api/v1/migrations/rollback", h.Migrations.RollbackMigration,
		mw.WithTags("Migrations"),
		mw.WithSummary("Roll back a migration"),
		mw.WithOperationID("rollbackMigration"))
	mw.ProtectedPost(api, "/api/v1/migrations/recover", h.Migrations.RecoverMigration,
		mw.WithTags("Migrations"),
		mw.WithSummary("Re-run a failed migration"),
		mw.WithOperationID("recoverMigration"))

	// --- Tenant configuration ---
	mw.ProtectedGet(api, "/api/v1/tenants/{id}/configuration", h.Configuration.GetConfiguration,
		mw.WithTags("Configuration"),
		mw.WithSummary("Get resolved configuration"),
		mw.WithOperationID("getConfiguration"))
	mw.ProtectedPut(api, "/api/v1/tenants/{id}/configuration", h.Configuration.UpdateConfiguration,
		mw.WithTags("Configuration"),
		mw.WithSummary("Update configuration"),
		mw.WithOperationID("updateConfiguration"))
	mw.ProtectedGet(api, "/api/v1/tenants/{id}/configuration/versions", h.Configuration.ListVersions,
		mw.WithTags("Configuration"),
		mw.WithSummary("List configuration versions"),
		mw.WithOperationID("listConfigurationVersions"))
	mw.ProtectedGet(api, "/api/v1/tenants/{id}/configuration/diff", h.Configuration.GetDiff,
		mw.WithTags("Configuration"),
		mw.WithSummary("Diff two configuration versions"),
		mw.WithOperationID("getConfigurationDiff"))
	mw.ProtectedPost(api, "/api/v1/tenants/{id}/configuration/rollback", h.Configuration.RollbackConfiguration,
		mw.WithTags("Configuration"),
		mw.WithSummary("Roll back configuration"),
		mw.WithDescription("Appends a new version whose payload copies the target version. History is never truncated."),
		mw.WithOperationID("rollbackConfiguration"))
	mw.ProtectedGet(api, "/api/v1/tenants/{id}/configuration/export", h.Configuration.ExportConfiguration,
		mw.WithTags("Configuration"),
		mw.WithSummary("Export configuration"),
		mw.WithOperationID("exportConfiguration"))
	mw.ProtectedPost(api, "/api/v1/tenants/{id}/configuration/import", h.Configuration.ImportConfiguration,
		mw.WithTags("Configuration"),
		mw.WithSummary("Import configuration"),
		mw.WithOperationID("importConfiguration"))
	mw.ProtectedPost(api, "/api/v1/tenants/{id}/configuration/template", h.Configuration.ApplyTemplate,
		mw.WithTags("Configuration"),
		mw.WithSummary("Apply configuration template"),
		mw.WithOperationID("applyConfigurationTemplate"))

	// --- Configuration change requests ---
	mw.ProtectedPost(api, "/api/v1/tenants/{id}/configuration/change-requests", h.Configuration.CreateChangeRequest,
		mw.WithTags("Change Requests"),
		mw.WithSummary("Submit change request"),
		mw.WithOperationID("createChangeRequest"))
	mw.ProtectedPost(api, "/api/v1/configuration/change-requests/{id}/approve", h.Configuration.ApproveChangeRequest,
		mw.WithTags("Change Requests"),
		mw.WithSummary("Approve change request"),
		mw.WithOperationID("approveChangeRequest"))
	mw.ProtectedPost(api, "/api/v1/configuration/change-requests/{id}/reject", h.Configuration.RejectChangeRequest,
		mw.WithTags("Change Requests"),
		mw.WithSummary("Reject change request"),
		mw.WithOperationID("rejectChangeRequest"))

	// --- Provisioning ---
	mw.ProtectedPost(api, "/api/v1/provisioning/complete", h.Provisioning.ProvisionComplete,
		mw.WithTags("Provisioning"),
		mw.WithSummary("Provision institution, tenant, and admin"),
		mw.WithOperationID("provisionComplete"))
	mw.ProtectedPost(api, "/api/v1/provisioning/template", h.Provisioning.ProvisionFromTemplate,
		mw.WithTags("Provisioning"),
		mw.WithSummary("Provision from template"),
		mw.WithOperationID("provisionFromTemplate"))
	mw.ProtectedPost(api, "/api/v1/provisioning/institutions/{id}/tenants", h.Provisioning.ProvisionTenant,
		mw.WithTags("Provisioning"),
		mw.WithSummary("Provision tenant under existing institution"),
		mw.WithOperationID("provisionTenant"))
	mw.ProtectedGet(api, "/api/v1/provisioning/progress/{id}", h.Provisioning.GetProgress,
		mw.WithTags("Provisioning"),
		mw.WithSummary("Get provisioning progress"),
		mw.WithOperationID("getProvisioningProgress"))
	mw.ProtectedPost(api, "/api/v1/provisioning/progress/{id}/retry/{step}", h.Provisioning.RetryStep,
		mw.WithTags("Provisioning"),
		mw.WithSummary("Retry a failed step"),
		mw.WithOperationID("retryProvisioningStep"))
	mw.ProtectedPost(api, "/api/v1/provisioning/progress/{id}/cancel", h.Provisioning.CancelRun,
		mw.WithTags("Provisioning"),
		mw.WithSummary("Cancel a run"),
		mw.WithOperationID("cancelProvisioning"))
	mw.ProtectedPost(api, "/api/v1/provisioning/progress/{id}/recover", h.Provisioning.RecoverRun,
		mw.WithTags("Provisioning"),
		mw.WithSummary("Recover a failed run"),
		mw.WithDescription("Resumes from the first not-completed step; completed steps are never re-run."),
		mw.WithOperationID("recoverProvisioning"))

	// --- Tenant snapshots ---
	mw.ProtectedGet(api, "/api/v1/tenants/{id}/snapshots", h.Provisioning.ListSnapshots,
		mw.WithTags("Provisioning"),
		mw.WithSummary("List tenant snapshots"),
		mw.WithDescription("Lists snapshot documents stored before teardown. Snapshots outlive the tenant."),
		mw.WithOperationID("listTenantSnapshots"))
	mw.ProtectedGet(api, "/api/v1/tenants/{id}/snapshots/{file}", h.Provisioning.GetSnapshot,
		mw.WithTags("Provisioning"),
		mw.WithSummary("Get a tenant snapshot"),
		mw.WithOperationID("getTenantSnapshot"))

	// --- Deprovisioning ---
	mw.ProtectedPost(api, "/api/v1/tenants/{id}/deprovision", h.Provisioning.Deprovision,
		mw.WithTags("Provisioning"),
		mw.WithSummary("Deprovision tenant"),
		mw.WithOperationID("deprovisionTenant"))
	mw.ProtectedPost(api, "/api/v1/tenants/{id}/deprovision/schedule", h.Provisioning.ScheduleDeprovision,
		mw.WithTags("Provisioning"),
		mw.WithSummary("Schedule tenant deprovisioning"),
		mw.WithOperationID("scheduleDeprovisioning"))
}
