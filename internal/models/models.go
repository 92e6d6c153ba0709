// Package models defines the domain models for the tenant lifecycle control plane.
// Status fields are closed enum types with explicit transition guards so that
// illegal state transitions are rejected at the model layer rather than left to
// callers passing arbitrary strings.
package models

import (
	"time"
)

// Institution is a higher-level entity that may own multiple tenants
// (e.g. a municipal education department running several school networks).
type Institution struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CNPJ      string    `json:"cnpj"`
	City      string    `json:"city,omitempty"`
	State     string    `json:"state,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantStatus represents the lifecycle status of a tenant.
type TenantStatus string

const (
	TenantStatusActive         TenantStatus = "active"
	TenantStatusDeprovisioning TenantStatus = "deprovisioning"
	TenantStatusDeleted        TenantStatus = "deleted"
)

// Tenant is an isolated customer unit within the platform. It owns its own
// configuration versions, tenant-specific migration executions, and data rows.
type Tenant struct {
	ID            string       `json:"id"`
	InstitutionID string       `json:"institution_id"`
	Name          string       `json:"name"`
	Slug          string       `json:"slug"`
	Status        TenantStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// User represents a platform user. The control plane only creates the initial
// admin user during provisioning; all other user management is out of scope.
type User struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// MigrationDefinition describes a reversible schema/data change. Definitions
// are immutable once created; new behavior requires a new definition.
type MigrationDefinition struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	UpScript       string    `json:"up_script"`
	DownScript     string    `json:"down_script"`
	TenantSpecific bool      `json:"tenant_specific"`
	DependsOn      []string  `json:"depends_on,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MigrationStatus represents the execution status of a migration.
type MigrationStatus string

const (
	MigrationStatusPending    MigrationStatus = "pending"
	MigrationStatusRunning    MigrationStatus = "running"
	MigrationStatusCompleted  MigrationStatus = "completed"
	MigrationStatusFailed     MigrationStatus = "failed"
	MigrationStatusRolledBack MigrationStatus = "rolled_back"
)

// migrationTransitions enumerates the legal status transitions.
var migrationTransitions = map[MigrationStatus][]MigrationStatus{
	MigrationStatusPending:    {MigrationStatusRunning},
	MigrationStatusRunning:    {MigrationStatusCompleted, MigrationStatusFailed},
	MigrationStatusCompleted:  {MigrationStatusRolledBack},
	MigrationStatusFailed:     {MigrationStatusRunning},
	MigrationStatusRolledBack: {MigrationStatusRunning},
}

// CanTransition reports whether a migration execution may move from its
// current status to the target status.
func (s MigrationStatus) CanTransition(to MigrationStatus) bool {
	for _, next := range migrationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// MigrationExecution records the status of one migration in one scope.
// TenantID is nil for global (tenant_specific=false) migrations, which have
// exactly one execution record; tenant-specific migrations have at most one
// record per tenant, enforced by a unique (migration_id, tenant_id) constraint.
type MigrationExecution struct {
	ID           string          `json:"id"`
	MigrationID  string          `json:"migration_id"`
	TenantID     *string         `json:"tenant_id,omitempty"`
	Status       MigrationStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ConfigurationVersion is an immutable, numbered snapshot of a tenant's
// configuration overrides. Version numbers per tenant start at 1 and are
// strictly increasing with no gaps; rollback appends a new version rather
// than truncating history.
type ConfigurationVersion struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Version     int            `json:"version"`
	Payload     map[string]any `json:"payload"`
	Description string         `json:"description,omitempty"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ChangeRequestStatus represents the status of a configuration change request.
type ChangeRequestStatus string

const (
	ChangeRequestStatusPending  ChangeRequestStatus = "pending"
	ChangeRequestStatusApproved ChangeRequestStatus = "approved"
	ChangeRequestStatusRejected ChangeRequestStatus = "rejected"
	ChangeRequestStatusApplied  ChangeRequestStatus = "applied"
)

// ConfigurationChangeRequest is a proposed set of configuration changes that
// goes through an approval workflow before being materialized as a version.
type ConfigurationChangeRequest struct {
	ID             string              `json:"id"`
	TenantID       string              `json:"tenant_id"`
	Changes        map[string]any      `json:"changes"`
	Description    string              `json:"description,omitempty"`
	RequestedBy    string              `json:"requested_by"`
	Status         ChangeRequestStatus `json:"status"`
	AutoApply      bool                `json:"auto_apply"`
	RejectReason   string              `json:"reject_reason,omitempty"`
	ReviewedBy     string              `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time          `json:"reviewed_at,omitempty"`
	AppliedVersion *int                `json:"applied_version,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// StepStatus represents the status of one provisioning or deprovisioning step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepName identifies a step in a provisioning or deprovisioning run.
type StepName string

const (
	// Provisioning steps, executed strictly in this order.
	StepCreateInstitution  StepName = "create_institution"
	StepCreateTenant       StepName = "create_tenant"
	StepCreateAdminUser    StepName = "create_admin_user"
	StepRunMigrations      StepName = "run_initial_migrations"
	StepApplyConfiguration StepName = "apply_initial_configuration"

	// Deprovisioning steps (reverse teardown).
	StepSnapshotTenant     StepName = "snapshot_tenant"
	StepRollbackMigrations StepName = "rollback_migrations"
	StepDeleteTenantData   StepName = "delete_tenant_data"
	StepDeleteTenant       StepName = "delete_tenant"
)

// ProvisioningSteps is the ordered step sequence for a provisioning run.
var ProvisioningSteps = []StepName{
	StepCreateInstitution,
	StepCreateTenant,
	StepCreateAdminUser,
	StepRunMigrations,
	StepApplyConfiguration,
}

// DeprovisioningSteps is the ordered step sequence for a teardown run.
var DeprovisioningSteps = []StepName{
	StepSnapshotTenant,
	StepRollbackMigrations,
	StepDeleteTenantData,
	StepDeleteTenant,
}

// Step is one unit of a provisioning or deprovisioning sequence,
// individually retryable.
type Step struct {
	Name        StepName   `json:"name"`
	Status      StepStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunStatus represents the overall status of a provisioning run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunKind distinguishes provisioning from deprovisioning runs.
type RunKind string

const (
	RunKindProvision   RunKind = "provision"
	RunKindDeprovision RunKind = "deprovision"
)

// RunPayload is the durable copy of a run's input, so retry and recovery can
// resume a run in another process. The admin password is stored only as a
// bcrypt hash.
type RunPayload struct {
	InstitutionName   string              `json:"institution_name,omitempty"`
	InstitutionSlug   string              `json:"institution_slug,omitempty"`
	InstitutionCNPJ   string              `json:"institution_cnpj,omitempty"`
	InstitutionCity   string              `json:"institution_city,omitempty"`
	InstitutionState  string              `json:"institution_state,omitempty"`
	TenantName        string              `json:"tenant_name,omitempty"`
	TenantSlug        string              `json:"tenant_slug,omitempty"`
	AdminName         string              `json:"admin_name,omitempty"`
	AdminEmail        string              `json:"admin_email,omitempty"`
	AdminPasswordHash string              `json:"admin_password_hash,omitempty"`
	Configuration     map[string]any      `json:"configuration,omitempty"`
	Deprovision       *DeprovisionOptions `json:"deprovision,omitempty"`
	Reason            string              `json:"reason,omitempty"`
}

// ProvisioningProgress is the durable record of one provisioning or
// deprovisioning run. It references, but does not own, the institution,
// tenant, and user rows its steps create. The row in the store is
// authoritative; no process-local state is.
type ProvisioningProgress struct {
	ID            string     `json:"id"`
	Kind          RunKind    `json:"kind"`
	InstitutionID *string    `json:"institution_id,omitempty"`
	TenantID      *string    `json:"tenant_id,omitempty"`
	AdminUserID   *string    `json:"admin_user_id,omitempty"`
	TemplateID    string     `json:"template_id,omitempty"`
	Status        RunStatus  `json:"status"`
	Steps         []Step     `json:"steps"`
	Payload       RunPayload `json:"payload"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// StepByName returns a pointer into Steps for the named step, or nil.
func (p *ProvisioningProgress) StepByName(name StepName) *Step {
	for i := range p.Steps {
		if p.Steps[i].Name == name {
			return &p.Steps[i]
		}
	}
	return nil
}

// DeriveStatus computes the overall run status from the step statuses:
// failed if any step failed, completed if all steps completed, running if
// any step has started, pending otherwise. Cancelled runs keep their status.
func (p *ProvisioningProgress) DeriveStatus() RunStatus {
	if p.Status == RunStatusCancelled {
		return RunStatusCancelled
	}
	allCompleted := true
	anyStarted := false
	for _, s := range p.Steps {
		switch s.Status {
		case StepStatusFailed:
			return RunStatusFailed
		case StepStatusCompleted:
			anyStarted = true
		case StepStatusRunning:
			anyStarted = true
			allCompleted = false
		default:
			allCompleted = false
		}
	}
	if allCompleted && len(p.Steps) > 0 {
		return RunStatusCompleted
	}
	if anyStarted {
		return RunStatusRunning
	}
	return RunStatusPending
}

// ScheduleStatus represents the status of a deprovisioning schedule entry.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusExecuted  ScheduleStatus = "executed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// DeprovisionSchedule records intent to tear down a tenant at a future time.
// The actual execution is triggered by the scheduler worker when the entry
// comes due.
type DeprovisionSchedule struct {
	ID           string             `json:"id"`
	TenantID     string             `json:"tenant_id"`
	ScheduledFor time.Time          `json:"scheduled_for"`
	Options      DeprovisionOptions `json:"options"`
	Status       ScheduleStatus     `json:"status"`
	RunID        *string            `json:"run_id,omitempty"`
	CreatedBy    string             `json:"created_by"`
	CreatedAt    time.Time          `json:"created_at"`
}

// DeprovisionOptions controls teardown behavior.
type DeprovisionOptions struct {
	// Snapshot requests a snapshot of the tenant's configuration and state
	// markers before any destructive step runs.
	Snapshot bool `json:"snapshot"`
	// KeepInstitution leaves the owning institution row in place even when
	// this was its last tenant.
	KeepInstitution bool `json:"keep_institution"`
}
