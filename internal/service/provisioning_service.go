package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/merendalabs/merenda-api/internal/models"
	"github.com/merendalabs/merenda-api/internal/repository"
)

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	nonDigits    = regexp.MustCompile(`[^0-9]`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// ProvisioningService orchestrates multi-step tenant provisioning and
// deprovisioning. Each run is a durable record whose steps execute strictly
// in order; the record in the store is the only authoritative state, so a run
// interrupted by a crash can be resumed by any instance. Steps check for
// already-existing state before creating anything, which makes retry safe.
type ProvisioningService struct {
	repos         *repository.Repositories
	migrations    *MigrationService
	configuration *ConfigurationService
	snapshots     *SnapshotService
	logger        *slog.Logger
}

// NewProvisioningService creates a new provisioning service.
func NewProvisioningService(repos *repository.Repositories, migrations *MigrationService, configuration *ConfigurationService, snapshots *SnapshotService, logger *slog.Logger) *ProvisioningService {
	return &ProvisioningService{
		repos:         repos,
		migrations:    migrations,
		configuration: configuration,
		snapshots:     snapshots,
		logger:        logger.With("component", "provisioning"),
	}
}

// InstitutionInput is the institution portion of a provisioning request.
type InstitutionInput struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	CNPJ  string `json:"cnpj"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

// TenantInput is the tenant portion of a provisioning request.
type TenantInput struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// AdminUserInput is the initial admin user of a provisioning request.
type AdminUserInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProvisionInput is a complete provisioning request.
type ProvisionInput struct {
	Institution      InstitutionInput `json:"institution"`
	Tenant           TenantInput      `json:"tenant"`
	Admin            AdminUserInput   `json:"admin"`
	ConfigTemplateID string           `json:"config_template_id,omitempty"`
	Configuration    map[string]any   `json:"configuration,omitempty"`
}

// ProvisionComplete runs the full provisioning sequence for a new
// institution, tenant, and admin user. Input is validated before any
// mutation. The returned progress record reflects the final state of the
// run; on a step failure it is returned alongside the error so callers can
// inspect which step failed and retry it.
func (s *ProvisioningService) ProvisionComplete(ctx context.Context, input ProvisionInput) (*models.ProvisioningProgress, error) {
	if err := validateProvisionInput(&input); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, &InternalError{Op: "hash admin password", Err: err}
	}

	progress, err := s.createRun(ctx, models.RunKindProvision, models.ProvisioningSteps, models.RunPayload{
		InstitutionName:   input.Institution.Name,
		InstitutionSlug:   input.Institution.Slug,
		InstitutionCNPJ:   normalizeCNPJ(input.Institution.CNPJ),
		InstitutionCity:   input.Institution.City,
		InstitutionState:  input.Institution.State,
		TenantName:        input.Tenant.Name,
		TenantSlug:        input.Tenant.Slug,
		AdminName:         input.Admin.Name,
		AdminEmail:        strings.ToLower(input.Admin.Email),
		AdminPasswordHash: string(hash),
		Configuration:     input.Configuration,
	}, input.ConfigTemplateID)
	if err != nil {
		return nil, err
	}

	return s.runSteps(ctx, progress)
}

// ProvisionFromTemplate provisions with a named starter configuration: the
// same step machine, with the template applied during the configuration step.
func (s *ProvisioningService) ProvisionFromTemplate(ctx context.Context, templateID string, input ProvisionInput) (*models.ProvisioningProgress, error) {
	if _, ok := models.LookupConfigTemplate(templateID); !ok {
		return nil, NewValidationError("template_id", fmt.Sprintf("unknown template %q", templateID))
	}
	input.ConfigTemplateID = templateID
	return s.ProvisionComplete(ctx, input)
}

// ProvisionTenantUnderInstitution provisions an additional tenant under an
// existing institution. The institution step starts completed, resolved to
// the existing record.
func (s *ProvisioningService) ProvisionTenantUnderInstitution(ctx context.Context, institutionID string, input ProvisionInput) (*models.ProvisioningProgress, error) {
	inst, err := s.repos.Directory.GetInstitution(ctx, institutionID)
	if err != nil {
		return nil, &InternalError{Op: "get institution", Err: err}
	}
	if inst == nil {
		return nil, &NotFoundError{Resource: "institution", ID: institutionID}
	}

	input.Institution = InstitutionInput{Name: inst.Name, Slug: inst.Slug, CNPJ: inst.CNPJ}
	if err := validateProvisionInput(&input); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, &InternalError{Op: "hash admin password", Err: err}
	}

	progress, err := s.createRun(ctx, models.RunKindProvision, models.ProvisioningSteps, models.RunPayload{
		TenantName:        input.Tenant.Name,
		TenantSlug:        input.Tenant.Slug,
		AdminName:         input.Admin.Name,
		AdminEmail:        strings.ToLower(input.Admin.Email),
		AdminPasswordHash: string(hash),
		Configuration:     input.Configuration,
	}, input.ConfigTemplateID)
	if err != nil {
		return nil, err
	}

	// The institution already exists, so its step is satisfied up front.
	progress.InstitutionID = &inst.ID
	now := time.Now()
	if step := progress.StepByName(models.StepCreateInstitution); step != nil {
		step.Status = models.StepStatusCompleted
		step.StartedAt = &now
		step.CompletedAt = &now
	}
	if err := s.repos.Provisioning.Update(ctx, progress); err != nil {
		return nil, &InternalError{Op: "update run", Err: err}
	}

	return s.runSteps(ctx, progress)
}

// GetProvisioningProgress returns the durable record for a run.
func (s *ProvisioningService) GetProvisioningProgress(ctx context.Context, id string) (*models.ProvisioningProgress, error) {
	progress, err := s.repos.Provisioning.GetByID(ctx, id)
	if err != nil {
		return nil, &InternalError{Op: "get run", Err: err}
	}
	if progress == nil {
		return nil, &NotFoundError{Resource: "provisioning run", ID: id}
	}
	return progress, nil
}

// RetryFailedStep resets a failed step to pending and resumes the run from
// the first not-completed step. Only failed steps may be retried.
func (s *ProvisioningService) RetryFailedStep(ctx context.Context, progressID string, stepName models.StepName) (*models.ProvisioningProgress, error) {
	progress, err := s.GetProvisioningProgress(ctx, progressID)
	if err != nil {
		return nil, err
	}

	step := progress.StepByName(stepName)
	if step == nil {
		return nil, NewValidationError("step", fmt.Sprintf("unknown step %q for this run", stepName))
	}
	if step.Status != models.StepStatusFailed {
		return nil, &StepNotRetryableError{Step: string(stepName), Status: string(step.Status)}
	}

	step.Status = models.StepStatusPending
	step.Error = ""
	step.StartedAt = nil
	step.CompletedAt = nil
	progress.Status = progress.DeriveStatus()
	progress.Error = ""
	if err := s.repos.Provisioning.Update(ctx, progress); err != nil {
		return nil, &InternalError{Op: "update run", Err: err}
	}

	return s.runSteps(ctx, progress)
}

// RecoverFailedProvisioning resumes a failed run from the first
// not-completed step. Completed steps are never re-run.
func (s *ProvisioningService) RecoverFailedProvisioning(ctx context.Context, progressID string) (*models.ProvisioningProgress, error) {
	progress, err := s.GetProvisioningProgress(ctx, progressID)
	if err != nil {
		return nil, err
	}
	if progress.Status != models.RunStatusFailed {
		return nil, &InvalidRequestStateError{RequestID: progressID, Status: string(progress.Status)}
	}

	for i := range progress.Steps {
		if progress.Steps[i].Status == models.StepStatusFailed || progress.Steps[i].Status == models.StepStatusRunning {
			progress.Steps[i].Status = models.StepStatusPending
			progress.Steps[i].Error = ""
			progress.Steps[i].StartedAt = nil
			progress.Steps[i].CompletedAt = nil
		}
	}
	progress.Status = progress.DeriveStatus()
	progress.Error = ""
	if err := s.repos.Provisioning.Update(ctx, progress); err != nil {
		return nil, &InternalError{Op: "update run", Err: err}
	}

	s.logger.Info("recovering run", "run_id", progressID)
	return s.runSteps(ctx, progress)
}

// CancelProvisioning marks a pending or running run cancelled. Cancellation
// is cooperative: the flag is re-read from the store before each step, so the
// step in flight finishes and completed steps are not undone.
func (s *ProvisioningService) CancelProvisioning(ctx context.Context, progressID string) (*models.ProvisioningProgress, error) {
	progress, err := s.GetProvisioningProgress(ctx, progressID)
	if err != nil {
		return nil, err
	}
	if progress.Status != models.RunStatusPending && progress.Status != models.RunStatusRunning {
		return nil, &InvalidRequestStateError{RequestID: progressID, Status: string(progress.Status)}
	}

	progress.Status = models.RunStatusCancelled
	if err := s.repos.Provisioning.Update(ctx, progress); err != nil {
		return nil, &InternalError{Op: "update run", Err: err}
	}

	s.logger.Info("run cancelled", "run_id", progressID)
	return progress, nil
}

// DeprovisionTenant tears a tenant down as its own run: optional snapshot,
// rollback of tenant-specific migrations in reverse dependency order, delete
// of tenant-scoped rows, then the tenant record itself.
func (s *ProvisioningService) DeprovisionTenant(ctx context.Context, tenantID string, opts models.DeprovisionOptions, reason string) (*models.ProvisioningProgress, error) {
	tenant, err := s.repos.Directory.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, &InternalError{Op: "get tenant", Err: err}
	}
	if tenant == nil {
		return nil, &NotFoundError{Resource: "tenant", ID: tenantID}
	}

	if err := s.repos.Directory.UpdateTenantStatus(ctx, tenantID, models.TenantStatusDeprovisioning); err != nil {
		return nil, &InternalError{Op: "update tenant status", Err: err}
	}

	progress, err := s.createRun(ctx, models.RunKindDeprovision, models.DeprovisioningSteps, models.RunPayload{
		TenantSlug:  tenant.Slug,
		Deprovision: &opts,
		Reason:      reason,
	}, "")
	if err != nil {
		return nil, err
	}
	progress.TenantID = &tenantID
	progress.InstitutionID = &tenant.InstitutionID
	if err := s.repos.Provisioning.Update(ctx, progress); err != nil {
		return nil, &InternalError{Op: "update run", Err: err}
	}

	return s.runSteps(ctx, progress)
}

// ScheduleDeprovisioning records intent to tear a tenant down at a future
// time. Execution happens when the scheduler worker claims the due entry.
func (s *ProvisioningService) ScheduleDeprovisioning(ctx context.Context, tenantID string, at time.Time, opts models.DeprovisionOptions, createdBy string) (*models.DeprovisionSchedule, error) {
	tenant, err := s.repos.Directory.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, &InternalError{Op: "get tenant", Err: err}
	}
	if tenant == nil {
		return nil, &NotFoundError{Resource: "tenant", ID: tenantID}
	}
	if !at.After(time.Now()) {
		return nil, NewValidationError("scheduled_for", "must be in the future")
	}

	schedule := &models.DeprovisionSchedule{
		ID:           ulid.Make().String(),
		TenantID:     tenantID,
		ScheduledFor: at.UTC(),
		Options:      opts,
		Status:       models.ScheduleStatusScheduled,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now(),
	}
	if err := s.repos.Schedule.Create(ctx, schedule); err != nil {
		return nil, &InternalError{Op: "create schedule", Err: err}
	}

	s.logger.Info("deprovisioning scheduled",
		"tenant_id", tenantID, "schedule_id", schedule.ID, "scheduled_for", schedule.ScheduledFor)
	return schedule, nil
}

// ExecuteDueSchedules claims and executes all due deprovisioning schedules.
// Called by the worker on each poll tick. Returns the number executed.
func (s *ProvisioningService) ExecuteDueSchedules(ctx context.Context) (int, error) {
	executed := 0
	for {
		schedule, err := s.repos.Schedule.ClaimDue(ctx, time.Now())
		if err != nil {
			return executed, err
		}
		if schedule == nil {
			return executed, nil
		}

		progress, err := s.DeprovisionTenant(ctx, schedule.TenantID, schedule.Options, "scheduled deprovisioning")
		if progress != nil {
			schedule.RunID = &progress.ID
			if uerr := s.repos.Schedule.Update(ctx, schedule); uerr != nil {
				s.logger.Error("failed to stamp run on schedule", "schedule_id", schedule.ID, "error", uerr)
			}
		}
		if err != nil {
			s.logger.Error("scheduled deprovisioning failed",
				"schedule_id", schedule.ID, "tenant_id", schedule.TenantID, "error", err)
		}
		executed++
	}
}

// MarkStaleRuns fails runs stuck in running longer than maxAge. Called once
// at startup so runs orphaned by a crash become recoverable.
func (s *ProvisioningService) MarkStaleRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.repos.Provisioning.MarkStaleRunning(ctx, maxAge)
	if err != nil {
		return 0, &InternalError{Op: "mark stale runs", Err: err}
	}
	if n > 0 {
		s.logger.Warn("marked stale provisioning runs as failed", "count", n)
	}
	return n, nil
}

func (s *ProvisioningService) createRun(ctx context.Context, kind models.RunKind, stepNames []models.StepName, payload models.RunPayload, templateID string) (*models.ProvisioningProgress, error) {
	steps := make([]models.Step, len(stepNames))
	for i, name := range stepNames {
		steps[i] = models.Step{Name: name, Status: models.StepStatusPending}
	}

	now := time.Now()
	progress := &models.ProvisioningProgress{
		ID:         ulid.Make().String(),
		Kind:       kind,
		TemplateID: templateID,
		Status:     models.RunStatusPending,
		Steps:      steps,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repos.Provisioning.Create(ctx, progress); err != nil {
		return nil, &InternalError{Op: "create run", Err: err}
	}

	s.logger.Info("run created", "run_id", progress.ID, "kind", kind)
	return progress, nil
}

// runSteps executes the run's steps strictly in order, starting from the
// first not-completed step. Progress is persisted after every transition. A
// failing step stops the run with later steps left pending.
func (s *ProvisioningService) runSteps(ctx context.Context, progress *models.ProvisioningProgress) (*models.ProvisioningProgress, error) {
	for i := range progress.Steps {
		// Re-read the run so a cancel issued from another instance is seen.
		current, err := s.repos.Provisioning.GetByID(ctx, progress.ID)
		if err != nil {
			return progress, &InternalError{Op: "get run", Err: err}
		}
		if current != nil && current.Status == models.RunStatusCancelled {
			progress.Status = models.RunStatusCancelled
			s.logger.Info("run stopped by cancellation", "run_id", progress.ID)
			return progress, nil
		}

		step := &progress.Steps[i]
		if step.Status == models.StepStatusCompleted {
			continue
		}

		now := time.Now()
		step.Status = models.StepStatusRunning
		step.StartedAt = &now
		progress.Status = models.RunStatusRunning
		if err := s.repos.Provisioning.Update(ctx, progress); err != nil {
			return progress, &InternalError{Op: "update run", Err: err}
		}

		stepErr := s.executeStep(ctx, progress, step.Name)

		done := time.Now()
		if stepErr != nil {
			step.Status = models.StepStatusFailed
			step.Error = stepErr.Error()
			progress.Status = models.RunStatusFailed
			progress.Error = fmt.Sprintf("step %s failed: %s", step.Name, stepErr.Error())
			if uerr := s.repos.Provisioning.Update(ctx, progress); uerr != nil {
				return progress, &InternalError{Op: "update run", Err: uerr}
			}
			s.logger.Error("step failed",
				"run_id", progress.ID, "step", step.Name, "error", stepErr)
			return progress, wrapStepError(step.Name, stepErr)
		}

		step.Status = models.StepStatusCompleted
		step.CompletedAt = &done
		progress.Status = progress.DeriveStatus()
		if err := s.repos.Provisioning.Update(ctx, progress); err != nil {
			return progress, &InternalError{Op: "update run", Err: err}
		}
		s.logger.Info("step completed", "run_id", progress.ID, "step", step.Name)
	}

	return progress, nil
}

// wrapStepError attributes a step failure to its step. Conflict and
// validation errors pass through untouched so they keep their own transport
// mapping.
func wrapStepError(step models.StepName, err error) error {
	var conflictErr *ConflictError
	var validationErr *ValidationError
	var configErr *InvalidConfigurationValueError
	if errors.As(err, &conflictErr) || errors.As(err, &validationErr) || errors.As(err, &configErr) {
		return err
	}
	return &ProvisioningError{Step: string(step), Err: err}
}

func (s *ProvisioningService) executeStep(ctx context.Context, progress *models.ProvisioningProgress, name models.StepName) error {
	switch name {
	case models.StepCreateInstitution:
		return s.stepCreateInstitution(ctx, progress)
	case models.StepCreateTenant:
		return s.stepCreateTenant(ctx, progress)
	case models.StepCreateAdminUser:
		return s.stepCreateAdminUser(ctx, progress)
	case models.StepRunMigrations:
		return s.stepRunMigrations(ctx, progress)
	case models.StepApplyConfiguration:
		return s.stepApplyConfiguration(ctx, progress)
	case models.StepSnapshotTenant:
		return s.stepSnapshotTenant(ctx, progress)
	case models.StepRollbackMigrations:
		return s.stepRollbackMigrations(ctx, progress)
	case models.StepDeleteTenantData:
		return s.stepDeleteTenantData(ctx, progress)
	case models.StepDeleteTenant:
		return s.stepDeleteTenant(ctx, progress)
	}
	return fmt.Errorf("unknown step %q", name)
}

func (s *ProvisioningService) stepCreateInstitution(ctx context.Context, progress *models.ProvisioningProgress) error {
	if progress.InstitutionID != nil {
		return nil
	}
	payload := progress.Payload

	// A retry may find the institution already created by a previous attempt.
	existing, err := s.repos.Directory.GetInstitutionBySlug(ctx, payload.InstitutionSlug)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.CNPJ != payload.InstitutionCNPJ {
			return &ConflictError{Resource: "institution", Key: payload.InstitutionSlug}
		}
		progress.InstitutionID = &existing.ID
		return nil
	}
	byCNPJ, err := s.repos.Directory.GetInstitutionByCNPJ(ctx, payload.InstitutionCNPJ)
	if err != nil {
		return err
	}
	if byCNPJ != nil {
		return &ConflictError{Resource: "institution", Key: payload.InstitutionCNPJ}
	}

	now := time.Now()
	inst := &models.Institution{
		ID:        ulid.Make().String(),
		Name:      payload.InstitutionName,
		Slug:      payload.InstitutionSlug,
		CNPJ:      payload.InstitutionCNPJ,
		City:      payload.InstitutionCity,
		State:     payload.InstitutionState,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repos.Directory.CreateInstitution(ctx, inst); err != nil {
		if repository.IsUniqueViolation(err) {
			return &ConflictError{Resource: "institution", Key: payload.InstitutionSlug}
		}
		return err
	}
	progress.InstitutionID = &inst.ID
	return nil
}

func (s *ProvisioningService) stepCreateTenant(ctx context.Context, progress *models.ProvisioningProgress) error {
	if progress.TenantID != nil {
		return nil
	}
	if progress.InstitutionID == nil {
		return fmt.Errorf("institution step has not produced an institution")
	}
	payload := progress.Payload

	existing, err := s.repos.Directory.GetTenantBySlug(ctx, payload.TenantSlug)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.InstitutionID != *progress.InstitutionID {
			return &ConflictError{Resource: "tenant", Key: payload.TenantSlug}
		}
		progress.TenantID = &existing.ID
		return nil
	}

	now := time.Now()
	tenant := &models.Tenant{
		ID:            ulid.Make().String(),
		InstitutionID: *progress.InstitutionID,
		Name:          payload.TenantName,
		Slug:          payload.TenantSlug,
		Status:        models.TenantStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repos.Directory.CreateTenant(ctx, tenant); err != nil {
		if repository.IsUniqueViolation(err) {
			return &ConflictError{Resource: "tenant", Key: payload.TenantSlug}
		}
		return err
	}
	progress.TenantID = &tenant.ID
	return nil
}

func (s *ProvisioningService) stepCreateAdminUser(ctx context.Context, progress *models.ProvisioningProgress) error {
	if progress.AdminUserID != nil {
		return nil
	}
	if progress.TenantID == nil {
		return fmt.Errorf("tenant step has not produced a tenant")
	}
	payload := progress.Payload

	existing, err := s.repos.Directory.GetUserByEmail(ctx, payload.AdminEmail)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.TenantID != *progress.TenantID {
			return &ConflictError{Resource: "user", Key: payload.AdminEmail}
		}
		progress.AdminUserID = &existing.ID
		return nil
	}

	user := &models.User{
		ID:           ulid.Make().String(),
		TenantID:     *progress.TenantID,
		Name:         payload.AdminName,
		Email:        payload.AdminEmail,
		PasswordHash: payload.AdminPasswordHash,
		Role:         "admin",
		CreatedAt:    time.Now(),
	}
	if err := s.repos.Directory.CreateUser(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return &ConflictError{Resource: "user", Key: payload.AdminEmail}
		}
		return err
	}
	progress.AdminUserID = &user.ID
	return nil
}

func (s *ProvisioningService) stepRunMigrations(ctx context.Context, progress *models.ProvisioningProgress) error {
	if progress.TenantID == nil {
		return fmt.Errorf("tenant step has not produced a tenant")
	}
	results, err := s.migrations.RunPending(ctx, progress.TenantID)
	if err != nil {
		return err
	}
	// A blocked migration means the tenant schema is incomplete, the same as
	// a failure from the step's point of view.
	for _, r := range results {
		if r.Status != ResultCompleted {
			return fmt.Errorf("migration %s %s: %s", r.Name, r.Status, r.Error)
		}
	}
	return nil
}

func (s *ProvisioningService) stepApplyConfiguration(ctx context.Context, progress *models.ProvisioningProgress) error {
	if progress.TenantID == nil {
		return fmt.Errorf("tenant step has not produced a tenant")
	}
	tenantID := *progress.TenantID

	// A retry must not stack another version on top of a previous attempt.
	count, err := s.repos.Configuration.CountVersions(ctx, tenantID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if progress.TemplateID != "" {
		if _, err := s.configuration.ApplyTemplate(ctx, tenantID, progress.TemplateID, "provisioning"); err != nil {
			return err
		}
	}
	if len(progress.Payload.Configuration) > 0 {
		if _, _, err := s.configuration.UpdateConfiguration(ctx, UpdateConfigurationInput{
			TenantID:    tenantID,
			Changes:     progress.Payload.Configuration,
			Description: "initial configuration",
			Author:      "provisioning",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProvisioningService) stepSnapshotTenant(ctx context.Context, progress *models.ProvisioningProgress) error {
	opts := progress.Payload.Deprovision
	if opts == nil || !opts.Snapshot {
		return nil
	}
	if progress.TenantID == nil {
		return fmt.Errorf("run has no tenant")
	}
	tenantID := *progress.TenantID

	configuration, err := s.repos.Configuration.GetLatestVersion(ctx, tenantID)
	if err != nil {
		return err
	}
	executions, err := s.repos.Migration.ListExecutions(ctx, &tenantID)
	if err != nil {
		return err
	}

	institutionID := ""
	if progress.InstitutionID != nil {
		institutionID = *progress.InstitutionID
	}
	return s.snapshots.StoreTenantSnapshot(ctx, &TenantSnapshot{
		TenantID:      tenantID,
		TenantSlug:    progress.Payload.TenantSlug,
		InstitutionID: institutionID,
		Reason:        progress.Payload.Reason,
		Configuration: configuration,
		Migrations:    executions,
		TakenAt:       time.Now().UTC(),
	})
}

// stepRollbackMigrations rolls back the tenant's completed tenant-specific
// migrations in reverse dependency order, so no migration is rolled back
// while a dependent is still applied.
func (s *ProvisioningService) stepRollbackMigrations(ctx context.Context, progress *models.ProvisioningProgress) error {
	if progress.TenantID == nil {
		return fmt.Errorf("run has no tenant")
	}
	tenantID := *progress.TenantID

	defs, err := s.repos.Migration.ListDefinitions(ctx)
	if err != nil {
		return err
	}
	var tenantDefs []*models.MigrationDefinition
	for _, d := range defs {
		if d.TenantSpecific {
			tenantDefs = append(tenantDefs, d)
		}
	}
	ordered, err := topoSort(tenantDefs)
	if err != nil {
		return err
	}

	for i := len(ordered) - 1; i >= 0; i-- {
		def := ordered[i]
		exec, err := s.repos.Migration.GetExecution(ctx, def.ID, &tenantID)
		if err != nil {
			return err
		}
		if exec == nil || exec.Status != models.MigrationStatusCompleted {
			continue
		}
		if _, err := s.migrations.Rollback(ctx, def.ID, &tenantID); err != nil {
			return fmt.Errorf("rollback of %s: %w", def.Name, err)
		}
	}
	return nil
}

func (s *ProvisioningService) stepDeleteTenantData(ctx context.Context, progress *models.ProvisioningProgress) error {
	if progress.TenantID == nil {
		return fmt.Errorf("run has no tenant")
	}
	return s.repos.Directory.DeleteTenantScopedRows(ctx, *progress.TenantID)
}

func (s *ProvisioningService) stepDeleteTenant(ctx context.Context, progress *models.ProvisioningProgress) error {
	if progress.TenantID == nil {
		return fmt.Errorf("run has no tenant")
	}
	tenantID := *progress.TenantID

	tenant, err := s.repos.Directory.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant == nil {
		// Already deleted by a previous attempt.
		return nil
	}
	if err := s.repos.Directory.DeleteTenant(ctx, tenantID); err != nil {
		return err
	}

	opts := progress.Payload.Deprovision
	if opts != nil && opts.KeepInstitution {
		return nil
	}
	remaining, err := s.repos.Directory.CountTenantsByInstitution(ctx, tenant.InstitutionID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := s.repos.Directory.DeleteInstitution(ctx, tenant.InstitutionID); err != nil {
			return err
		}
		s.logger.Info("deleted institution with no remaining tenants", "institution_id", tenant.InstitutionID)
	}
	return nil
}

func validateProvisionInput(input *ProvisionInput) error {
	if input.Institution.Name == "" {
		return NewValidationError("institution.name", "is required")
	}
	if !slugPattern.MatchString(input.Institution.Slug) {
		return NewValidationError("institution.slug", "must be lowercase letters, digits, and hyphens")
	}
	if len(normalizeCNPJ(input.Institution.CNPJ)) != 14 {
		return NewValidationError("institution.cnpj", "must contain 14 digits")
	}
	if input.Tenant.Name == "" {
		return NewValidationError("tenant.name", "is required")
	}
	if !slugPattern.MatchString(input.Tenant.Slug) {
		return NewValidationError("tenant.slug", "must be lowercase letters, digits, and hyphens")
	}
	if input.Admin.Name == "" {
		return NewValidationError("admin.name", "is required")
	}
	if !emailPattern.MatchString(input.Admin.Email) {
		return NewValidationError("admin.email", "must be a valid email address")
	}
	if len(input.Admin.Password) < 8 {
		return NewValidationError("admin.password", "must be at least 8 characters")
	}
	if len(input.Configuration) > 0 {
		if violations := validateChanges(input.Configuration); len(violations) > 0 {
			return &InvalidConfigurationValueError{Violations: violations}
		}
	}
	return nil
}

func normalizeCNPJ(cnpj string) string {
	return nonDigits.ReplaceAllString(cnpj, "")
}
