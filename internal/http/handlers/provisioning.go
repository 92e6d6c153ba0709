package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/merendalabs/merenda-api/internal/models"
	"github.com/merendalabs/merenda-api/internal/service"
)

// ProvisioningHandler handles tenant provisioning endpoints.
type ProvisioningHandler struct {
	provisioningSvc *service.ProvisioningService
	snapshotSvc     *service.SnapshotService
}

// NewProvisioningHandler creates a new provisioning handler.
func NewProvisioningHandler(provisioningSvc *service.ProvisioningService, snapshotSvc *service.SnapshotService) *ProvisioningHandler {
	return &ProvisioningHandler{provisioningSvc: provisioningSvc, snapshotSvc: snapshotSvc}
}

// ProgressResponse is the client-facing view of a provisioning run. The
// stored payload is omitted: it carries the original request including the
// admin password hash.
type ProgressResponse struct {
	ID            string           `json:"id" doc:"Run ID"`
	Kind          models.RunKind   `json:"kind" doc:"provision or deprovision"`
	InstitutionID *string          `json:"institution_id,omitempty"`
	TenantID      *string          `json:"tenant_id,omitempty"`
	AdminUserID   *string          `json:"admin_user_id,omitempty"`
	TemplateID    string           `json:"template_id,omitempty"`
	Status        models.RunStatus `json:"status" doc:"pending, running, completed, failed, or cancelled"`
	Steps         []models.Step    `json:"steps"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func newProgressResponse(p *models.ProvisioningProgress) ProgressResponse {
	return ProgressResponse{
		ID:            p.ID,
		Kind:          p.Kind,
		InstitutionID: p.InstitutionID,
		TenantID:      p.TenantID,
		AdminUserID:   p.AdminUserID,
		TemplateID:    p.TemplateID,
		Status:        p.Status,
		Steps:         p.Steps,
		Error:         p.Error,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// ProgressOutput wraps a provisioning run.
type ProgressOutput struct {
	Status int
	Body   ProgressResponse
}

// institutionBody is the institution portion of a provisioning request body.
type institutionBody struct {
	Name  string `json:"name" minLength:"1" doc:"Institution display name"`
	Slug  string `json:"slug" minLength:"1" doc:"URL-safe identifier"`
	CNPJ  string `json:"cnpj" minLength:"1" doc:"Brazilian company registration number (14 digits)"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

// tenantBody is the tenant portion of a provisioning request body.
type tenantBody struct {
	Name string `json:"name" minLength:"1" doc:"Tenant display name"`
	Slug string `json:"slug" minLength:"1" doc:"URL-safe identifier, unique within the institution"`
}

// adminBody is the initial admin user of a provisioning request body.
type adminBody struct {
	Name     string `json:"name" minLength:"1"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"8" doc:"Initial password; stored only as a bcrypt hash"`
}

// ProvisionCompleteInput represents a full provisioning request.
type ProvisionCompleteInput struct {
	Body struct {
		Institution   institutionBody `json:"institution"`
		Tenant        tenantBody      `json:"tenant"`
		Admin         adminBody       `json:"admin"`
		Configuration map[string]any  `json:"configuration,omitempty" doc:"Initial configuration overrides"`
	}
}

// ProvisionComplete provisions a new institution, tenant, and admin user in
// one run. A failed step leaves the run retryable; the response carries the
// run with per-step state either way.
func (h *ProvisioningHandler) ProvisionComplete(ctx context.Context, input *ProvisionCompleteInput) (*ProgressOutput, error) {
	progress, err := h.provisioningSvc.ProvisionComplete(ctx, service.ProvisionInput{
		Institution: service.InstitutionInput{
			Name:  input.Body.Institution.Name,
			Slug:  input.Body.Institution.Slug,
			CNPJ:  input.Body.Institution.CNPJ,
			City:  input.Body.Institution.City,
			State: input.Body.Institution.State,
		},
		Tenant: service.TenantInput{
			Name: input.Body.Tenant.Name,
			Slug: input.Body.Tenant.Slug,
		},
		Admin: service.AdminUserInput{
			Name:     input.Body.Admin.Name,
			Email:    input.Body.Admin.Email,
			Password: input.Body.Admin.Password,
		},
		Configuration: input.Body.Configuration,
	})
	return progressResult(progress, err)
}

// ProvisionFromTemplateInput represents a template-based provisioning
// request.
type ProvisionFromTemplateInput struct {
	Body struct {
		TemplateID    string          `json:"template_id" minLength:"1" doc:"Named configuration template applied after setup"`
		Institution   institutionBody `json:"institution"`
		Tenant        tenantBody      `json:"tenant"`
		Admin         adminBody       `json:"admin"`
		Configuration map[string]any  `json:"configuration,omitempty" doc:"Overrides applied on top of the template"`
	}
}

// ProvisionFromTemplate provisions with a named configuration template.
func (h *ProvisioningHandler) ProvisionFromTemplate(ctx context.Context, input *ProvisionFromTemplateInput) (*ProgressOutput, error) {
	progress, err := h.provisioningSvc.ProvisionFromTemplate(ctx, input.Body.TemplateID, service.ProvisionInput{
		Institution: service.InstitutionInput{
			Name:  input.Body.Institution.Name,
			Slug:  input.Body.Institution.Slug,
			CNPJ:  input.Body.Institution.CNPJ,
			City:  input.Body.Institution.City,
			State: input.Body.Institution.State,
		},
		Tenant: service.TenantInput{
			Name: input.Body.Tenant.Name,
			Slug: input.Body.Tenant.Slug,
		},
		Admin: service.AdminUserInput{
			Name:     input.Body.Admin.Name,
			Email:    input.Body.Admin.Email,
			Password: input.Body.Admin.Password,
		},
		Configuration: input.Body.Configuration,
	})
	return progressResult(progress, err)
}

// ProvisionTenantInput represents a request to add a tenant to an existing
// institution.
type ProvisionTenantInput struct {
	InstitutionID string `path:"id" doc:"Existing institution ID"`
	Body          struct {
		Tenant        tenantBody     `json:"tenant"`
		Admin         adminBody      `json:"admin"`
		Configuration map[string]any `json:"configuration,omitempty" doc:"Initial configuration overrides"`
	}
}

// ProvisionTenant provisions an additional tenant under an existing
// institution. The institution step is satisfied by the existing record.
func (h *ProvisioningHandler) ProvisionTenant(ctx context.Context, input *ProvisionTenantInput) (*ProgressOutput, error) {
	progress, err := h.provisioningSvc.ProvisionTenantUnderInstitution(ctx, input.InstitutionID, service.ProvisionInput{
		Tenant: service.TenantInput{
			Name: input.Body.Tenant.Name,
			Slug: input.Body.Tenant.Slug,
		},
		Admin: service.AdminUserInput{
			Name:     input.Body.Admin.Name,
			Email:    input.Body.Admin.Email,
			Password: input.Body.Admin.Password,
		},
		Configuration: input.Body.Configuration,
	})
	return progressResult(progress, err)
}

// GetProgressInput represents a progress lookup.
type GetProgressInput struct {
	ID string `path:"id" doc:"Run ID"`
}

// GetProgress returns the current state of a provisioning run. Reads come
// from the store, so progress is visible across instances.
func (h *ProvisioningHandler) GetProgress(ctx context.Context, input *GetProgressInput) (*ProgressOutput, error) {
	progress, err := h.provisioningSvc.GetProvisioningProgress(ctx, input.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ProgressOutput{Status: http.StatusOK, Body: newProgressResponse(progress)}, nil
}

// RetryStepInput represents a step retry request.
type RetryStepInput struct {
	ID   string `path:"id" doc:"Run ID"`
	Step string `path:"step" doc:"Name of the failed step to retry"`
}

// RetryStep retries a failed step and resumes the run from it. Steps that
// already completed are not re-executed.
func (h *ProvisioningHandler) RetryStep(ctx context.Context, input *RetryStepInput) (*ProgressOutput, error) {
	progress, err := h.provisioningSvc.RetryFailedStep(ctx, input.ID, models.StepName(input.Step))
	return progressResult(progress, err)
}

// RunActionInput represents a cancel or recover request.
type RunActionInput struct {
	ID string `path:"id" doc:"Run ID"`
}

// CancelRun cancels a pending or running provisioning run. Completed steps
// are not undone.
func (h *ProvisioningHandler) CancelRun(ctx context.Context, input *RunActionInput) (*ProgressOutput, error) {
	progress, err := h.provisioningSvc.CancelProvisioning(ctx, input.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ProgressOutput{Status: http.StatusOK, Body: newProgressResponse(progress)}, nil
}

// RecoverRun resumes a failed run from its first not-completed step.
func (h *ProvisioningHandler) RecoverRun(ctx context.Context, input *RunActionInput) (*ProgressOutput, error) {
	progress, err := h.provisioningSvc.RecoverFailedProvisioning(ctx, input.ID)
	return progressResult(progress, err)
}

// DeprovisionInput represents an immediate deprovisioning request.
type DeprovisionInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
	Body     struct {
		Snapshot        bool   `json:"snapshot,omitempty" doc:"Push a tenant snapshot to object storage before teardown"`
		KeepInstitution bool   `json:"keep_institution,omitempty" doc:"Keep the institution record even if this was its last tenant"`
		Reason          string `json:"reason,omitempty" doc:"Why the tenant is being removed"`
	}
}

// Deprovision tears a tenant down: optional snapshot, migration rollback in
// reverse dependency order, data deletion, then the tenant record itself.
func (h *ProvisioningHandler) Deprovision(ctx context.Context, input *DeprovisionInput) (*ProgressOutput, error) {
	progress, err := h.provisioningSvc.DeprovisionTenant(ctx, input.TenantID, models.DeprovisionOptions{
		Snapshot:        input.Body.Snapshot,
		KeepInstitution: input.Body.KeepInstitution,
	}, input.Body.Reason)
	return progressResult(progress, err)
}

// ScheduleDeprovisionInput represents a scheduled deprovisioning request.
type ScheduleDeprovisionInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
	Body     struct {
		At              time.Time `json:"at" doc:"When teardown should run (must be in the future)"`
		Snapshot        bool      `json:"snapshot,omitempty" doc:"Push a tenant snapshot to object storage before teardown"`
		KeepInstitution bool      `json:"keep_institution,omitempty" doc:"Keep the institution record even if this was its last tenant"`
	}
}

// ScheduleDeprovisionOutput represents a scheduled deprovisioning response.
type ScheduleDeprovisionOutput struct {
	Body models.DeprovisionSchedule
}

// ScheduleDeprovision records a future teardown. The background worker
// executes it once due.
func (h *ProvisioningHandler) ScheduleDeprovision(ctx context.Context, input *ScheduleDeprovisionInput) (*ScheduleDeprovisionOutput, error) {
	schedule, err := h.provisioningSvc.ScheduleDeprovisioning(ctx, input.TenantID, input.Body.At, models.DeprovisionOptions{
		Snapshot:        input.Body.Snapshot,
		KeepInstitution: input.Body.KeepInstitution,
	}, getOperatorSubject(ctx))
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ScheduleDeprovisionOutput{Body: *schedule}, nil
}

// progressResult builds the response for operations that start or resume a
// run. A failed step is not an HTTP error: the run record persists with the
// failure recorded and the caller retries via the retry endpoint. Errors
// raised before a run exists map to their usual statuses.
func progressResult(progress *models.ProvisioningProgress, err error) (*ProgressOutput, error) {
	if progress == nil {
		if err != nil {
			return nil, mapServiceError(err)
		}
		return nil, huma.Error500InternalServerError("internal error")
	}
	status := http.StatusCreated
	if progress.Status == models.RunStatusFailed {
		status = http.StatusConflict
	}
	return &ProgressOutput{Status: status, Body: newProgressResponse(progress)}, nil
}

// ListSnapshotsInput represents a snapshot listing request.
type ListSnapshotsInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
}

// ListSnapshotsOutput represents a snapshot listing response.
type ListSnapshotsOutput struct {
	Body struct {
		Snapshots []string `json:"snapshots" doc:"Object keys, oldest first"`
	}
}

// ListSnapshots returns the stored snapshot keys for a tenant. Snapshots
// outlive the tenant row, so this works after deprovisioning.
func (h *ProvisioningHandler) ListSnapshots(ctx context.Context, input *ListSnapshotsInput) (*ListSnapshotsOutput, error) {
	keys, err := h.snapshotSvc.ListTenantSnapshots(ctx, input.TenantID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	out := &ListSnapshotsOutput{}
	out.Body.Snapshots = keys
	return out, nil
}

// GetSnapshotInput represents a snapshot fetch request.
type GetSnapshotInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
	File     string `path:"file" doc:"Snapshot file name, e.g. 20260301T120000Z.json"`
}

// GetSnapshotOutput represents a snapshot fetch response.
type GetSnapshotOutput struct {
	Body service.TenantSnapshot
}

// GetSnapshot retrieves one stored snapshot document.
func (h *ProvisioningHandler) GetSnapshot(ctx context.Context, input *GetSnapshotInput) (*GetSnapshotOutput, error) {
	if strings.Contains(input.File, "/") {
		return nil, huma.Error422UnprocessableEntity("file must be a plain file name")
	}
	key := fmt.Sprintf("snapshots/%s/%s", input.TenantID, input.File)
	snapshot, err := h.snapshotSvc.GetTenantSnapshot(ctx, key)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &GetSnapshotOutput{Body: *snapshot}, nil
}
