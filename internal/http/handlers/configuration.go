package handlers

import (
	"context"
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"

	"github.com/merendalabs/merenda-api/internal/models"
	"github.com/merendalabs/merenda-api/internal/service"
)

// ConfigurationHandler handles tenant configuration endpoints.
type ConfigurationHandler struct {
	configSvc   *service.ConfigurationService
	snapshotSvc *service.SnapshotService
}

// NewConfigurationHandler creates a new configuration handler.
func NewConfigurationHandler(configSvc *service.ConfigurationService, snapshotSvc *service.SnapshotService) *ConfigurationHandler {
	return &ConfigurationHandler{configSvc: configSvc, snapshotSvc: snapshotSvc}
}

// GetConfigurationInput represents a resolved configuration request.
type GetConfigurationInput struct {
	TenantID           string `path:"id" doc:"Tenant ID"`
	IncludeInheritance bool   `query:"includeInheritance" default:"true" doc:"Include catalog defaults the tenant has not overridden"`
}

// GetConfigurationOutput represents a resolved configuration response.
type GetConfigurationOutput struct {
	Body models.ResolvedConfig
}

// GetConfiguration returns the tenant's effective configuration with
// per-key provenance.
func (h *ConfigurationHandler) GetConfiguration(ctx context.Context, input *GetConfigurationInput) (*GetConfigurationOutput, error) {
	resolved, err := h.configSvc.GetConfiguration(ctx, input.TenantID, input.IncludeInheritance)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &GetConfigurationOutput{Body: *resolved}, nil
}

// UpdateConfigurationInput represents a configuration update request.
type UpdateConfigurationInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
	Body     struct {
		Configurations map[string]any `json:"configurations" doc:"Key/value changes to apply on top of the current version"`
		Description    string         `json:"description,omitempty" doc:"Why this change is being made"`
		ValidateOnly   bool           `json:"validate_only,omitempty" doc:"Validate without persisting a new version"`
	}
}

// UpdateConfigurationOutput represents a configuration update response.
// Either version (persisted) or validation (validate_only) is populated.
type UpdateConfigurationOutput struct {
	Body struct {
		Version    *models.ConfigurationVersion `json:"version,omitempty"`
		Validation *service.ValidationResult    `json:"validation,omitempty"`
	}
}

// UpdateConfiguration validates and appends a new configuration version.
// All invalid keys are reported together, not just the first.
func (h *ConfigurationHandler) UpdateConfiguration(ctx context.Context, input *UpdateConfigurationInput) (*UpdateConfigurationOutput, error) {
	version, validation, err := h.configSvc.UpdateConfiguration(ctx, service.UpdateConfigurationInput{
		TenantID:     input.TenantID,
		Changes:      input.Body.Configurations,
		Description:  input.Body.Description,
		Author:       getOperatorSubject(ctx),
		ValidateOnly: input.Body.ValidateOnly,
	})
	if err != nil {
		return nil, mapServiceError(err)
	}
	out := &UpdateConfigurationOutput{}
	out.Body.Version = version
	out.Body.Validation = validation
	return out, nil
}

// ListConfigVersionsInput represents a version history request.
type ListConfigVersionsInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
}

// ListConfigVersionsOutput represents a version history response.
type ListConfigVersionsOutput struct {
	Body struct {
		Versions []*models.ConfigurationVersion `json:"versions"`
		Count    int                            `json:"count"`
	}
}

// ListVersions returns the tenant's full configuration version history,
// newest first.
func (h *ConfigurationHandler) ListVersions(ctx context.Context, input *ListConfigVersionsInput) (*ListConfigVersionsOutput, error) {
	versions, err := h.configSvc.ListVersions(ctx, input.TenantID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	out := &ListConfigVersionsOutput{}
	out.Body.Versions = versions
	out.Body.Count = len(versions)
	return out, nil
}

// ConfigDiffInput represents a configuration diff request.
type ConfigDiffInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
	From     int    `query:"from" minimum:"1" doc:"Source version"`
	To       int    `query:"to" minimum:"1" doc:"Target version"`
}

// ConfigDiffOutput represents a configuration diff response.
type ConfigDiffOutput struct {
	Body service.ConfigDiff
}

// GetDiff computes added, removed, and changed keys between two versions.
func (h *ConfigurationHandler) GetDiff(ctx context.Context, input *ConfigDiffInput) (*ConfigDiffOutput, error) {
	diff, err := h.configSvc.GetDiff(ctx, input.TenantID, input.From, input.To)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ConfigDiffOutput{Body: *diff}, nil
}

// RollbackConfigurationInput represents a configuration rollback request.
type RollbackConfigurationInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
	Body     struct {
		TargetVersion int    `json:"target_version" minimum:"1" doc:"Version whose payload should become current"`
		Reason        string `json:"reason" minLength:"1" doc:"Why the rollback is needed"`
	}
}

// ConfigVersionOutput wraps a single configuration version.
type ConfigVersionOutput struct {
	Body models.ConfigurationVersion
}

// RollbackConfiguration appends a new version whose payload is a copy of
// the target version. History is never truncated.
func (h *ConfigurationHandler) RollbackConfiguration(ctx context.Context, input *RollbackConfigurationInput) (*ConfigVersionOutput, error) {
	version, err := h.configSvc.RollbackConfiguration(ctx, input.TenantID, input.Body.TargetVersion, input.Body.Reason, getOperatorSubject(ctx))
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ConfigVersionOutput{Body: *version}, nil
}

// ExportConfigurationInput represents a configuration export request.
type ExportConfigurationInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
	Version  int    `query:"version" doc:"Version to export; current version when omitted"`
	Store    bool   `query:"store" doc:"Also push the export to snapshot storage"`
}

// ExportConfigurationOutput represents a configuration export response.
type ExportConfigurationOutput struct {
	Body service.ConfigExport
}

// ExportConfiguration serializes a configuration version for transfer.
func (h *ConfigurationHandler) ExportConfiguration(ctx context.Context, input *ExportConfigurationInput) (*ExportConfigurationOutput, error) {
	var version *int
	if input.Version > 0 {
		version = &input.Version
	}
	export, err := h.configSvc.ExportConfiguration(ctx, input.TenantID, version)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if input.Store {
		if err := h.snapshotSvc.StoreConfigurationExport(ctx, export); err != nil {
			return nil, mapServiceError(err)
		}
	}
	return &ExportConfigurationOutput{Body: *export}, nil
}

// ImportConfigurationInput represents a configuration import request.
type ImportConfigurationInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
	Body     struct {
		Data         json.RawMessage `json:"data" doc:"A previously exported configuration document"`
		ValidateOnly bool            `json:"validate_only,omitempty" doc:"Validate without persisting a new version"`
	}
}

// ImportConfiguration applies an exported configuration document as a new
// version, with the same validation as a direct update.
func (h *ConfigurationHandler) ImportConfiguration(ctx context.Context, input *ImportConfigurationInput) (*UpdateConfigurationOutput, error) {
	version, validation, err := h.configSvc.ImportConfiguration(ctx, input.TenantID, input.Body.Data, input.Body.ValidateOnly, getOperatorSubject(ctx))
	if err != nil {
		return nil, mapServiceError(err)
	}
	out := &UpdateConfigurationOutput{}
	out.Body.Version = version
	out.Body.Validation = validation
	return out, nil
}

// ApplyTemplateInput represents an apply-configuration-template request.
type ApplyTemplateInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
	Body     struct {
		TemplateID string `json:"template_id" minLength:"1" doc:"Named starter configuration (e.g. escola-pequena, rede-municipal)"`
	}
}

// ApplyTemplate applies a named starter configuration as a batch update.
func (h *ConfigurationHandler) ApplyTemplate(ctx context.Context, input *ApplyTemplateInput) (*ConfigVersionOutput, error) {
	version, err := h.configSvc.ApplyTemplate(ctx, input.TenantID, input.Body.TemplateID, getOperatorSubject(ctx))
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ConfigVersionOutput{Body: *version}, nil
}

// CreateChangeRequestInput represents a configuration change request
// submission.
type CreateChangeRequestInput struct {
	TenantID string `path:"id" doc:"Tenant ID"`
	Body     struct {
		Changes     map[string]any `json:"changes" doc:"Key/value changes being proposed"`
		Description string         `json:"description,omitempty" doc:"Why the change is being proposed"`
		AutoApply   bool           `json:"auto_apply,omitempty" doc:"Apply immediately when the requester is authorized to self-approve"`
	}
}

// ChangeRequestOutput wraps a single change request.
type ChangeRequestOutput struct {
	Body models.ConfigurationChangeRequest
}

// CreateChangeRequest submits a configuration change for approval. Changes
// are validated up front so unappliable requests never enter the queue.
func (h *ConfigurationHandler) CreateChangeRequest(ctx context.Context, input *CreateChangeRequestInput) (*ChangeRequestOutput, error) {
	claims := getOperatorClaims(ctx)
	if claims == nil {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	request, err := h.configSvc.RequestChange(ctx, service.ChangeRequestInput{
		TenantID:            input.TenantID,
		Changes:             input.Body.Changes,
		Description:         input.Body.Description,
		RequestedBy:         claims.Subject,
		AutoApply:           input.Body.AutoApply,
		AutoApplyAuthorized: claims.Role == "admin",
	})
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ChangeRequestOutput{Body: *request}, nil
}

// ReviewChangeRequestInput represents an approve request.
type ReviewChangeRequestInput struct {
	RequestID string `path:"id" doc:"Change request ID"`
}

// ApproveChangeRequest approves a pending change request and materializes
// the resulting configuration version.
func (h *ConfigurationHandler) ApproveChangeRequest(ctx context.Context, input *ReviewChangeRequestInput) (*ChangeRequestOutput, error) {
	request, err := h.configSvc.ApproveChange(ctx, input.RequestID, getOperatorSubject(ctx))
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ChangeRequestOutput{Body: *request}, nil
}

// RejectChangeRequestInput represents a reject request.
type RejectChangeRequestInput struct {
	RequestID string `path:"id" doc:"Change request ID"`
	Body      struct {
		Reason string `json:"reason" minLength:"1" doc:"Why the change is being rejected"`
	}
}

// RejectChangeRequest rejects a pending change request with a reason.
func (h *ConfigurationHandler) RejectChangeRequest(ctx context.Context, input *RejectChangeRequestInput) (*ChangeRequestOutput, error) {
	request, err := h.configSvc.RejectChange(ctx, input.RequestID, getOperatorSubject(ctx), input.Body.Reason)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ChangeRequestOutput{Body: *request}, nil
}
