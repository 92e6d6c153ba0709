package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/merendalabs/merenda-api/internal/models"
	"github.com/merendalabs/merenda-api/internal/repository"
)

// createVersionAttempts bounds the retry loop when concurrent writers race on
// the unique (tenant, version) constraint.
const createVersionAttempts = 5

// ConfigurationService manages versioned tenant configuration: resolution
// over the global default layer, append-only version history, rollback, and
// the change-request approval workflow. Versions are never mutated in place,
// so any past effective state stays reconstructible and rollback reuses the
// same validation and versioning machinery as a regular update.
type ConfigurationService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewConfigurationService creates a new configuration service.
func NewConfigurationService(repos *repository.Repositories, logger *slog.Logger) *ConfigurationService {
	return &ConfigurationService{
		repos:  repos,
		logger: logger.With("component", "configuration"),
	}
}

// ValidationResult reports the outcome of a validate-only update.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Violations []ConfigViolation `json:"violations,omitempty"`
}

// UpdateConfigurationInput represents a configuration update.
type UpdateConfigurationInput struct {
	TenantID     string
	Changes      map[string]any
	Description  string
	Author       string
	ValidateOnly bool
}

// GetConfiguration resolves the effective configuration for a tenant: the
// current version's payload merged over the global default layer. With
// includeInheritance false only the tenant's own overrides are returned.
func (s *ConfigurationService) GetConfiguration(ctx context.Context, tenantID string, includeInheritance bool) (*models.ResolvedConfig, error) {
	latest, err := s.repos.Configuration.GetLatestVersion(ctx, tenantID)
	if err != nil {
		return nil, &InternalError{Op: "get latest version", Err: err}
	}

	overrides := map[string]any{}
	version := 0
	if latest != nil {
		overrides = latest.Payload
		version = latest.Version
	}

	resolved := &models.ResolvedConfig{TenantID: tenantID, Version: version}

	if includeInheritance {
		for _, spec := range models.ConfigCatalog() {
			value, provenance := spec.Default, models.ProvenanceDefault
			if v, ok := overrides[spec.Key]; ok {
				value, provenance = v, models.ProvenanceOverride
			}
			resolved.Values = append(resolved.Values, models.ResolvedValue{
				Key: spec.Key, Value: value, Provenance: provenance,
			})
		}
		return resolved, nil
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		resolved.Values = append(resolved.Values, models.ResolvedValue{
			Key: k, Value: overrides[k], Provenance: models.ProvenanceOverride,
		})
	}
	return resolved, nil
}

// UpdateConfiguration validates the changes against the catalog, collecting
// every violation, then appends version N+1 whose payload is the prior
// payload with the changes merged in. With ValidateOnly set, the validation
// result is returned and nothing is persisted.
func (s *ConfigurationService) UpdateConfiguration(ctx context.Context, input UpdateConfigurationInput) (*models.ConfigurationVersion, *ValidationResult, error) {
	if input.TenantID == "" {
		return nil, nil, NewValidationError("tenant_id", "is required")
	}
	if len(input.Changes) == 0 {
		return nil, nil, NewValidationError("changes", "at least one change is required")
	}

	violations := validateChanges(input.Changes)

	if input.ValidateOnly {
		return nil, &ValidationResult{Valid: len(violations) == 0, Violations: violations}, nil
	}
	if len(violations) > 0 {
		return nil, nil, &InvalidConfigurationValueError{Violations: violations}
	}

	version, err := s.appendVersion(ctx, input.TenantID, func(prior map[string]any) map[string]any {
		merged := make(map[string]any, len(prior)+len(input.Changes))
		for k, v := range prior {
			merged[k] = v
		}
		for k, v := range input.Changes {
			merged[k] = v
		}
		return merged
	}, input.Description, input.Author)
	if err != nil {
		return nil, nil, err
	}
	return version, nil, nil
}

// RollbackConfiguration appends a new version whose payload equals the target
// version's payload verbatim. History is never truncated.
func (s *ConfigurationService) RollbackConfiguration(ctx context.Context, tenantID string, targetVersion int, reason, author string) (*models.ConfigurationVersion, error) {
	if reason == "" {
		return nil, NewValidationError("reason", "is required")
	}

	target, err := s.repos.Configuration.GetVersion(ctx, tenantID, targetVersion)
	if err != nil {
		return nil, &InternalError{Op: "get target version", Err: err}
	}
	if target == nil {
		return nil, &VersionNotFoundError{TenantID: tenantID, Version: targetVersion}
	}

	version, err := s.appendVersion(ctx, tenantID, func(map[string]any) map[string]any {
		return target.Payload
	}, fmt.Sprintf("rollback to version %d: %s", targetVersion, reason), author)
	if err != nil {
		return nil, err
	}

	s.logger.Info("configuration rolled back",
		"tenant_id", tenantID, "target_version", targetVersion, "new_version", version.Version)
	return version, nil
}

// ConfigDiff is the pure difference between two version payloads.
type ConfigDiff struct {
	Added   map[string]any         `json:"added"`
	Removed map[string]any         `json:"removed"`
	Changed map[string]ValueChange `json:"changed"`
}

// ValueChange is one changed key in a diff.
type ValueChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// GetDiff computes added/removed/changed keys between two versions.
func (s *ConfigurationService) GetDiff(ctx context.Context, tenantID string, fromVersion, toVersion int) (*ConfigDiff, error) {
	from, err := s.repos.Configuration.GetVersion(ctx, tenantID, fromVersion)
	if err != nil {
		return nil, &InternalError{Op: "get from version", Err: err}
	}
	if from == nil {
		return nil, &VersionNotFoundError{TenantID: tenantID, Version: fromVersion}
	}
	to, err := s.repos.Configuration.GetVersion(ctx, tenantID, toVersion)
	if err != nil {
		return nil, &InternalError{Op: "get to version", Err: err}
	}
	if to == nil {
		return nil, &VersionNotFoundError{TenantID: tenantID, Version: toVersion}
	}

	return diffPayloads(from.Payload, to.Payload), nil
}

func diffPayloads(from, to map[string]any) *ConfigDiff {
	diff := &ConfigDiff{
		Added:   map[string]any{},
		Removed: map[string]any{},
		Changed: map[string]ValueChange{},
	}
	for k, v := range to {
		old, ok := from[k]
		if !ok {
			diff.Added[k] = v
			continue
		}
		if !equalValue(old, v) {
			diff.Changed[k] = ValueChange{From: old, To: v}
		}
	}
	for k, v := range from {
		if _, ok := to[k]; !ok {
			diff.Removed[k] = v
		}
	}
	return diff
}

// equalValue compares payload values through their JSON form, which
// normalizes int/float differences introduced by round-tripping.
func equalValue(a, b any) bool {
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(aj) == string(bj)
}

// ChangeRequestInput represents a proposed configuration change.
type ChangeRequestInput struct {
	TenantID    string
	Changes     map[string]any
	Description string
	RequestedBy string
	AutoApply   bool
	// AutoApplyAuthorized is set by the caller when the requester may
	// self-approve; AutoApply is ignored without it.
	AutoApplyAuthorized bool
}

// RequestChange persists a pending change request. Changes are validated up
// front so a request that could never be applied is rejected before it enters
// the queue. With AutoApply set and the requester authorized, the approve
// step runs immediately.
func (s *ConfigurationService) RequestChange(ctx context.Context, input ChangeRequestInput) (*models.ConfigurationChangeRequest, error) {
	if input.TenantID == "" {
		return nil, NewValidationError("tenant_id", "is required")
	}
	if len(input.Changes) == 0 {
		return nil, NewValidationError("changes", "at least one change is required")
	}
	if violations := validateChanges(input.Changes); len(violations) > 0 {
		return nil, &InvalidConfigurationValueError{Violations: violations}
	}

	req := &models.ConfigurationChangeRequest{
		ID:          ulid.Make().String(),
		TenantID:    input.TenantID,
		Changes:     input.Changes,
		Description: input.Description,
		RequestedBy: input.RequestedBy,
		Status:      models.ChangeRequestStatusPending,
		AutoApply:   input.AutoApply,
		CreatedAt:   time.Now(),
	}
	if err := s.repos.ChangeRequest.Create(ctx, req); err != nil {
		return nil, &InternalError{Op: "create change request", Err: err}
	}

	if input.AutoApply && input.AutoApplyAuthorized {
		return s.ApproveChange(ctx, req.ID, input.RequestedBy)
	}
	return req, nil
}

// ApproveChange materializes a pending request as a new configuration version
// and transitions the request to applied.
func (s *ConfigurationService) ApproveChange(ctx context.Context, requestID, approverID string) (*models.ConfigurationChangeRequest, error) {
	req, err := s.repos.ChangeRequest.GetByID(ctx, requestID)
	if err != nil {
		return nil, &InternalError{Op: "get change request", Err: err}
	}
	if req == nil {
		return nil, &NotFoundError{Resource: "change request", ID: requestID}
	}
	if req.Status != models.ChangeRequestStatusPending {
		return nil, &InvalidRequestStateError{RequestID: requestID, Status: string(req.Status)}
	}

	version, _, err := s.UpdateConfiguration(ctx, UpdateConfigurationInput{
		TenantID:    req.TenantID,
		Changes:     req.Changes,
		Description: req.Description,
		Author:      approverID,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	req.Status = models.ChangeRequestStatusApplied
	req.ReviewedBy = approverID
	req.ReviewedAt = &now
	req.AppliedVersion = &version.Version
	if err := s.repos.ChangeRequest.Update(ctx, req); err != nil {
		return nil, &InternalError{Op: "update change request", Err: err}
	}

	s.logger.Info("change request applied",
		"request_id", requestID, "tenant_id", req.TenantID, "version", version.Version, "approved_by", approverID)
	return req, nil
}

// RejectChange transitions a pending request to rejected. A reason is
// required; configuration is left unchanged.
func (s *ConfigurationService) RejectChange(ctx context.Context, requestID, approverID, reason string) (*models.ConfigurationChangeRequest, error) {
	if reason == "" {
		return nil, NewValidationError("reason", "is required")
	}

	req, err := s.repos.ChangeRequest.GetByID(ctx, requestID)
	if err != nil {
		return nil, &InternalError{Op: "get change request", Err: err}
	}
	if req == nil {
		return nil, &NotFoundError{Resource: "change request", ID: requestID}
	}
	if req.Status != models.ChangeRequestStatusPending {
		return nil, &InvalidRequestStateError{RequestID: requestID, Status: string(req.Status)}
	}

	now := time.Now()
	req.Status = models.ChangeRequestStatusRejected
	req.RejectReason = reason
	req.ReviewedBy = approverID
	req.ReviewedAt = &now
	if err := s.repos.ChangeRequest.Update(ctx, req); err != nil {
		return nil, &InternalError{Op: "update change request", Err: err}
	}
	return req, nil
}

// ApplyTemplate applies a named starter configuration as a batch update.
func (s *ConfigurationService) ApplyTemplate(ctx context.Context, tenantID, templateID, userID string) (*models.ConfigurationVersion, error) {
	template, ok := models.LookupConfigTemplate(templateID)
	if !ok {
		return nil, NewValidationError("template_id", fmt.Sprintf("unknown template %q", templateID))
	}

	version, _, err := s.UpdateConfiguration(ctx, UpdateConfigurationInput{
		TenantID:    tenantID,
		Changes:     template.Values,
		Description: fmt.Sprintf("applied template %s", template.ID),
		Author:      userID,
	})
	return version, err
}

// ConfigExport is a serialized configuration version for transfer between
// environments.
type ConfigExport struct {
	TenantID   string         `json:"tenant_id"`
	Version    int            `json:"version"`
	Payload    map[string]any `json:"payload"`
	ExportedAt time.Time      `json:"exported_at"`
}

// ExportConfiguration serializes a version's payload. With a nil version the
// current version is exported.
func (s *ConfigurationService) ExportConfiguration(ctx context.Context, tenantID string, version *int) (*ConfigExport, error) {
	var v *models.ConfigurationVersion
	var err error
	if version == nil {
		v, err = s.repos.Configuration.GetLatestVersion(ctx, tenantID)
	} else {
		v, err = s.repos.Configuration.GetVersion(ctx, tenantID, *version)
	}
	if err != nil {
		return nil, &InternalError{Op: "get version", Err: err}
	}
	if v == nil {
		requested := 0
		if version != nil {
			requested = *version
		}
		return nil, &VersionNotFoundError{TenantID: tenantID, Version: requested}
	}

	return &ConfigExport{
		TenantID:   v.TenantID,
		Version:    v.Version,
		Payload:    v.Payload,
		ExportedAt: time.Now().UTC(),
	}, nil
}

// ImportConfiguration applies an exported payload through the same validation
// path as a regular update.
func (s *ConfigurationService) ImportConfiguration(ctx context.Context, tenantID string, data []byte, validateOnly bool, author string) (*models.ConfigurationVersion, *ValidationResult, error) {
	var export ConfigExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, nil, NewValidationError("data", fmt.Sprintf("invalid export document: %v", err))
	}
	if len(export.Payload) == 0 {
		return nil, nil, NewValidationError("data", "export contains no configuration values")
	}

	return s.UpdateConfiguration(ctx, UpdateConfigurationInput{
		TenantID:     tenantID,
		Changes:      export.Payload,
		Description:  fmt.Sprintf("imported from tenant %s version %d", export.TenantID, export.Version),
		Author:       author,
		ValidateOnly: validateOnly,
	})
}

// ListVersions returns a tenant's full version history.
func (s *ConfigurationService) ListVersions(ctx context.Context, tenantID string) ([]*models.ConfigurationVersion, error) {
	versions, err := s.repos.Configuration.ListVersions(ctx, tenantID)
	if err != nil {
		return nil, &InternalError{Op: "list versions", Err: err}
	}
	return versions, nil
}

// appendVersion appends a new version computed from the prior payload.
// Concurrent writers serialize on the unique (tenant, version) constraint:
// the loser re-reads the latest version and retries with the next number.
func (s *ConfigurationService) appendVersion(ctx context.Context, tenantID string, build func(prior map[string]any) map[string]any, description, author string) (*models.ConfigurationVersion, error) {
	for attempt := 0; attempt < createVersionAttempts; attempt++ {
		latest, err := s.repos.Configuration.GetLatestVersion(ctx, tenantID)
		if err != nil {
			return nil, &InternalError{Op: "get latest version", Err: err}
		}

		prior := map[string]any{}
		next := 1
		if latest != nil {
			prior = latest.Payload
			next = latest.Version + 1
		}

		version := &models.ConfigurationVersion{
			ID:          ulid.Make().String(),
			TenantID:    tenantID,
			Version:     next,
			Payload:     build(prior),
			Description: description,
			CreatedBy:   author,
			CreatedAt:   time.Now(),
		}

		err = s.repos.Configuration.CreateVersion(ctx, version)
		if err == nil {
			return version, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, &InternalError{Op: "create version", Err: err}
		}
		// Lost the race for this version number; retry against the new latest.
	}
	return nil, &InternalError{Op: "create version", Err: fmt.Errorf("gave up after %d contended attempts", createVersionAttempts)}
}

func validateChanges(changes map[string]any) []ConfigViolation {
	var violations []ConfigViolation
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := models.ValidateConfigValue(key, changes[key]); err != nil {
			violations = append(violations, ConfigViolation{Key: key, Message: err.Error()})
		}
	}
	return violations
}
