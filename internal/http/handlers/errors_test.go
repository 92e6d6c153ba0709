package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"

	"github.com/merendalabs/merenda-api/internal/service"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "validation error",
			err:        service.NewValidationError("name", "is required"),
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "invalid configuration values",
			err: &service.InvalidConfigurationValueError{Violations: []service.ConfigViolation{
				{Key: "max_schools", Message: "value 0 below minimum 1"},
			}},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "conflict",
			err:        &service.ConflictError{Resource: "tenant", Key: "escola-azul"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "dependency not satisfied",
			err:        &service.DependencyNotSatisfiedError{MigrationID: "m2", Missing: []string{"m1"}},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "dependents exist",
			err:        &service.DependentMigrationsExistError{MigrationID: "m1", Dependents: []string{"m2"}},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "invalid request state",
			err:        &service.InvalidRequestStateError{RequestID: "r1", Status: "applied"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "step not retryable",
			err:        &service.StepNotRetryableError{Step: "create_tenant", Status: "completed"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "version not found",
			err:        &service.VersionNotFoundError{TenantID: "t1", Version: 9},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "not found",
			err:        &service.NotFoundError{Resource: "tenant", ID: "t1"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "step failure",
			err:        &service.ProvisioningError{Step: "run_initial_migrations", Err: errors.New("migration add-menus failed")},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "snapshot storage disabled",
			err:        service.ErrSnapshotStorageDisabled,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "wrapped service error",
			err:        fmt.Errorf("handling request: %w", &service.NotFoundError{Resource: "migration", ID: "m1"}),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown error",
			err:        errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapServiceError(tt.err)
			var statusErr huma.StatusError
			if !errors.As(mapped, &statusErr) {
				t.Fatalf("mapped error %T does not carry a status", mapped)
			}
			if statusErr.GetStatus() != tt.wantStatus {
				t.Errorf("status = %d, want %d", statusErr.GetStatus(), tt.wantStatus)
			}
		})
	}
}

func TestMapServiceError_ViolationDetails(t *testing.T) {
	mapped := mapServiceError(&service.InvalidConfigurationValueError{Violations: []service.ConfigViolation{
		{Key: "max_schools", Message: "value 0 below minimum 1"},
		{Key: "default_locale", Message: `value "fr-FR" not in allowed set`},
	}})

	var model *huma.ErrorModel
	if !errors.As(mapped, &model) {
		t.Fatalf("mapped error is %T, want *huma.ErrorModel", mapped)
	}
	if len(model.Errors) != 2 {
		t.Fatalf("got %d error details, want 2", len(model.Errors))
	}
	if model.Errors[0].Location != "max_schools" {
		t.Errorf("first detail location = %s, want max_schools", model.Errors[0].Location)
	}
}

func TestMapServiceError_OpaqueInternalMessage(t *testing.T) {
	mapped := mapServiceError(errors.New("dsn=libsql://secret@host failed"))

	var model *huma.ErrorModel
	if !errors.As(mapped, &model) {
		t.Fatalf("mapped error is %T, want *huma.ErrorModel", mapped)
	}
	if model.Detail != "internal error" {
		t.Errorf("internal cause leaked to the client: %q", model.Detail)
	}
}
