package handlers

import (
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/merendalabs/merenda-api/internal/service"
)

// mapServiceError translates service-layer errors into huma status errors.
// Unknown errors become opaque 500s with the cause logged, never echoed.
func mapServiceError(err error) error {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		return huma.Error422UnprocessableEntity(validationErr.Error())
	}

	var configErr *service.InvalidConfigurationValueError
	if errors.As(err, &configErr) {
		details := make([]error, len(configErr.Violations))
		for i, v := range configErr.Violations {
			details[i] = &huma.ErrorDetail{Location: v.Key, Message: v.Message}
		}
		return huma.Error422UnprocessableEntity("invalid configuration values", details...)
	}

	var conflictErr *service.ConflictError
	if errors.As(err, &conflictErr) {
		return huma.Error409Conflict(conflictErr.Error())
	}

	var depErr *service.DependencyNotSatisfiedError
	if errors.As(err, &depErr) {
		return huma.Error409Conflict(depErr.Error())
	}

	var dependentsErr *service.DependentMigrationsExistError
	if errors.As(err, &dependentsErr) {
		return huma.Error409Conflict(dependentsErr.Error())
	}

	var stateErr *service.InvalidRequestStateError
	if errors.As(err, &stateErr) {
		return huma.Error409Conflict(stateErr.Error())
	}

	var retryErr *service.StepNotRetryableError
	if errors.As(err, &retryErr) {
		return huma.Error409Conflict(retryErr.Error())
	}

	var versionErr *service.VersionNotFoundError
	if errors.As(err, &versionErr) {
		return huma.Error404NotFound(versionErr.Error())
	}

	var notFoundErr *service.NotFoundError
	if errors.As(err, &notFoundErr) {
		return huma.Error404NotFound(notFoundErr.Error())
	}

	// Step failures carry their cause in the persisted run record as well,
	// so echoing it here exposes nothing the progress endpoint does not.
	var provErr *service.ProvisioningError
	if errors.As(err, &provErr) {
		return huma.Error409Conflict(provErr.Error())
	}

	if errors.Is(err, service.ErrSnapshotStorageDisabled) {
		return huma.Error409Conflict(service.ErrSnapshotStorageDisabled.Error())
	}

	slog.Error("unhandled service error", "error", err)
	return huma.Error500InternalServerError("internal error")
}
