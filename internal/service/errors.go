package service

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed or missing input. Nothing is persisted
// when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports a lookup by ID that matched nothing.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError reports a unique-key collision (slug, email, CNPJ already in use).
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with %s already exists", e.Resource, e.Key)
}

// DependencyNotSatisfiedError reports an attempt to run a migration whose
// dependencies are not all completed.
type DependencyNotSatisfiedError struct {
	MigrationID string
	Missing     []string
}

func (e *DependencyNotSatisfiedError) Error() string {
	return fmt.Sprintf("migration %s has unsatisfied dependencies: %s",
		e.MigrationID, strings.Join(e.Missing, ", "))
}

// DependentMigrationsExistError reports an attempt to roll back a migration
// that completed migrations still depend on. Cascade is deliberately the
// caller's responsibility.
type DependentMigrationsExistError struct {
	MigrationID string
	Dependents  []string
}

func (e *DependentMigrationsExistError) Error() string {
	return fmt.Sprintf("migration %s cannot be rolled back: completed migrations depend on it: %s",
		e.MigrationID, strings.Join(e.Dependents, ", "))
}

// ConfigViolation is one invalid configuration value.
type ConfigViolation struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// InvalidConfigurationValueError collects every offending key in a
// configuration update rather than stopping at the first.
type InvalidConfigurationValueError struct {
	Violations []ConfigViolation
}

func (e *InvalidConfigurationValueError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Key, v.Message)
	}
	return "invalid configuration values: " + strings.Join(parts, "; ")
}

// VersionNotFoundError reports a rollback or export target version that does
// not exist for the tenant.
type VersionNotFoundError struct {
	TenantID string
	Version  int
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("configuration version %d not found for tenant %s", e.Version, e.TenantID)
}

// InvalidRequestStateError reports an approve/reject on a change request that
// is not pending.
type InvalidRequestStateError struct {
	RequestID string
	Status    string
}

func (e *InvalidRequestStateError) Error() string {
	return fmt.Sprintf("change request %s is %s, not pending", e.RequestID, e.Status)
}

// StepNotRetryableError reports a retry on a step that is not in the failed state.
type StepNotRetryableError struct {
	Step   string
	Status string
}

func (e *StepNotRetryableError) Error() string {
	return fmt.Sprintf("step %s is %s and cannot be retried", e.Step, e.Status)
}

// ProvisioningError wraps a step failure with the underlying cause preserved.
type ProvisioningError struct {
	Step string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning step %s failed: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// InternalError wraps an unexpected database or infrastructure failure with
// the original cause preserved for logs.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }
