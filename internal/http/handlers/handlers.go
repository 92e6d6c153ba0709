// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"context"
	"database/sql"

	"github.com/merendalabs/merenda-api/internal/http/mw"
	"github.com/merendalabs/merenda-api/internal/service"
	"github.com/merendalabs/merenda-api/internal/version"
)

// Handlers aggregates all handler groups for route registration.
type Handlers struct {
	Migrations    *MigrationHandler
	Configuration *ConfigurationHandler
	Provisioning  *ProvisioningHandler

	db *sql.DB
}

// New creates all handlers. db may be nil when generating the OpenAPI spec;
// readiness then reports ready unconditionally.
func New(services *service.Services, db *sql.DB) *Handlers {
	h := &Handlers{db: db}
	if services != nil {
		h.Migrations = NewMigrationHandler(services.Migration)
		h.Configuration = NewConfigurationHandler(services.Configuration, services.Snapshot)
		h.Provisioning = NewProvisioningHandler(services.Provisioning, services.Snapshot)
	}
	return h
}

// HealthCheckOutput represents health check response.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
}

// HealthCheck returns the health status of the API.
func (h *Handlers) HealthCheck(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
	out := &HealthCheckOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = version.Get().Short()
	return out, nil
}

// LivenessOutput represents liveness probe response.
type LivenessOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Liveness reports process liveness. It never touches the database.
func (h *Handlers) Liveness(ctx context.Context, input *struct{}) (*LivenessOutput, error) {
	out := &LivenessOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// ReadinessOutput represents readiness probe response.
type ReadinessOutput struct {
	Body struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
}

// Readiness reports whether the API can serve traffic, including a
// database ping.
func (h *Handlers) Readiness(ctx context.Context, input *struct{}) (*ReadinessOutput, error) {
	out := &ReadinessOutput{}
	out.Body.Status = "ok"
	out.Body.Database = "ok"
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			out.Body.Status = "degraded"
			out.Body.Database = "unreachable"
		}
	}
	return out, nil
}

// getOperatorClaims extracts operator claims from context.
func getOperatorClaims(ctx context.Context) *mw.OperatorClaims {
	return mw.GetOperatorClaims(ctx)
}

// getOperatorSubject extracts the operator subject from context.
func getOperatorSubject(ctx context.Context) string {
	claims := mw.GetOperatorClaims(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}
