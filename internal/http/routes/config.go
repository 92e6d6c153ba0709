// Package routes provides shared route registration for the Merenda
// control-plane API. Both the main server and the OpenAPI generator use the
// same route definitions, so the spec is always in sync.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/merendalabs/merenda-api/internal/http/mw"
	"github.com/merendalabs/merenda-api/internal/version"
)

// NewHumaConfig creates the shared Huma configuration for the API.
// This includes API metadata, security schemes, and tag definitions.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("Merenda Control Plane API", version.Get().Short())
	cfg.Info.Description = "Tenant lifecycle control plane for the Merenda school-meal platform: schema migrations, versioned tenant configuration, and provisioning orchestration."

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:        "http",
			Scheme:      "bearer",
			Description: "Operator authentication. Include an operator JWT in the Authorization header as `Bearer <token>`.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Migrations", Description: "Schema migration definitions, execution, and rollback", Extensions: map[string]any{"x-displayName": "Migrations"}},
		{Name: "Configuration", Description: "Versioned per-tenant configuration", Extensions: map[string]any{"x-displayName": "Configuration"}},
		{Name: "Change Requests", Description: "Configuration change approval workflow", Extensions: map[string]any{"x-displayName": "Change Requests"}},
		{Name: "Provisioning", Description: "Tenant provisioning and deprovisioning runs", Extensions: map[string]any{"x-displayName": "Provisioning"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}
