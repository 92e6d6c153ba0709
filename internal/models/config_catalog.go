package models

import (
	"fmt"
	"math"
	"sort"
)

// ConfigValueType defines the type of a configuration value.
type ConfigValueType string

const (
	ConfigTypeString ConfigValueType = "string"
	ConfigTypeInt    ConfigValueType = "int"
	ConfigTypeFloat  ConfigValueType = "float"
	ConfigTypeBool   ConfigValueType = "bool"
)

// ConfigKeySpec declares a known configuration key: its type, global default
// value, and optional constraints. The set of specs forms the global default
// layer that tenant overrides merge over.
type ConfigKeySpec struct {
	Key           string          `json:"key"`
	Type          ConfigValueType `json:"type"`
	Default       any             `json:"default"`
	Description   string          `json:"description,omitempty"`
	Min           *float64        `json:"min,omitempty"`
	Max           *float64        `json:"max,omitempty"`
	AllowedValues []string        `json:"allowed_values,omitempty"`
}

// ConfigProvenance identifies where a resolved value came from.
type ConfigProvenance string

const (
	ProvenanceDefault  ConfigProvenance = "default"
	ProvenanceOverride ConfigProvenance = "override"
)

// ResolvedValue is one entry of a resolved configuration, with provenance
// exposed for diagnostics.
type ResolvedValue struct {
	Key        string           `json:"key"`
	Value      any              `json:"value"`
	Provenance ConfigProvenance `json:"provenance"`
}

// ResolvedConfig is the effective configuration for a tenant: its current
// version payload merged over the global default layer.
type ResolvedConfig struct {
	TenantID string          `json:"tenant_id"`
	Version  int             `json:"version"`
	Values   []ResolvedValue `json:"values"`
}

// Get returns the resolved value for a key, or nil if the key is unknown.
func (r *ResolvedConfig) Get(key string) any {
	for _, v := range r.Values {
		if v.Key == key {
			return v.Value
		}
	}
	return nil
}

func fptr(f float64) *float64 { return &f }

// configCatalog is the closed set of configuration keys the platform knows
// about. Tenant payloads may only contain these keys.
var configCatalog = map[string]ConfigKeySpec{
	"max_schools": {
		Key: "max_schools", Type: ConfigTypeInt, Default: 5,
		Description: "Maximum number of schools the tenant may register",
		Min:         fptr(1), Max: fptr(1000),
	},
	"max_students_per_school": {
		Key: "max_students_per_school", Type: ConfigTypeInt, Default: 2000,
		Description: "Maximum enrolled students per school",
		Min:         fptr(1), Max: fptr(50000),
	},
	"meals_per_day": {
		Key: "meals_per_day", Type: ConfigTypeInt, Default: 2,
		Description: "Meals served per school day",
		Min:         fptr(1), Max: fptr(6),
	},
	"stock_alert_threshold_pct": {
		Key: "stock_alert_threshold_pct", Type: ConfigTypeFloat, Default: 15.0,
		Description: "Stock level (percent of par) that triggers a low-stock alert",
		Min:         fptr(0), Max: fptr(100),
	},
	"procurement_approval_limit": {
		Key: "procurement_approval_limit", Type: ConfigTypeFloat, Default: 5000.0,
		Description: "Order value (BRL) above which a second approval is required",
		Min:         fptr(0),
	},
	"menu_planning_horizon_days": {
		Key: "menu_planning_horizon_days", Type: ConfigTypeInt, Default: 30,
		Description: "How far ahead menus can be planned",
		Min:         fptr(7), Max: fptr(180),
	},
	"allow_supplier_portal": {
		Key: "allow_supplier_portal", Type: ConfigTypeBool, Default: false,
		Description: "Whether suppliers get portal access for this tenant",
	},
	"nutrition_tracking_enabled": {
		Key: "nutrition_tracking_enabled", Type: ConfigTypeBool, Default: true,
		Description: "Track nutritional values on menus and stock items",
	},
	"default_locale": {
		Key: "default_locale", Type: ConfigTypeString, Default: "pt-BR",
		Description:   "Default locale for tenant users",
		AllowedValues: []string{"pt-BR", "es-AR", "en-US"},
	},
	"fiscal_regime": {
		Key: "fiscal_regime", Type: ConfigTypeString, Default: "municipal",
		Description:   "Fiscal regime the tenant reports under",
		AllowedValues: []string{"municipal", "estadual", "federal", "privado"},
	},
}

// ConfigCatalog returns all known key specs, sorted by key.
func ConfigCatalog() []ConfigKeySpec {
	specs := make([]ConfigKeySpec, 0, len(configCatalog))
	for _, s := range configCatalog {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Key < specs[j].Key })
	return specs
}

// LookupConfigKey returns the spec for a key.
func LookupConfigKey(key string) (ConfigKeySpec, bool) {
	s, ok := configCatalog[key]
	return s, ok
}

// ValidateConfigValue checks a single value against its key's spec. The
// returned error message is user-facing; callers collect messages across all
// offending keys rather than stopping at the first.
func ValidateConfigValue(key string, value any) error {
	spec, ok := configCatalog[key]
	if !ok {
		return fmt.Errorf("unknown configuration key")
	}

	switch spec.Type {
	case ConfigTypeBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
	case ConfigTypeString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if len(spec.AllowedValues) > 0 {
			for _, allowed := range spec.AllowedValues {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("value %q not in allowed set %v", s, spec.AllowedValues)
		}
	case ConfigTypeInt:
		f, ok := numericValue(value)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("expected integer, got %v", value)
		}
		return checkRange(spec, f)
	case ConfigTypeFloat:
		f, ok := numericValue(value)
		if !ok {
			return fmt.Errorf("expected number, got %T", value)
		}
		return checkRange(spec, f)
	}
	return nil
}

func checkRange(spec ConfigKeySpec, f float64) error {
	if spec.Min != nil && f < *spec.Min {
		return fmt.Errorf("value %v below minimum %v", f, *spec.Min)
	}
	if spec.Max != nil && f > *spec.Max {
		return fmt.Errorf("value %v above maximum %v", f, *spec.Max)
	}
	return nil
}

// numericValue normalizes JSON numbers (float64) and Go ints to float64.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// ConfigTemplate is a named starter configuration applied during provisioning
// or on demand.
type ConfigTemplate struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Values      map[string]any `json:"values"`
}

// configTemplates holds the built-in starter configurations.
var configTemplates = map[string]ConfigTemplate{
	"escola-pequena": {
		ID:          "escola-pequena",
		Name:        "Escola pequena",
		Description: "Single small school with one daily meal service",
		Values: map[string]any{
			"max_schools":                1,
			"max_students_per_school":    500,
			"meals_per_day":              1,
			"procurement_approval_limit": 1500.0,
		},
	},
	"rede-municipal": {
		ID:          "rede-municipal",
		Name:        "Rede municipal",
		Description: "Municipal district network with supplier portal access",
		Values: map[string]any{
			"max_schools":                80,
			"max_students_per_school":    3000,
			"meals_per_day":              3,
			"allow_supplier_portal":      true,
			"procurement_approval_limit": 25000.0,
		},
	},
}

// LookupConfigTemplate returns a built-in configuration template by id.
func LookupConfigTemplate(id string) (ConfigTemplate, bool) {
	t, ok := configTemplates[id]
	return t, ok
}

// ConfigTemplates returns all built-in templates, sorted by id.
func ConfigTemplates() []ConfigTemplate {
	out := make([]ConfigTemplate, 0, len(configTemplates))
	for _, t := range configTemplates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
