// Package service contains the business logic layer of the control plane:
// migration execution, versioned configuration, and provisioning
// orchestration over the repository layer.
package service

import (
	"fmt"
	"log/slog"

	"github.com/merendalabs/merenda-api/internal/config"
	"github.com/merendalabs/merenda-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Migration     *MigrationService
	Configuration *ConfigurationService
	Provisioning  *ProvisioningService
	Snapshot      *SnapshotService
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, logger *slog.Logger) (*Services, error) {
	// Snapshot storage first; the provisioning service depends on it.
	snapshotSvc, err := NewSnapshotService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot service: %w", err)
	}

	migrationSvc := NewMigrationService(repos, logger)
	configurationSvc := NewConfigurationService(repos, logger)
	provisioningSvc := NewProvisioningService(repos, migrationSvc, configurationSvc, snapshotSvc, logger)

	return &Services{
		Migration:     migrationSvc,
		Configuration: configurationSvc,
		Provisioning:  provisioningSvc,
		Snapshot:      snapshotSvc,
	}, nil
}
