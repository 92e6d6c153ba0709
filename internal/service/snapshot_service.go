package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/merendalabs/merenda-api/internal/config"
)

// ErrSnapshotStorageDisabled is returned by read operations when no bucket
// is configured. Writes are skipped silently instead so teardown never
// depends on storage being present.
var ErrSnapshotStorageDisabled = errors.New("snapshot storage is not enabled")

// SnapshotService stores pre-teardown tenant snapshots and configuration
// exports in S3-compatible object storage (Tigris, MinIO, AWS). When no
// bucket is configured the service is disabled and all writes are skipped,
// so deprovisioning without snapshot storage still works.
type SnapshotService struct {
	client  *s3.Client
	bucket  string
	enabled bool
	logger  *slog.Logger
}

// NewSnapshotService creates a new snapshot service.
func NewSnapshotService(cfg *appconfig.Config, logger *slog.Logger) (*SnapshotService, error) {
	if !cfg.StorageEnabled {
		logger.Info("snapshot service disabled - no bucket configured")
		return &SnapshotService{
			enabled: false,
			logger:  logger,
		}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is required for some S3-compatible services.
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true
	})

	logger.Info("snapshot service initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	return &SnapshotService{
		client:  client,
		bucket:  cfg.StorageBucket,
		enabled: true,
		logger:  logger,
	}, nil
}

// IsEnabled returns whether snapshot storage is configured and available.
func (s *SnapshotService) IsEnabled() bool {
	return s.enabled
}

// TenantSnapshot is the document written before destructive teardown steps:
// the tenant's directory records, its full configuration history, and the
// migration state at the moment of teardown.
type TenantSnapshot struct {
	TenantID      string    `json:"tenant_id"`
	TenantSlug    string    `json:"tenant_slug"`
	InstitutionID string    `json:"institution_id"`
	Reason        string    `json:"reason,omitempty"`
	Configuration any       `json:"configuration,omitempty"`
	Migrations    any       `json:"migrations,omitempty"`
	TakenAt       time.Time `json:"taken_at"`
}

// StoreTenantSnapshot writes a snapshot as a single JSON object under
// snapshots/{tenant_id}/{timestamp}.json. Skipped silently when disabled.
func (s *SnapshotService) StoreTenantSnapshot(ctx context.Context, snapshot *TenantSnapshot) error {
	if !s.enabled {
		return nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal tenant snapshot: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s/%s.json",
		snapshot.TenantID, snapshot.TakenAt.UTC().Format("20060102T150405Z"))

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to store tenant snapshot: %w", err)
	}

	s.logger.Info("stored tenant snapshot",
		"tenant_id", snapshot.TenantID,
		"key", key,
		"size_bytes", len(data),
	)

	return nil
}

// StoreConfigurationExport writes an exported configuration version under
// exports/{tenant_id}/v{version}.json.
func (s *SnapshotService) StoreConfigurationExport(ctx context.Context, export *ConfigExport) error {
	if !s.enabled {
		return nil
	}

	data, err := json.Marshal(export)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration export: %w", err)
	}

	key := fmt.Sprintf("exports/%s/v%d.json", export.TenantID, export.Version)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to store configuration export: %w", err)
	}

	s.logger.Info("stored configuration export",
		"tenant_id", export.TenantID,
		"version", export.Version,
		"key", key,
	)

	return nil
}

// ListTenantSnapshots returns the object keys of all snapshots for a tenant,
// newest last.
func (s *SnapshotService) ListTenantSnapshots(ctx context.Context, tenantID string) ([]string, error) {
	if !s.enabled {
		return nil, ErrSnapshotStorageDisabled
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fmt.Sprintf("snapshots/%s/", tenantID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// GetTenantSnapshot retrieves a snapshot by object key.
func (s *SnapshotService) GetTenantSnapshot(ctx context.Context, key string) (*TenantSnapshot, error) {
	if !s.enabled {
		return nil, ErrSnapshotStorageDisabled
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot TenantSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}
