package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/merendalabs/merenda-api/internal/models"
)

// SQLiteConfigurationRepository implements ConfigurationRepository for SQLite.
type SQLiteConfigurationRepository struct {
	db *sql.DB
}

// NewSQLiteConfigurationRepository creates a new SQLite configuration repository.
func NewSQLiteConfigurationRepository(db *sql.DB) *SQLiteConfigurationRepository {
	return &SQLiteConfigurationRepository{db: db}
}

func (r *SQLiteConfigurationRepository) CreateVersion(ctx context.Context, v *models.ConfigurationVersion) error {
	payload, err := json.Marshal(v.Payload)
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}

	query := `
		INSERT INTO tenant_configuration_versions (id, tenant_id, version, payload, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		v.ID,
		v.TenantID,
		v.Version,
		string(payload),
		nullString(v.Description),
		v.CreatedBy,
		v.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		// Unique-violation errors pass through unwrapped so callers can
		// detect the losing writer and retry with the next version number.
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create configuration version: %w", err)
	}
	return nil
}

func (r *SQLiteConfigurationRepository) GetVersion(ctx context.Context, tenantID string, version int) (*models.ConfigurationVersion, error) {
	query := `
		SELECT id, tenant_id, version, payload, description, created_by, created_at
		FROM tenant_configuration_versions WHERE tenant_id = ? AND version = ?
	`
	return r.scanVersion(r.db.QueryRowContext(ctx, query, tenantID, version))
}

func (r *SQLiteConfigurationRepository) GetLatestVersion(ctx context.Context, tenantID string) (*models.ConfigurationVersion, error) {
	query := `
		SELECT id, tenant_id, version, payload, description, created_by, created_at
		FROM tenant_configuration_versions WHERE tenant_id = ? ORDER BY version DESC LIMIT 1
	`
	return r.scanVersion(r.db.QueryRowContext(ctx, query, tenantID))
}

func (r *SQLiteConfigurationRepository) ListVersions(ctx context.Context, tenantID string) ([]*models.ConfigurationVersion, error) {
	query := `
		SELECT id, tenant_id, version, payload, description, created_by, created_at
		FROM tenant_configuration_versions WHERE tenant_id = ? ORDER BY version ASC
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query configuration versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.ConfigurationVersion
	for rows.Next() {
		var v models.ConfigurationVersion
		var payload, createdAt string
		var description sql.NullString
		if err := rows.Scan(&v.ID, &v.TenantID, &v.Version, &payload, &description, &v.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan configuration version: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &v.Payload); err != nil {
			return nil, fmt.Errorf("failed to parse payload: %w", err)
		}
		v.Description = description.String
		v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

func (r *SQLiteConfigurationRepository) CountVersions(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tenant_configuration_versions WHERE tenant_id = ?", tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count configuration versions: %w", err)
	}
	return count, nil
}

func (r *SQLiteConfigurationRepository) scanVersion(row *sql.Row) (*models.ConfigurationVersion, error) {
	var v models.ConfigurationVersion
	var payload, createdAt string
	var description sql.NullString

	err := row.Scan(&v.ID, &v.TenantID, &v.Version, &payload, &description, &v.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan configuration version: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &v.Payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	v.Description = description.String
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &v, nil
}

// SQLiteChangeRequestRepository implements ChangeRequestRepository for SQLite.
type SQLiteChangeRequestRepository struct {
	db *sql.DB
}

// NewSQLiteChangeRequestRepository creates a new SQLite change request repository.
func NewSQLiteChangeRequestRepository(db *sql.DB) *SQLiteChangeRequestRepository {
	return &SQLiteChangeRequestRepository{db: db}
}

func (r *SQLiteChangeRequestRepository) Create(ctx context.Context, req *models.ConfigurationChangeRequest) error {
	changes, err := json.Marshal(req.Changes)
	if err != nil {
		return fmt.Errorf("failed to serialize changes: %w", err)
	}

	query := `
		INSERT INTO configuration_change_requests (id, tenant_id, changes, description, requested_by,
			status, auto_apply, reject_reason, reviewed_by, reviewed_at, applied_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		req.ID,
		req.TenantID,
		string(changes),
		nullString(req.Description),
		req.RequestedBy,
		req.Status,
		req.AutoApply,
		nullString(req.RejectReason),
		nullString(req.ReviewedBy),
		nullTime(req.ReviewedAt),
		nullIntPtr(req.AppliedVersion),
		req.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create change request: %w", err)
	}
	return nil
}

func (r *SQLiteChangeRequestRepository) GetByID(ctx context.Context, id string) (*models.ConfigurationChangeRequest, error) {
	query := `
		SELECT id, tenant_id, changes, description, requested_by, status, auto_apply,
			reject_reason, reviewed_by, reviewed_at, applied_version, created_at
		FROM configuration_change_requests WHERE id = ?
	`
	row := r.db.QueryRowContext(ctx, query, id)

	var req models.ConfigurationChangeRequest
	var changes, createdAt string
	var description, rejectReason, reviewedBy, reviewedAt sql.NullString
	var appliedVersion sql.NullInt64

	err := row.Scan(&req.ID, &req.TenantID, &changes, &description, &req.RequestedBy,
		&req.Status, &req.AutoApply, &rejectReason, &reviewedBy, &reviewedAt, &appliedVersion, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan change request: %w", err)
	}

	if err := json.Unmarshal([]byte(changes), &req.Changes); err != nil {
		return nil, fmt.Errorf("failed to parse changes: %w", err)
	}
	req.Description = description.String
	req.RejectReason = rejectReason.String
	req.ReviewedBy = reviewedBy.String
	req.ReviewedAt = parseTimePtr(reviewedAt)
	if appliedVersion.Valid {
		v := int(appliedVersion.Int64)
		req.AppliedVersion = &v
	}
	req.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &req, nil
}

func (r *SQLiteChangeRequestRepository) Update(ctx context.Context, req *models.ConfigurationChangeRequest) error {
	query := `
		UPDATE configuration_change_requests SET status = ?, reject_reason = ?, reviewed_by = ?,
			reviewed_at = ?, applied_version = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		req.Status,
		nullString(req.RejectReason),
		nullString(req.ReviewedBy),
		nullTime(req.ReviewedAt),
		nullIntPtr(req.AppliedVersion),
		req.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update change request: %w", err)
	}
	return nil
}

func (r *SQLiteChangeRequestRepository) ListByTenant(ctx context.Context, tenantID string, status models.ChangeRequestStatus) ([]*models.ConfigurationChangeRequest, error) {
	query := `
		SELECT id FROM configuration_change_requests
		WHERE tenant_id = ? AND (? = '' OR status = ?)
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query change requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var reqs []*models.ConfigurationChangeRequest
	for _, id := range ids {
		req, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if req != nil {
			reqs = append(reqs, req)
		}
	}
	return reqs, nil
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
