package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/merendalabs/merenda-api/internal/models"
)

// SQLiteProvisioningRepository implements ProvisioningRepository for SQLite.
type SQLiteProvisioningRepository struct {
	db *sql.DB
}

// NewSQLiteProvisioningRepository creates a new SQLite provisioning repository.
func NewSQLiteProvisioningRepository(db *sql.DB) *SQLiteProvisioningRepository {
	return &SQLiteProvisioningRepository{db: db}
}

func (r *SQLiteProvisioningRepository) Create(ctx context.Context, p *models.ProvisioningProgress) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("failed to serialize steps: %w", err)
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}

	query := `
		INSERT INTO tenant_provisioning_progress (id, kind, institution_id, tenant_id, admin_user_id,
			template_id, status, steps, payload, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID,
		p.Kind,
		nullStringPtr(p.InstitutionID),
		nullStringPtr(p.TenantID),
		nullStringPtr(p.AdminUserID),
		nullString(p.TemplateID),
		p.Status,
		string(steps),
		string(payload),
		nullString(p.Error),
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create provisioning progress: %w", err)
	}
	return nil
}

func (r *SQLiteProvisioningRepository) GetByID(ctx context.Context, id string) (*models.ProvisioningProgress, error) {
	query := `
		SELECT id, kind, institution_id, tenant_id, admin_user_id, template_id, status, steps, payload, error, created_at, updated_at
		FROM tenant_provisioning_progress WHERE id = ?
	`
	row := r.db.QueryRowContext(ctx, query, id)

	var p models.ProvisioningProgress
	var institutionID, tenantID, adminUserID, templateID, errMsg sql.NullString
	var steps, payload, createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Kind, &institutionID, &tenantID, &adminUserID, &templateID,
		&p.Status, &steps, &payload, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan provisioning progress: %w", err)
	}

	if institutionID.Valid {
		p.InstitutionID = &institutionID.String
	}
	if tenantID.Valid {
		p.TenantID = &tenantID.String
	}
	if adminUserID.Valid {
		p.AdminUserID = &adminUserID.String
	}
	p.TemplateID = templateID.String
	p.Error = errMsg.String
	if err := json.Unmarshal([]byte(steps), &p.Steps); err != nil {
		return nil, fmt.Errorf("failed to parse steps: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &p.Payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func (r *SQLiteProvisioningRepository) Update(ctx context.Context, p *models.ProvisioningProgress) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("failed to serialize steps: %w", err)
	}

	query := `
		UPDATE tenant_provisioning_progress SET institution_id = ?, tenant_id = ?, admin_user_id = ?,
			status = ?, steps = ?, error = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = r.db.ExecContext(ctx, query,
		nullStringPtr(p.InstitutionID),
		nullStringPtr(p.TenantID),
		nullStringPtr(p.AdminUserID),
		p.Status,
		string(steps),
		nullString(p.Error),
		time.Now().UTC().Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update provisioning progress: %w", err)
	}
	return nil
}

func (r *SQLiteProvisioningRepository) MarkStaleRunning(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE tenant_provisioning_progress
		SET status = 'failed', error = 'marked stale at startup', updated_at = ?
		WHERE status = 'running' AND updated_at < ?
	`, time.Now().UTC().Format(time.RFC3339), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale runs: %w", err)
	}
	return result.RowsAffected()
}

// SQLiteScheduleRepository implements ScheduleRepository for SQLite.
type SQLiteScheduleRepository struct {
	db *sql.DB
}

// NewSQLiteScheduleRepository creates a new SQLite schedule repository.
func NewSQLiteScheduleRepository(db *sql.DB) *SQLiteScheduleRepository {
	return &SQLiteScheduleRepository{db: db}
}

func (r *SQLiteScheduleRepository) Create(ctx context.Context, s *models.DeprovisionSchedule) error {
	options, err := json.Marshal(s.Options)
	if err != nil {
		return fmt.Errorf("failed to serialize options: %w", err)
	}

	query := `
		INSERT INTO deprovision_schedules (id, tenant_id, scheduled_for, options, status, run_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID,
		s.TenantID,
		s.ScheduledFor.UTC().Format(time.RFC3339),
		string(options),
		s.Status,
		nullStringPtr(s.RunID),
		s.CreatedBy,
		s.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create deprovision schedule: %w", err)
	}
	return nil
}

func (r *SQLiteScheduleRepository) GetByID(ctx context.Context, id string) (*models.DeprovisionSchedule, error) {
	query := `
		SELECT id, tenant_id, scheduled_for, options, status, run_id, created_by, created_at
		FROM deprovision_schedules WHERE id = ?
	`
	return r.scanSchedule(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteScheduleRepository) Update(ctx context.Context, s *models.DeprovisionSchedule) error {
	query := `
		UPDATE deprovision_schedules SET scheduled_for = ?, status = ?, run_id = ? WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ScheduledFor.UTC().Format(time.RFC3339),
		s.Status,
		nullStringPtr(s.RunID),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deprovision schedule: %w", err)
	}
	return nil
}

// ClaimDue atomically flips the earliest due scheduled entry to executed and
// returns it, so concurrent workers never both pick up the same schedule.
func (r *SQLiteScheduleRepository) ClaimDue(ctx context.Context, now time.Time) (*models.DeprovisionSchedule, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id FROM deprovision_schedules
		WHERE status = 'scheduled' AND scheduled_for <= ?
		ORDER BY scheduled_for ASC LIMIT 1
	`, now.UTC().Format(time.RFC3339))

	var id string
	if err := row.Scan(&id); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to find due schedule: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE deprovision_schedules SET status = 'executed' WHERE id = ? AND status = 'scheduled'", id)
	if err != nil {
		return nil, fmt.Errorf("failed to claim schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *SQLiteScheduleRepository) scanSchedule(row *sql.Row) (*models.DeprovisionSchedule, error) {
	var s models.DeprovisionSchedule
	var options, scheduledFor, createdAt string
	var runID sql.NullString

	err := row.Scan(&s.ID, &s.TenantID, &scheduledFor, &options, &s.Status, &runID, &s.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deprovision schedule: %w", err)
	}

	if err := json.Unmarshal([]byte(options), &s.Options); err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}
	if runID.Valid {
		s.RunID = &runID.String
	}
	s.ScheduledFor, _ = time.Parse(time.RFC3339, scheduledFor)
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &s, nil
}
