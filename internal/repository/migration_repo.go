package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/merendalabs/merenda-api/internal/models"
)

// SQLiteMigrationRepository implements MigrationRepository for SQLite.
type SQLiteMigrationRepository struct {
	db *sql.DB
}

// NewSQLiteMigrationRepository creates a new SQLite migration repository.
func NewSQLiteMigrationRepository(db *sql.DB) *SQLiteMigrationRepository {
	return &SQLiteMigrationRepository{db: db}
}

func (r *SQLiteMigrationRepository) CreateDefinition(ctx context.Context, def *models.MigrationDefinition) error {
	dependsOn, err := json.Marshal(def.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to serialize dependencies: %w", err)
	}

	query := `
		INSERT INTO migration_definitions (id, name, description, up_script, down_script,
			tenant_specific, depends_on, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		def.ID,
		def.Name,
		nullString(def.Description),
		def.UpScript,
		def.DownScript,
		def.TenantSpecific,
		string(dependsOn),
		def.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create migration definition: %w", err)
	}
	return nil
}

func (r *SQLiteMigrationRepository) GetDefinition(ctx context.Context, id string) (*models.MigrationDefinition, error) {
	query := `
		SELECT id, name, description, up_script, down_script, tenant_specific, depends_on, created_at
		FROM migration_definitions WHERE id = ?
	`
	return r.scanDefinition(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteMigrationRepository) GetDefinitionByName(ctx context.Context, name string) (*models.MigrationDefinition, error) {
	query := `
		SELECT id, name, description, up_script, down_script, tenant_specific, depends_on, created_at
		FROM migration_definitions WHERE name = ?
	`
	return r.scanDefinition(r.db.QueryRowContext(ctx, query, name))
}

func (r *SQLiteMigrationRepository) ListDefinitions(ctx context.Context) ([]*models.MigrationDefinition, error) {
	query := `
		SELECT id, name, description, up_script, down_script, tenant_specific, depends_on, created_at
		FROM migration_definitions ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration definitions: %w", err)
	}
	defer rows.Close()

	var defs []*models.MigrationDefinition
	for rows.Next() {
		def, err := r.scanDefinitionFromRows(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (r *SQLiteMigrationRepository) CreateExecution(ctx context.Context, exec *models.MigrationExecution) error {
	query := `
		INSERT INTO migration_executions (id, migration_id, tenant_id, status, error_message,
			started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		exec.ID,
		exec.MigrationID,
		nullStringPtr(exec.TenantID),
		exec.Status,
		nullString(exec.ErrorMessage),
		nullTime(exec.StartedAt),
		nullTime(exec.CompletedAt),
		exec.CreatedAt.Format(time.RFC3339),
		exec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create migration execution: %w", err)
	}
	return nil
}

func (r *SQLiteMigrationRepository) GetExecution(ctx context.Context, migrationID string, tenantID *string) (*models.MigrationExecution, error) {
	var row *sql.Row
	if tenantID == nil {
		row = r.db.QueryRowContext(ctx, `
			SELECT id, migration_id, tenant_id, status, error_message, started_at, completed_at, created_at, updated_at
			FROM migration_executions WHERE migration_id = ? AND tenant_id IS NULL
		`, migrationID)
	} else {
		row = r.db.QueryRowContext(ctx, `
			SELECT id, migration_id, tenant_id, status, error_message, started_at, completed_at, created_at, updated_at
			FROM migration_executions WHERE migration_id = ? AND tenant_id = ?
		`, migrationID, *tenantID)
	}
	return r.scanExecution(row)
}

func (r *SQLiteMigrationRepository) ListExecutions(ctx context.Context, tenantID *string) ([]*models.MigrationExecution, error) {
	var rows *sql.Rows
	var err error
	if tenantID == nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, migration_id, tenant_id, status, error_message, started_at, completed_at, created_at, updated_at
			FROM migration_executions ORDER BY created_at ASC
		`)
	} else {
		// Global executions are always included alongside the tenant's own.
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, migration_id, tenant_id, status, error_message, started_at, completed_at, created_at, updated_at
			FROM migration_executions WHERE tenant_id = ? OR tenant_id IS NULL ORDER BY created_at ASC
		`, *tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query migration executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.MigrationExecution
	for rows.Next() {
		exec, err := r.scanExecutionFromRows(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func (r *SQLiteMigrationRepository) UpdateExecution(ctx context.Context, exec *models.MigrationExecution) error {
	query := `
		UPDATE migration_executions SET status = ?, error_message = ?, started_at = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		exec.Status,
		nullString(exec.ErrorMessage),
		nullTime(exec.StartedAt),
		nullTime(exec.CompletedAt),
		time.Now().UTC().Format(time.RFC3339),
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update migration execution: %w", err)
	}
	return nil
}

// ExecuteScript runs a migration script in its own transaction so that a
// failure never leaves status bookkeeping and DDL half-merged, and no
// transaction ever spans unrelated migrations.
func (r *SQLiteMigrationRepository) ExecuteScript(ctx context.Context, script string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("failed to execute migration script: %w", err)
	}

	return tx.Commit()
}

func (r *SQLiteMigrationRepository) scanDefinition(row *sql.Row) (*models.MigrationDefinition, error) {
	var def models.MigrationDefinition
	var description sql.NullString
	var dependsOn, createdAt string

	err := row.Scan(&def.ID, &def.Name, &description, &def.UpScript, &def.DownScript,
		&def.TenantSpecific, &dependsOn, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan migration definition: %w", err)
	}

	def.Description = description.String
	if err := json.Unmarshal([]byte(dependsOn), &def.DependsOn); err != nil {
		return nil, fmt.Errorf("failed to parse dependencies: %w", err)
	}
	def.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &def, nil
}

func (r *SQLiteMigrationRepository) scanDefinitionFromRows(rows *sql.Rows) (*models.MigrationDefinition, error) {
	var def models.MigrationDefinition
	var description sql.NullString
	var dependsOn, createdAt string

	err := rows.Scan(&def.ID, &def.Name, &description, &def.UpScript, &def.DownScript,
		&def.TenantSpecific, &dependsOn, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan migration definition: %w", err)
	}

	def.Description = description.String
	if err := json.Unmarshal([]byte(dependsOn), &def.DependsOn); err != nil {
		return nil, fmt.Errorf("failed to parse dependencies: %w", err)
	}
	def.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &def, nil
}

func (r *SQLiteMigrationRepository) scanExecution(row *sql.Row) (*models.MigrationExecution, error) {
	var exec models.MigrationExecution
	var tenantID, errorMessage, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&exec.ID, &exec.MigrationID, &tenantID, &exec.Status, &errorMessage,
		&startedAt, &completedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan migration execution: %w", err)
	}

	fillExecution(&exec, tenantID, errorMessage, startedAt, completedAt, createdAt, updatedAt)
	return &exec, nil
}

func (r *SQLiteMigrationRepository) scanExecutionFromRows(rows *sql.Rows) (*models.MigrationExecution, error) {
	var exec models.MigrationExecution
	var tenantID, errorMessage, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(&exec.ID, &exec.MigrationID, &tenantID, &exec.Status, &errorMessage,
		&startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan migration execution: %w", err)
	}

	fillExecution(&exec, tenantID, errorMessage, startedAt, completedAt, createdAt, updatedAt)
	return &exec, nil
}

func fillExecution(exec *models.MigrationExecution, tenantID, errorMessage, startedAt, completedAt sql.NullString, createdAt, updatedAt string) {
	if tenantID.Valid {
		exec.TenantID = &tenantID.String
	}
	exec.ErrorMessage = errorMessage.String
	exec.StartedAt = parseTimePtr(startedAt)
	exec.CompletedAt = parseTimePtr(completedAt)
	exec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	exec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
}

// Helper functions shared by the SQLite repositories.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
