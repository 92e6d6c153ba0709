package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/merendalabs/merenda-api/internal/models"
)

// SQLiteDirectoryRepository implements DirectoryRepository for SQLite.
// It is the thin tenant directory adapter: the provisioning orchestrator
// creates and deletes rows through it but never mutates them directly.
type SQLiteDirectoryRepository struct {
	db *sql.DB
}

// NewSQLiteDirectoryRepository creates a new SQLite directory repository.
func NewSQLiteDirectoryRepository(db *sql.DB) *SQLiteDirectoryRepository {
	return &SQLiteDirectoryRepository{db: db}
}

func (r *SQLiteDirectoryRepository) CreateInstitution(ctx context.Context, inst *models.Institution) error {
	query := `
		INSERT INTO institutions (id, name, slug, cnpj, city, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		inst.ID,
		inst.Name,
		inst.Slug,
		inst.CNPJ,
		nullString(inst.City),
		nullString(inst.State),
		inst.CreatedAt.Format(time.RFC3339),
		inst.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create institution: %w", err)
	}
	return nil
}

func (r *SQLiteDirectoryRepository) GetInstitution(ctx context.Context, id string) (*models.Institution, error) {
	return r.scanInstitution(r.db.QueryRowContext(ctx, `
		SELECT id, name, slug, cnpj, city, state, created_at, updated_at
		FROM institutions WHERE id = ?
	`, id))
}

func (r *SQLiteDirectoryRepository) GetInstitutionBySlug(ctx context.Context, slug string) (*models.Institution, error) {
	return r.scanInstitution(r.db.QueryRowContext(ctx, `
		SELECT id, name, slug, cnpj, city, state, created_at, updated_at
		FROM institutions WHERE slug = ?
	`, slug))
}

func (r *SQLiteDirectoryRepository) GetInstitutionByCNPJ(ctx context.Context, cnpj string) (*models.Institution, error) {
	return r.scanInstitution(r.db.QueryRowContext(ctx, `
		SELECT id, name, slug, cnpj, city, state, created_at, updated_at
		FROM institutions WHERE cnpj = ?
	`, cnpj))
}

func (r *SQLiteDirectoryRepository) DeleteInstitution(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM institutions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete institution: %w", err)
	}
	return nil
}

func (r *SQLiteDirectoryRepository) CountTenantsByInstitution(ctx context.Context, institutionID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tenants WHERE institution_id = ? AND status != 'deleted'", institutionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tenants: %w", err)
	}
	return count, nil
}

func (r *SQLiteDirectoryRepository) CreateTenant(ctx context.Context, t *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, institution_id, name, slug, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.InstitutionID,
		t.Name,
		t.Slug,
		t.Status,
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (r *SQLiteDirectoryRepository) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	return r.scanTenant(r.db.QueryRowContext(ctx, `
		SELECT id, institution_id, name, slug, status, created_at, updated_at
		FROM tenants WHERE id = ?
	`, id))
}

func (r *SQLiteDirectoryRepository) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return r.scanTenant(r.db.QueryRowContext(ctx, `
		SELECT id, institution_id, name, slug, status, created_at, updated_at
		FROM tenants WHERE slug = ?
	`, slug))
}

func (r *SQLiteDirectoryRepository) UpdateTenantStatus(ctx context.Context, id string, status models.TenantStatus) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	return nil
}

func (r *SQLiteDirectoryRepository) DeleteTenant(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM tenants WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	return nil
}

// DeleteTenantScopedRows removes rows owned by the tenant. Tables created by
// tenant-specific migrations are expected to carry a tenant_id column and be
// cleaned by their own down scripts during rollback; here we clear the rows
// the control plane itself created.
func (r *SQLiteDirectoryRepository) DeleteTenantScopedRows(ctx context.Context, tenantID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE tenant_id = ?", tenantID); err != nil {
		return fmt.Errorf("failed to delete tenant users: %w", err)
	}

	return tx.Commit()
}

func (r *SQLiteDirectoryRepository) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (id, tenant_id, name, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID,
		u.TenantID,
		u.Name,
		u.Email,
		u.PasswordHash,
		u.Role,
		u.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *SQLiteDirectoryRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, email, password_hash, role, created_at
		FROM users WHERE email = ?
	`, email))
}

func (r *SQLiteDirectoryRepository) GetUserByTenantAndRole(ctx context.Context, tenantID, role string) (*models.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, email, password_hash, role, created_at
		FROM users WHERE tenant_id = ? AND role = ? LIMIT 1
	`, tenantID, role))
}

func (r *SQLiteDirectoryRepository) scanInstitution(row *sql.Row) (*models.Institution, error) {
	var inst models.Institution
	var city, state sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&inst.ID, &inst.Name, &inst.Slug, &inst.CNPJ, &city, &state, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan institution: %w", err)
	}

	inst.City = city.String
	inst.State = state.String
	inst.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	inst.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &inst, nil
}

func (r *SQLiteDirectoryRepository) scanTenant(row *sql.Row) (*models.Tenant, error) {
	var t models.Tenant
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.InstitutionID, &t.Name, &t.Slug, &t.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}

	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

func (r *SQLiteDirectoryRepository) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var createdAt string

	err := row.Scan(&u.ID, &u.TenantID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}
