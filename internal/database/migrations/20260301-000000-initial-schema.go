package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260301-000000",
		Description: "initial control plane schema",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS institutions (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				slug TEXT NOT NULL UNIQUE,
				cnpj TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS tenants (
				id TEXT PRIMARY KEY,
				institution_id TEXT NOT NULL REFERENCES institutions(id),
				name TEXT NOT NULL,
				slug TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL DEFAULT 'active',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL REFERENCES tenants(id),
				name TEXT NOT NULL,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				role TEXT NOT NULL DEFAULT 'admin',
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS migration_definitions (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				description TEXT,
				up_script TEXT NOT NULL,
				down_script TEXT NOT NULL,
				tenant_specific INTEGER NOT NULL DEFAULT 0,
				depends_on TEXT NOT NULL DEFAULT '[]',
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS migration_executions (
				id TEXT PRIMARY KEY,
				migration_id TEXT NOT NULL REFERENCES migration_definitions(id),
				tenant_id TEXT,
				status TEXT NOT NULL DEFAULT 'pending',
				error_message TEXT,
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			// SQLite treats NULLs as distinct in unique indexes, so global
			// executions (tenant_id IS NULL) need their own uniqueness rule.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_migration_executions_scope
				ON migration_executions(migration_id, tenant_id) WHERE tenant_id IS NOT NULL`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_migration_executions_global
				ON migration_executions(migration_id) WHERE tenant_id IS NULL`,
			`CREATE TABLE IF NOT EXISTS tenant_configuration_versions (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				payload TEXT NOT NULL,
				description TEXT,
				created_by TEXT NOT NULL,
				created_at TEXT NOT NULL,
				UNIQUE (tenant_id, version)
			)`,
			`CREATE TABLE IF NOT EXISTS configuration_change_requests (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				changes TEXT NOT NULL,
				description TEXT,
				requested_by TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				auto_apply INTEGER NOT NULL DEFAULT 0,
				reject_reason TEXT,
				reviewed_by TEXT,
				reviewed_at TEXT,
				applied_version INTEGER,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS tenant_provisioning_progress (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL DEFAULT 'provision',
				institution_id TEXT,
				tenant_id TEXT,
				admin_user_id TEXT,
				template_id TEXT,
				status TEXT NOT NULL DEFAULT 'pending',
				steps TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT '{}',
				error TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_provisioning_progress_status
				ON tenant_provisioning_progress(status)`,
			`CREATE INDEX IF NOT EXISTS idx_config_versions_tenant
				ON tenant_configuration_versions(tenant_id, version)`,
			`CREATE INDEX IF NOT EXISTS idx_change_requests_tenant
				ON configuration_change_requests(tenant_id, status)`,
		},
	})
}
