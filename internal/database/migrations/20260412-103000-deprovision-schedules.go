package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260412-103000",
		Description: "deprovisioning schedules",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS deprovision_schedules (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				scheduled_for TEXT NOT NULL,
				options TEXT NOT NULL DEFAULT '{}',
				status TEXT NOT NULL DEFAULT 'scheduled',
				run_id TEXT,
				created_by TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_deprovision_schedules_due
				ON deprovision_schedules(status, scheduled_for)`,
		},
	})
}
