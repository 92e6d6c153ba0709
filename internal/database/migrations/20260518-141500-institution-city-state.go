package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260518-141500",
		Description: "city and state on institutions",
		Up: []string{
			`ALTER TABLE institutions ADD COLUMN city TEXT`,
			`ALTER TABLE institutions ADD COLUMN state TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_institutions_state ON institutions(state)`,
		},
	})
}
