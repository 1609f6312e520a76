package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Inference runs table - one row per Detect call that produced results
		`CREATE TABLE IF NOT EXISTS inference_runs (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			delegate TEXT NOT NULL,
			detections INTEGER NOT NULL DEFAULT 0,
			top_label TEXT NOT NULL DEFAULT '',
			top_score REAL NOT NULL DEFAULT 0,
			inference_ms REAL NOT NULL,
			image_width INTEGER NOT NULL,
			image_height INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_inference_runs_created_at ON inference_runs(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
