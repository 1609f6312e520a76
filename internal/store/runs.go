package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Run is one recorded detection pass.
type Run struct {
	ID          string    `json:"id"`
	Model       string    `json:"model"`
	Delegate    string    `json:"delegate"`
	Detections  int       `json:"detections"`
	TopLabel    string    `json:"top_label"`
	TopScore    float64   `json:"top_score"`
	InferenceMs float64   `json:"inference_ms"`
	ImageWidth  int       `json:"image_width"`
	ImageHeight int       `json:"image_height"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunStats summarises recorded runs.
type RunStats struct {
	Count          int     `json:"count"`
	AvgInferenceMs float64 `json:"avg_inference_ms"`
	MaxInferenceMs float64 `json:"max_inference_ms"`
	TotalDetected  int     `json:"total_detected"`
}

// RunRepository provides access to the inference run history.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Record inserts run, assigning an ID and timestamp when they are unset.
func (r *RunRepository) Record(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO inference_runs
		 (id, model, delegate, detections, top_label, top_score, inference_ms, image_width, image_height, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Model, run.Delegate, run.Detections, run.TopLabel, run.TopScore,
		run.InferenceMs, run.ImageWidth, run.ImageHeight, run.CreatedAt,
	)
	return err
}

// Recent returns up to limit runs, newest first.
func (r *RunRepository) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT id, model, delegate, detections, top_label, top_score, inference_ms, image_width, image_height, created_at
		 FROM inference_runs
		 ORDER BY created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Model, &run.Delegate, &run.Detections, &run.TopLabel,
			&run.TopScore, &run.InferenceMs, &run.ImageWidth, &run.ImageHeight, &run.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Stats aggregates every recorded run.
func (r *RunRepository) Stats() (RunStats, error) {
	var st RunStats
	err := r.db.QueryRow(
		`SELECT COUNT(*), COALESCE(AVG(inference_ms), 0), COALESCE(MAX(inference_ms), 0), COALESCE(SUM(detections), 0)
		 FROM inference_runs`,
	).Scan(&st.Count, &st.AvgInferenceMs, &st.MaxInferenceMs, &st.TotalDetected)
	return st, err
}

// Prune deletes runs older than cutoff and returns how many were removed.
func (r *RunRepository) Prune(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM inference_runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
