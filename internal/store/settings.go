package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/ardetect/internal/detector"
)

// detectorOptionsKey is the settings key holding the last-used detector options.
const detectorOptionsKey = "detector.options"

// SettingsRepository provides access to key-value settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value stored under key, or ErrNotFound.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (r *SettingsRepository) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}

// SaveOptions persists detector options.
func (r *SettingsRepository) SaveOptions(opts detector.Options) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	return r.Set(detectorOptionsKey, string(data))
}

// LoadOptions returns the persisted detector options, or ErrNotFound when
// none were saved yet.
func (r *SettingsRepository) LoadOptions() (detector.Options, error) {
	raw, err := r.Get(detectorOptionsKey)
	if err != nil {
		return detector.Options{}, err
	}

	opts := detector.DefaultOptions()
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return detector.Options{}, fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}
