// Package settings provides the key-value settings store in config.db.
// Settings hold broker credentials and live strategy overrides; values set
// here take precedence over environment variables and the strategy file.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// StrategyPrefix namespaces live strategy overrides in the settings table
const StrategyPrefix = "strategy."

// Setting is one stored key-value pair
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Repository handles settings database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new settings repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// Get retrieves a setting value by key.
// Returns nil if the setting doesn't exist (not an error).
func (r *Repository) Get(key string) (*string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &value, nil
}

// Set upserts a setting value. The description is optional.
func (r *Repository) Set(key string, value string, description *string) error {
	now := time.Now().Unix()

	if description != nil {
		_, err := r.db.Exec(`
			INSERT INTO settings (key, value, description, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				description = excluded.description,
				updated_at = excluded.updated_at
		`, key, value, *description, now)
		if err != nil {
			return fmt.Errorf("failed to set setting %s: %w", key, err)
		}
		return nil
	}

	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Delete removes a setting. Deleting a missing key is not an error.
func (r *Repository) Delete(key string) error {
	if _, err := r.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// List returns every stored setting ordered by key
func (r *Repository) List() ([]Setting, error) {
	rows, err := r.db.Query("SELECT key, value, COALESCE(description, ''), updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		var updatedAt int64
		if err := rows.Scan(&s.Key, &s.Value, &s.Description, &updatedAt); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan setting row")
			continue
		}
		s.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return out, nil
}

// GetWithPrefix returns settings whose key starts with prefix, with the prefix stripped
func (r *Repository) GetWithPrefix(prefix string) (map[string]string, error) {
	rows, err := r.db.Query("SELECT key, value FROM settings WHERE key LIKE ? || '%'", prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings with prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan setting row")
			continue
		}
		if strings.HasPrefix(key, prefix) {
			result[strings.TrimPrefix(key, prefix)] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return result, nil
}

// StrategyOverrides returns the persisted live strategy overrides
func (r *Repository) StrategyOverrides() (map[string]string, error) {
	return r.GetWithPrefix(StrategyPrefix)
}

// SetStrategyOverride persists one live strategy override
func (r *Repository) SetStrategyOverride(key, value string) error {
	return r.Set(StrategyPrefix+key, value, nil)
}

// DeleteStrategyOverride removes one live strategy override
func (r *Repository) DeleteStrategyOverride(key string) error {
	return r.Delete(StrategyPrefix + key)
}
