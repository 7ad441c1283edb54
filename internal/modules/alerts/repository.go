package alerts

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository persists coalescing state and the alert log in config.db
type Repository struct {
	configDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new alert repository
func NewRepository(configDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		configDB: configDB,
		log:      log.With().Str("repo", "alerts").Logger(),
	}
}

// LastTriggered returns when key last fired, or nil if it never has
func (r *Repository) LastTriggered(key string) (*time.Time, error) {
	var ts int64
	err := r.configDB.QueryRow("SELECT last_triggered FROM alert_state WHERE key = ?", key).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert state %s: %w", key, err)
	}
	t := time.Unix(ts, 0).UTC()
	return &t, nil
}

// SetLastTriggered records when key fired
func (r *Repository) SetLastTriggered(key string, at time.Time) error {
	_, err := r.configDB.Exec(`
		INSERT INTO alert_state (key, last_triggered) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET last_triggered = excluded.last_triggered
	`, key, at.Unix())
	if err != nil {
		return fmt.Errorf("failed to set alert state %s: %w", key, err)
	}
	return nil
}

// Append writes an emitted alert to the log
func (r *Repository) Append(a domain.Alert) error {
	var details []byte
	if len(a.Details) > 0 {
		b, err := msgpack.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("failed to encode alert details: %w", err)
		}
		details = b
	}
	_, err := r.configDB.Exec(`
		INSERT INTO alert_log (alert_type, alert_key, severity, message, details, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(a.Type), a.Key, string(a.Severity), a.Message, details, a.TriggeredAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append alert: %w", err)
	}
	return nil
}

// ListRecent returns the newest alerts first
func (r *Repository) ListRecent(limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.configDB.Query(`
		SELECT alert_type, alert_key, severity, message, details, triggered_at
		FROM alert_log ORDER BY triggered_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var alertType, severity string
		var details []byte
		var ts int64
		if err := rows.Scan(&alertType, &a.Key, &severity, &a.Message, &details, &ts); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan alert row")
			continue
		}
		a.Type = domain.AlertType(alertType)
		a.Severity = domain.AlertSeverity(severity)
		a.TriggeredAt = time.Unix(ts, 0).UTC()
		if len(details) > 0 {
			if err := msgpack.Unmarshal(details, &a.Details); err != nil {
				r.log.Warn().Err(err).Str("key", a.Key).Msg("Failed to decode alert details")
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return out, nil
}
