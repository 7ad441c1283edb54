// Package portfolio tracks positions, equity history and the portfolio snapshot.
package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// EquityPoint is one day's latest equity and its intraday high
type EquityPoint struct {
	Date       string    `json:"date"`
	Equity     float64   `json:"equity"`
	High       float64   `json:"high"`
	Cash       float64   `json:"cash"`
	RecordedAt time.Time `json:"recorded_at"`
}

// EquityRepository persists daily equity for high-water-mark computation
type EquityRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewEquityRepository creates a new equity history repository
func NewEquityRepository(ledgerDB *sql.DB, log zerolog.Logger) *EquityRepository {
	return &EquityRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "equity_history").Logger(),
	}
}

// Record upserts the equity point for at's UTC date. The day's high only
// ever rises, so a lower afternoon reading keeps the morning peak.
func (r *EquityRepository) Record(at time.Time, equity, cash float64) error {
	if equity < 0 {
		return fmt.Errorf("failed to record equity: negative equity %.2f", equity)
	}
	_, err := r.ledgerDB.Exec(`
		INSERT INTO equity_history (date, equity, high, cash, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			equity = excluded.equity,
			high = MAX(equity_history.high, excluded.high),
			cash = excluded.cash,
			recorded_at = excluded.recorded_at
	`, at.UTC().Format(dateLayout), equity, equity, cash, at.Unix())
	if err != nil {
		return fmt.Errorf("failed to record equity: %w", err)
	}
	return nil
}

// HighestSince returns the highest recorded equity over the trailing days,
// or nil when there is no history in the window.
func (r *EquityRepository) HighestSince(days int, now time.Time) (*float64, error) {
	cutoff := now.UTC().AddDate(0, 0, -days).Format(dateLayout)

	var max sql.NullFloat64
	err := r.ledgerDB.QueryRow("SELECT MAX(high) FROM equity_history WHERE date >= ?", cutoff).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("failed to get highest equity: %w", err)
	}
	if !max.Valid {
		return nil, nil
	}
	v := max.Float64
	return &v, nil
}

// History returns points over the trailing days, oldest first
func (r *EquityRepository) History(days int, now time.Time) ([]EquityPoint, error) {
	cutoff := now.UTC().AddDate(0, 0, -days).Format(dateLayout)

	rows, err := r.ledgerDB.Query(
		"SELECT date, equity, high, cash, recorded_at FROM equity_history WHERE date >= ? ORDER BY date ASC",
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get equity history: %w", err)
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var p EquityPoint
		var recordedAt int64
		if err := rows.Scan(&p.Date, &p.Equity, &p.High, &p.Cash, &recordedAt); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan equity row")
			continue
		}
		p.RecordedAt = time.Unix(recordedAt, 0).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity history: %w", err)
	}
	return points, nil
}
