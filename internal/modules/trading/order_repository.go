// Package trading persists the order lifecycle and fills in ledger.db.
package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/bucketeer/internal/database"
	"github.com/aristath/bucketeer/internal/domain"
	"github.com/rs/zerolog"
)

// ordersColumns is the list of columns for the orders table.
// Column order must match scanOrder().
const ordersColumns = `id, client_order_id, side, symbol, quantity, limit_price, status, bucket, rationale,
	entry_price, fill_price, created_at, updated_at, filled_at`

// OrderRepository handles order and fill database operations
type OrderRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(ledgerDB *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "orders").Logger(),
	}
}

func validateOrder(o domain.Order) error {
	if o.ID == "" {
		return fmt.Errorf("order id is required")
	}
	if o.ClientOrderID == "" {
		return fmt.Errorf("client order id is required")
	}
	if o.Side != domain.SideBuy && o.Side != domain.SideSell {
		return fmt.Errorf("invalid side %q", o.Side)
	}
	if strings.TrimSpace(o.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if o.LimitPrice <= 0 {
		return fmt.Errorf("limit price must be positive")
	}
	return nil
}

// Save inserts an order, or updates its mutable fields if it already exists
func (r *OrderRepository) Save(o domain.Order) error {
	if err := validateOrder(o); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}

	_, err := r.ledgerDB.Exec(`
		INSERT INTO orders
		(id, client_order_id, side, symbol, quantity, limit_price, status, bucket, rationale,
		 entry_price, fill_price, created_at, updated_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			fill_price = excluded.fill_price,
			updated_at = excluded.updated_at,
			filled_at = excluded.filled_at
	`,
		o.ID,
		o.ClientOrderID,
		string(o.Side),
		domain.NormalizeSymbol(o.Symbol),
		o.Quantity,
		o.LimitPrice,
		string(o.Status),
		nullString(o.Bucket),
		nullString(o.Rationale),
		nullPositive(o.EntryPrice),
		nullFloat64Ptr(o.FillPrice),
		o.CreatedAt.Unix(),
		o.UpdatedAt.Unix(),
		nullTime(o.FilledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.ID, err)
	}

	r.log.Debug().
		Str("order_id", o.ID).
		Str("symbol", o.Symbol).
		Str("status", string(o.Status)).
		Msg("Order saved")
	return nil
}

// UpdateStatus records a status transition. fillPrice and filledAt are only
// written when non-nil.
func (r *OrderRepository) UpdateStatus(id string, status domain.OrderStatus, fillPrice *float64, filledAt *time.Time) error {
	res, err := r.ledgerDB.Exec(`
		UPDATE orders SET
			status = ?,
			fill_price = COALESCE(?, fill_price),
			filled_at = COALESCE(?, filled_at),
			updated_at = ?
		WHERE id = ?
	`, string(status), nullFloat64Ptr(fillPrice), nullTime(filledAt), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update order %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// GetByID retrieves an order by broker id. Returns nil when not found.
func (r *OrderRepository) GetByID(id string) (*domain.Order, error) {
	row := r.ledgerDB.QueryRow("SELECT "+ordersColumns+" FROM orders WHERE id = ?", id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return &o, nil
}

// ListNonTerminal returns orders still live at the broker (PLACED or OPEN)
func (r *OrderRepository) ListNonTerminal() ([]domain.Order, error) {
	return r.query(
		"SELECT "+ordersColumns+" FROM orders WHERE status IN (?, ?) ORDER BY created_at ASC",
		string(domain.StatusPlaced), string(domain.StatusOpen),
	)
}

// ListRecent returns the most recent orders, newest first
func (r *OrderRepository) ListRecent(limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query("SELECT "+ordersColumns+" FROM orders ORDER BY created_at DESC, id DESC LIMIT ?", limit)
}

// CountPlacedSince counts orders submitted to the broker at or after since
func (r *OrderRepository) CountPlacedSince(since time.Time) (int, error) {
	var count int
	err := r.ledgerDB.QueryRow("SELECT COUNT(*) FROM orders WHERE created_at >= ?", since.Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}

// CountPlacedToday counts orders placed since midnight in loc
func (r *OrderRepository) CountPlacedToday(now time.Time, loc *time.Location) (int, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return r.CountPlacedSince(start)
}

// RecordFill marks the order FILLED and inserts its fill row in one
// transaction. A second fill for the same order is ignored.
func (r *OrderRepository) RecordFill(f domain.Fill) error {
	if f.OrderID == "" {
		return fmt.Errorf("failed to record fill: order id is required")
	}
	if f.Quantity <= 0 || f.Price <= 0 {
		return fmt.Errorf("failed to record fill: quantity and price must be positive")
	}

	err := database.WithTransaction(r.ledgerDB, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE orders SET status = ?, fill_price = ?, filled_at = ?, updated_at = ?
			WHERE id = ?
		`, string(domain.StatusFilled), f.Price, f.FilledAt.Unix(), time.Now().Unix(), f.OrderID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("order %s: %w", f.OrderID, sql.ErrNoRows)
		}

		_, err = tx.Exec(`
			INSERT INTO fills (order_id, symbol, side, quantity, price, realized_pnl, filled_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(order_id) DO NOTHING
		`,
			f.OrderID,
			domain.NormalizeSymbol(f.Symbol),
			string(f.Side),
			f.Quantity,
			f.Price,
			nullFloat64Ptr(f.RealizedPnL),
			f.FilledAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record fill for %s: %w", f.OrderID, err)
	}

	r.log.Info().
		Str("order_id", f.OrderID).
		Str("symbol", f.Symbol).
		Str("side", string(f.Side)).
		Int("quantity", f.Quantity).
		Float64("price", f.Price).
		Msg("Fill recorded")
	return nil
}

// ListFills returns the most recent fills, newest first
func (r *OrderRepository) ListFills(limit int) ([]domain.Fill, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.ledgerDB.Query(`
		SELECT order_id, symbol, side, quantity, price, realized_pnl, filled_at
		FROM fills ORDER BY filled_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		var pnl sql.NullFloat64
		var filledAt int64
		if err := rows.Scan(&f.OrderID, &f.Symbol, &side, &f.Quantity, &f.Price, &pnl, &filledAt); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.Side = domain.Side(side)
		if pnl.Valid {
			v := pnl.Float64
			f.RealizedPnL = &v
		}
		f.FilledAt = time.Unix(filledAt, 0).UTC()
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fills: %w", err)
	}
	return fills, nil
}

// RealizedPnLSince sums realized P&L of fills at or after since
func (r *OrderRepository) RealizedPnLSince(since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := r.ledgerDB.QueryRow(
		"SELECT SUM(realized_pnl) FROM fills WHERE filled_at >= ? AND realized_pnl IS NOT NULL",
		since.Unix(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return total.Float64, nil
}

func (r *OrderRepository) query(q string, args ...interface{}) ([]domain.Order, error) {
	rows, err := r.ledgerDB.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (domain.Order, error) {
	var o domain.Order
	var side, status string
	var bucket, rationale sql.NullString
	var entry, fill sql.NullFloat64
	var createdAt, updatedAt int64
	var filledAt sql.NullInt64

	err := row.Scan(
		&o.ID,
		&o.ClientOrderID,
		&side,
		&o.Symbol,
		&o.Quantity,
		&o.LimitPrice,
		&status,
		&bucket,
		&rationale,
		&entry,
		&fill,
		&createdAt,
		&updatedAt,
		&filledAt,
	)
	if err != nil {
		return o, err
	}

	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	o.Bucket = bucket.String
	o.Rationale = rationale.String
	o.EntryPrice = entry.Float64
	if fill.Valid {
		v := fill.Float64
		o.FillPrice = &v
	}
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if filledAt.Valid {
		t := time.Unix(filledAt.Int64, 0).UTC()
		o.FilledAt = &t
	}
	return o, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullPositive(f float64) sql.NullFloat64 {
	if f <= 0 {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
