package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OrderEvent is one journal row.
type OrderEvent struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Symbol    string    `json:"symbol"`
	OrderID   string    `json:"order_id,omitempty"`
	LinkedID  string    `json:"linked_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	Side      string    `json:"side,omitempty"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Position is the last journaled position for a symbol.
type Position struct {
	Symbol    string    `json:"symbol"`
	Qty       float64   `json:"qty"`
	AvgPrice  float64   `json:"avg_price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InsertOrderEvent appends a row.
func (d *Database) InsertOrderEvent(ctx context.Context, e OrderEvent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO order_events (id, event_type, symbol, order_id, linked_id, role, side, qty, price, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.EventType, e.Symbol, e.OrderID, e.LinkedID, e.Role, e.Side, e.Qty, e.Price, e.Detail, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// InsertOrderEvents appends rows in one transaction.
func (d *Database) InsertOrderEvents(ctx context.Context, events []OrderEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO order_events (id, event_type, symbol, order_id, linked_id, role, side, qty, price, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID, e.EventType, e.Symbol, e.OrderID, e.LinkedID, e.Role, e.Side, e.Qty, e.Price, e.Detail, e.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert order event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// ListOrderEvents returns the newest rows first. An empty eventType matches all.
func (d *Database) ListOrderEvents(ctx context.Context, eventType string, limit int) ([]OrderEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, event_type, symbol, COALESCE(order_id, ''), COALESCE(linked_id, ''), COALESCE(role, ''),
		       COALESCE(side, ''), qty, price, COALESCE(detail, ''), created_at
		FROM order_events
		WHERE ? = '' OR event_type = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, eventType, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	var out []OrderEvent
	for rows.Next() {
		var e OrderEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Symbol, &e.OrderID, &e.LinkedID, &e.Role, &e.Side, &e.Qty, &e.Price, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertPosition stores the latest position for a symbol.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, qty, avg_price, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET qty=excluded.qty, avg_price=excluded.avg_price, updated_at=excluded.updated_at
	`, p.Symbol, p.Qty, p.AvgPrice, p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// GetPosition returns the journaled position, or sql.ErrNoRows.
func (d *Database) GetPosition(ctx context.Context, symbol string) (Position, error) {
	var p Position
	err := d.DB.QueryRowContext(ctx, `
		SELECT symbol, qty, avg_price, updated_at FROM positions WHERE symbol = ?
	`, symbol).Scan(&p.Symbol, &p.Qty, &p.AvgPrice, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return Position{}, err
	}
	if err != nil {
		return Position{}, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}
