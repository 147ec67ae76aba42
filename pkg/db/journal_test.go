package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestOrderEventsRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rows := []OrderEvent{
		{ID: "1", EventType: "regular.placed", Symbol: "BTCUSDT", OrderID: "R1", Side: "BUY", Qty: 0.01, Price: 100, CreatedAt: base},
		{ID: "2", EventType: "bracket.placed", Symbol: "BTCUSDT", OrderID: "TP1", LinkedID: "R1", Role: "take_profit", CreatedAt: base.Add(time.Second)},
		{ID: "3", EventType: "fill.unknown", Symbol: "BTCUSDT", OrderID: "X", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range rows {
		if err := d.InsertOrderEvent(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}

	all, err := d.ListOrderEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "3" || all[2].ID != "1" {
		t.Fatalf("unexpected order %+v", all)
	}
	if all[1].LinkedID != "R1" || all[1].Role != "take_profit" {
		t.Fatalf("linked fields lost: %+v", all[1])
	}

	only, err := d.ListOrderEvents(ctx, "regular.placed", 10)
	if err != nil || len(only) != 1 || only[0].Qty != 0.01 {
		t.Fatalf("filtered list = %+v, %v", only, err)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	d := newTestDB(t)
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("second migration: %v", err)
	}
	ok, err := columnExists(d.DB, "order_events", "linked_id")
	if err != nil || !ok {
		t.Fatalf("linked_id column missing: %v", err)
	}
}

func TestPositionUpsert(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	if _, err := d.GetPosition(ctx, "BTCUSDT"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
	now := time.Now()
	d.UpsertPosition(ctx, Position{Symbol: "BTCUSDT", Qty: 1, AvgPrice: 100, UpdatedAt: now})
	if err := d.UpsertPosition(ctx, Position{Symbol: "BTCUSDT", Qty: -0.5, AvgPrice: 101, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p, err := d.GetPosition(ctx, "BTCUSDT")
	if err != nil || p.Qty != -0.5 || p.AvgPrice != 101 {
		t.Fatalf("position = %+v, %v", p, err)
	}
}
