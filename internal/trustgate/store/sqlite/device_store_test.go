package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/veritas-labs/trustgate/internal/db"
	sqlitestore "github.com/veritas-labs/trustgate/internal/trustgate/store/sqlite"
)

func TestDeviceStore_UnknownUntilCommissioned(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ds := sqlitestore.NewDeviceStore(conn, w)
	ctx := context.Background()

	known, err := ds.IsKnown(ctx, "sensor-001")
	if err != nil {
		t.Fatalf("IsKnown: %v", err)
	}
	if known {
		t.Error("device with no row must be unknown")
	}

	// MarkSeen creates the row but does not commission it.
	if err := ds.MarkSeen(ctx, "sensor-001", false, time.Now().UTC()); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	known, err = ds.IsKnown(ctx, "sensor-001")
	if err != nil {
		t.Fatalf("IsKnown: %v", err)
	}
	if known {
		t.Error("a merely-seen device must stay unknown")
	}
}

func TestDeviceStore_SeededDeviceIsKnown(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ds := sqlitestore.NewDeviceStore(conn, w)
	ctx := context.Background()

	err := db.SeedDev(ctx, conn, db.SeedDevOptions{KnownDevices: []string{"sensor-001"}})
	if err != nil {
		t.Fatalf("SeedDev: %v", err)
	}

	known, err := ds.IsKnown(ctx, "sensor-001")
	if err != nil {
		t.Fatalf("IsKnown: %v", err)
	}
	if !known {
		t.Error("commissioned device must be known")
	}
}

func TestDeviceStore_MarkSeenUpdatesLastSeen(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ds := sqlitestore.NewDeviceStore(conn, w)
	ctx := context.Background()

	first := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	if err := ds.MarkSeen(ctx, "sensor-001", false, first); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if err := ds.MarkSeen(ctx, "sensor-001", false, second); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	var lastSeen sql.NullInt64
	var firstSeen sql.NullInt64
	err := conn.QueryRowContext(ctx,
		`SELECT last_seen_at_ms, first_seen_at_ms FROM devices WHERE device_id = ?`, "sensor-001",
	).Scan(&lastSeen, &firstSeen)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !lastSeen.Valid || lastSeen.Int64 != second.UnixMilli() {
		t.Errorf("expected last_seen_at_ms=%d, got %v", second.UnixMilli(), lastSeen)
	}
	if !firstSeen.Valid || firstSeen.Int64 != first.UnixMilli() {
		t.Errorf("first_seen_at_ms must keep the original value, got %v", firstSeen)
	}
}

func TestDeviceStore_BlankDeviceIDIsNoop(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ds := sqlitestore.NewDeviceStore(conn, w)
	ctx := context.Background()

	if err := ds.MarkSeen(ctx, "   ", false, time.Now().UTC()); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("blank device id must not create a row, got %d", count)
	}
}
