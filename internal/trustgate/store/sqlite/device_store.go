package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/veritas-labs/trustgate/internal/db"
)

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

// IsKnown: a device is known once an operator has commissioned it.  Devices
// that merely submitted telemetry exist in the table but stay uncommissioned.
func (s *DeviceStore) IsKnown(ctx context.Context, deviceID string) (bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return false, nil
	}

	var commissioned int
	err := s.db.QueryRowContext(ctx, `
SELECT commissioned FROM devices WHERE device_id = ?;
`, deviceID).Scan(&commissioned)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("IsKnown query: %w", err)
	}
	return commissioned == 1, nil
}

// MarkSeen ensures the device row exists and updates its last-seen time.
// Unknown devices are created uncommissioned so an operator can find and
// commission them later.
func (s *DeviceStore) MarkSeen(ctx context.Context, deviceID string, _ bool, t time.Time) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := t.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO devices(
  device_id, commissioned, first_seen_at_ms, created_at_ms, updated_at_ms
) VALUES (?, 0, ?, ?, ?);
`, deviceID, ms, ms, ms); err != nil {
			return fmt.Errorf("MarkSeen insert device: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE devices
SET last_seen_at_ms = ?,
    updated_at_ms   = ?
WHERE device_id = ?;
`, ms, ms, deviceID); err != nil {
			return fmt.Errorf("MarkSeen update device: %w", err)
		}

		return nil
	})
}
