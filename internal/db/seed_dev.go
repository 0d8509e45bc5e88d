package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	// KnownDevices pre-commissions these device ids so a dev sensor can
	// submit without an admin step.
	KnownDevices []string

	// Thresholds pre-seeds per-group trust floors.
	Thresholds map[string]int
}

func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	for _, id := range opt.KnownDevices {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, `
INSERT INTO devices(device_id, commissioned, created_at_ms, updated_at_ms)
VALUES (?, 1, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  commissioned = 1,
  updated_at_ms = excluded.updated_at_ms;
`, id, now, now); err != nil {
			return fmt.Errorf("seed device %s: %w", id, err)
		}
	}

	for group, threshold := range opt.Thresholds {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, `
INSERT INTO group_thresholds(group_id, threshold, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(group_id) DO UPDATE SET
  threshold = excluded.threshold,
  updated_at_ms = excluded.updated_at_ms;
`, group, threshold, now); err != nil {
			return fmt.Errorf("seed threshold %s: %w", group, err)
		}
	}

	return nil
}
