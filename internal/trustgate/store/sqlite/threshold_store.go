package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/veritas-labs/trustgate/internal/db"
)

// ThresholdStore persists per-group trust floors.  Groups that were never
// adjusted read back the process-wide default.
type ThresholdStore struct {
	db               *sql.DB
	writer           *dbpkg.Worker
	defaultThreshold int
}

func NewThresholdStore(db *sql.DB, writer *dbpkg.Worker, defaultThreshold int) *ThresholdStore {
	return &ThresholdStore{db: db, writer: writer, defaultThreshold: defaultThreshold}
}

func (s *ThresholdStore) Get(ctx context.Context, groupID string) (int, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return s.defaultThreshold, nil
	}

	var threshold int
	err := s.db.QueryRowContext(ctx,
		`SELECT threshold FROM group_thresholds WHERE group_id = ?;`, groupID,
	).Scan(&threshold)
	if err == sql.ErrNoRows {
		return s.defaultThreshold, nil
	}
	if err != nil {
		return s.defaultThreshold, fmt.Errorf("Get threshold: %w", err)
	}
	return threshold, nil
}

func (s *ThresholdStore) Set(ctx context.Context, groupID string, threshold int) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil
	}
	now := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO group_thresholds(group_id, threshold, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(group_id) DO UPDATE SET
  threshold = excluded.threshold,
  updated_at_ms = excluded.updated_at_ms;
`, groupID, threshold, now); err != nil {
			return fmt.Errorf("Set threshold: %w", err)
		}
		return nil
	})
}

func (s *ThresholdStore) All(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, threshold FROM group_thresholds;`)
	if err != nil {
		return nil, fmt.Errorf("All thresholds: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var group string
		var threshold int
		if err := rows.Scan(&group, &threshold); err != nil {
			return nil, fmt.Errorf("All thresholds scan: %w", err)
		}
		out[group] = threshold
	}
	return out, rows.Err()
}
