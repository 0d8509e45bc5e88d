package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	dbpkg "github.com/veritas-labs/trustgate/internal/db"
	"github.com/veritas-labs/trustgate/internal/trustgate/store"
	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

type EventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewEventStore(db *sql.DB, writer *dbpkg.Worker) *EventStore {
	return &EventStore{db: db, writer: writer}
}

func (s *EventStore) Append(ctx context.Context, rec store.EventRecord) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	receivedMs := rec.ReceivedAt.UTC().UnixMilli()

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("Append marshal payload: %w", err)
	}

	var decisionJSON any
	if rec.Decision != nil {
		b, err := json.Marshal(rec.Decision)
		if err != nil {
			return fmt.Errorf("Append marshal decision: %w", err)
		}
		decisionJSON = string(b)
	}

	var flagged int
	if rec.Flagged {
		flagged = 1
	}

	var txID any
	if rec.TxID != "" {
		txID = rec.TxID
	}
	var detail any
	if rec.Detail != "" {
		detail = rec.Detail
	}
	var dataHash any
	if rec.DataHash != "" {
		dataHash = rec.DataHash
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO event_log(
  event_id, device_id, group_id, stage, flagged,
  payload_json, data_hash, received_at_ms, decision_json, tx_id, detail
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.EventID, rec.DeviceID, rec.GroupID, string(rec.Stage), flagged,
			string(payloadJSON), dataHash, receivedMs, decisionJSON, txID, detail,
		); err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		return nil
	})
}

func (s *EventStore) ReadRecent(ctx context.Context, limit int) ([]store.EventRecord, error) {
	return s.query(ctx, `
SELECT event_id, device_id, group_id, stage, flagged,
       payload_json, data_hash, received_at_ms, decision_json, tx_id, detail
FROM event_log
ORDER BY id DESC
LIMIT ?;
`, limit)
}

func (s *EventStore) ReadFlagged(ctx context.Context, limit int) ([]store.EventRecord, error) {
	return s.query(ctx, `
SELECT event_id, device_id, group_id, stage, flagged,
       payload_json, data_hash, received_at_ms, decision_json, tx_id, detail
FROM event_log
WHERE flagged = 1
ORDER BY id DESC
LIMIT ?;
`, limit)
}

// TrendPointsFor projects `received` records matching the group or device into
// local trend points in insertion order.  Later stages of the same event are
// skipped so a single submission contributes exactly one point.
func (s *EventStore) TrendPointsFor(ctx context.Context, groupID, deviceID string) ([]types.TrendPoint, error) {
	recs, err := s.query(ctx, `
SELECT event_id, device_id, group_id, stage, flagged,
       payload_json, data_hash, received_at_ms, decision_json, tx_id, detail
FROM event_log
WHERE stage = 'received' AND (group_id = ? OR device_id = ?)
ORDER BY id ASC;
`, groupID, deviceID)
	if err != nil {
		return nil, err
	}

	points := make([]types.TrendPoint, 0, len(recs))
	for _, rec := range recs {
		points = append(points, rec.TrendPoint())
	}
	return points, nil
}

// PruneOlderThan deletes non-flagged rows received before the cutoff.  Flagged
// rows are the audit trail and survive retention.
func (s *EventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM event_log
WHERE flagged = 0 AND received_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func (s *EventStore) query(ctx context.Context, q string, args ...any) ([]store.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("event_log query: %w", err)
	}
	defer rows.Close()

	var out []store.EventRecord
	for rows.Next() {
		var (
			rec          store.EventRecord
			stage        string
			flagged      int
			payloadJSON  string
			dataHash     sql.NullString
			receivedMs   int64
			decisionJSON sql.NullString
			txID         sql.NullString
			detail       sql.NullString
		)
		if err := rows.Scan(
			&rec.EventID, &rec.DeviceID, &rec.GroupID, &stage, &flagged,
			&payloadJSON, &dataHash, &receivedMs, &decisionJSON, &txID, &detail,
		); err != nil {
			return nil, fmt.Errorf("event_log scan: %w", err)
		}

		rec.Stage = types.Stage(stage)
		rec.Flagged = flagged == 1
		rec.DataHash = dataHash.String
		rec.ReceivedAt = time.UnixMilli(receivedMs).UTC()
		rec.TxID = txID.String
		rec.Detail = detail.String

		if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
			return nil, fmt.Errorf("event_log decode payload: %w", err)
		}
		if decisionJSON.Valid && decisionJSON.String != "" {
			var d types.SystemDecision
			if err := json.Unmarshal([]byte(decisionJSON.String), &d); err != nil {
				return nil, fmt.Errorf("event_log decode decision: %w", err)
			}
			rec.Decision = &d
		}

		out = append(out, rec)
	}
	return out, rows.Err()
}
