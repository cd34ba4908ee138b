// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mau.fi/util/dbutil"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// RelayLogQuery reads and writes the relay_log table.
type RelayLogQuery struct {
	*dbutil.QueryHelper[*RelayLog]
}

// RelayLog is a row of the relay_log table.
type RelayLog struct {
	relay.LogRecord
}

const (
	insertRelayLogQuery = `
		INSERT INTO relay_log (timestamp_ms, level, message, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	getRecentRelayLogsQuery = `
		SELECT id, timestamp_ms, level, message, metadata FROM relay_log
		ORDER BY timestamp_ms DESC, id DESC
		LIMIT $1
	`
	getRecentRelayLogsByLevelQuery = `
		SELECT id, timestamp_ms, level, message, metadata FROM relay_log
		WHERE level=$1
		ORDER BY timestamp_ms DESC, id DESC
		LIMIT $2
	`
	deleteRelayLogsByLevelQuery   = `DELETE FROM relay_log WHERE level=$1`
	deleteRelayLogsOlderThanQuery = `DELETE FROM relay_log WHERE timestamp_ms<$1`
)

func (rl *RelayLog) Scan(row dbutil.Scannable) (*RelayLog, error) {
	var ts int64
	var level, metadata string
	err := row.Scan(&rl.ID, &ts, &level, &rl.Message, &metadata)
	if err != nil {
		return nil, err
	}
	rl.Timestamp = time.UnixMilli(ts).UTC()
	rl.Level = relay.LogLevel(level)
	if metadata != "" {
		if err = json.Unmarshal([]byte(metadata), &rl.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata of log %d: %w", rl.ID, err)
		}
	}
	return rl, nil
}

// Insert stores a log record and sets its ID.
func (rlq *RelayLogQuery) Insert(ctx context.Context, record *relay.LogRecord) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal log metadata: %w", err)
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	err = rlq.GetDB().QueryRow(ctx, insertRelayLogQuery,
		record.Timestamp.UnixMilli(), string(record.Level), record.Message, string(metadata),
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert log record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. An empty level returns
// records of every level.
func (rlq *RelayLogQuery) Recent(ctx context.Context, level relay.LogLevel, limit int) ([]*RelayLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if level == "" {
		return rlq.QueryMany(ctx, getRecentRelayLogsQuery, limit)
	}
	return rlq.QueryMany(ctx, getRecentRelayLogsByLevelQuery, string(level), limit)
}

// ClearLevel deletes every record of one level.
func (rlq *RelayLogQuery) ClearLevel(ctx context.Context, level relay.LogLevel) error {
	return rlq.Exec(ctx, deleteRelayLogsByLevelQuery, string(level))
}

// DeleteOlderThan deletes records written before cutoff and returns how
// many were removed.
func (rlq *RelayLogQuery) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := rlq.GetDB().Exec(ctx, deleteRelayLogsOlderThanQuery, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old log records: %w", err)
	}
	return res.RowsAffected()
}
