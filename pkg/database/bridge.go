// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/util/dbutil"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// BridgeQuery reads and writes the bridge table.
type BridgeQuery struct {
	*dbutil.QueryHelper[*Bridge]
}

// Bridge is a row of the bridge table.
type Bridge struct {
	relay.Bridge
}

const (
	bridgeSelect = `
		SELECT id, matrix_room_id, mattermost_channel_id, enabled, created_at FROM bridge
	`
	getAllBridgesQuery = bridgeSelect + `ORDER BY id`
	getBridgeByIDQuery = bridgeSelect + `WHERE id=$1`
	insertBridgeQuery  = `
		INSERT INTO bridge (matrix_room_id, mattermost_channel_id, enabled, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	setBridgeEnabledQuery = `UPDATE bridge SET enabled=$2 WHERE id=$1`
	deleteBridgeQuery     = `DELETE FROM bridge WHERE id=$1`
)

func (b *Bridge) Scan(row dbutil.Scannable) (*Bridge, error) {
	var createdAt int64
	err := row.Scan(&b.ID, &b.MatrixRoomID, &b.MattermostChannelID, &b.Enabled, &createdAt)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = time.UnixMilli(createdAt)
	return b, nil
}

// GetAll returns every bridge, enabled or not, ordered by id.
func (bq *BridgeQuery) GetAll(ctx context.Context) ([]*Bridge, error) {
	return bq.QueryMany(ctx, getAllBridgesQuery)
}

// GetByID returns the bridge with the given id, or nil.
func (bq *BridgeQuery) GetByID(ctx context.Context, id int64) (*Bridge, error) {
	return bq.QueryOne(ctx, getBridgeByIDQuery, id)
}

// Insert stores a new bridge and sets its ID and CreatedAt. Inserting an
// enabled bridge for a channel that already has one fails.
func (bq *BridgeQuery) Insert(ctx context.Context, b *Bridge) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	err := bq.GetDB().QueryRow(ctx, insertBridgeQuery,
		b.MatrixRoomID, b.MattermostChannelID, b.Enabled, b.CreatedAt.UnixMilli(),
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("failed to insert bridge: %w", err)
	}
	return nil
}

// SetEnabled enables or disables a bridge.
func (bq *BridgeQuery) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return bq.Exec(ctx, setBridgeEnabledQuery, id, enabled)
}

// Delete removes a bridge together with its masquerades and message links.
func (bq *BridgeQuery) Delete(ctx context.Context, id int64) error {
	db := bq.GetDB()
	return db.DoTxn(ctx, nil, func(ctx context.Context) error {
		if _, err := db.Exec(ctx, deleteMasqueradesForBridgeQuery, id); err != nil {
			return fmt.Errorf("failed to delete masquerades: %w", err)
		}
		if _, err := db.Exec(ctx, deleteLinksForBridgeQuery, id); err != nil {
			return fmt.Errorf("failed to delete message links: %w", err)
		}
		if _, err := db.Exec(ctx, deleteBridgeQuery, id); err != nil {
			return fmt.Errorf("failed to delete bridge: %w", err)
		}
		return nil
	})
}
