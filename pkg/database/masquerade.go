// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/util/dbutil"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// MasqueradeQuery reads and writes the masquerade table.
type MasqueradeQuery struct {
	*dbutil.QueryHelper[*Masquerade]
}

// Masquerade is a row of the masquerade table.
type Masquerade struct {
	relay.Masquerade
}

const (
	getMasqueradesForBridgeQuery = `
		SELECT bridge_id, platform, user_id, username, avatar_url FROM masquerade
		WHERE bridge_id=$1
		ORDER BY platform, user_id
	`
	getAllMasqueradesQuery = `
		SELECT bridge_id, platform, user_id, username, avatar_url FROM masquerade
		ORDER BY bridge_id, platform, user_id
	`
	upsertMasqueradeQuery = `
		INSERT INTO masquerade (bridge_id, platform, user_id, username, avatar_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (bridge_id, platform, user_id) DO UPDATE
			SET username=excluded.username, avatar_url=excluded.avatar_url
	`
	countScopeConflictsQuery = `
		SELECT COUNT(*) FROM masquerade
		WHERE bridge_id=$1 AND user_id=$2 AND platform<>$3 AND (platform='' OR $3='')
	`
	deleteMasqueradeQuery           = `DELETE FROM masquerade WHERE bridge_id=$1 AND platform=$2 AND user_id=$3`
	deleteMasqueradesForBridgeQuery = `DELETE FROM masquerade WHERE bridge_id=$1`
)

func (m *Masquerade) Scan(row dbutil.Scannable) (*Masquerade, error) {
	var platform string
	err := row.Scan(&m.BridgeID, &platform, &m.UserID, &m.Username, &m.AvatarURL)
	if err != nil {
		return nil, err
	}
	m.Platform = relay.Platform(platform)
	return m, nil
}

func (m *Masquerade) sqlVariables() []any {
	return []any{m.BridgeID, string(m.Platform), m.UserID, m.Username, m.AvatarURL}
}

// GetForBridge returns the masquerades of one bridge in a stable order.
func (mq *MasqueradeQuery) GetForBridge(ctx context.Context, bridgeID int64) ([]*Masquerade, error) {
	return mq.QueryMany(ctx, getMasqueradesForBridgeQuery, bridgeID)
}

// GetAll returns every masquerade.
func (mq *MasqueradeQuery) GetAll(ctx context.Context) ([]*Masquerade, error) {
	return mq.QueryMany(ctx, getAllMasqueradesQuery)
}

// ErrMasqueradeScopeConflict is returned by Put when the user already has a
// masquerade on the bridge that applies to both platforms, or when a
// masquerade for both platforms is added next to a platform-specific one.
var ErrMasqueradeScopeConflict = errors.New("user already has a masquerade with a different platform scope")

// Put creates a masquerade or replaces the name and avatar of an existing
// one. A user has either one masquerade for both platforms or per-platform
// ones on a bridge, never both.
func (mq *MasqueradeQuery) Put(ctx context.Context, m *Masquerade) error {
	db := mq.GetDB()
	return db.DoTxn(ctx, nil, func(ctx context.Context) error {
		var conflicts int
		err := db.QueryRow(ctx, countScopeConflictsQuery, m.BridgeID, m.UserID, string(m.Platform)).Scan(&conflicts)
		if err != nil {
			return fmt.Errorf("failed to check masquerade scope: %w", err)
		} else if conflicts > 0 {
			return ErrMasqueradeScopeConflict
		}
		return mq.Exec(ctx, upsertMasqueradeQuery, m.sqlVariables()...)
	})
}

// Delete removes one masquerade.
func (mq *MasqueradeQuery) Delete(ctx context.Context, bridgeID int64, platform relay.Platform, userID string) error {
	return mq.Exec(ctx, deleteMasqueradeQuery, bridgeID, string(platform), userID)
}
