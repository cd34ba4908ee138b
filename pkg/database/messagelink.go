// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/util/dbutil"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// MessageLinkQuery reads and writes the message_link table.
type MessageLinkQuery struct {
	*dbutil.QueryHelper[*MessageLink]
}

// MessageLink is a row of the message_link table.
type MessageLink struct {
	relay.MessageLink
}

const (
	messageLinkSelect = `
		SELECT bridge_id, source_platform, source_id, dest_platform, dest_id, created_at FROM message_link
	`
	getLinkBySourceQuery = messageLinkSelect + `
		WHERE bridge_id=$1 AND source_platform=$2 AND source_id=$3 AND dest_platform=$4
	`
	getLinkByDestQuery = messageLinkSelect + `
		WHERE bridge_id=$1 AND dest_platform=$2 AND dest_id=$3 AND source_platform=$4
	`
	insertMessageLinkQuery = `
		INSERT INTO message_link (bridge_id, source_platform, source_id, dest_platform, dest_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bridge_id, source_platform, source_id) DO NOTHING
	`
	deleteLinksForBridgeQuery = `DELETE FROM message_link WHERE bridge_id=$1`
	deleteLinksOlderThanQuery = `DELETE FROM message_link WHERE created_at<$1`
)

func (ml *MessageLink) Scan(row dbutil.Scannable) (*MessageLink, error) {
	var source, dest string
	var createdAt int64
	err := row.Scan(&ml.BridgeID, &source, &ml.SourceID, &dest, &ml.DestID, &createdAt)
	if err != nil {
		return nil, err
	}
	ml.SourcePlatform = relay.Platform(source)
	ml.DestPlatform = relay.Platform(dest)
	ml.CreatedAt = time.UnixMilli(createdAt)
	return ml, nil
}

func (ml *MessageLink) sqlVariables() []any {
	return []any{
		ml.BridgeID,
		string(ml.SourcePlatform), ml.SourceID,
		string(ml.DestPlatform), ml.DestID,
		ml.CreatedAt.UnixMilli(),
	}
}

// Insert stores a link. Re-inserting the same source message is a no-op.
func (mlq *MessageLinkQuery) Insert(ctx context.Context, ml *MessageLink) error {
	if ml.CreatedAt.IsZero() {
		ml.CreatedAt = time.Now()
	}
	return mlq.Exec(ctx, insertMessageLinkQuery, ml.sqlVariables()...)
}

// FindCounterpart returns the id on target of message id on platform. The
// message may be either the original or the relayed copy. It returns "" if
// no link is known.
func (mlq *MessageLinkQuery) FindCounterpart(ctx context.Context, bridgeID int64, platform relay.Platform, id string, target relay.Platform) (string, error) {
	link, err := mlq.QueryOne(ctx, getLinkBySourceQuery, bridgeID, string(platform), id, string(target))
	if err != nil {
		return "", fmt.Errorf("failed to find link by source: %w", err)
	} else if link != nil {
		return link.DestID, nil
	}
	link, err = mlq.QueryOne(ctx, getLinkByDestQuery, bridgeID, string(platform), id, string(target))
	if err != nil {
		return "", fmt.Errorf("failed to find link by destination: %w", err)
	} else if link != nil {
		return link.SourceID, nil
	}
	return "", nil
}

// DeleteOlderThan deletes links created before cutoff.
func (mlq *MessageLinkQuery) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := mlq.GetDB().Exec(ctx, deleteLinksOlderThanQuery, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old message links: %w", err)
	}
	return res.RowsAffected()
}
