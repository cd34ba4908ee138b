// Copyright 2024-2026 Aiku AI

// Package database stores bridges, masquerades, settings, the relay log and
// relayed message pairs in SQLite or PostgreSQL.
package database

import (
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/aiku/mattermost-relay/pkg/database/upgrades"
)

// VersionTable is the name of the schema version table.
const VersionTable = "relay_version"

// Database is the relay's storage.
type Database struct {
	*dbutil.Database

	Settings    *SettingsQuery
	Bridge      *BridgeQuery
	Masquerade  *MasqueradeQuery
	RelayLog    *RelayLogQuery
	MessageLink *MessageLinkQuery
}

// Open connects to the database described by cfg. Call Upgrade before use.
func Open(cfg dbutil.Config, log zerolog.Logger) (*Database, error) {
	raw, err := dbutil.NewFromConfig("mattermost-relay", cfg, dbutil.ZeroLogger(log.With().Str("component", "database").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(raw), nil
}

// New wraps an existing connection.
func New(db *dbutil.Database) *Database {
	db.VersionTable = VersionTable
	db.UpgradeTable = upgrades.Table
	return &Database{
		Database: db,
		Settings: &SettingsQuery{db: db},
		Bridge: &BridgeQuery{dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*Bridge]) *Bridge {
			return &Bridge{}
		})},
		Masquerade: &MasqueradeQuery{dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*Masquerade]) *Masquerade {
			return &Masquerade{}
		})},
		RelayLog: &RelayLogQuery{dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*RelayLog]) *RelayLog {
			return &RelayLog{}
		})},
		MessageLink: &MessageLinkQuery{dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*MessageLink]) *MessageLink {
			return &MessageLink{}
		})},
	}
}
