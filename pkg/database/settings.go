// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.mau.fi/util/dbutil"
)

// Setting keys.
const (
	SettingMatrixHomeserver    = "matrix_homeserver"
	SettingMatrixToken         = "matrix_token"
	SettingMattermostServerURL = "mattermost_server_url"
	SettingMattermostToken     = "mattermost_token"
)

// KnownSettings lists the keys the relay reads.
var KnownSettings = []string{
	SettingMatrixHomeserver,
	SettingMatrixToken,
	SettingMattermostServerURL,
	SettingMattermostToken,
}

// SettingsQuery reads and writes the settings key-value table.
type SettingsQuery struct {
	db *dbutil.Database
}

const (
	getSettingQuery     = `SELECT value FROM settings WHERE key=$1`
	getAllSettingsQuery = `SELECT key, value FROM settings`
	setSettingQuery     = `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value=excluded.value
	`
	deleteSettingQuery = `DELETE FROM settings WHERE key=$1`
)

// Get returns the value of key, or "" if it is not set.
func (sq *SettingsQuery) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := sq.db.QueryRow(ctx, getSettingQuery, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// GetAll returns every stored setting.
func (sq *SettingsQuery) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := sq.db.Query(ctx, getAllSettingsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err = rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// Set stores value under key. An empty value deletes the key.
func (sq *SettingsQuery) Set(ctx context.Context, key, value string) error {
	var err error
	if value == "" {
		_, err = sq.db.Exec(ctx, deleteSettingQuery, key)
	} else {
		_, err = sq.db.Exec(ctx, setSettingQuery, key, value)
	}
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
