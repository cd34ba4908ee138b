// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// RelayStore exposes the database to the relay core.
type RelayStore struct {
	DB *Database
	// Defaults fill settings that are not stored in the settings table,
	// typically from the config file or environment.
	Defaults relay.Settings
}

var (
	_ relay.Store         = (*RelayStore)(nil)
	_ relay.MessageLinker = (*RelayStore)(nil)
)

// GetSettings returns the stored settings, falling back to Defaults for
// keys that are not set.
func (s *RelayStore) GetSettings(ctx context.Context) (*relay.Settings, error) {
	stored, err := s.DB.Settings.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	pick := func(key, fallback string) string {
		if v := stored[key]; v != "" {
			return v
		}
		return fallback
	}
	return &relay.Settings{
		MatrixHomeserver:    pick(SettingMatrixHomeserver, s.Defaults.MatrixHomeserver),
		MatrixToken:         pick(SettingMatrixToken, s.Defaults.MatrixToken),
		MattermostServerURL: pick(SettingMattermostServerURL, s.Defaults.MattermostServerURL),
		MattermostToken:     pick(SettingMattermostToken, s.Defaults.MattermostToken),
	}, nil
}

func (s *RelayStore) GetBridges(ctx context.Context) ([]*relay.Bridge, error) {
	rows, err := s.DB.Bridge.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bridges: %w", err)
	}
	out := make([]*relay.Bridge, len(rows))
	for i, row := range rows {
		out[i] = &row.Bridge
	}
	return out, nil
}

func (s *RelayStore) GetMasquerades(ctx context.Context, bridgeID int64) ([]*relay.Masquerade, error) {
	rows, err := s.DB.Masquerade.GetForBridge(ctx, bridgeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get masquerades: %w", err)
	}
	out := make([]*relay.Masquerade, len(rows))
	for i, row := range rows {
		out[i] = &row.Masquerade
	}
	return out, nil
}

func (s *RelayStore) ClearErrorLogs(ctx context.Context) error {
	return s.DB.RelayLog.ClearLevel(ctx, relay.LevelError)
}

func (s *RelayStore) CreateLog(ctx context.Context, record *relay.LogRecord) error {
	return s.DB.RelayLog.Insert(ctx, record)
}

func (s *RelayStore) LinkMessages(ctx context.Context, link *relay.MessageLink) error {
	return s.DB.MessageLink.Insert(ctx, &MessageLink{MessageLink: *link})
}

func (s *RelayStore) FindLinkedMessage(ctx context.Context, bridgeID int64, platform relay.Platform, id string, target relay.Platform) (string, error) {
	return s.DB.MessageLink.FindCounterpart(ctx, bridgeID, platform, id, target)
}

// DeleteLogsOlderThan removes relay log records older than cutoff.
func (s *RelayStore) DeleteLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.DB.RelayLog.DeleteOlderThan(ctx, cutoff)
}

// DeleteLinksOlderThan removes relayed message pairs older than cutoff.
func (s *RelayStore) DeleteLinksOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.DB.MessageLink.DeleteOlderThan(ctx, cutoff)
}

// RecentLogs returns the newest log records, optionally only those at level.
func (s *RelayStore) RecentLogs(ctx context.Context, level relay.LogLevel, limit int) ([]*relay.LogRecord, error) {
	rows, err := s.DB.RelayLog.Recent(ctx, level, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get log records: %w", err)
	}
	out := make([]*relay.LogRecord, len(rows))
	for i, row := range rows {
		out[i] = &row.LogRecord
	}
	return out, nil
}
