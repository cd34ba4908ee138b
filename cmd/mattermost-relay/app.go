// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/config"
	"github.com/aiku/mattermost-relay/pkg/database"
)

// app is the loaded config with an open, upgraded database.
type app struct {
	cfg *config.Config
	log *zerolog.Logger
	db  *database.Database
}

func loadApp(ctx context.Context, configPath string, saveConfig bool) (*app, error) {
	cfg, err := config.Load(configPath, saveConfig)
	if err != nil {
		return nil, err
	}
	log, err := cfg.SetupLogging()
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.Database, *log)
	if err != nil {
		return nil, err
	}
	if err = db.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to upgrade database: %w", err)
	}
	return &app{cfg: cfg, log: log, db: db}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close database")
	}
}

func (a *app) store() *database.RelayStore {
	return &database.RelayStore{DB: a.db, Defaults: a.cfg.DefaultSettings()}
}

// withApp runs fn with a loaded app and closes it afterwards.
func withApp(ctx context.Context, configPath string, fn func(a *app) error) error {
	a, err := loadApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid bridge id %q", s)
	}
	return id, nil
}
