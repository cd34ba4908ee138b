// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/relay/adapters"
	"github.com/aiku/mattermost-relay/pkg/relay/adminapi"
	"github.com/aiku/mattermost-relay/pkg/retention"
)

func newServeCommand(configPath *string) *cobra.Command {
	var noUpdate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath, !noUpdate)
		},
	}
	cmd.Flags().BoolVar(&noUpdate, "no-update", false, "Don't save the upgraded config file")
	return cmd
}

func serve(ctx context.Context, configPath string, saveConfig bool) error {
	a, err := loadApp(ctx, configPath, saveConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	log := *a.log

	store := a.store()
	rec := relay.NewRecorder(store, log)
	factory := &adapters.Factory{
		DisplaynameTemplate: a.cfg.Mattermost.DisplaynameTemplate,
		BotPrefix:           a.cfg.Mattermost.BotPrefix,
		RetryDelay:          a.cfg.Relay.RetryDelay,
		Log:                 log,
	}
	manager := relay.NewManager(store, factory, rec, log)
	if !manager.Start(ctx) {
		log.Warn().Msg("Relay not running, configure the bot tokens and reload")
	}
	defer manager.Stop()

	if a.cfg.Retention.Enabled {
		cleanup, err := retention.New(store, a.cfg.Retention.Schedule, a.cfg.Retention.MaxAge, log)
		if err != nil {
			return err
		}
		cleanup.Start()
		defer cleanup.Stop()
	}

	if a.cfg.Admin.Enabled {
		api := adminapi.New(manager, store, a.cfg.Admin.SharedSecret, log)
		go func() {
			if err := api.ListenAndServe(ctx, a.cfg.Admin.Listen); err != nil {
				log.Error().Err(err).Msg("Admin API error")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}
