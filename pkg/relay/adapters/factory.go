// Copyright 2024-2026 Aiku AI

// Package adapters builds the platform adapters of a relay from its stored
// settings.
package adapters

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/relay/matrix"
	"github.com/aiku/mattermost-relay/pkg/relay/mattermost"
)

// Factory creates adapters from settings. The options that are not part of
// the stored settings come from the config file.
type Factory struct {
	DisplaynameTemplate string
	BotPrefix           string
	RetryDelay          time.Duration
	Log                 zerolog.Logger
}

var _ relay.AdapterFactory = (*Factory)(nil)

func (f *Factory) NewMatrixAdapter(settings *relay.Settings) (relay.Adapter, error) {
	return matrix.New(matrix.Config{
		HomeserverURL:  settings.MatrixHomeserver,
		Token:          settings.MatrixToken,
		SyncRetryDelay: f.RetryDelay,
		Avatars:        avatarFetcher(settings),
	}, f.Log)
}

// avatarFetcher lets the Matrix adapter download Mattermost profile
// images with the bot session.
func avatarFetcher(settings *relay.Settings) matrix.AvatarFetcher {
	if settings.MattermostServerURL == "" || settings.MattermostToken == "" {
		return nil
	}
	return mattermost.NewProfileImages(settings.MattermostServerURL, settings.MattermostToken)
}

func (f *Factory) NewMattermostAdapter(settings *relay.Settings) (relay.Adapter, error) {
	return mattermost.New(mattermost.Config{
		ServerURL:           settings.MattermostServerURL,
		Token:               settings.MattermostToken,
		DisplaynameTemplate: f.DisplaynameTemplate,
		BotPrefix:           f.BotPrefix,
		ReconnectDelay:      f.RetryDelay,
	}, f.Log)
}
