// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Relay is a running pair of adapters with their router.
type Relay struct {
	Matrix     Adapter
	Mattermost Adapter
	Router     *Router
}

// Adapter returns the relay's adapter for p.
func (r *Relay) Adapter(p Platform) Adapter {
	switch p {
	case PlatformMatrix:
		return r.Matrix
	case PlatformMattermost:
		return r.Mattermost
	default:
		return nil
	}
}

// Ready reports whether both adapters completed their handshake.
func (r *Relay) Ready() bool {
	return r != nil && r.Matrix.Ready() && r.Mattermost.Ready()
}

// Stop disconnects both adapters.
func (r *Relay) Stop() {
	if r == nil {
		return
	}
	r.Matrix.Disconnect()
	r.Mattermost.Disconnect()
}

// Initialize builds and connects the relay from the stored settings. It
// returns nil when the relay could not be started; the reason is recorded
// through rec. Initialize never returns an error and never panics.
func Initialize(ctx context.Context, store Store, factory AdapterFactory, rec *Recorder, log zerolog.Logger) (relay *Relay) {
	defer func() {
		if p := recover(); p != nil {
			rec.Error(ctx, "Failed to initialize bridge", Metadata{}.Str("error", fmt.Sprint(p)))
			relay = nil
		}
	}()

	relay, err := initialize(ctx, store, factory, rec, log)
	if err != nil {
		rec.Error(ctx, "Failed to initialize bridge", Metadata{}.Err(err))
		return nil
	}
	return relay
}

func initialize(ctx context.Context, store Store, factory AdapterFactory, rec *Recorder, log zerolog.Logger) (*Relay, error) {
	settings, err := store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if settings == nil {
		settings = &Settings{}
	}

	rec.Info(ctx, "Attempting to initialize bridge with settings", Metadata{}.
		Bool("hasMatrixToken", settings.MatrixToken != "").
		Bool("hasMattermostToken", settings.MattermostToken != ""))

	if settings.MatrixToken == "" || settings.MattermostToken == "" {
		rec.Error(ctx, "Bot tokens not configured", Metadata{}.
			Str("errorKind", Kind(ErrConfigurationMissing)).
			Bool("hasMatrixToken", settings.MatrixToken != "").
			Bool("hasMattermostToken", settings.MattermostToken != ""))
		return nil, nil
	}

	matrix, err := factory.NewMatrixAdapter(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix adapter: %w", err)
	}
	mattermost, err := factory.NewMattermostAdapter(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create mattermost adapter: %w", err)
	}

	router := NewRouter(store, matrix, mattermost, rec, log)
	router.Register()

	if err = matrix.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to matrix: %w", err)
	}
	if err = mattermost.Connect(ctx); err != nil {
		matrix.Disconnect()
		return nil, fmt.Errorf("failed to connect to mattermost: %w", err)
	}

	if err = store.ClearErrorLogs(ctx); err != nil {
		rec.Warn(ctx, "Failed to clear error logs", Metadata{}.Err(err))
	}

	rec.Info(ctx, "Bridge initialized successfully", nil)
	return &Relay{
		Matrix:     matrix,
		Mattermost: mattermost,
		Router:     router,
	}, nil
}
