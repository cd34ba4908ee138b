// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Manager owns the running relay and rebuilds it when settings change.
type Manager struct {
	store   Store
	factory AdapterFactory
	rec     *Recorder
	log     zerolog.Logger

	mu      sync.Mutex
	current *Relay
}

func NewManager(store Store, factory AdapterFactory, rec *Recorder, log zerolog.Logger) *Manager {
	return &Manager{store: store, factory: factory, rec: rec, log: log}
}

// Start initializes the relay. It reports whether the relay is running;
// the reason for a failure is in the relay log.
func (m *Manager) Start(ctx context.Context) bool {
	return m.Reload(ctx)
}

// Reload stops the running relay, if any, and initializes a new one from
// the current settings.
func (m *Manager) Reload(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.log.Info().Msg("Stopping relay for reload")
		m.current.Stop()
		m.current = nil
	}
	m.current = Initialize(ctx, m.store, m.factory, m.rec, m.log)
	return m.current != nil
}

// Current returns the running relay or nil.
func (m *Manager) Current() *Relay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Stop disconnects the running relay.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Stop()
	m.current = nil
}
