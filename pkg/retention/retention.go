// Copyright 2024-2026 Aiku AI

// Package retention periodically deletes old relay log records and
// message links.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Store deletes rows older than a cutoff and returns how many were removed.
type Store interface {
	DeleteLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteLinksOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service runs the cleanup on a cron schedule.
type Service struct {
	store  Store
	maxAge time.Duration
	log    zerolog.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// New creates a service that deletes rows older than maxAge whenever
// schedule fires. schedule is a standard five-field cron expression or a
// descriptor such as "@daily".
func New(store Store, schedule string, maxAge time.Duration, log zerolog.Logger) (*Service, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}
	s := &Service{
		store:  store,
		maxAge: maxAge,
		log:    log.With().Str("component", "retention").Logger(),
		cron:   cron.New(),
		now:    time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Service) Start() {
	s.log.Info().Dur("max_age", s.maxAge).Msg("Starting retention job")
	s.cron.Start()
}

// Stop stops the schedule and waits for a running cleanup to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce deletes everything older than the max age. Failures are logged.
func (s *Service) RunOnce(ctx context.Context) {
	cutoff := s.now().Add(-s.maxAge)
	logs, err := s.store.DeleteLogsOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Err(err).Msg("Failed to delete old log records")
	}
	links, err := s.store.DeleteLinksOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Err(err).Msg("Failed to delete old message links")
	}
	s.log.Info().
		Time("cutoff", cutoff).
		Int64("log_records", logs).
		Int64("message_links", links).
		Msg("Retention cleanup finished")
}
