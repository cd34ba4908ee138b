// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is the severity of a LogRecord.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ParseLogLevel returns the level named by s, or false if s is not a level.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch LogLevel(s) {
	case LevelInfo, LevelWarn, LevelError:
		return LogLevel(s), true
	default:
		return "", false
	}
}

// LogRecord is one entry of the relay log.
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Metadata  Metadata  `json:"metadata"`
}

// LogSink persists log records.
type LogSink interface {
	CreateLog(ctx context.Context, record *LogRecord) error
}

// Recorder writes log records to zerolog and to a LogSink. A failing sink
// never fails the caller.
type Recorder struct {
	sink LogSink
	log  zerolog.Logger
	now  func() time.Time
}

// NewRecorder creates a Recorder. sink may be nil, in which case records
// only go to zerolog.
func NewRecorder(sink LogSink, log zerolog.Logger) *Recorder {
	return &Recorder{
		sink: sink,
		log:  log.With().Str("component", "relay_log").Logger(),
		now:  time.Now,
	}
}

// Info records an info-level entry.
func (r *Recorder) Info(ctx context.Context, msg string, md Metadata) {
	r.Record(ctx, LevelInfo, msg, md)
}

// Warn records a warn-level entry.
func (r *Recorder) Warn(ctx context.Context, msg string, md Metadata) {
	r.Record(ctx, LevelWarn, msg, md)
}

// Error records an error-level entry.
func (r *Recorder) Error(ctx context.Context, msg string, md Metadata) {
	r.Record(ctx, LevelError, msg, md)
}

// Record writes one entry at the given level.
func (r *Recorder) Record(ctx context.Context, level LogLevel, msg string, md Metadata) {
	if r == nil {
		return
	}
	var evt *zerolog.Event
	switch level {
	case LevelWarn:
		evt = r.log.Warn()
	case LevelError:
		evt = r.log.Error()
	default:
		evt = r.log.Info()
	}
	md.Apply(evt).Msg(msg)

	if r.sink == nil {
		return
	}
	record := &LogRecord{
		Timestamp: r.now().UTC(),
		Level:     level,
		Message:   msg,
		Metadata:  md,
	}
	// Records are written even after the triggering event's context ended.
	if err := r.sink.CreateLog(context.WithoutCancel(ctx), record); err != nil {
		r.log.Warn().Err(err).Str("record", msg).Msg("Failed to persist log record")
	}
}
