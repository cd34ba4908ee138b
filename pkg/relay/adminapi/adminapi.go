// Copyright 2024-2026 Aiku AI

// Package adminapi serves the relay status, recent log records and a reload
// endpoint over HTTP.
package adminapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// maxReloadBodySize is the maximum allowed request body for reload (1 MB).
const maxReloadBodySize = 1 << 20

const maxLogLimit = 500

// Relays is the running relay as seen by the API.
type Relays interface {
	Current() *relay.Relay
	Reload(ctx context.Context) bool
}

// Store is the storage the API reads from.
type Store interface {
	GetBridges(ctx context.Context) ([]*relay.Bridge, error)
	RecentLogs(ctx context.Context, level relay.LogLevel, limit int) ([]*relay.LogRecord, error)
}

// Server is the admin HTTP API.
type Server struct {
	relays Relays
	store  Store
	secret string
	log    zerolog.Logger
}

// New creates the API. If secret is non-empty, every request must carry it
// as a bearer token.
func New(relays Relays, store Store, secret string, log zerolog.Logger) *Server {
	return &Server{
		relays: relays,
		store:  store,
		secret: secret,
		log:    log.With().Str("component", "admin_api").Logger(),
	}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Running         bool `json:"running"`
	MatrixReady     bool `json:"matrix_ready"`
	MattermostReady bool `json:"mattermost_ready"`
	Bridges         int  `json:"bridges"`
	EnabledBridges  int  `json:"enabled_bridges"`
}

// ReloadResponse is the body of POST /api/reload.
type ReloadResponse struct {
	Running bool `json:"running"`
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.HandleStatus)
	mux.HandleFunc("/api/logs", s.HandleLogs)
	mux.HandleFunc("/api/reload", s.HandleReload)
	return s.middleware(mux)
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", addr).Msg("Starting admin API")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		log := s.log.With().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		if s.secret != "" {
			want := "Bearer " + s.secret
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(want)) != 1 {
				log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected unauthenticated request")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		log.Debug().Str("remote_addr", r.RemoteAddr).Msg("Handling request")
		next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context())))
	})
}

// HandleStatus is an HTTP handler for GET /api/status.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	bridges, err := s.store.GetBridges(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Err(err).Msg("Failed to get bridges")
		writeError(w, http.StatusInternalServerError, "failed to get bridges")
		return
	}
	resp := StatusResponse{Bridges: len(bridges)}
	for _, b := range bridges {
		if b.Enabled {
			resp.EnabledBridges++
		}
	}
	if current := s.relays.Current(); current != nil {
		resp.Running = true
		resp.MatrixReady = current.Matrix.Ready()
		resp.MattermostReady = current.Mattermost.Ready()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleLogs is an HTTP handler for GET /api/logs. It accepts optional
// level and limit query parameters.
func (s *Server) HandleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	var level relay.LogLevel
	if raw := query.Get("level"); raw != "" {
		var ok bool
		if level, ok = relay.ParseLogLevel(raw); !ok {
			writeError(w, http.StatusBadRequest, "invalid level")
			return
		}
	}
	limit := 50
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxLogLimit)
	}
	logs, err := s.store.RecentLogs(r.Context(), level, limit)
	if err != nil {
		zerolog.Ctx(r.Context()).Err(err).Msg("Failed to get log records")
		writeError(w, http.StatusInternalServerError, "failed to get log records")
		return
	}
	if logs == nil {
		logs = []*relay.LogRecord{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// HandleReload is an HTTP handler for POST /api/reload. It rebuilds the
// relay from the stored settings, dropping the running one.
func (s *Server) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxReloadBodySize)
		if _, err := io.Copy(io.Discard, r.Body); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
	}
	zerolog.Ctx(r.Context()).Info().Str("remote_addr", r.RemoteAddr).Msg("Relay reload requested")
	// The relay outlives the request.
	running := s.relays.Reload(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, ReloadResponse{Running: running})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
