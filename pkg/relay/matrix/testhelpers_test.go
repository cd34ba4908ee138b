// Copyright 2024-2026 Aiku AI

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const botMXID = "@relay:example.com"

// sentEvent is a message the adapter sent to the fake homeserver.
type sentEvent struct {
	RoomID  string
	TxnID   string
	Content map[string]any
}

// fakeHomeserver is an httptest.Server implementing the client-server API
// endpoints the adapter uses.
type fakeHomeserver struct {
	Server *httptest.Server

	mu sync.Mutex
	// Backlog is returned by the initial sync.
	Backlog []map[string]any
	// Events maps event ID to the event returned by GetEvent.
	Events map[string]map[string]any
	// Members maps "room|user" to member event content.
	Members map[string]map[string]any
	// Forbidden rooms reject sends with M_FORBIDDEN.
	Forbidden map[string]bool
	// FailSends makes every send return a 500.
	FailSends bool

	batches     [][]map[string]any
	batchNo     int
	sent        []sentEvent
	uploads     int
	memberCalls int
}

func newFakeHomeserver() *fakeHomeserver {
	f := &fakeHomeserver{
		Events:    make(map[string]map[string]any),
		Members:   make(map[string]map[string]any),
		Forbidden: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeHomeserver) Close() {
	f.Server.Close()
}

// Queue delivers events in the next incremental sync.
func (f *fakeHomeserver) Queue(events ...map[string]any) {
	f.mu.Lock()
	f.batches = append(f.batches, events)
	f.mu.Unlock()
}

func (f *fakeHomeserver) Sent() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentEvent, len(f.sent))
	copy(cp, f.sent)
	return cp
}

func (f *fakeHomeserver) Uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func (f *fakeHomeserver) MemberCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memberCalls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func matrixError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"errcode": code, "error": strings.ToLower(code)})
}

func (f *fakeHomeserver) handler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/avatar.png" {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\nfake"))
		return
	}
	if strings.HasPrefix(path, "/_matrix/client/") && r.Header.Get("Authorization") != "Bearer bot-token" {
		matrixError(w, http.StatusUnauthorized, "M_UNKNOWN_TOKEN")
		return
	}
	body, _ := io.ReadAll(r.Body)

	switch {
	case path == "/_matrix/client/v3/account/whoami":
		writeJSON(w, http.StatusOK, map[string]string{"user_id": botMXID, "device_id": "DEV"})

	case strings.HasPrefix(path, "/_matrix/client/v3/user/") && strings.HasSuffix(path, "/filter"):
		writeJSON(w, http.StatusOK, map[string]string{"filter_id": "f1"})

	case path == "/_matrix/client/v3/sync":
		f.sync(w, r)

	case strings.HasSuffix(path, "/upload"):
		f.mu.Lock()
		f.uploads++
		n := f.uploads
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"content_uri": "mxc://example.com/uploaded" + strconv.Itoa(n)})

	case strings.HasPrefix(path, "/_matrix/client/v3/rooms/"):
		f.room(w, r.Method, strings.Split(strings.TrimPrefix(path, "/_matrix/client/v3/rooms/"), "/"), body)

	default:
		matrixError(w, http.StatusNotFound, "M_UNRECOGNIZED")
	}
}

func (f *fakeHomeserver) sync(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	var events []map[string]any
	if since == "" {
		f.mu.Lock()
		events = f.Backlog
		f.mu.Unlock()
	} else {
		deadline := time.Now().Add(20 * time.Millisecond)
		for time.Now().Before(deadline) && events == nil {
			f.mu.Lock()
			if len(f.batches) > 0 {
				events, f.batches = f.batches[0], f.batches[1:]
			}
			f.mu.Unlock()
			if events == nil {
				time.Sleep(2 * time.Millisecond)
			}
		}
	}
	f.mu.Lock()
	f.batchNo++
	next := "s" + strconv.Itoa(f.batchNo)
	f.mu.Unlock()

	rooms := map[string]any{}
	for _, evt := range events {
		roomID := evt["room_id"].(string)
		room, ok := rooms[roomID].(map[string]any)
		if !ok {
			room = map[string]any{"timeline": map[string]any{"events": []any{}}}
			rooms[roomID] = room
		}
		timeline := room["timeline"].(map[string]any)
		timeline["events"] = append(timeline["events"].([]any), evt)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"next_batch": next,
		"rooms":      map[string]any{"join": rooms},
	})
}

func (f *fakeHomeserver) room(w http.ResponseWriter, method string, parts []string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roomID := parts[0]
	switch {
	case method == http.MethodPut && len(parts) == 4 && parts[1] == "send":
		if f.Forbidden[roomID] {
			matrixError(w, http.StatusForbidden, "M_FORBIDDEN")
			return
		}
		if f.FailSends {
			matrixError(w, http.StatusInternalServerError, "M_UNKNOWN")
			return
		}
		var content map[string]any
		_ = json.Unmarshal(body, &content)
		f.sent = append(f.sent, sentEvent{RoomID: roomID, TxnID: parts[3], Content: content})
		writeJSON(w, http.StatusOK, map[string]string{"event_id": "$sent" + strconv.Itoa(len(f.sent))})

	case method == http.MethodGet && len(parts) == 3 && parts[1] == "event":
		if evt, ok := f.Events[parts[2]]; ok && evt["room_id"] == roomID {
			writeJSON(w, http.StatusOK, evt)
			return
		}
		matrixError(w, http.StatusNotFound, "M_NOT_FOUND")

	case method == http.MethodGet && len(parts) == 4 && parts[1] == "state" && parts[2] == "m.room.member":
		f.memberCalls++
		if content, ok := f.Members[roomID+"|"+parts[3]]; ok {
			writeJSON(w, http.StatusOK, content)
			return
		}
		matrixError(w, http.StatusNotFound, "M_NOT_FOUND")

	default:
		matrixError(w, http.StatusNotFound, "M_UNRECOGNIZED")
	}
}

var eventCounter struct {
	sync.Mutex
	n int
}

// messageEvent builds a room message event as it appears in a sync.
func messageEvent(roomID, sender string, content map[string]any) map[string]any {
	eventCounter.Lock()
	eventCounter.n++
	n := eventCounter.n
	eventCounter.Unlock()
	return map[string]any{
		"type":             "m.room.message",
		"event_id":         "$evt" + strconv.Itoa(n),
		"room_id":          roomID,
		"sender":           sender,
		"origin_server_ts": 1700000000000 + n,
		"content":          content,
	}
}

func testConfig(hsURL string) Config {
	return Config{HomeserverURL: hsURL, Token: "bot-token", SyncRetryDelay: 10 * time.Millisecond}
}

// newTestAdapter returns an adapter that completed its initial sync.
func newTestAdapter(t *testing.T, f *fakeHomeserver) *Adapter {
	t.Helper()
	return newTestAdapterWithConfig(t, testConfig(f.Server.URL))
}

func newTestAdapterWithConfig(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	a, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err = a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(a.Disconnect)
	eventually(t, a.Ready, "adapter never became ready")
	return a
}

// eventually polls cond until it holds or two seconds have passed.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// fakeAvatars serves avatars under prefix, counting fetches.
type fakeAvatars struct {
	prefix string

	mu      sync.Mutex
	fetched []string
}

func (f *fakeAvatars) FetchAvatar(_ context.Context, avatarURL string) ([]byte, string, bool, error) {
	if !strings.HasPrefix(avatarURL, f.prefix) {
		return nil, "", false, nil
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, avatarURL)
	f.mu.Unlock()
	if strings.HasSuffix(avatarURL, "/missing/image") {
		return nil, "", true, errors.New("not found")
	}
	return []byte("\x89PNG\r\n\x1a\nfake"), "image/png", true, nil
}

func (f *fakeAvatars) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}
