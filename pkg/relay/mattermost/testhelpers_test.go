// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is an httptest.Server simulating the parts of the Mattermost API
// the adapter uses. It records calls and stores created posts.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// ForbiddenChannels answer 403 on GetChannel.
	ForbiddenChannels map[string]bool
	// Posts maps post ID to model.Post. Created posts are added here.
	Posts map[string]*model.Post
	// FailEndpoints causes matching paths to return 500.
	FailEndpoints map[string]bool

	created []*model.Post
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users: map[string]*model.User{
			"bot-id":   {Id: "bot-id", Username: "relay", IsBot: true},
			"alice-id": {Id: "alice-id", Username: "alice", FirstName: "Alice", LastName: "Liddell"},
			"plain-id": {Id: "plain-id", Username: "plain"},
		},
		TokenToUser:       map[string]string{"bot-token": "bot-id"},
		Channels:          map[string]*model.Channel{"b1": {Id: "b1", Name: "town-square"}},
		ForbiddenChannels: make(map[string]bool),
		Posts:             make(map[string]*model.Post),
		FailEndpoints:     make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CalledPath(method, path string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// Created returns the posts created through POST /api/v4/posts.
func (f *fakeMM) Created() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]*model.Post, len(f.created))
	copy(cp, f.created)
	return cp
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: r.Method, Path: r.URL.Path, Body: string(body)})

	for prefix := range f.FailEndpoints {
		if strings.HasPrefix(r.URL.Path, prefix) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"id": "fake.error", "message": "fake error", "status_code": 500})
			return
		}
	}

	notFound := map[string]any{"id": "fake.not_found", "message": "not found", "status_code": 404}
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if u, ok := f.Users[uid]; ok && uid != "" {
			writeJSON(w, http.StatusOK, u)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"id": "fake.unauthorized", "message": "unauthorized", "status_code": 401})

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v4/users/") && strings.HasSuffix(path, "/image"):
		if f.resolveToken(r) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"id": "fake.unauthorized", "message": "unauthorized", "status_code": 401})
			return
		}
		if _, ok := f.Users[strings.TrimSuffix(strings.TrimPrefix(path, "/api/v4/users/"), "/image")]; !ok {
			writeJSON(w, http.StatusNotFound, notFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(fakePNG)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v4/users/"):
		if u, ok := f.Users[strings.TrimPrefix(path, "/api/v4/users/")]; ok {
			writeJSON(w, http.StatusOK, u)
			return
		}
		writeJSON(w, http.StatusNotFound, notFound)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v4/channels/"):
		chID := strings.TrimPrefix(path, "/api/v4/channels/")
		if f.ForbiddenChannels[chID] {
			writeJSON(w, http.StatusForbidden, map[string]any{"id": "fake.forbidden", "message": "forbidden", "status_code": 403})
			return
		}
		if ch, ok := f.Channels[chID]; ok {
			writeJSON(w, http.StatusOK, ch)
			return
		}
		writeJSON(w, http.StatusNotFound, notFound)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v4/posts/"):
		if p, ok := f.Posts[strings.TrimPrefix(path, "/api/v4/posts/")]; ok {
			writeJSON(w, http.StatusOK, p)
			return
		}
		writeJSON(w, http.StatusNotFound, notFound)

	case r.Method == http.MethodPost && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-" + strconv.Itoa(len(f.created)+1)
		post.UserId = "bot-id"
		f.created = append(f.created, &post)
		f.Posts[post.Id] = &post
		writeJSON(w, http.StatusCreated, &post)

	default:
		writeJSON(w, http.StatusNotFound, notFound)
	}
}

var fakePNG = []byte("\x89PNG\r\n\x1a\nfake")

// fakeStream stands in for the websocket connection.
type fakeStream struct {
	ch     chan *model.WebSocketEvent
	closed atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan *model.WebSocketEvent, 16)}
}

func (s *fakeStream) Events() <-chan *model.WebSocketEvent { return s.ch }
func (s *fakeStream) Close()                               { s.closed.Store(true) }

// newPostedEvent builds a posted websocket event carrying post.
func newPostedEvent(post *model.Post, senderName string) *model.WebSocketEvent {
	raw, _ := json.Marshal(post)
	evt := model.NewWebSocketEvent(model.WebsocketEventPosted, "", post.ChannelId, "", nil, "")
	return evt.SetData(map[string]any{
		"post":        string(raw),
		"sender_name": senderName,
	})
}

func testConfig(serverURL string) Config {
	return Config{
		ServerURL:           serverURL,
		Token:               "bot-token",
		DisplaynameTemplate: "{{.FirstName}} {{.LastName}}",
		BotPrefix:           "relaybot_",
		ReconnectDelay:      10 * time.Millisecond,
	}
}

// newTestAdapter returns an adapter connected to f through a fake stream.
func newTestAdapter(t *testing.T, f *fakeMM) (*Adapter, *fakeStream) {
	t.Helper()
	a, err := New(testConfig(f.Server.URL), zerolog.Nop())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	stream := newFakeStream()
	a.dial = func(string, string) (eventStream, error) { return stream, nil }
	if err = a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(a.Disconnect)
	return a, stream
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
