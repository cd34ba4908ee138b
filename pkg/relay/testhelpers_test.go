// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// sentMessage records one call to fakeAdapter.Send.
type sentMessage struct {
	ChannelID string
	Content   string
	Opts      SendOptions
}

// fakeAdapter is an in-memory Adapter that records sends.
type fakeAdapter struct {
	platform Platform
	renders  bool

	mu           sync.Mutex
	ready        bool
	handler      MessageHandler
	sent         []sentMessage
	sendErrs     []error
	history      map[string]*QuotedMessage
	fetchErr     error
	fetchCalls   []string
	connectErr   error
	connects     int
	disconnects  int
	panicOnSend  bool
	nextSerialID int
}

func newFakeAdapter(p Platform, rendersReplies bool) *fakeAdapter {
	return &fakeAdapter{
		platform: p,
		renders:  rendersReplies,
		ready:    true,
		history:  make(map[string]*QuotedMessage),
	}
}

func (f *fakeAdapter) Platform() Platform { return f.platform }

func (f *fakeAdapter) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.ready = true
	return nil
}

func (f *fakeAdapter) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.ready = false
}

func (f *fakeAdapter) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeAdapter) Send(_ context.Context, channelID, content string, opts SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnSend {
		panic("send exploded")
	}
	if !f.ready {
		return "", ErrNotReady
	}
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Content: content, Opts: opts})
	f.nextSerialID++
	return fmt.Sprintf("%s-sent-%d", f.platform, f.nextSerialID), nil
}

func (f *fakeAdapter) OnMessage(handler MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeAdapter) FetchMessage(_ context.Context, _, messageID string) (*QuotedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls = append(f.fetchCalls, messageID)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if q, ok := f.history[messageID]; ok {
		return q, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeAdapter) RendersReplies() bool { return f.renders }

func (f *fakeAdapter) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentMessage, len(f.sent))
	copy(cp, f.sent)
	return cp
}

func (f *fakeAdapter) FetchCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetchCalls...)
}

func (f *fakeAdapter) Handler() MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu            sync.Mutex
	settings      *Settings
	settingsErr   error
	bridges       []*Bridge
	bridgesErr    error
	masquerades   map[int64][]*Masquerade
	masqueradeErr error
	logs          []*LogRecord
	createLogErr  error
	clearErr      error
	clearCalls    int
	panicSettings bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:    &Settings{MatrixToken: "mx-token", MattermostToken: "mm-token"},
		masquerades: make(map[int64][]*Masquerade),
	}
}

func (s *fakeStore) GetSettings(context.Context) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicSettings {
		panic("settings table missing")
	}
	return s.settings, s.settingsErr
}

func (s *fakeStore) GetBridges(context.Context) ([]*Bridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridges, s.bridgesErr
}

func (s *fakeStore) GetMasquerades(_ context.Context, bridgeID int64) ([]*Masquerade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masqueradeErr != nil {
		return nil, s.masqueradeErr
	}
	return s.masquerades[bridgeID], nil
}

func (s *fakeStore) ClearErrorLogs(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	if s.clearErr != nil {
		return s.clearErr
	}
	kept := s.logs[:0]
	for _, l := range s.logs {
		if l.Level != LevelError {
			kept = append(kept, l)
		}
	}
	s.logs = kept
	return nil
}

func (s *fakeStore) CreateLog(_ context.Context, record *LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createLogErr != nil {
		return s.createLogErr
	}
	s.logs = append(s.logs, record)
	return nil
}

func (s *fakeStore) Logs() []*LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*LogRecord(nil), s.logs...)
}

func (s *fakeStore) LogsAt(level LogLevel) []*LogRecord {
	var out []*LogRecord
	for _, l := range s.Logs() {
		if l.Level == level {
			out = append(out, l)
		}
	}
	return out
}

// linkingStore is a fakeStore that also remembers relayed message pairs.
type linkingStore struct {
	*fakeStore
	linkMu sync.Mutex
	links  []*MessageLink
}

func (s *linkingStore) LinkMessages(_ context.Context, link *MessageLink) error {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	s.links = append(s.links, link)
	return nil
}

func (s *linkingStore) FindLinkedMessage(_ context.Context, bridgeID int64, platform Platform, id string, target Platform) (string, error) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	for _, l := range s.links {
		if l.BridgeID != bridgeID {
			continue
		}
		if l.SourcePlatform == platform && l.SourceID == id && l.DestPlatform == target {
			return l.DestID, nil
		}
		if l.DestPlatform == platform && l.DestID == id && l.SourcePlatform == target {
			return l.SourceID, nil
		}
	}
	return "", nil
}

// fakeFactory returns prebuilt adapters.
type fakeFactory struct {
	matrix, mattermost *fakeAdapter
	matrixErr          error
	mattermostErr      error
	gotSettings        *Settings
}

func (f *fakeFactory) NewMatrixAdapter(settings *Settings) (Adapter, error) {
	f.gotSettings = settings
	if f.matrixErr != nil {
		return nil, f.matrixErr
	}
	return f.matrix, nil
}

func (f *fakeFactory) NewMattermostAdapter(*Settings) (Adapter, error) {
	if f.mattermostErr != nil {
		return nil, f.mattermostErr
	}
	return f.mattermost, nil
}

// testBridge is the bridge used by most router tests.
func testBridge() *Bridge {
	return &Bridge{ID: 1, MatrixRoomID: "a1", MattermostChannelID: "b1", Enabled: true}
}

// newTestRouter creates a router over fresh fakes with testBridge configured.
// Matrix renders replies, Mattermost does not.
func newTestRouter() (*Router, *fakeStore, *fakeAdapter, *fakeAdapter) {
	store := newFakeStore()
	store.bridges = []*Bridge{testBridge()}
	mx := newFakeAdapter(PlatformMatrix, true)
	mm := newFakeAdapter(PlatformMattermost, false)
	rec := NewRecorder(store, zerolog.Nop())
	return NewRouter(store, mx, mm, rec, zerolog.Nop()), store, mx, mm
}

func metaString(md Metadata, key string) string {
	v, _ := md.Get(key)
	s, _ := v.(string)
	return s
}
