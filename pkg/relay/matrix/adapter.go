// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrix implements the relay adapter for Matrix.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// perMessageProfileKey carries the masqueraded sender of a relayed event.
const perMessageProfileKey = "com.beeper.per_message_profile"

// Config holds the Matrix adapter options.
type Config struct {
	HomeserverURL string
	Token         string
	// SyncRetryDelay is the initial delay before restarting a failed sync.
	SyncRetryDelay time.Duration
	// Avatars downloads avatars that need credentials of the other
	// platform. Other URLs are fetched anonymously.
	Avatars AvatarFetcher
}

// AvatarFetcher downloads avatar images on behalf of the adapter.
type AvatarFetcher interface {
	// FetchAvatar returns the image behind avatarURL. ok is false if the
	// fetcher does not serve avatarURL.
	FetchAvatar(ctx context.Context, avatarURL string) (data []byte, contentType string, ok bool, err error)
}

// Adapter relays messages to and from Matrix rooms through a bot account.
type Adapter struct {
	cfg    Config
	client *mautrix.Client
	syncer *mautrix.DefaultSyncer
	log    zerolog.Logger

	ready atomic.Bool

	mu      sync.Mutex
	handler relay.MessageHandler
	cancel  context.CancelFunc
	done    chan struct{}

	membersMu sync.Mutex
	members   map[memberKey]*event.MemberEventContent

	avatarsMu sync.Mutex
	avatars   map[string]id.ContentURIString
}

type memberKey struct {
	room id.RoomID
	user id.UserID
}

var _ relay.Adapter = (*Adapter)(nil)

// New creates a disconnected adapter.
func New(cfg Config, log zerolog.Logger) (*Adapter, error) {
	if cfg.HomeserverURL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("%w: matrix homeserver and token are required", relay.ErrConfigurationMissing)
	}
	if cfg.SyncRetryDelay <= 0 {
		cfg.SyncRetryDelay = 2 * time.Second
	}
	client, err := mautrix.NewClient(cfg.HomeserverURL, "", cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	a := &Adapter{
		cfg:     cfg,
		client:  client,
		syncer:  mautrix.NewDefaultSyncer(),
		log:     log.With().Str("component", "matrix").Logger(),
		members: make(map[memberKey]*event.MemberEventContent),
		avatars: make(map[string]id.ContentURIString),
	}
	client.Log = a.log
	client.Syncer = a.syncer
	a.syncer.OnSync(a.onSync)
	a.syncer.OnEventType(event.EventMessage, a.handleMessage)
	a.syncer.OnEventType(event.StateMember, a.handleMember)
	return a, nil
}

func (a *Adapter) Platform() relay.Platform { return relay.PlatformMatrix }

func (a *Adapter) Ready() bool { return a.ready.Load() }

// RendersReplies is true: Matrix clients show the replied-to event.
func (a *Adapter) RendersReplies() bool { return true }

func (a *Adapter) OnMessage(handler relay.MessageHandler) {
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()
}

// Connect checks the access token and starts syncing. The adapter becomes
// ready once the initial sync completed.
func (a *Adapter) Connect(ctx context.Context) error {
	a.log.Info().Str("homeserver", a.cfg.HomeserverURL).Msg("Connecting to Matrix")
	resp, err := a.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to verify Matrix session: %w", relay.ErrTransportFailure, err)
	}
	a.client.UserID = resp.UserID
	a.client.DeviceID = resp.DeviceID
	a.log.Info().Stringer("user_id", resp.UserID).Msg("Authenticated")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel, a.done = cancel, done
	a.mu.Unlock()
	go a.syncLoop(runCtx, done)
	return nil
}

// Disconnect stops syncing and waits for the sync loop to exit.
func (a *Adapter) Disconnect() {
	a.ready.Store(false)
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	a.client.StopSync()
	<-done
}

func (a *Adapter) syncLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	delay := a.cfg.SyncRetryDelay
	for {
		err := a.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return
		}
		a.log.Error().Err(err).Dur("retry_in", delay).Msg("Sync failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, time.Minute)
	}
}

// onSync marks the adapter ready after the first sync and drops the
// backlog it contains, so history is never relayed.
func (a *Adapter) onSync(_ context.Context, _ *mautrix.RespSync, since string) bool {
	if since == "" {
		if !a.ready.Swap(true) {
			a.log.Info().Msg("Matrix bot ready")
		}
		return false
	}
	a.ready.Store(true)
	return true
}

// Send posts content to the room channelID. A display name or avatar in
// opts is attached as a per-message profile, with a name prefix as
// fallback for clients that do not support it.
func (a *Adapter) Send(ctx context.Context, channelID, content string, opts relay.SendOptions) (string, error) {
	if !a.Ready() {
		return "", relay.ErrNotReady
	}
	roomID := id.RoomID(channelID)
	if !strings.HasPrefix(channelID, "!") {
		return "", fmt.Errorf("%w: %q is not a room ID", relay.ErrInvalidTarget, channelID)
	}

	msg := renderMessage(relay.FormatReplyPreview(opts.ReplyPreview, content), opts.DisplayName)
	if opts.ReplyToID != "" {
		if target := a.replyTarget(ctx, roomID, opts.ReplyToID); target != "" {
			msg.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: target}}
		}
	}
	wrapped := &event.Content{Parsed: msg}
	if opts.DisplayName != "" || opts.AvatarURL != "" {
		profile := map[string]any{
			"id":           opts.DisplayName,
			"displayname":  opts.DisplayName,
			"has_fallback": opts.DisplayName != "",
		}
		if avatar := a.resolveAvatar(ctx, opts.AvatarURL); avatar != "" {
			profile["avatar_url"] = string(avatar)
		}
		wrapped.Raw = map[string]any{perMessageProfileKey: profile}
	}

	resp, err := a.client.SendMessageEvent(ctx, roomID, event.EventMessage, wrapped, mautrix.ReqSendEvent{
		TransactionID: "relay-" + uuid.NewString(),
	})
	if err != nil {
		return "", classify(fmt.Errorf("failed to send message: %w", err))
	}
	return resp.EventID.String(), nil
}

// replyTarget returns eventID if it exists in roomID, or "" otherwise.
func (a *Adapter) replyTarget(ctx context.Context, roomID id.RoomID, eventID string) id.EventID {
	if _, err := a.client.GetEvent(ctx, roomID, id.EventID(eventID)); err != nil {
		a.log.Debug().Err(err).Str("event_id", eventID).Msg("Reply target not found, sending without reply")
		return ""
	}
	return id.EventID(eventID)
}

// FetchMessage returns an event of room channelID for use as a reply
// preview.
func (a *Adapter) FetchMessage(ctx context.Context, channelID, messageID string) (*relay.QuotedMessage, error) {
	roomID := id.RoomID(channelID)
	evt, err := a.client.GetEvent(ctx, roomID, id.EventID(messageID))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get event %s: %w", messageID, err))
	}
	if evt.Type != event.EventMessage {
		return nil, fmt.Errorf("event %s is %s, not a message", messageID, evt.Type.Type)
	}
	if err = evt.Content.ParseRaw(evt.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		return nil, fmt.Errorf("failed to parse event %s: %w", messageID, err)
	}
	content := evt.Content.AsMessage()
	name := profileName(evt)
	if name == "" {
		name, _ = a.member(ctx, roomID, evt.Sender)
	}
	return &relay.QuotedMessage{ID: messageID, AuthorName: name, Content: messageText(content)}, nil
}

// classify maps a failed client call onto the relay error kinds.
func classify(err error) error {
	if errors.Is(err, mautrix.MForbidden) || errors.Is(err, mautrix.MNotFound) {
		return fmt.Errorf("%w: %w", relay.ErrInvalidTarget, err)
	}
	return fmt.Errorf("%w: %w", relay.ErrTransportFailure, err)
}
