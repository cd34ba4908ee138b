// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mattermost implements the relay adapter for Mattermost.
package mattermost

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// Config holds the Mattermost adapter options.
type Config struct {
	ServerURL string
	Token     string
	// DisplaynameTemplate renders the author name of inbound posts from a
	// DisplaynameParams. Empty means the username.
	DisplaynameTemplate string
	// BotPrefix marks usernames whose posts are treated as bot output.
	BotPrefix string
	// ReconnectDelay is the initial delay between websocket reconnects.
	ReconnectDelay time.Duration
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username  string
	Nickname  string
	FirstName string
	LastName  string
}

// eventStream is a live websocket feed.
type eventStream interface {
	Events() <-chan *model.WebSocketEvent
	Close()
}

type dialFunc func(wsURL, token string) (eventStream, error)

type wsStream struct {
	client *model.WebSocketClient
}

func (s *wsStream) Events() <-chan *model.WebSocketEvent { return s.client.EventChannel }
func (s *wsStream) Close()                               { s.client.Close() }

func dialWebSocket(wsURL, token string) (eventStream, error) {
	client, err := model.NewWebSocketClient4(wsURL, token)
	if err != nil {
		return nil, err
	}
	client.Listen()
	return &wsStream{client: client}, nil
}

// Adapter relays messages to and from a Mattermost server through a bot
// account.
type Adapter struct {
	cfg         Config
	client      *model.Client4
	displayname *template.Template
	dial        dialFunc
	log         zerolog.Logger

	ready     atomic.Bool
	botUserID string

	mu      sync.Mutex
	handler relay.MessageHandler
	stream  eventStream
	cancel  context.CancelFunc

	usersMu sync.Mutex
	users   map[string]*model.User

	channelsMu sync.Mutex
	channels   map[string]struct{}
}

var _ relay.Adapter = (*Adapter)(nil)

// New creates a disconnected adapter.
func New(cfg Config, log zerolog.Logger) (*Adapter, error) {
	if cfg.ServerURL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("%w: mattermost server URL and token are required", relay.ErrConfigurationMissing)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	a := &Adapter{
		cfg:      cfg,
		client:   model.NewAPIv4Client(strings.TrimSuffix(cfg.ServerURL, "/")),
		dial:     dialWebSocket,
		log:      log.With().Str("component", "mattermost").Logger(),
		users:    make(map[string]*model.User),
		channels: make(map[string]struct{}),
	}
	a.client.SetToken(cfg.Token)
	if cfg.DisplaynameTemplate != "" {
		tpl, err := template.New("displayname").Parse(cfg.DisplaynameTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse displayname template: %w", err)
		}
		a.displayname = tpl
	}
	return a, nil
}

func (a *Adapter) Platform() relay.Platform { return relay.PlatformMattermost }

func (a *Adapter) Ready() bool { return a.ready.Load() }

// RendersReplies is false: Mattermost threads do not show the replied-to
// text, so relayed replies carry a quote.
func (a *Adapter) RendersReplies() bool { return false }

func (a *Adapter) OnMessage(handler relay.MessageHandler) {
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()
}

// Connect verifies the bot session and opens the websocket.
func (a *Adapter) Connect(ctx context.Context) error {
	a.log.Info().Str("server_url", a.cfg.ServerURL).Msg("Connecting to Mattermost")
	me, resp, err := a.client.GetMe(ctx, "")
	if err != nil {
		return classify(fmt.Errorf("failed to verify Mattermost session: %w", err), resp)
	}
	a.botUserID = me.Id
	a.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	stream, err := a.dial(httpToWS(a.client.URL), a.cfg.Token)
	if err != nil {
		return fmt.Errorf("%w: failed to connect websocket: %v", relay.ErrTransportFailure, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.mu.Lock()
	a.stream = stream
	a.cancel = cancel
	a.mu.Unlock()
	a.ready.Store(true)
	a.log.Info().Msg("Mattermost bot ready")

	go a.listen(runCtx, stream)
	return nil
}

// Disconnect closes the websocket and stops reconnecting.
func (a *Adapter) Disconnect() {
	a.ready.Store(false)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	if a.stream != nil {
		a.stream.Close()
		a.stream = nil
	}
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if rest, ok := strings.CutPrefix(url, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(url, "http://"); ok {
		return "ws://" + rest
	}
	return url
}

func (a *Adapter) listen(ctx context.Context, stream eventStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-stream.Events():
			if !ok {
				a.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				stream = a.reconnect(ctx)
				if stream == nil {
					return
				}
				continue
			}
			if evt == nil {
				continue
			}
			a.handleEvent(ctx, evt)
		}
	}
}

// reconnect dials until it succeeds or ctx is done, doubling the delay up
// to a minute. It returns nil if ctx ended first. Posting goes over REST,
// so the adapter stays ready while the websocket is down.
func (a *Adapter) reconnect(ctx context.Context) eventStream {
	delay := a.cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		stream, err := a.dial(httpToWS(a.client.URL), a.cfg.Token)
		if err != nil {
			a.log.Error().Err(err).Dur("retry_in", delay).Msg("Failed to reconnect WebSocket")
			delay = min(delay*2, time.Minute)
			continue
		}
		a.mu.Lock()
		if ctx.Err() != nil {
			a.mu.Unlock()
			stream.Close()
			return nil
		}
		a.stream = stream
		a.mu.Unlock()
		a.log.Info().Msg("WebSocket reconnected")
		return stream
	}
}

// Send creates a post in channelID as the bot, overriding the shown name
// and icon when opts carries them.
func (a *Adapter) Send(ctx context.Context, channelID, content string, opts relay.SendOptions) (string, error) {
	if !a.Ready() {
		return "", relay.ErrNotReady
	}
	if err := a.checkChannel(ctx, channelID); err != nil {
		return "", err
	}

	post := &model.Post{
		ChannelId: channelID,
		Message:   relay.FormatReplyPreview(opts.ReplyPreview, content),
	}
	post.AddProp("from_bot", "true")
	if opts.DisplayName != "" {
		post.AddProp("override_username", opts.DisplayName)
	}
	if opts.AvatarURL != "" {
		post.AddProp("override_icon_url", opts.AvatarURL)
	}
	if opts.ReplyToID != "" {
		post.RootId = a.threadRoot(ctx, channelID, opts.ReplyToID)
	}

	created, resp, err := a.client.CreatePost(ctx, post)
	if err != nil {
		return "", classify(fmt.Errorf("failed to create post: %w", err), resp)
	}
	return created.Id, nil
}

// checkChannel confirms the channel exists and is visible to the bot.
// Successful checks are cached.
func (a *Adapter) checkChannel(ctx context.Context, channelID string) error {
	a.channelsMu.Lock()
	_, known := a.channels[channelID]
	a.channelsMu.Unlock()
	if known {
		return nil
	}
	_, resp, err := a.client.GetChannel(ctx, channelID, "")
	if err != nil {
		return classify(fmt.Errorf("failed to get channel %s: %w", channelID, err), resp)
	}
	a.channelsMu.Lock()
	a.channels[channelID] = struct{}{}
	a.channelsMu.Unlock()
	return nil
}

// threadRoot returns the root id to post a reply to postID under. Posts
// that cannot be found or belong to another channel yield "", so the reply
// is sent as a new top-level post.
func (a *Adapter) threadRoot(ctx context.Context, channelID, postID string) string {
	target, _, err := a.client.GetPost(ctx, postID, "")
	if err != nil {
		a.log.Debug().Err(err).Str("post_id", postID).Msg("Reply target not found, posting without thread")
		return ""
	}
	if target.ChannelId != channelID {
		return ""
	}
	if target.RootId != "" {
		return target.RootId
	}
	return target.Id
}

// FetchMessage returns a post of channelID for use as a reply preview.
func (a *Adapter) FetchMessage(ctx context.Context, channelID, messageID string) (*relay.QuotedMessage, error) {
	post, resp, err := a.client.GetPost(ctx, messageID, "")
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get post %s: %w", messageID, err), resp)
	}
	if post.ChannelId != channelID {
		return nil, fmt.Errorf("post %s is not in channel %s", messageID, channelID)
	}
	name, _ := post.GetProp("override_username").(string)
	if name == "" {
		name = a.authorName(ctx, post.UserId, "")
	}
	return &relay.QuotedMessage{ID: post.Id, AuthorName: name, Content: post.Message}, nil
}

func (a *Adapter) getUser(ctx context.Context, userID string) (*model.User, error) {
	a.usersMu.Lock()
	user, ok := a.users[userID]
	a.usersMu.Unlock()
	if ok {
		return user, nil
	}
	user, _, err := a.client.GetUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	a.usersMu.Lock()
	a.users[userID] = user
	a.usersMu.Unlock()
	return user, nil
}

func (a *Adapter) authorName(ctx context.Context, userID, fallback string) string {
	user, err := a.getUser(ctx, userID)
	if err != nil {
		a.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to look up post author")
		if fallback != "" {
			return fallback
		}
		return userID
	}
	return a.displayNameOf(user)
}

func (a *Adapter) displayNameOf(user *model.User) string {
	return a.FormatDisplayname(DisplaynameParams{
		Username:  user.Username,
		Nickname:  user.Nickname,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
}

// FormatDisplayname renders the configured displayname template, falling
// back to the username.
func (a *Adapter) FormatDisplayname(params DisplaynameParams) string {
	if a.displayname == nil {
		return params.Username
	}
	var sb strings.Builder
	if err := a.displayname.Execute(&sb, params); err != nil {
		return params.Username
	}
	if name := strings.TrimSpace(sb.String()); name != "" {
		return name
	}
	return params.Username
}

func (a *Adapter) avatarURL(userID string) string {
	return profileImageURL(a.client.APIURL, userID)
}

// classify maps a failed API call onto the relay error kinds.
func classify(err error, resp *model.Response) error {
	if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", relay.ErrInvalidTarget, err)
	}
	return fmt.Errorf("%w: %w", relay.ErrTransportFailure, err)
}
