// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

func (a *Adapter) handleEvent(ctx context.Context, evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		a.handlePosted(ctx, evt)
	default:
		a.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts a post from a websocket event. It returns
// (nil, nil) for posts that must never reach the relay: the bot's own posts
// and system messages.
func (a *Adapter) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}
	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	if post.UserId == a.botUserID {
		return nil, nil
	}
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}
	return &post, nil
}

func (a *Adapter) handlePosted(ctx context.Context, evt *model.WebSocketEvent) {
	post, err := a.parsePostedEvent(evt)
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	} else if post == nil {
		return
	}
	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler == nil {
		return
	}

	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	go func() {
		msg := a.toInbound(ctx, post, senderName)
		a.log.Debug().
			Str("post_id", post.Id).
			Str("channel_id", post.ChannelId).
			Str("user_id", post.UserId).
			Bool("is_bot", msg.IsBot).
			Msg("Received new message")
		handler(ctx, msg)
	}()
}

// toInbound converts a post to the relay's message form. Posts made through
// webhooks, integrations and other bridges are flagged as bot output.
func (a *Adapter) toInbound(ctx context.Context, post *model.Post, senderName string) *relay.InboundMessage {
	msg := &relay.InboundMessage{
		ID:              post.Id,
		ChannelID:       post.ChannelId,
		AuthorID:        post.UserId,
		AuthorAvatarURL: a.avatarURL(post.UserId),
		Content:         post.Message,
		ReplyToID:       post.RootId,
		IsBot:           isBotPost(post) || isBridgeUsername(senderName, a.cfg.BotPrefix),
		Raw:             post,
	}
	user, err := a.getUser(ctx, post.UserId)
	if err != nil {
		a.log.Warn().Err(err).Str("user_id", post.UserId).Msg("Failed to look up post author")
		msg.AuthorName = senderName
		if msg.AuthorName == "" {
			msg.AuthorName = post.UserId
		}
		return msg
	}
	msg.AuthorName = a.displayNameOf(user)
	if user.IsBot || isBridgeUsername(user.Username, a.cfg.BotPrefix) {
		msg.IsBot = true
	}
	return msg
}

func isBotPost(post *model.Post) bool {
	for _, key := range []string{"from_bot", "from_webhook"} {
		switch v := post.GetProp(key).(type) {
		case string:
			if v == "true" {
				return true
			}
		case bool:
			if v {
				return true
			}
		}
	}
	name, _ := post.GetProp("override_username").(string)
	return name != ""
}

// isBridgeUsername reports whether username belongs to bridge
// infrastructure: the legacy bridge bot, its ghost users, or any name with
// the configured prefix.
func isBridgeUsername(username, botPrefix string) bool {
	switch {
	case username == "":
		return false
	case username == "mattermost-bridge":
		return true
	case strings.HasPrefix(username, "mattermost_"):
		return true
	case botPrefix != "" && strings.HasPrefix(username, botPrefix):
		return true
	default:
		return false
	}
}
