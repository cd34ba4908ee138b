// Copyright 2024-2026 Aiku AI

package matrix

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mattermost-relay/pkg/matrixfmt"
	"github.com/aiku/mattermost-relay/pkg/mattermostfmt"
	"github.com/aiku/mattermost-relay/pkg/relay"
)

const maxAvatarSize = 5 * 1024 * 1024

func (a *Adapter) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == a.client.UserID {
		return
	}
	content := evt.Content.AsMessage()
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}
	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler == nil {
		return
	}
	go func() {
		msg := a.toInbound(ctx, evt, content)
		a.log.Debug().
			Stringer("event_id", evt.ID).
			Stringer("room_id", evt.RoomID).
			Stringer("sender", evt.Sender).
			Bool("is_bot", msg.IsBot).
			Msg("Received new message")
		handler(ctx, msg)
	}()
}

// handleMember drops the cached profile of a user whose membership changed.
func (a *Adapter) handleMember(_ context.Context, evt *event.Event) {
	if evt.StateKey == nil {
		return
	}
	a.membersMu.Lock()
	delete(a.members, memberKey{room: evt.RoomID, user: id.UserID(*evt.StateKey)})
	a.membersMu.Unlock()
}

// toInbound converts a room message to the relay's message form. Notices
// and events that already carry a per-message profile come from bots.
func (a *Adapter) toInbound(ctx context.Context, evt *event.Event, content *event.MessageEventContent) *relay.InboundMessage {
	msg := &relay.InboundMessage{
		ID:        evt.ID.String(),
		ChannelID: evt.RoomID.String(),
		AuthorID:  evt.Sender.String(),
		IsBot:     content.MsgType == event.MsgNotice || hasProfile(evt),
		Content:   messageText(content),
		Raw:       evt,
	}
	if content.RelatesTo != nil && content.RelatesTo.InReplyTo != nil {
		msg.ReplyToID = content.RelatesTo.InReplyTo.EventID.String()
	}
	name, avatar := a.member(ctx, evt.RoomID, evt.Sender)
	msg.AuthorName = name
	msg.AuthorAvatarURL = a.downloadURL(avatar)
	return msg
}

// messageText renders a message body as Mattermost markdown.
func messageText(content *event.MessageEventContent) string {
	text := matrixfmt.Parse(content)
	switch content.MsgType {
	case event.MsgEmote:
		return "_" + text + "_"
	case event.MsgImage, event.MsgFile, event.MsgVideo, event.MsgAudio:
		if content.URL != "" {
			return fmt.Sprintf("%s (%s)", text, content.URL)
		}
	}
	return text
}

func hasProfile(evt *event.Event) bool {
	_, ok := evt.Content.Raw[perMessageProfileKey]
	return ok
}

func profileName(evt *event.Event) string {
	profile, _ := evt.Content.Raw[perMessageProfileKey].(map[string]any)
	name, _ := profile["displayname"].(string)
	return name
}

// member returns the room display name and avatar of userID, falling back
// to the localpart.
func (a *Adapter) member(ctx context.Context, roomID id.RoomID, userID id.UserID) (string, id.ContentURIString) {
	key := memberKey{room: roomID, user: userID}
	a.membersMu.Lock()
	cached, ok := a.members[key]
	a.membersMu.Unlock()
	if !ok {
		var content event.MemberEventContent
		err := a.client.StateEvent(ctx, roomID, event.StateMember, userID.String(), &content)
		if err != nil {
			a.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to get member profile")
		} else {
			cached = &content
			a.membersMu.Lock()
			a.members[key] = cached
			a.membersMu.Unlock()
		}
	}
	if cached != nil && cached.Displayname != "" {
		return cached.Displayname, cached.AvatarURL
	}
	localpart, _, _ := userID.Parse()
	if localpart == "" {
		localpart = strings.TrimPrefix(userID.String(), "@")
	}
	if cached != nil {
		return localpart, cached.AvatarURL
	}
	return localpart, ""
}

// downloadURL converts an mxc:// URI to a public HTTP URL on the
// homeserver. Homeservers that only serve authenticated media reject
// anonymous fetches of it.
func (a *Adapter) downloadURL(uri id.ContentURIString) string {
	parsed, err := uri.Parse()
	if err != nil || parsed.IsEmpty() {
		return ""
	}
	return a.client.BuildURL(mautrix.MediaURLPath{"v3", "download", parsed.Homeserver, parsed.FileID})
}

// resolveAvatar returns an mxc:// URI for avatarURL, uploading HTTP images
// to the homeserver once. It returns "" if the avatar cannot be used.
func (a *Adapter) resolveAvatar(ctx context.Context, avatarURL string) id.ContentURIString {
	switch {
	case avatarURL == "":
		return ""
	case strings.HasPrefix(avatarURL, "mxc://"):
		return id.ContentURIString(avatarURL)
	case !strings.HasPrefix(avatarURL, "http://") && !strings.HasPrefix(avatarURL, "https://"):
		return ""
	}
	a.avatarsMu.Lock()
	cached, ok := a.avatars[avatarURL]
	a.avatarsMu.Unlock()
	if ok {
		return cached
	}
	uri, err := a.uploadAvatar(ctx, avatarURL)
	if err != nil {
		a.log.Warn().Err(err).Str("avatar_url", avatarURL).Msg("Failed to upload avatar")
		return ""
	}
	a.avatarsMu.Lock()
	a.avatars[avatarURL] = uri
	a.avatarsMu.Unlock()
	return uri
}

func (a *Adapter) uploadAvatar(ctx context.Context, avatarURL string) (id.ContentURIString, error) {
	data, contentType, err := a.downloadAvatar(ctx, avatarURL)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	upload, err := a.client.UploadBytes(ctx, data, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}
	return upload.ContentURI.CUString(), nil
}

func (a *Adapter) downloadAvatar(ctx context.Context, avatarURL string) ([]byte, string, error) {
	if a.cfg.Avatars != nil {
		data, contentType, ok, err := a.cfg.Avatars.FetchAvatar(ctx, avatarURL)
		if ok {
			if err != nil {
				return nil, "", fmt.Errorf("failed to download avatar: %w", err)
			}
			return data, contentType, nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, avatarURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.client.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download avatar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download avatar: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read avatar: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// renderMessage converts markdown to Matrix content, prefixing the sender
// name when one is given.
func renderMessage(text, displayName string) *event.MessageEventContent {
	content := mattermostfmt.Render(text)
	if displayName == "" {
		return content
	}
	prefixed := displayName + ": " + content.Body
	if content.Format == event.FormatHTML {
		content.FormattedBody = "<strong>" + html.EscapeString(displayName) + "</strong>: " + content.FormattedBody
	}
	content.Body = prefixed
	return content
}
