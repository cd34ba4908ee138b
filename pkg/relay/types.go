// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"time"
)

// Platform names one side of a bridge.
type Platform string

const (
	PlatformMatrix     Platform = "matrix"
	PlatformMattermost Platform = "mattermost"
)

// Opposite returns the other side of a bridge.
func (p Platform) Opposite() Platform {
	if p == PlatformMatrix {
		return PlatformMattermost
	}
	return PlatformMatrix
}

// Bridge pairs a Matrix room with a Mattermost channel.
type Bridge struct {
	ID                  int64
	MatrixRoomID        string
	MattermostChannelID string
	Enabled             bool
	CreatedAt           time.Time
}

// ChannelFor returns the bridge's channel on the given platform.
func (b *Bridge) ChannelFor(p Platform) string {
	switch p {
	case PlatformMatrix:
		return b.MatrixRoomID
	case PlatformMattermost:
		return b.MattermostChannelID
	default:
		return ""
	}
}

// Masquerade overrides the name and avatar of one source-platform user when
// their messages are relayed through a bridge.
type Masquerade struct {
	BridgeID  int64
	Platform  Platform
	UserID    string
	Username  string
	AvatarURL string
}

// Identity is the name and avatar a relayed message is posted under.
type Identity struct {
	DisplayName string
	AvatarURL   string
}

// InboundMessage is the platform-neutral view of a message received by an
// adapter.
type InboundMessage struct {
	ID              string
	ChannelID       string
	AuthorID        string
	AuthorName      string
	AuthorAvatarURL string
	IsBot           bool
	Content         string
	ReplyToID       string

	// Raw is the native event or post the message was built from.
	Raw any
}

// IsReply reports whether the message references an earlier message.
func (m *InboundMessage) IsReply() bool {
	return m.ReplyToID != ""
}

// QuotedMessage is the referenced message of a reply, used to render a
// preview on platforms that do not display reply context.
type QuotedMessage struct {
	ID         string
	AuthorName string
	Content    string
}

// SendOptions carries the identity and reply linkage of an outbound message.
type SendOptions struct {
	DisplayName string
	AvatarURL   string
	ReplyToID   string
	// ReplyPreview is set by the router only for adapters that do not
	// render replies.
	ReplyPreview *QuotedMessage
}

// Settings are the credentials and endpoints needed to start the relay.
type Settings struct {
	MatrixHomeserver    string
	MatrixToken         string
	MattermostServerURL string
	MattermostToken     string
}

// MessageHandler receives inbound messages from an adapter.
type MessageHandler func(ctx context.Context, msg *InboundMessage)
