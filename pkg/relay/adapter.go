// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"time"
)

// Adapter owns the connection to one chat platform.
type Adapter interface {
	Platform() Platform

	// Connect starts the platform connection. It returns once the
	// connection has been started; Ready reports when the handshake
	// completed. Errors after Connect returns are logged, never returned.
	Connect(ctx context.Context) error
	// Disconnect tears the connection down and clears the ready flag.
	Disconnect()
	Ready() bool

	// Send posts content to channelID and returns the id of the new
	// message on this platform. It fails with ErrNotReady before the
	// handshake completed and with ErrInvalidTarget if the channel cannot
	// be posted to.
	Send(ctx context.Context, channelID, content string, opts SendOptions) (string, error)
	// OnMessage registers the handler for inbound messages, replacing any
	// previous one. Messages from the adapter's own bot user are never
	// passed to it.
	OnMessage(handler MessageHandler)
	// FetchMessage returns a message from the channel history.
	FetchMessage(ctx context.Context, channelID, messageID string) (*QuotedMessage, error)
	// RendersReplies reports whether the platform shows reply context on
	// its own. Adapters returning false prepend a quote when SendOptions
	// carries a ReplyPreview.
	RendersReplies() bool
}

// Store is the storage the relay reads its state from.
type Store interface {
	LogSink
	GetSettings(ctx context.Context) (*Settings, error)
	GetBridges(ctx context.Context) ([]*Bridge, error)
	GetMasquerades(ctx context.Context, bridgeID int64) ([]*Masquerade, error)
	ClearErrorLogs(ctx context.Context) error
}

// MessageLink records that a message on one platform was relayed as a
// message on the other.
type MessageLink struct {
	BridgeID       int64
	SourcePlatform Platform
	SourceID       string
	DestPlatform   Platform
	DestID         string
	CreatedAt      time.Time
}

// MessageLinker is implemented by stores that remember relayed message
// pairs. The router uses it to translate reply references.
type MessageLinker interface {
	LinkMessages(ctx context.Context, link *MessageLink) error
	// FindLinkedMessage returns the id of the counterpart on target of
	// message id on platform, or "" if the pair is unknown.
	FindLinkedMessage(ctx context.Context, bridgeID int64, platform Platform, id string, target Platform) (string, error)
}

// AdapterFactory builds the two adapters from the stored settings.
type AdapterFactory interface {
	NewMatrixAdapter(settings *Settings) (Adapter, error)
	NewMattermostAdapter(settings *Settings) (Adapter, error)
}
