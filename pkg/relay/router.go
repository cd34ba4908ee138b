// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// direction is one way through a bridge. Both directions of a router are
// built from the same code; only the platforms are swapped.
type direction struct {
	from, to     Platform
	source, dest Adapter
}

// Router relays inbound messages from each adapter to the other one.
type Router struct {
	store  Store
	links  MessageLinker
	rec    *Recorder
	log    zerolog.Logger
	byFrom map[Platform]direction
}

// NewRouter creates a router between a Matrix and a Mattermost adapter. If
// store also implements MessageLinker, relayed message pairs are recorded
// and used to translate reply references.
func NewRouter(store Store, matrix, mattermost Adapter, rec *Recorder, log zerolog.Logger) *Router {
	r := &Router{
		store: store,
		rec:   rec,
		log:   log.With().Str("component", "router").Logger(),
		byFrom: map[Platform]direction{
			PlatformMatrix: {
				from: PlatformMatrix, to: PlatformMattermost,
				source: matrix, dest: mattermost,
			},
			PlatformMattermost: {
				from: PlatformMattermost, to: PlatformMatrix,
				source: mattermost, dest: matrix,
			},
		},
	}
	if linker, ok := store.(MessageLinker); ok {
		r.links = linker
	}
	return r
}

// Register installs the router's handlers on both adapters.
func (r *Router) Register() {
	for from, d := range r.byFrom {
		d.source.OnMessage(r.HandlerFor(from))
	}
}

// HandlerFor returns the handler for messages arriving from platform from.
func (r *Router) HandlerFor(from Platform) MessageHandler {
	return func(ctx context.Context, msg *InboundMessage) {
		r.Relay(ctx, from, msg)
	}
}

// Relay reproduces msg, received on platform from, on the other side of its
// bridge. Every failure is recorded and the message dropped; Relay never
// panics.
func (r *Router) Relay(ctx context.Context, from Platform, msg *InboundMessage) {
	if msg == nil || msg.IsBot {
		return
	}
	d, ok := r.byFrom[from]
	if !ok {
		r.log.Warn().Str("platform", string(from)).Msg("Message from unknown platform")
		return
	}
	md := Metadata{}.
		Str("messageId", msg.ID).
		Str("source", string(d.from)).
		Str("destination", string(d.to))
	defer func() {
		if p := recover(); p != nil {
			r.rec.Error(ctx, "Failed to relay message", md.Str("error", fmt.Sprint(p)).Str("errorKind", "Panic"))
		}
	}()

	bridge, err := r.findBridge(ctx, d, msg.ChannelID)
	if err != nil {
		r.rec.Error(ctx, "Failed to look up bridge", md.Str("channelId", msg.ChannelID).Err(err))
		return
	}
	if bridge == nil {
		return
	}
	md = md.Int("bridgeId", bridge.ID)

	identity := r.resolveIdentity(ctx, d, bridge, msg, md)
	opts := SendOptions{
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
	}
	if msg.IsReply() {
		opts.ReplyToID = r.translateReply(ctx, d, bridge, msg.ReplyToID)
		if !d.dest.RendersReplies() {
			opts.ReplyPreview = ResolveReply(ctx, d.source, msg.ChannelID, msg.ReplyToID, r.rec)
		}
	}

	sentID, err := d.dest.Send(ctx, bridge.ChannelFor(d.to), msg.Content, opts)
	if err != nil {
		r.rec.Error(ctx, "Failed to relay message", md.Err(err))
		return
	}
	r.rec.Info(ctx, "Message relayed", md.
		Bool("isReply", msg.IsReply()).
		Str("destMessageId", sentID))

	r.linkMessages(ctx, d, bridge, msg.ID, sentID)
}

// findBridge returns the enabled bridge whose channel on d.from is
// channelID, nil if there is none, and an error if there is more than one.
func (r *Router) findBridge(ctx context.Context, d direction, channelID string) (*Bridge, error) {
	if channelID == "" {
		return nil, nil
	}
	bridges, err := r.store.GetBridges(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get bridges: %w", ErrLookupFailure, err)
	}
	var match *Bridge
	for _, b := range bridges {
		if b == nil || !b.Enabled || b.ChannelFor(d.from) != channelID {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("multiple enabled bridges (%d, %d) match %s channel %s", match.ID, b.ID, d.from, channelID)
		}
		match = b
	}
	return match, nil
}

func (r *Router) resolveIdentity(ctx context.Context, d direction, bridge *Bridge, msg *InboundMessage, md Metadata) Identity {
	masquerades, err := r.store.GetMasquerades(ctx, bridge.ID)
	if err != nil {
		r.rec.Warn(ctx, "Failed to look up masquerades", md.Err(fmt.Errorf("%w: %w", ErrLookupFailure, err)))
		masquerades = nil
	}
	return ResolveIdentity(bridge, masquerades, d.from, msg.AuthorID, msg.AuthorName, msg.AuthorAvatarURL)
}

// translateReply maps a reply reference from d.from to its counterpart on
// d.to. Unknown references are passed through unchanged and left to the
// destination adapter to validate.
func (r *Router) translateReply(ctx context.Context, d direction, bridge *Bridge, replyToID string) string {
	if r.links == nil {
		return replyToID
	}
	counterpart, err := r.links.FindLinkedMessage(ctx, bridge.ID, d.from, replyToID, d.to)
	if err != nil {
		r.log.Warn().Err(err).
			Int64("bridge_id", bridge.ID).
			Str("reply_to_id", replyToID).
			Msg("Failed to look up linked message")
		return replyToID
	}
	if counterpart == "" {
		return replyToID
	}
	return counterpart
}

func (r *Router) linkMessages(ctx context.Context, d direction, bridge *Bridge, sourceID, destID string) {
	if r.links == nil || sourceID == "" || destID == "" {
		return
	}
	err := r.links.LinkMessages(ctx, &MessageLink{
		BridgeID:       bridge.ID,
		SourcePlatform: d.from,
		SourceID:       sourceID,
		DestPlatform:   d.to,
		DestID:         destID,
	})
	if err != nil {
		r.log.Warn().Err(err).
			Int64("bridge_id", bridge.ID).
			Str("message_id", sourceID).
			Msg("Failed to store message link")
	}
}
