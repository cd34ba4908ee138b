// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"strings"
)

// ResolveReply fetches the message replyToID from channelID through adapter
// for use as a reply preview. It returns nil when there is nothing to quote
// or the lookup failed; failures are recorded at warn level.
func ResolveReply(ctx context.Context, adapter Adapter, channelID, replyToID string, rec *Recorder) *QuotedMessage {
	if replyToID == "" || adapter == nil {
		return nil
	}
	quoted, err := adapter.FetchMessage(ctx, channelID, replyToID)
	if err == nil && quoted == nil {
		err = fmt.Errorf("message %s not found", replyToID)
	}
	if err != nil {
		rec.Warn(ctx, "Failed to fetch reply preview", Metadata{}.
			Str("platform", string(adapter.Platform())).
			Str("channelId", channelID).
			Str("replyToId", replyToID).
			Err(fmt.Errorf("%w: %w", ErrLookupFailure, err)))
		return nil
	}
	return quoted
}

// FirstLine returns s up to its first line break.
func FirstLine(s string) string {
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}

// FormatReplyPreview prepends a one-line quote of quoted to content.
func FormatReplyPreview(quoted *QuotedMessage, content string) string {
	if quoted == nil {
		return content
	}
	return "> **" + quoted.AuthorName + ":** " + FirstLine(quoted.Content) + "\n" + content
}
