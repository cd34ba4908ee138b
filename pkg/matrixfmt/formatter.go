// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixfmt converts Matrix message content to Mattermost markdown.
package matrixfmt

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
)

var replyFallbackRe = regexp.MustCompile(`(?s)^<mx-reply>.*?</mx-reply>`)

// parser renders Matrix HTML in the markdown dialect Mattermost understands.
// Mattermost has no spoilers or underline, so both degrade to plain text.
var parser = &format.HTMLParser{
	TabsToSpaces:   4,
	Newline:        "\n",
	HorizontalLine: "\n---\n",
	PillConverter:  format.DefaultPillConverter,
	LinkConverter: func(text, href string, _ format.Context) string {
		if text == href {
			return href
		}
		return fmt.Sprintf("[%s](%s)", text, href)
	},
	SpoilerConverter: func(text, _ string, _ format.Context) string {
		return text
	},
}

// Parse converts Matrix message content to Mattermost markdown. Reply
// fallbacks are removed and user pills are rendered as their display text.
func Parse(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return StripReplyFallback(content.Body)
	}
	return HTMLToMarkdown(content.FormattedBody)
}

// StripReplyFallback removes the quoted lines Matrix clients put at the top
// of a reply's plain text body.
func StripReplyFallback(body string) string {
	if !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	if i == len(lines) || lines[i] != "" {
		// Not a fallback, just a message that starts with a quote.
		return body
	}
	return strings.Join(lines[i+1:], "\n")
}

// HTMLToMarkdown converts a Matrix formatted_body to Mattermost markdown.
func HTMLToMarkdown(text string) string {
	text = replyFallbackRe.ReplaceAllString(text, "")
	return parser.Parse(text, format.NewContext(context.Background()))
}
