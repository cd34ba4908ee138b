// Copyright 2024-2026 Aiku AI

// Package mattermostfmt converts Mattermost markdown to Matrix HTML.
package mattermostfmt

import (
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/format/mdext"
)

var markupRe = regexp.MustCompile("[*_~`#>\\[|]|^\\s*[-+]\\s|^\\s*\\d+[.)]\\s")

// renderer follows Mattermost's dialect: GitHub-style tables, strikethrough
// and autolinks, newlines as line breaks. Raw HTML is shown as text and
// dangerous link schemes are dropped.
var renderer = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Table, extension.Linkify, mdext.EscapeHTML),
	goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
)

// Render converts Mattermost markdown to Matrix message content. Messages
// without markup are returned as plain text.
func Render(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	if text == "" || !hasMarkup(text) {
		return content
	}
	formatted := ToHTML(text)
	if formatted == text || formatted == html.EscapeString(text) {
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = formatted
	return content
}

func hasMarkup(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if markupRe.MatchString(line) {
			return true
		}
	}
	return false
}

// ToHTML converts Mattermost markdown to Matrix HTML. A lone paragraph is
// returned without its <p> wrapper.
func ToHTML(text string) string {
	var buf strings.Builder
	if err := renderer.Convert([]byte(text), &buf); err != nil {
		return html.EscapeString(text)
	}
	return format.UnwrapSingleParagraph(buf.String())
}
