// Copyright 2024-2026 Aiku AI

package mattermostfmt

import (
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"
)

func TestRenderPlainText(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"", "hello world", "issue #5 is fixed", "snake_case_name", "line one\nline two"} {
		content := Render(text)
		if content.Format != "" || content.FormattedBody != "" {
			t.Errorf("%q: expected plain text, got format %q body %q", text, content.Format, content.FormattedBody)
		}
		if content.Body != text {
			t.Errorf("%q: body changed to %q", text, content.Body)
		}
		if content.MsgType != event.MsgText {
			t.Errorf("%q: msgtype %q", text, content.MsgType)
		}
	}
}

func TestRenderFormatted(t *testing.T) {
	t.Parallel()
	content := Render("**hello** world")
	if content.Format != event.FormatHTML {
		t.Fatalf("expected HTML format, got %q", content.Format)
	}
	if content.FormattedBody != "<strong>hello</strong> world" {
		t.Errorf("formatted body: got %q", content.FormattedBody)
	}
	if content.Body != "**hello** world" {
		t.Errorf("body must keep the original markdown, got %q", content.Body)
	}
}

func TestToHTML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**bold**", "<strong>bold</strong>"},
		{"underscore italic", "_it_", "<em>it</em>"},
		{"star italic", "*it*", "<em>it</em>"},
		{"strikethrough", "~~gone~~", "<del>gone</del>"},
		{"inline code protects markup", "use `a_b_c` here", "use <code>a_b_c</code> here"},
		{"link", "[site](https://example.com)", `<a href="https://example.com">site</a>`},
		{"heading", "# Title", "<h1>Title</h1>"},
		{"unordered list", "- a\n- b", "<ul>\n<li>a</li>\n<li>b</li>\n</ul>"},
		{"ordered list keeps start", "3. c\n4. d", "<ol start=\"3\">\n<li>c</li>\n<li>d</li>\n</ol>"},
		{"quote continues on next line", "> quoted\nreply", "<blockquote>\n<p>quoted<br>\nreply</p>\n</blockquote>"},
		{"line breaks", "**one**\ntwo", "<strong>one</strong><br>\ntwo"},
		{"paragraphs", "first\n\nsecond", "<p>first</p>\n<p>second</p>"},
		{"code fence", "```go\nx := 1 < 2\n```", "<pre><code class=\"language-go\">x := 1 &lt; 2\n</code></pre>"},
		{"autolink", "see https://example.com", `see <a href="https://example.com">https://example.com</a>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ToHTML(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToHTMLUnsafeLinks(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"[x](javascript:alert(1))", "[x](data:text/html;base64,AAAA)"} {
		got := ToHTML(in)
		if strings.Contains(got, "javascript:") || strings.Contains(got, "data:text") {
			t.Errorf("%q: unsafe scheme kept in link: %q", in, got)
		}
	}
}

func TestToHTMLEscapesRawHTML(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"<script>alert(1)</script>", "hi <b>there</b> **x**"} {
		got := ToHTML(in)
		if strings.Contains(got, "<script") || strings.Contains(got, "<b>") {
			t.Errorf("%q: raw HTML passed through: %q", in, got)
		}
	}
}

func TestCodeFenceIsNotFormatted(t *testing.T) {
	t.Parallel()
	got := ToHTML("```\n**not bold**\n- not a list\n```")
	if strings.Contains(got, "<strong>") || strings.Contains(got, "<li>") {
		t.Errorf("markup inside code fence was rendered: %q", got)
	}
	if !strings.Contains(got, "**not bold**") {
		t.Errorf("code fence content lost: %q", got)
	}
}

func FuzzToHTML(f *testing.F) {
	f.Add("**hello** _world_")
	f.Add("```go\ncode\n```")
	f.Add("> quote\n- item\n1. one")
	f.Fuzz(func(t *testing.T, in string) {
		out := ToHTML(in)
		if strings.Contains(in, "<script") && strings.Contains(out, "<script") {
			t.Errorf("raw script tag in output for %q", in)
		}
	})
}
