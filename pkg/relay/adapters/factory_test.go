// Copyright 2024-2026 Aiku AI

package adapters

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

func TestFactory(t *testing.T) {
	t.Parallel()
	f := &Factory{DisplaynameTemplate: "{{.Username}}", Log: zerolog.Nop()}
	settings := &relay.Settings{
		MatrixHomeserver:    "https://matrix.example.com",
		MatrixToken:         "mx-token",
		MattermostServerURL: "https://mm.example.com",
		MattermostToken:     "mm-token",
	}

	mx, err := f.NewMatrixAdapter(settings)
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if mx.Platform() != relay.PlatformMatrix || mx.Ready() {
		t.Errorf("unexpected matrix adapter state")
	}
	mm, err := f.NewMattermostAdapter(settings)
	if err != nil {
		t.Fatalf("mattermost: %v", err)
	}
	if mm.Platform() != relay.PlatformMattermost || mm.Ready() {
		t.Errorf("unexpected mattermost adapter state")
	}
}

func TestFactoryMissingSettings(t *testing.T) {
	t.Parallel()
	f := &Factory{Log: zerolog.Nop()}
	if _, err := f.NewMatrixAdapter(&relay.Settings{MatrixToken: "tok"}); !errors.Is(err, relay.ErrConfigurationMissing) {
		t.Errorf("matrix: expected ErrConfigurationMissing, got %v", err)
	}
	if _, err := f.NewMattermostAdapter(&relay.Settings{MattermostServerURL: "https://mm"}); !errors.Is(err, relay.ErrConfigurationMissing) {
		t.Errorf("mattermost: expected ErrConfigurationMissing, got %v", err)
	}
}

func TestFactoryInvalidTemplate(t *testing.T) {
	t.Parallel()
	f := &Factory{DisplaynameTemplate: "{{.Bad", Log: zerolog.Nop()}
	_, err := f.NewMattermostAdapter(&relay.Settings{MattermostServerURL: "https://mm", MattermostToken: "t"})
	if err == nil {
		t.Error("expected template parse error")
	}
}

func TestAvatarFetcher(t *testing.T) {
	t.Parallel()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/users/alice-id/image" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	}))
	defer srv.Close()

	if avatarFetcher(&relay.Settings{MattermostServerURL: srv.URL}) != nil {
		t.Error("no fetcher without a Mattermost token")
	}
	fetcher := avatarFetcher(&relay.Settings{MattermostServerURL: srv.URL, MattermostToken: "mm-token"})
	if fetcher == nil {
		t.Fatal("expected a fetcher")
	}
	data, contentType, ok, err := fetcher.FetchAvatar(context.Background(), srv.URL+"/api/v4/users/alice-id/image")
	if err != nil || !ok || len(data) == 0 || contentType != "image/png" {
		t.Fatalf("FetchAvatar: %d bytes, %q, ok=%v, err=%v", len(data), contentType, ok, err)
	}
	if gotAuth != "BEARER mm-token" {
		t.Errorf("expected the bot session on the request, got %q", gotAuth)
	}
}
