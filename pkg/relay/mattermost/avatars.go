// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
)

// ProfileImages downloads user profile images with the bot session. The
// image endpoint rejects anonymous requests, so the Matrix side cannot
// fetch the avatar URLs of inbound posts on its own.
type ProfileImages struct {
	client *model.Client4
}

// NewProfileImages creates a fetcher for the server at serverURL.
func NewProfileImages(serverURL, token string) *ProfileImages {
	client := model.NewAPIv4Client(strings.TrimSuffix(serverURL, "/"))
	client.SetToken(token)
	return &ProfileImages{client: client}
}

// FetchAvatar returns the profile image behind avatarURL. ok is false if
// avatarURL is not a profile image URL of this server.
func (p *ProfileImages) FetchAvatar(ctx context.Context, avatarURL string) ([]byte, string, bool, error) {
	userID, ok := profileImageUser(p.client.APIURL, avatarURL)
	if !ok {
		return nil, "", false, nil
	}
	data, _, err := p.client.GetProfileImage(ctx, userID, "")
	if err != nil {
		return nil, "", true, fmt.Errorf("failed to get profile image of %s: %w", userID, err)
	}
	return data, http.DetectContentType(data), true, nil
}

func profileImageURL(apiURL, userID string) string {
	return apiURL + "/users/" + userID + "/image"
}

// profileImageUser extracts the user id from a profile image URL built by
// profileImageURL.
func profileImageUser(apiURL, avatarURL string) (string, bool) {
	rest, ok := strings.CutPrefix(avatarURL, apiURL+"/users/")
	if !ok {
		return "", false
	}
	userID, ok := strings.CutSuffix(rest, "/image")
	if !ok || userID == "" || strings.Contains(userID, "/") {
		return "", false
	}
	return userID, true
}
