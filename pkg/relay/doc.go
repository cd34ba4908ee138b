// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay implements the message relay between a Matrix room and a
// Mattermost channel.
//
// A bridge pairs one Matrix room with one Mattermost channel. Every message
// posted on either side is reproduced on the other side under the author's
// name and avatar, or under a per-bridge masquerade when one is configured
// for the author.
//
// # Core Types
//
// [Adapter] owns the connection to one platform. The Matrix and Mattermost
// implementations live in the matrix and mattermost sub-packages.
//
// [Router] receives inbound messages from both adapters and relays them to
// the opposite side. Both directions run the exact same steps; only the
// channel fields of [Bridge] differ.
//
// [Recorder] is the log sink. Every record goes to zerolog and to the
// relay_log table through [Store].
//
// [Initialize] validates the bot tokens, builds both adapters, wires them to
// a router and connects them. It never returns an error: failures end up in
// the log sink and the process keeps running without an active relay.
//
// # Echo Prevention
//
// Adapters mark messages posted by either bridge bot as [InboundMessage.IsBot]
// and the router drops those before doing anything else. Relayed posts carry
// an identity override, so adapters also treat any post with an override as
// bot-originated.
package relay
