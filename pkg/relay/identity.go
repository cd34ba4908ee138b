// Copyright 2024-2026 Aiku AI

package relay

// ResolveIdentity returns the identity a message from authorID on platform
// source is relayed under. The first masquerade of the bridge matching the
// author wins both fields; otherwise the native name and avatar are used
// unchanged. A masquerade with an empty platform matches either side.
func ResolveIdentity(bridge *Bridge, masquerades []*Masquerade, source Platform, authorID, fallbackName, fallbackAvatar string) Identity {
	for _, m := range masquerades {
		if m == nil || m.UserID != authorID {
			continue
		}
		if bridge != nil && m.BridgeID != bridge.ID {
			continue
		}
		if m.Platform != "" && m.Platform != source {
			continue
		}
		return Identity{DisplayName: m.Username, AvatarURL: m.AvatarURL}
	}
	return Identity{DisplayName: fallbackName, AvatarURL: fallbackAvatar}
}
