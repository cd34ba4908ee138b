// Copyright 2024-2026 Aiku AI

package relay

import "errors"

var (
	// ErrConfigurationMissing means a bot token is absent.
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrNotReady means a send was attempted before the adapter finished its
	// ready handshake.
	ErrNotReady = errors.New("adapter not ready")
	// ErrInvalidTarget means the destination channel does not exist or the
	// bot cannot post in it.
	ErrInvalidTarget = errors.New("invalid target channel")
	// ErrLookupFailure means a masquerade or reply preview lookup failed.
	ErrLookupFailure = errors.New("lookup failed")
	// ErrTransportFailure means the platform rejected or never answered a
	// request.
	ErrTransportFailure = errors.New("transport failure")
)

// Kind returns a short name for the error class of err, for log metadata.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigurationMissing):
		return "ConfigurationMissing"
	case errors.Is(err, ErrNotReady):
		return "NotReady"
	case errors.Is(err, ErrInvalidTarget):
		return "InvalidTarget"
	case errors.Is(err, ErrLookupFailure):
		return "LookupFailure"
	case errors.Is(err, ErrTransportFailure):
		return "TransportFailure"
	default:
		return "Unknown"
	}
}
