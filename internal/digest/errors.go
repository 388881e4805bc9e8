package digest

import "errors"

// Error classes. Components wrap causes with one of these so callers can
// classify with errors.Is while keeping the underlying error.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrSourceFetch   = errors.New("source fetch error")
	ErrAnalysis      = errors.New("analysis error")
	ErrDelivery      = errors.New("delivery error")
	ErrStateStore    = errors.New("state store error")

	// ErrAllSourcesFailed is returned when no channel of a digest could be fetched.
	ErrAllSourcesFailed = errors.New("all channel fetches failed")
)
