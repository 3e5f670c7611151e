package realtime

import (
	"time"

	"messenger/cmd/identity/ids"
)

// NewSessionID returns a ULID used as websocket session id.
func NewSessionID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		// crypto/rand failure; a timestamp keeps the session addressable in logs.
		return "s" + now.UTC().Format("20060102T150405.000000000")
	}
	return id
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return ""
	}
	return id
}
