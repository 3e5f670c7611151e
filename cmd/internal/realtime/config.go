package realtime

import "time"

// WSConfig tunes the websocket gateway. Zero fields take the defaults from DefaultWSConfig.
type WSConfig struct {
	// RequireAuth rejects handshakes without a resolvable token.
	RequireAuth bool
	// DevInsecure disables the websocket library's own origin check.
	DevInsecure bool

	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxPingFailures   int

	// Inbound frames allowed per RateWindow before the session is closed.
	RateEvents int
	RateWindow time.Duration

	MaxFrameBytes int64
	MaxRelayBytes int
}

const minSendQueueSize = 32

// DefaultWSConfig returns the gateway defaults for local development.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		AllowedOrigins: []string{"http://localhost", "http://127.0.0.1"},

		WriteTimeout:    5 * time.Second,
		ReadIdleTimeout: 2 * time.Minute,
		SendQueueSize:   256,

		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		MaxPingFailures:   3,

		RateEvents: 120,
		RateWindow: 10 * time.Second,

		MaxFrameBytes: 64 << 10,
		MaxRelayBytes: 16 << 10,
	}
}

func (c WSConfig) withDefaults() WSConfig {
	def := DefaultWSConfig()
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = def.AllowedOrigins
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	c.SendQueueSize = max(c.SendQueueSize, minSendQueueSize)
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.MaxPingFailures <= 0 {
		c.MaxPingFailures = def.MaxPingFailures
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if c.MaxRelayBytes <= 0 {
		c.MaxRelayBytes = def.MaxRelayBytes
	}
	return c
}
