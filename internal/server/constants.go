package server

import "time"

// Server configuration constants
const (
	// Largest accepted request body
	MaxBodyBytes = 4 << 10

	// Per-message websocket write bound
	WSWriteTimeout = 5 * time.Second

	// Defaults for Options
	DefaultRateLimitRequests = 10
	DefaultRateLimitWindow   = time.Minute
)
