package orchestrator

// Manager configuration constants
const (
	// Per-subscriber event buffer
	EventBuffer = 64
)
