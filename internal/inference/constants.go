package inference

import "time"

// Client configuration constants
const (
	DefaultBaseURL  = "http://localhost:5112"
	DefaultDeadline = 5 * time.Second

	// Deadline for the auxiliary GET endpoints
	ProbeTimeout = 2 * time.Second

	// Response bodies beyond this are truncated
	DefaultMaxBodyBytes = 1 << 20

	// Bytes of an error body kept for logs
	BodyPreviewLimit = 200

	FileField = "file"

	BreakerName = "inference-analyze"
)
