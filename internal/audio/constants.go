package audio

import "time"

// Audio capture configuration constants
const (
	DefaultSampleRate = 16000
	DefaultDuration   = 3 * time.Second

	// Frames per read; ~64ms at 16kHz
	FramesPerBuffer = 1024

	// Extra time granted past the recording duration before the device is
	// considered stalled
	CaptureGrace = time.Second

	Channels = 1
	BitDepth = 16

	Filename    = "voice.wav"
	ContentType = "audio/wav"
)
