// Package mood defines the mood signal and the canonical emotion set.
package mood

import (
	"math/rand/v2"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Emotion is one of the canonical emotion labels.
type Emotion string

// Canonical emotions, as offered for manual selection and used for degradation.
const (
	Angry     Emotion = "Angry"
	Calm      Emotion = "Calm"
	Disgust   Emotion = "Disgust"
	Fearful   Emotion = "Fearful"
	Happy     Emotion = "Happy"
	Neutral   Emotion = "Neutral"
	Sad       Emotion = "Sad"
	Surprised Emotion = "Surprised"
)

// ManualConfidence is the confidence assigned to a user-selected mood.
const ManualConfidence = 95

var canonical = []Emotion{Angry, Calm, Disgust, Fearful, Happy, Neutral, Sad, Surprised}

// Canonical returns the canonical emotions in display order.
func Canonical() []Emotion {
	return append([]Emotion(nil), canonical...)
}

// Lookup resolves a label case-insensitively to a canonical emotion.
func Lookup(label string) (Emotion, bool) {
	norm := Emotion(FormatLabel(strings.TrimSpace(label)))
	for _, e := range canonical {
		if e == norm {
			return e, true
		}
	}
	return "", false
}

// FormatLabel upper-cases the first letter and lower-cases the rest.
func FormatLabel(s string) string {
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// Signal is the final (label, confidence) pair handed to the UI.
type Signal struct {
	Label             string `json:"label"`
	ConfidencePercent int    `json:"confidencePercent"`
}

// Valid reports whether the signal satisfies its invariants.
func (s Signal) Valid() bool {
	return s.Label != "" && s.ConfidencePercent >= 0 && s.ConfidencePercent <= 100
}

// Rand is the randomness used by calibration and degradation.
type Rand interface {
	// IntN returns a uniform integer in [0, n).
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand uses the goroutine-safe math/rand/v2 global source.
var DefaultRand Rand = globalRand{}
