// Package visiongate decides whether a turn needs a camera frame.
//
// Capturing, uploading, and vision-processing a frame costs real latency and
// model tokens, so it only happens when the transcript plausibly refers to
// the physical surroundings. The classification is a pure keyword heuristic
// over the transcript — no I/O, microsecond cost — and it is deliberately
// biased toward capturing: a wasted frame costs tokens, a missing frame
// costs the user an answer about the street they are standing on.
package visiongate

import "strings"

// DefaultTriggers is the built-in trigger vocabulary. A transcript
// containing any of these (case-insensitive substring match) is classified
// as needing vision.
var DefaultTriggers = []string{
	"see",
	"look",
	"front",
	"left",
	"right",
	"ahead",
	"around",
	"in front",
	"obstacle",
	"camera",
	"image",
	"photo",
	"picture",
	"what is",
	"describe",
}

// Gate classifies transcripts. It is read-only after construction and safe
// for concurrent use.
type Gate struct {
	triggers []string
}

// New returns a Gate using the given trigger vocabulary; nil or empty means
// [DefaultTriggers]. Triggers are matched case-insensitively.
func New(triggers []string) *Gate {
	if len(triggers) == 0 {
		triggers = DefaultTriggers
	}
	lowered := make([]string, len(triggers))
	for i, t := range triggers {
		lowered[i] = strings.ToLower(strings.TrimSpace(t))
	}
	return &Gate{triggers: lowered}
}

// Needs reports whether the transcript calls for a camera frame.
func (g *Gate) Needs(transcript string) bool {
	text := strings.ToLower(transcript)
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, trigger := range g.triggers {
		if trigger == "" {
			continue
		}
		if strings.Contains(text, trigger) {
			return true
		}
	}
	return false
}

// Triggers returns a copy of the active trigger vocabulary, for logging and
// diagnostics.
func (g *Gate) Triggers() []string {
	out := make([]string, len(g.triggers))
	copy(out, g.triggers)
	return out
}
