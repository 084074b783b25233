// Package camera defines the Grabber interface for the wearable camera.
//
// The camera is strictly best-effort: a failed capture degrades the turn to
// text-only grounding, it never aborts the turn. Callers must treat
// [ErrUnavailable] (and any other capture error) as "answer without the
// image".
package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrUnavailable indicates the camera could not deliver a frame: device
// offline, capture timeout, or malformed image data.
var ErrUnavailable = errors.New("camera: unavailable")

// Frame is one captured still image.
type Frame struct {
	// JPEG is the encoded image.
	JPEG []byte

	// CapturedAt is when the frame was taken.
	CapturedAt time.Time
}

// Grabber is the abstraction over any still-frame source.
//
// Capture returns the most recent frame available. Implementations must
// bound their own acquisition latency (the vision gate budget is a few
// hundred milliseconds) and must be safe for concurrent use.
type Grabber interface {
	Capture(ctx context.Context) (Frame, error)
}

// SaveFrame writes a frame to dir with a timestamp-derived name and returns
// the path, which becomes the interaction record's image reference. The
// directory is created if missing.
func SaveFrame(dir string, frame Frame) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("camera: create frame dir: %w", err)
	}
	name := frame.CapturedAt.UTC().Format("20060102T150405.000000000Z") + ".jpg"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, frame.JPEG, 0o644); err != nil {
		return "", fmt.Errorf("camera: write frame: %w", err)
	}
	return path, nil
}
