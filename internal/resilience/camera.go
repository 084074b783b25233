package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/visionaid-ai/visionaid/pkg/provider/camera"
)

var _ camera.Grabber = (*CameraBreaker)(nil)

// CameraBreaker wraps a [camera.Grabber] with a [CircuitBreaker]. While the
// breaker is open, Capture fails immediately instead of waiting out the
// capture timeout, so visual questions degrade to text-only answers without
// any added latency.
type CameraBreaker struct {
	inner camera.Grabber
	cb    *CircuitBreaker
}

// NewCameraBreaker wraps inner with a breaker. A zero cfg uses the package
// defaults; cfg.Name defaults to "camera".
func NewCameraBreaker(inner camera.Grabber, cfg Config, log *slog.Logger) *CameraBreaker {
	if cfg.Name == "" {
		cfg.Name = "camera"
	}
	if cfg.Log == nil {
		cfg.Log = log
	}
	return &CameraBreaker{inner: inner, cb: New(cfg)}
}

// Capture delegates to the wrapped grabber unless the breaker is open, in
// which case it returns [camera.ErrUnavailable] without touching the device.
// Context cancellation does not count against the breaker: an interrupted
// turn says nothing about camera health.
func (c *CameraBreaker) Capture(ctx context.Context) (camera.Frame, error) {
	var (
		frame     camera.Frame
		cancelled bool
	)
	err := c.cb.Execute(func() error {
		f, err := c.inner.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				cancelled = true
				return nil
			}
			return err
		}
		frame = f
		return nil
	})
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return camera.Frame{}, fmt.Errorf("%w: circuit open", camera.ErrUnavailable)
	case err != nil:
		return camera.Frame{}, err
	case cancelled:
		return camera.Frame{}, ctx.Err()
	}
	return frame, nil
}

// State exposes the underlying breaker state, used by the readiness probe.
func (c *CameraBreaker) State() State {
	return c.cb.State()
}
