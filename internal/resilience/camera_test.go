package resilience

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/visionaid-ai/visionaid/pkg/provider/camera"
	cameramock "github.com/visionaid-ai/visionaid/pkg/provider/camera/mock"
)

func TestCameraBreakerPassesThroughWhileClosed(t *testing.T) {
	t.Parallel()

	inner := &cameramock.Grabber{Frame: camera.Frame{JPEG: []byte("jpeg"), CapturedAt: time.Now()}}
	cb := NewCameraBreaker(inner, Config{}, slog.New(slog.DiscardHandler))

	frame, err := cb.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if string(frame.JPEG) != "jpeg" {
		t.Fatalf("frame JPEG = %q, want passthrough from the device", frame.JPEG)
	}
	if inner.CallCount() != 1 {
		t.Fatalf("inner captures = %d, want 1", inner.CallCount())
	}
}

func TestCameraBreakerSkipsDeviceWhileOpen(t *testing.T) {
	t.Parallel()

	inner := &cameramock.Grabber{Err: errors.New("connection refused")}
	cb := NewCameraBreaker(inner, Config{MaxFailures: 2, ResetTimeout: time.Hour},
		slog.New(slog.DiscardHandler))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := cb.Capture(ctx); err == nil {
			t.Fatal("Capture succeeded against a failing device")
		}
	}

	_, err := cb.Capture(ctx)
	if !errors.Is(err, camera.ErrUnavailable) {
		t.Fatalf("Capture while open = %v, want camera.ErrUnavailable", err)
	}
	if inner.CallCount() != 2 {
		t.Fatalf("inner captures = %d, want 2 (open circuit must not touch the device)", inner.CallCount())
	}
}

func TestCameraBreakerRecoversAfterResetTimeout(t *testing.T) {
	t.Parallel()

	inner := &cameramock.Grabber{Err: errors.New("connection refused")}
	cb := NewCameraBreaker(inner, Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 1},
		slog.New(slog.DiscardHandler))

	ctx := context.Background()
	if _, err := cb.Capture(ctx); err == nil {
		t.Fatal("Capture succeeded against a failing device")
	}

	// Device comes back.
	inner.Err = nil
	inner.Frame = camera.Frame{JPEG: []byte("jpeg")}
	time.Sleep(20 * time.Millisecond)

	if _, err := cb.Capture(ctx); err != nil {
		t.Fatalf("Capture after recovery: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after a successful probe", got)
	}
}

func TestCameraBreakerIgnoresCancellation(t *testing.T) {
	t.Parallel()

	inner := &cancelAwareGrabber{}
	cb := NewCameraBreaker(inner, Config{MaxFailures: 1, ResetTimeout: time.Hour},
		slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := cb.Capture(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Capture with cancelled ctx = %v, want context.Canceled", err)
	}
	// A cancelled turn is not a device failure; the breaker stays closed.
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after cancellation", got)
	}
}

// cancelAwareGrabber fails with the context error, like a real HTTP grabber
// whose request was cancelled mid-flight.
type cancelAwareGrabber struct{}

func (g *cancelAwareGrabber) Capture(ctx context.Context) (camera.Frame, error) {
	if err := ctx.Err(); err != nil {
		return camera.Frame{}, err
	}
	return camera.Frame{JPEG: []byte("jpeg")}, nil
}
