// Package httpcam provides a camera.Grabber that pulls JPEG snapshots from
// an HTTP endpoint, the interface most wearable camera modules and IP
// cameras expose.
package httpcam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/visionaid-ai/visionaid/pkg/provider/camera"
)

// Ensure Grabber implements the camera.Grabber interface.
var _ camera.Grabber = (*Grabber)(nil)

// DefaultTimeout bounds one snapshot acquisition. The vision gate runs
// inside the turn's latency budget, so a slow camera is treated as an absent
// one.
const DefaultTimeout = 500 * time.Millisecond

// maxFrameBytes caps a single snapshot read (8 MiB).
const maxFrameBytes = 8 << 20

// Grabber implements camera.Grabber against a snapshot URL.
type Grabber struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// Option is a functional option for Grabber.
type Option func(*Grabber)

// WithTimeout overrides the per-capture timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Grabber) { g.timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Grabber) { g.client = c }
}

// New constructs a Grabber for the given snapshot URL.
func New(url string, opts ...Option) (*Grabber, error) {
	if url == "" {
		return nil, errors.New("httpcam: url must not be empty")
	}
	g := &Grabber{
		url:     url,
		timeout: DefaultTimeout,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Capture implements camera.Grabber. All failure modes collapse into
// [camera.ErrUnavailable] so callers have exactly one condition to degrade
// on.
func (g *Grabber) Capture(ctx context.Context) (camera.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return camera.Frame{}, fmt.Errorf("%w: create request: %w", camera.ErrUnavailable, err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return camera.Frame{}, fmt.Errorf("%w: %w", camera.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return camera.Frame{}, fmt.Errorf("%w: status %d", camera.ErrUnavailable, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/jpeg") {
		return camera.Frame{}, fmt.Errorf("%w: unexpected content type %q", camera.ErrUnavailable, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return camera.Frame{}, fmt.Errorf("%w: read body: %w", camera.ErrUnavailable, err)
	}
	if len(data) == 0 {
		return camera.Frame{}, fmt.Errorf("%w: empty snapshot", camera.ErrUnavailable)
	}

	return camera.Frame{JPEG: data, CapturedAt: time.Now().UTC()}, nil
}
