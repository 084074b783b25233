// Package ws implements the duplex audio transport between the wearable
// device and the orchestrator over a single WebSocket connection.
//
// The protocol has two message kinds:
//
//   - Binary messages carry raw 16-bit little-endian PCM. Device → server
//     messages are microphone frames; server → device messages are
//     synthesized speech chunks for immediate playback.
//   - Text messages carry small JSON control events ([Control]): wake
//     notifications from the device, phase announcements from the server.
//
// One Conn serves one device session. The read loop owns the inbound
// channels and closes them when the connection ends, so consumers can range
// over Frames until the session is over.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/visionaid-ai/visionaid/pkg/audio"
)

// Control event types exchanged as JSON text messages.
const (
	// ControlWake is sent by the device when its hardware wake button is
	// pressed, as an alternative to the spoken wake phrase.
	ControlWake = "wake"

	// ControlPhase is sent by the server whenever the interaction phase
	// changes, letting the device drive its status LED.
	ControlPhase = "phase"

	// ControlError is sent by the server when a turn fails.
	ControlError = "error"
)

// Control is a JSON control event.
type Control struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Config configures an accepted connection.
type Config struct {
	// SampleRate and Channels describe the PCM format the device sends.
	// Defaults: 16000 Hz, mono.
	SampleRate int
	Channels   int

	// FrameBuffer is the capacity of the inbound frame channel. Defaults
	// to 256 (about 5 s of 20 ms frames).
	FrameBuffer int

	Log *slog.Logger
}

// Conn is one live device session. All methods are safe for concurrent use.
type Conn struct {
	conn *websocket.Conn
	cfg  Config
	log  *slog.Logger

	frames   chan audio.Frame
	controls chan Control

	started   time.Time
	closeOnce sync.Once
}

// Accept upgrades an incoming HTTP request to the device audio protocol and
// starts the read loop. The caller owns the returned Conn and must call
// Close when the session ends.
func Accept(w http.ResponseWriter, r *http.Request, cfg Config) (*Conn, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.FrameBuffer == 0 {
		cfg.FrameBuffer = 256
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("ws transport: accept: %w", err)
	}
	// A stalled device must not block turn processing indefinitely.
	wsConn.SetReadLimit(1 << 20)

	c := &Conn{
		conn:     wsConn,
		cfg:      cfg,
		log:      cfg.Log,
		frames:   make(chan audio.Frame, cfg.FrameBuffer),
		controls: make(chan Control, 16),
		started:  time.Now(),
	}
	go c.readLoop(r.Context())
	return c, nil
}

// Frames returns the inbound microphone frame channel. It is closed when the
// connection ends.
func (c *Conn) Frames() <-chan audio.Frame { return c.frames }

// Controls returns the inbound control event channel. It is closed when the
// connection ends.
func (c *Conn) Controls() <-chan Control { return c.controls }

// WriteAudio sends one synthesized PCM chunk to the device for playback.
func (c *Conn) WriteAudio(ctx context.Context, pcm []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return fmt.Errorf("ws transport: write audio: %w", err)
	}
	return nil
}

// WriteControl sends one control event to the device.
func (c *Conn) WriteControl(ctx context.Context, ev Control) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws transport: marshal control: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("ws transport: write control: %w", err)
	}
	return nil
}

// Close terminates the session. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.conn.Close(websocket.StatusNormalClosure, "session over")
	})
	return nil
}

// readLoop reads messages until the connection fails or closes. It owns the
// frames and controls channels and closes both on exit.
func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.frames)
	defer close(c.controls)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.log.Warn("device connection read failed", "error", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			frame := audio.Frame{
				Data:       data,
				SampleRate: c.cfg.SampleRate,
				Channels:   c.cfg.Channels,
				Timestamp:  time.Since(c.started),
			}
			select {
			case c.frames <- frame:
			default:
				// The consumer is behind; dropping old audio beats
				// unbounded buffering of a live stream.
				c.log.Warn("dropping microphone frame, consumer is behind")
			}

		case websocket.MessageText:
			var ev Control
			if err := json.Unmarshal(data, &ev); err != nil {
				c.log.Warn("ignoring malformed control event", "error", err)
				continue
			}
			select {
			case c.controls <- ev:
			default:
				c.log.Warn("dropping control event, consumer is behind", "type", ev.Type)
			}
		}
	}
}
