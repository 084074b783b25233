package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/visionaid-ai/visionaid/internal/session"
	"github.com/visionaid-ai/visionaid/pkg/audio"
	"github.com/visionaid-ai/visionaid/pkg/audio/ws"
)

// handleSession upgrades a device connection and runs its session until the
// device disconnects. One goroutine feeds microphone frames through the
// endpointer, one relays wake-button presses, and the controller consumes
// the resulting event stream.
func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	log := a.log.With("session_id", uuid.NewString())

	conn, err := ws.Accept(w, r, ws.Config{
		SampleRate: audio.TargetSampleRate,
		Channels:   1,
		Log:        log,
	})
	if err != nil {
		log.Warn("session upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	rt := a.hot.Load()

	// The endpointer is fed from the frame loop but receives playback notes
	// from the controller's audio goroutine, so access is serialized here.
	var vadMu sync.Mutex
	vad := audio.NewVAD(audio.VADConfig{
		SampleRate:            audio.TargetSampleRate,
		SpeechThreshold:       a.cfg.Audio.SpeechThreshold,
		SilenceDuration:       a.cfg.Audio.SilenceDuration.Std(),
		MinSpeechDuration:     a.cfg.Audio.MinSpeechDuration.Std(),
		MaxUtteranceDuration:  a.cfg.Audio.MaxUtteranceDuration.Std(),
		SuppressAfterPlayback: a.cfg.Audio.SuppressAfterPlayback.Std(),
	})
	notePlayback := func() {
		vadMu.Lock()
		vad.NotePlayback()
		vadMu.Unlock()
	}

	ctrl, err := session.NewController(session.Deps{
		Transcriber:  a.providers.STT,
		Guard:        rt.guard,
		Assembler:    rt.assembler,
		Generator:    a.providers.LLM,
		Synthesizer:  a.providers.TTS,
		Store:        a.store,
		Sink:         &connSink{conn: conn},
		NotePlayback: notePlayback,
		Metrics:      a.metrics,
		Log:          log,
	}, session.Config{Voice: rt.voice})
	if err != nil {
		log.Error("session controller setup failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan audio.VADEvent, 16)

	var wg sync.WaitGroup
	wg.Add(2)

	// Microphone frames → endpointer events.
	go func() {
		defer wg.Done()
		defer close(events)
		for frame := range conn.Frames() {
			pcm := audio.NormalizeMono16k(frame)
			vadMu.Lock()
			evs := vad.Feed(pcm)
			vadMu.Unlock()
			for _, ev := range evs {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	// Device control events: the hardware wake button arms the session.
	go func() {
		defer wg.Done()
		for ev := range conn.Controls() {
			if ev.Type == ws.ControlWake {
				ctrl.Wake(ctx)
			}
		}
	}()

	log.Info("session started")
	if err := ctrl.Run(ctx, events); err != nil && ctx.Err() == nil {
		log.Warn("session ended with error", "error", err)
	}
	cancel()
	wg.Wait()
	log.Info("session ended")
}

// connSink adapts a device connection to the controller's output interface.
// Phase changes ride the control channel so the device can drive its status
// LED and haptics.
type connSink struct {
	conn *ws.Conn
}

var _ session.Sink = (*connSink)(nil)

func (s *connSink) WriteAudio(ctx context.Context, pcm []byte) error {
	return s.conn.WriteAudio(ctx, pcm)
}

func (s *connSink) NotifyPhase(ctx context.Context, phase session.Phase) error {
	return s.conn.WriteControl(ctx, ws.Control{Type: ws.ControlPhase, Text: phase.String()})
}
