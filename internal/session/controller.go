package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visionaid-ai/visionaid/internal/guard"
	"github.com/visionaid-ai/visionaid/internal/observe"
	"github.com/visionaid-ai/visionaid/internal/turn"
	"github.com/visionaid-ai/visionaid/pkg/audio"
	"github.com/visionaid-ai/visionaid/pkg/memory"
	"github.com/visionaid-ai/visionaid/pkg/provider/llm"
	"github.com/visionaid-ai/visionaid/pkg/provider/stt"
	"github.com/visionaid-ai/visionaid/pkg/provider/tts"
)

// Spoken notices for turns that end without a model response. The user is
// blind: silence after speaking is indistinguishable from a dead device, so
// every unrecoverable failure gets words.
const (
	apologyText          = "Sorry, something went wrong on my side. Please try again."
	nonEnglishNoticeText = "I can only help in English right now."
)

// defaultPersistTimeout bounds the memory write after a completed turn.
const defaultPersistTimeout = 5 * time.Second

// Sink receives the session's output: synthesized audio and phase
// notifications for the device. The transport's connection implements it.
type Sink interface {
	WriteAudio(ctx context.Context, pcm []byte) error
	NotifyPhase(ctx context.Context, phase Phase) error
}

// Assembler builds the model request for one transcript. *turn.Assembler
// implements it.
type Assembler interface {
	Assemble(ctx context.Context, transcript string) (turn.Assembly, error)
}

// Deps carries the controller's collaborators. All fields except NotePlayback
// are required.
type Deps struct {
	Transcriber stt.Transcriber
	Guard       *guard.Guard
	Assembler   Assembler
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
	Store       memory.Store
	Sink        Sink

	// NotePlayback, when set, is called after each audio write so the
	// endpointer can suppress the assistant's own playback tail.
	NotePlayback func()

	Metrics *observe.Metrics
	Log     *slog.Logger
}

// Config carries the controller's tunables.
type Config struct {
	// Voice is passed to the synthesizer for every utterance.
	Voice tts.Voice

	// PersistTimeout bounds the memory append after a completed turn;
	// 0 means defaultPersistTimeout.
	PersistTimeout time.Duration
}

// Controller is the per-connection session state machine. Construct with
// [NewController], then call [Controller.Run] with the endpointer's event
// stream.
type Controller struct {
	deps Deps
	cfg  Config
	log  *slog.Logger

	mu    sync.Mutex
	phase Phase

	// pending holds the newest utterance that completed while a turn was
	// still in flight. It runs as soon as that turn resolves; the user must
	// not have to repeat themselves.
	pending *audio.VADEvent

	// active is the sequence number of the newest issued turn token.
	active atomic.Uint64

	turnMu  sync.Mutex
	turnTok *Token

	wg sync.WaitGroup
}

// NewController validates deps and returns a Controller in PhaseIdle.
func NewController(deps Deps, cfg Config) (*Controller, error) {
	switch {
	case deps.Transcriber == nil:
		return nil, errors.New("session: transcriber must not be nil")
	case deps.Guard == nil:
		return nil, errors.New("session: guard must not be nil")
	case deps.Assembler == nil:
		return nil, errors.New("session: assembler must not be nil")
	case deps.Generator == nil:
		return nil, errors.New("session: generator must not be nil")
	case deps.Synthesizer == nil:
		return nil, errors.New("session: synthesizer must not be nil")
	case deps.Store == nil:
		return nil, errors.New("session: store must not be nil")
	case deps.Sink == nil:
		return nil, errors.New("session: sink must not be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	return &Controller{
		deps:  deps,
		cfg:   cfg,
		log:   deps.Log,
		phase: PhaseIdle,
	}, nil
}

// Phase returns the current session phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Run consumes endpointer events until ctx is cancelled or events closes.
// It returns after any in-flight turn has been cancelled and unwound.
func (c *Controller) Run(ctx context.Context, events <-chan audio.VADEvent) error {
	c.deps.Metrics.ActiveSessions.Add(ctx, 1)
	defer c.deps.Metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	defer func() {
		c.cancelActiveTurn()
		c.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case audio.SpeechStarted:
				c.onSpeechStarted(ctx)
			case audio.UtteranceReady:
				c.onUtteranceReady(ctx, ev)
			case audio.UtteranceDiscarded:
				c.onUtteranceDiscarded(ctx)
			}
		}
	}
}

// Wake arms the session from the device side (button press, app tap). A wake
// while already Listening is idempotent; a wake during an active turn is
// ignored — barge-in is driven by speech energy, not the wake control.
func (c *Controller) Wake(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseIdle {
		c.setPhaseLocked(ctx, PhaseListening)
	}
}

// Interrupt forces a barge-in, equivalent to new speech energy arriving while
// the assistant is generating or speaking.
func (c *Controller) Interrupt(ctx context.Context) {
	c.onSpeechStarted(ctx)
}

// ─── Event handlers ───────────────────────────────────────────────────────────

func (c *Controller) onSpeechStarted(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseIdle:
		c.setPhaseLocked(ctx, PhaseListening)
	case PhaseGenerating, PhaseSpeaking, PhaseFailed:
		// Barge-in: invalidate the active turn first so no further chunk is
		// forwarded, then re-enter Listening for the interrupting utterance
		// without waiting for the old pipeline to unwind. Failed is included
		// so the apology is interruptible like any other assistant speech.
		c.cancelActiveTurn()
		c.deps.Metrics.Interruptions.Add(ctx, 1)
		c.setPhaseLocked(ctx, PhaseInterrupted)
		c.setPhaseLocked(ctx, PhaseListening)
	default:
		// Listening: duplicate speech-start, idempotent.
		// Transcribing/Retrieving: the previous utterance is still being
		// worked; the endpointer buffers the new one, and its completion is
		// held in c.pending until the in-flight turn resolves.
	}
}

func (c *Controller) onUtteranceReady(ctx context.Context, ev audio.VADEvent) {
	c.mu.Lock()
	switch c.phase {
	case PhaseListening, PhaseIdle:
		// Idle happens in continuous-streaming mode where no explicit wake
		// precedes the utterance.
		c.setPhaseLocked(ctx, PhaseTranscribing)
	default:
		// A turn is still in flight. Hold the utterance (newest wins) and
		// run it when that turn resolves, instead of making the user repeat
		// themselves.
		c.pending = &ev
		phase := c.phase
		c.mu.Unlock()
		c.log.Debug("utterance queued behind in-flight turn", "phase", phase.String())
		return
	}
	c.mu.Unlock()

	c.startTurn(ctx, ev)
}

// startTurn issues a fresh token and runs the turn pipeline for ev. The
// caller has already moved the phase to Transcribing.
func (c *Controller) startTurn(ctx context.Context, ev audio.VADEvent) {
	tok := newToken(ctx, &c.active)
	c.turnMu.Lock()
	c.turnTok = tok
	c.turnMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.startPending(ctx)
		defer c.releaseToken(tok)
		c.runTurn(ctx, tok, ev)
	}()
}

// startPending runs the held utterance, if any, once the session is free
// again. Called from the turn goroutine after the pipeline unwinds; the
// goroutine is still counted in c.wg, so Run cannot return mid-dispatch.
func (c *Controller) startPending(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	if c.pending == nil || (c.phase != PhaseIdle && c.phase != PhaseListening) {
		c.mu.Unlock()
		return
	}
	ev := *c.pending
	c.pending = nil
	c.setPhaseLocked(ctx, PhaseTranscribing)
	c.mu.Unlock()

	c.startTurn(ctx, ev)
}

func (c *Controller) onUtteranceDiscarded(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseListening {
		c.setPhaseLocked(ctx, PhaseIdle)
	}
}

// ─── Turn pipeline ────────────────────────────────────────────────────────────

// runTurn executes one full turn. It always leaves the phase in Idle,
// Listening (via barge-in, handled elsewhere), or Idle-after-Failed.
func (c *Controller) runTurn(ctx context.Context, tok *Token, ev audio.VADEvent) {
	turnStart := time.Now()
	log := c.log.With("turn_id", tok.ID())

	ctx, span := observe.StartSpan(ctx, "session.turn")
	defer span.End()

	// 1. Transcribe.
	sttStart := time.Now()
	transcript, err := c.deps.Transcriber.Transcribe(tok.Context(), stt.Utterance{
		PCM:        ev.PCM,
		SampleRate: audio.TargetSampleRate,
		Channels:   1,
	})
	c.deps.Metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	if err != nil {
		if !tok.Live() {
			c.finishInterrupted(ctx, log, turnStart)
			return
		}
		c.deps.Metrics.RecordProviderError(ctx, "stt", classifyErr(err))
		c.failTurn(ctx, tok, log, turnStart, fmt.Errorf("session: transcription: %w", err))
		return
	}

	// 2. Empty transcript: no-op turn, nothing persisted.
	if transcript == "" {
		log.Debug("empty transcript, discarding turn")
		c.toPhase(ctx, tok, PhaseIdle)
		c.deps.Metrics.RecordTurn(ctx, "discarded")
		return
	}

	// 3. Safety guard.
	verdict := c.deps.Guard.Check(transcript)
	if !verdict.OK {
		log.Info("transcript vetoed", "reason", verdict.Reason.String())
		c.deps.Metrics.RecordGuardVeto(ctx, verdict.Reason.String())
		if verdict.Reason == guard.ReasonNonEnglish {
			c.speak(tok, nonEnglishNoticeText)
		}
		c.toPhase(ctx, tok, PhaseIdle)
		c.deps.Metrics.RecordTurn(ctx, "discarded")
		return
	}

	// 4. Assemble: embed, retrieve, optionally capture a frame.
	c.toPhase(ctx, tok, PhaseRetrieving)
	retrieveStart := time.Now()
	asm, err := c.deps.Assembler.Assemble(tok.Context(), verdict.Query)
	c.deps.Metrics.RetrieveDuration.Record(ctx, time.Since(retrieveStart).Seconds())
	if err != nil {
		if !tok.Live() {
			c.finishInterrupted(ctx, log, turnStart)
			return
		}
		c.failTurn(ctx, tok, log, turnStart, fmt.Errorf("session: assemble: %w", err))
		return
	}
	if len(asm.Omitted) > 0 {
		log.Warn("turn assembled degraded", "omitted", asm.Omitted)
	}

	// 5. Generate and speak.
	c.toPhase(ctx, tok, PhaseGenerating)
	responseText, err := c.generateAndSpeak(ctx, tok, asm.Request)
	if err != nil {
		if errors.Is(err, ErrInterrupted) || !tok.Live() {
			c.finishInterrupted(ctx, log, turnStart)
			return
		}
		c.failTurn(ctx, tok, log, turnStart, fmt.Errorf("session: generate: %w", err))
		return
	}
	if !tok.Live() {
		c.finishInterrupted(ctx, log, turnStart)
		return
	}

	// 6. Persist. The token check directly before the append is what keeps
	// interrupted turns out of memory.
	if responseText != "" && asm.Embedding != nil && tok.Live() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PersistTimeout)
		id, err := c.deps.Store.Append(pctx, memory.InteractionRecord{
			QueryText:    verdict.Query,
			ResponseText: responseText,
			ImageRef:     asm.ImageRef,
			Embedding:    asm.Embedding,
		})
		cancel()
		if err != nil {
			// The turn still completes; only this turn's memory entry is lost.
			log.Warn("memory append failed", "error", err)
		} else {
			log.Debug("turn persisted", "record_id", id)
		}
	}

	c.toPhase(ctx, tok, PhaseIdle)
	c.deps.Metrics.RecordTurn(ctx, "completed")
	c.deps.Metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
}

// generateAndSpeak streams the model response through the sentence forwarder
// into the synthesizer and plays the audio. Returns the forwarded text.
func (c *Controller) generateAndSpeak(ctx context.Context, tok *Token, req llm.Request) (string, error) {
	genStart := time.Now()

	chunks, err := c.deps.Generator.GenerateStream(tok.Context(), req)
	if err != nil {
		c.deps.Metrics.RecordProviderError(ctx, "llm", classifyErr(err))
		return "", err
	}

	textCh := make(chan string, 4)
	audioCh, err := c.deps.Synthesizer.SynthesizeStream(tok.Context(), textCh, c.cfg.Voice)
	if err != nil {
		close(textCh)
		go drainChunks(chunks)
		c.deps.Metrics.RecordProviderError(ctx, "tts", classifyErr(err))
		return "", err
	}

	ttsStart := time.Now()
	playDone := make(chan error, 1)
	go func() {
		playDone <- c.playAudio(ctx, tok, audioCh)
	}()

	responseText, streamErr := forwardSentences(tok, chunks, textCh)
	c.deps.Metrics.GenerateDuration.Record(ctx, time.Since(genStart).Seconds())

	playErr := <-playDone
	c.deps.Metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())

	if streamErr != nil {
		if !errors.Is(streamErr, ErrInterrupted) {
			c.deps.Metrics.RecordProviderError(ctx, "llm", classifyErr(streamErr))
		}
		return responseText, streamErr
	}
	if playErr != nil && tok.Live() {
		c.deps.Metrics.RecordProviderError(ctx, "tts", classifyErr(playErr))
		return responseText, playErr
	}
	return responseText, nil
}

// playAudio relays synthesized audio to the sink, entering PhaseSpeaking on
// the first chunk. It stops as soon as the token dies; the synthesizer's
// stream is torn down through the token's context.
func (c *Controller) playAudio(ctx context.Context, tok *Token, audioCh <-chan []byte) error {
	first := true
	for pcm := range audioCh {
		if !tok.Live() {
			audio.Drain(audioCh)
			return nil
		}
		if first {
			c.toPhase(ctx, tok, PhaseSpeaking)
			first = false
		}
		if err := c.deps.Sink.WriteAudio(tok.Context(), pcm); err != nil {
			audio.Drain(audioCh)
			return fmt.Errorf("session: audio write: %w", err)
		}
		if c.deps.NotePlayback != nil {
			c.deps.NotePlayback()
		}
	}
	return nil
}

// speak synthesizes a short standalone notice outside the normal pipeline.
// Best-effort: failures are logged, not escalated.
func (c *Controller) speak(tok *Token, text string) {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := c.deps.Synthesizer.SynthesizeStream(tok.Context(), textCh, c.cfg.Voice)
	if err != nil {
		c.log.Warn("notice synthesis failed", "error", err)
		return
	}
	for pcm := range audioCh {
		if !tok.Live() {
			// Barged in mid-notice; stop talking right away.
			audio.Drain(audioCh)
			return
		}
		if err := c.deps.Sink.WriteAudio(tok.Context(), pcm); err != nil {
			c.log.Warn("notice playback failed", "error", err)
			audio.Drain(audioCh)
			return
		}
		if c.deps.NotePlayback != nil {
			c.deps.NotePlayback()
		}
	}
}

// ─── Phase and token bookkeeping ──────────────────────────────────────────────

// failTurn handles an unrecoverable turn failure: Failed, spoken apology,
// back to Idle. The apology is ordinary assistant speech; new speech energy
// barges in on it like any other playback.
func (c *Controller) failTurn(ctx context.Context, tok *Token, log *slog.Logger, turnStart time.Time, err error) {
	log.Error("turn failed", "error", err)
	c.toPhase(ctx, tok, PhaseFailed)
	c.speak(tok, apologyText)
	c.toPhase(ctx, tok, PhaseIdle)
	c.deps.Metrics.RecordTurn(ctx, "failed")
	c.deps.Metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
}

// finishInterrupted records the end of a barged-in turn. The phase was
// already moved to Listening by the barge-in handler, so only the books are
// updated here.
func (c *Controller) finishInterrupted(ctx context.Context, log *slog.Logger, turnStart time.Time) {
	log.Info("turn interrupted")
	c.deps.Metrics.RecordTurn(ctx, "interrupted")
	c.deps.Metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
}

// toPhase transitions the phase on behalf of the turn owning tok. A pipeline
// whose token has died must not drag the phase backwards, so the transition
// is skipped once the token is stale. The barge-in handler cancels the token
// under c.mu, which makes this check race-free.
func (c *Controller) toPhase(ctx context.Context, tok *Token, p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok != nil && !tok.Live() {
		return
	}
	c.setPhaseLocked(ctx, p)
}

// setPhaseLocked performs the transition, logs it, and notifies the sink.
// Callers hold c.mu.
func (c *Controller) setPhaseLocked(ctx context.Context, p Phase) {
	if c.phase == p {
		return
	}
	c.log.Debug("phase transition", "from", c.phase.String(), "to", p.String())
	c.phase = p
	if err := c.deps.Sink.NotifyPhase(ctx, p); err != nil {
		c.log.Debug("phase notification failed", "error", err)
	}
}

// cancelActiveTurn invalidates the current turn token, if any. Safe to call
// with c.mu held; it only takes turnMu.
func (c *Controller) cancelActiveTurn() {
	c.turnMu.Lock()
	tok := c.turnTok
	c.turnTok = nil
	c.turnMu.Unlock()
	if tok != nil {
		tok.Cancel()
	}
}

// releaseToken clears the active token slot if it still belongs to tok.
func (c *Controller) releaseToken(tok *Token) {
	c.turnMu.Lock()
	if c.turnTok == tok {
		c.turnTok = nil
	}
	c.turnMu.Unlock()
	tok.Cancel()
}

// classifyErr maps an error to a short metric label.
func classifyErr(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, stt.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
