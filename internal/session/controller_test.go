package session_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/visionaid-ai/visionaid/internal/guard"
	"github.com/visionaid-ai/visionaid/internal/session"
	"github.com/visionaid-ai/visionaid/internal/turn"
	"github.com/visionaid-ai/visionaid/pkg/audio"
	memorymock "github.com/visionaid-ai/visionaid/pkg/memory/mock"
	"github.com/visionaid-ai/visionaid/pkg/provider/llm"
	llmmock "github.com/visionaid-ai/visionaid/pkg/provider/llm/mock"
	sttmock "github.com/visionaid-ai/visionaid/pkg/provider/stt/mock"
	ttsmock "github.com/visionaid-ai/visionaid/pkg/provider/tts/mock"
)

// testSink records audio writes and phase notifications.
type testSink struct {
	mu     sync.Mutex
	audio  [][]byte
	phases []session.Phase
}

func (s *testSink) WriteAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.audio = append(s.audio, cp)
	return nil
}

func (s *testSink) NotifyPhase(_ context.Context, p session.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, p)
	return nil
}

func (s *testSink) audioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

func (s *testSink) sawPhase(p session.Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.phases {
		if got == p {
			return true
		}
	}
	return false
}

// fakeAssembler returns a canned assembly.
type fakeAssembler struct {
	mu     sync.Mutex
	result turn.Assembly
	err    error
	calls  int

	// block, when non-nil, makes each Assemble call wait for one receive
	// before returning, so tests can hold a turn in Retrieving.
	block chan struct{}
}

func (f *fakeAssembler) Assemble(_ context.Context, transcript string) (turn.Assembly, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return turn.Assembly{}, f.err
	}
	asm := f.result
	if asm.Request.UserText == "" {
		asm.Request.UserText = transcript
	}
	return asm, nil
}

func (f *fakeAssembler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// harness bundles the controller with all its mocks.
type harness struct {
	ctrl      *session.Controller
	events    chan audio.VADEvent
	sink      *testSink
	stt       *sttmock.Transcriber
	gen       *llmmock.Generator
	synth     *ttsmock.Synthesizer
	store     *memorymock.Store
	assembler *fakeAssembler
	cancel    context.CancelFunc
	done      chan struct{}
}

func newHarness(t *testing.T, mutate func(*session.Deps)) *harness {
	t.Helper()

	h := &harness{
		events:    make(chan audio.VADEvent, 16),
		sink:      &testSink{},
		stt:       &sttmock.Transcriber{Result: "what is in front of me"},
		gen:       &llmmock.Generator{Chunks: []llm.Chunk{{Text: "A quiet street. "}, {Text: "No obstacles."}}},
		synth:     &ttsmock.Synthesizer{},
		store:     &memorymock.Store{},
		assembler: &fakeAssembler{result: turn.Assembly{Embedding: []float32{0.5, 0.5}}},
		done:      make(chan struct{}),
	}

	deps := session.Deps{
		Transcriber: h.stt,
		Guard:       guard.New(),
		Assembler:   h.assembler,
		Generator:   h.gen,
		Synthesizer: h.synth,
		Store:       h.store,
		Sink:        h.sink,
		Log:         slog.New(slog.DiscardHandler),
	}
	if mutate != nil {
		mutate(&deps)
	}

	ctrl, err := session.NewController(deps, session.Config{})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.ctrl = ctrl

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = ctrl.Run(ctx, h.events)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

// speakUtterance drives one spoken utterance through the endpointer events.
func (h *harness) speakUtterance() {
	h.events <- audio.VADEvent{Type: audio.SpeechStarted}
	h.events <- audio.VADEvent{Type: audio.UtteranceReady, PCM: make([]byte, 3200), Duration: 100 * time.Millisecond}
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTurnCompletesAndPersists(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.speakUtterance()

	waitFor(t, "record append", func() bool { return h.store.CallCount("Append") == 1 })
	waitFor(t, "idle phase", func() bool { return h.ctrl.Phase() == session.PhaseIdle })

	appended := h.store.Appended()
	if len(appended) != 1 {
		t.Fatalf("appended %d records, want 1", len(appended))
	}
	rec := appended[0]
	if rec.QueryText != "what is in front of me" {
		t.Errorf("QueryText = %q", rec.QueryText)
	}
	if rec.ResponseText != "A quiet street. No obstacles." {
		t.Errorf("ResponseText = %q", rec.ResponseText)
	}
	if len(rec.Embedding) != 2 {
		t.Errorf("Embedding = %v, want the assembly embedding", rec.Embedding)
	}

	if h.sink.audioCount() == 0 {
		t.Error("no audio reached the sink")
	}
	for _, p := range []session.Phase{
		session.PhaseListening, session.PhaseTranscribing, session.PhaseRetrieving,
		session.PhaseGenerating, session.PhaseSpeaking, session.PhaseIdle,
	} {
		if !h.sink.sawPhase(p) {
			t.Errorf("phase %s never notified", p)
		}
	}
}

func TestEmptyTranscriptDiscardsTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *session.Deps) {
		d.Transcriber = &sttmock.Transcriber{Result: ""}
	})
	h.speakUtterance()

	waitFor(t, "idle phase", func() bool { return h.ctrl.Phase() == session.PhaseIdle })
	if got := h.store.CallCount("Append"); got != 0 {
		t.Errorf("store appended %d records for an empty transcript", got)
	}
	if got := h.gen.CallCount(); got != 0 {
		t.Errorf("generator called %d times for an empty transcript", got)
	}
}

func TestGuardVetoShortCircuitsSilently(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *session.Deps) {
		// Fails the command-confidence heuristics.
		d.Transcriber = &sttmock.Transcriber{Result: "pfft tsk brr"}
	})
	h.speakUtterance()

	waitFor(t, "idle phase", func() bool { return h.ctrl.Phase() == session.PhaseIdle })
	if got := h.gen.CallCount(); got != 0 {
		t.Errorf("generator called %d times despite guard veto", got)
	}
	if got := h.assembler.callCount(); got != 0 {
		t.Errorf("assembler called %d times despite guard veto", got)
	}
	if got := h.sink.audioCount(); got != 0 {
		t.Errorf("noise veto produced %d audio writes, want silence", got)
	}
}

func TestNonEnglishVetoSpeaksNotice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *session.Deps) {
		d.Transcriber = &sttmock.Transcriber{Result: "где находится ближайшая аптека"}
	})
	h.speakUtterance()

	waitFor(t, "idle phase", func() bool { return h.ctrl.Phase() == session.PhaseIdle })
	waitFor(t, "spoken notice", func() bool { return h.sink.audioCount() > 0 })
	if got := h.gen.CallCount(); got != 0 {
		t.Errorf("generator called %d times despite veto", got)
	}
	if got := h.store.CallCount("Append"); got != 0 {
		t.Errorf("vetoed turn was persisted")
	}
}

func TestTranscriptionFailureReachesFailedThenIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *session.Deps) {
		d.Transcriber = &sttmock.Transcriber{Err: errors.New("service unreachable")}
	})
	h.speakUtterance()

	waitFor(t, "spoken apology", func() bool { return h.sink.audioCount() > 0 })
	waitFor(t, "idle phase", func() bool { return h.ctrl.Phase() == session.PhaseIdle })
	if !h.sink.sawPhase(session.PhaseFailed) {
		t.Error("Failed phase never notified")
	}
	if got := h.store.CallCount("Append"); got != 0 {
		t.Errorf("failed turn appended %d records, want 0", got)
	}
}

func TestBargeInWhileSpeaking(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := newHarness(t, func(d *session.Deps) {
		d.Generator = &llmmock.Generator{
			StreamFunc: func(ctx context.Context, _ llm.Request) (<-chan llm.Chunk, error) {
				ch := make(chan llm.Chunk)
				go func() {
					defer close(ch)
					ch <- llm.Chunk{Text: "The crossing is ahead. "}
					// Hold the stream open until the test releases it, keeping
					// the session in Speaking.
					select {
					case <-ctx.Done():
					case <-release:
					}
				}()
				return ch, nil
			},
		}
	})
	defer close(release)

	h.speakUtterance()
	waitFor(t, "speaking phase", func() bool { return h.ctrl.Phase() == session.PhaseSpeaking })
	waitFor(t, "first audio write", func() bool { return h.sink.audioCount() > 0 })

	audioBefore := h.sink.audioCount()

	// New speech energy while the assistant is talking.
	h.events <- audio.VADEvent{Type: audio.SpeechStarted}

	waitFor(t, "listening phase", func() bool { return h.ctrl.Phase() == session.PhaseListening })
	if !h.sink.sawPhase(session.PhaseInterrupted) {
		t.Error("Interrupted phase never notified")
	}

	// The old turn must not persist or keep speaking.
	time.Sleep(50 * time.Millisecond)
	if got := h.store.CallCount("Append"); got != 0 {
		t.Errorf("interrupted turn appended %d records, want 0", got)
	}
	if got := h.sink.audioCount(); got != audioBefore {
		t.Errorf("audio writes after barge-in: %d, want none", got-audioBefore)
	}

	// The session accepts the interrupting utterance as a fresh turn.
	h.events <- audio.VADEvent{Type: audio.UtteranceReady, PCM: make([]byte, 3200)}
	waitFor(t, "second turn transcription", func() bool { return h.stt.CallCount() == 2 })
}

func TestWakeIsIdempotentWhileListening(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	h.ctrl.Wake(context.Background())
	h.ctrl.Wake(context.Background())

	if got := h.ctrl.Phase(); got != session.PhaseListening {
		t.Fatalf("Phase = %s, want listening", got)
	}
	h.sink.mu.Lock()
	listens := 0
	for _, p := range h.sink.phases {
		if p == session.PhaseListening {
			listens++
		}
	}
	h.sink.mu.Unlock()
	if listens != 1 {
		t.Errorf("listening notified %d times, want 1", listens)
	}
}

func TestUtteranceDiscardedReturnsToIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.events <- audio.VADEvent{Type: audio.SpeechStarted}
	waitFor(t, "listening phase", func() bool { return h.ctrl.Phase() == session.PhaseListening })

	h.events <- audio.VADEvent{Type: audio.UtteranceDiscarded}
	waitFor(t, "idle phase", func() bool { return h.ctrl.Phase() == session.PhaseIdle })
	if got := h.stt.CallCount(); got != 0 {
		t.Errorf("discarded utterance reached the transcriber %d times", got)
	}
}

// gatedSink blocks every audio write until the gate is released, letting
// tests freeze the session mid-playback.
type gatedSink struct {
	testSink
	gate chan struct{}
}

func (s *gatedSink) WriteAudio(ctx context.Context, pcm []byte) error {
	<-s.gate
	return s.testSink.WriteAudio(ctx, pcm)
}

func TestUtteranceDuringTurnIsQueuedNotDropped(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	asm := &fakeAssembler{result: turn.Assembly{Embedding: []float32{0.5, 0.5}}, block: release}
	h := newHarness(t, func(d *session.Deps) { d.Assembler = asm })

	h.speakUtterance()
	waitFor(t, "retrieving phase", func() bool { return h.ctrl.Phase() == session.PhaseRetrieving })

	// A second utterance completes while the first turn is mid-pipeline. It
	// must run once the first turn resolves, not vanish.
	h.speakUtterance()
	waitFor(t, "event consumption", func() bool { return len(h.events) == 0 })

	close(release)

	waitFor(t, "both turns transcribed", func() bool { return h.stt.CallCount() == 2 })
	waitFor(t, "both turns persisted", func() bool { return h.store.CallCount("Append") == 2 })
	waitFor(t, "idle phase", func() bool { return h.ctrl.Phase() == session.PhaseIdle })
}

func TestApologyIsInterruptible(t *testing.T) {
	t.Parallel()

	sink := &gatedSink{gate: make(chan struct{})}
	h := newHarness(t, func(d *session.Deps) {
		d.Generator = &llmmock.Generator{StartErr: errors.New("model overloaded")}
		d.Sink = sink
	})

	h.speakUtterance()
	waitFor(t, "failed phase", func() bool { return sink.sawPhase(session.PhaseFailed) })

	// New speech while the apology is playing barges in on it.
	h.events <- audio.VADEvent{Type: audio.SpeechStarted}
	waitFor(t, "listening phase", func() bool { return h.ctrl.Phase() == session.PhaseListening })
	if !sink.sawPhase(session.PhaseInterrupted) {
		t.Error("Interrupted phase never notified")
	}

	close(sink.gate)
	time.Sleep(50 * time.Millisecond)
	if got := sink.audioCount(); got > 1 {
		t.Errorf("apology kept playing after barge-in: %d writes", got)
	}

	// The interrupting utterance becomes a fresh turn.
	h.events <- audio.VADEvent{Type: audio.UtteranceReady, PCM: make([]byte, 3200)}
	waitFor(t, "second transcription", func() bool { return h.stt.CallCount() == 2 })
}

func TestGenerationFailureSpeaksApology(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *session.Deps) {
		d.Generator = &llmmock.Generator{StartErr: errors.New("model overloaded")}
	})
	h.speakUtterance()

	waitFor(t, "transcriber called", func() bool { return h.stt.CallCount() == 1 })
	waitFor(t, "idle phase", func() bool { return h.ctrl.Phase() == session.PhaseIdle })
	if !h.sink.sawPhase(session.PhaseFailed) {
		t.Error("Failed phase never notified")
	}
	if got := h.store.CallCount("Append"); got != 0 {
		t.Errorf("failed turn appended %d records, want 0", got)
	}
}
