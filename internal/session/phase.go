// Package session drives the per-connection interaction state machine: it
// consumes endpointed utterances from the audio transport, runs the
// transcribe → guard → assemble → generate → speak pipeline one turn at a
// time, and persists completed turns to the memory store.
//
// The controller exclusively owns the session phase. Other goroutines
// influence it only through [Controller.Wake], [Controller.Interrupt], and
// the VAD event channel passed to [Controller.Run]. Exactly one turn is in
// flight per session; new voice activity while the assistant is generating or
// speaking invalidates the active turn's token before the next turn starts,
// so a stale pipeline can never speak over, or persist under, its successor.
package session

// Phase is the session state visible to the device and the logs.
type Phase int

const (
	// PhaseIdle means no turn is in flight and the session waits for a wake
	// condition or speech.
	PhaseIdle Phase = iota

	// PhaseListening means the microphone is hot and the endpointer is
	// buffering an utterance.
	PhaseListening

	// PhaseTranscribing means an utterance has been captured and is being
	// transcribed.
	PhaseTranscribing

	// PhaseRetrieving means the transcript passed the guard and the turn is
	// being assembled (embedding, memory query, optional frame capture).
	PhaseRetrieving

	// PhaseGenerating means the language model is streaming a response.
	PhaseGenerating

	// PhaseSpeaking means synthesized audio is being played back.
	PhaseSpeaking

	// PhaseInterrupted is the transient state entered when new speech
	// barges in on Generating or Speaking; it resolves to Listening within
	// the same event cycle.
	PhaseInterrupted

	// PhaseFailed is the transient state for an unrecoverable turn failure;
	// it resolves to Idle after the spoken apology.
	PhaseFailed
)

// String returns the snake_case label used in logs, metrics, and the
// transport's phase notifications.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseTranscribing:
		return "transcribing"
	case PhaseRetrieving:
		return "retrieving"
	case PhaseGenerating:
		return "generating"
	case PhaseSpeaking:
		return "speaking"
	case PhaseInterrupted:
		return "interrupted"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
