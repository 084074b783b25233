package audio

import "time"

// VAD defaults, tuned for outdoor pedestrian use with a chest-worn
// microphone.
const (
	// DefaultSpeechThreshold is the normalized peak amplitude above which a
	// frame counts as speech.
	DefaultSpeechThreshold = 0.01

	// DefaultSilenceDuration is the trailing silence that ends an utterance.
	DefaultSilenceDuration = 800 * time.Millisecond

	// DefaultMinSpeechDuration is the minimum voiced audio an utterance must
	// contain; shorter bursts (coughs, door slams) are discarded.
	DefaultMinSpeechDuration = 300 * time.Millisecond

	// DefaultMaxUtteranceDuration force-flushes a run-on utterance.
	DefaultMaxUtteranceDuration = 6 * time.Second

	// DefaultSuppressAfterPlayback is how long after the assistant's own
	// audio output microphone frames are ignored, so the device does not
	// hear itself as a barge-in.
	DefaultSuppressAfterPlayback = 600 * time.Millisecond
)

// VADConfig configures a [VAD]. Zero values take the package defaults.
type VADConfig struct {
	SpeechThreshold       float64
	SilenceDuration       time.Duration
	MinSpeechDuration     time.Duration
	MaxUtteranceDuration  time.Duration
	SuppressAfterPlayback time.Duration

	// SampleRate of the mono PCM fed to [VAD.Feed]. Defaults to 16000.
	SampleRate int

	// Now overrides the wall clock used for the playback suppression window.
	// Intended for tests; nil means [time.Now].
	Now func() time.Time
}

// VADEventType identifies what a [VAD] observed in the audio stream.
type VADEventType int

const (
	// SpeechStarted fires on the first voiced frame of a new utterance. The
	// orchestrator uses it for barge-in: speech while the assistant is
	// generating or speaking interrupts the active turn.
	SpeechStarted VADEventType = iota

	// UtteranceReady fires when trailing silence (or the max-utterance cap)
	// closes an utterance that met the minimum speech duration. The event
	// carries the complete PCM buffer.
	UtteranceReady

	// UtteranceDiscarded fires when a closed utterance was too short to be
	// deliberate speech.
	UtteranceDiscarded
)

// VADEvent is one observation emitted by [VAD.Feed].
type VADEvent struct {
	Type VADEventType

	// PCM is the complete utterance audio. Set only for UtteranceReady.
	PCM []byte

	// Duration is the audio duration of PCM, including trailing silence.
	Duration time.Duration
}

// VAD is a peak-amplitude voice activity detector with utterance endpointing.
// It consumes mono 16-bit PCM frames and segments them into utterances: an
// utterance opens on the first frame whose peak amplitude crosses the speech
// threshold and closes after sustained trailing silence.
//
// Peak amplitude is deliberately crude. The detector runs on every 20 ms
// frame on battery-powered hardware, and a threshold comparison is free;
// model-based VAD is not.
//
// VAD is not safe for concurrent use; feed it from a single goroutine.
type VAD struct {
	cfg VADConfig
	now func() time.Time

	buffer       []byte
	speechActive bool
	voicedBytes  int
	silentBytes  int
	lastPlayback time.Time
}

// NewVAD constructs a VAD, filling zero config fields with package defaults.
func NewVAD(cfg VADConfig) *VAD {
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.SilenceDuration == 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	if cfg.MinSpeechDuration == 0 {
		cfg.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if cfg.MaxUtteranceDuration == 0 {
		cfg.MaxUtteranceDuration = DefaultMaxUtteranceDuration
	}
	if cfg.SuppressAfterPlayback == 0 {
		cfg.SuppressAfterPlayback = DefaultSuppressAfterPlayback
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &VAD{cfg: cfg, now: now}
}

// NotePlayback records that assistant audio was just played. Microphone
// frames fed within the suppression window after the last playback are
// ignored wholesale, so the device's own voice cannot open an utterance.
func (v *VAD) NotePlayback() {
	v.lastPlayback = v.now()
}

// Feed processes one mono PCM frame and returns any events it produced.
// A single frame can close one utterance; at most two events are returned
// (an utterance close is never paired with a new SpeechStarted — the opening
// frame of the next utterance arrives separately).
func (v *VAD) Feed(pcm []byte) []VADEvent {
	if len(pcm) == 0 {
		return nil
	}
	if !v.lastPlayback.IsZero() && v.now().Sub(v.lastPlayback) < v.cfg.SuppressAfterPlayback {
		return nil
	}

	voiced := PeakAmplitude(pcm) >= v.cfg.SpeechThreshold

	if !v.speechActive {
		if !voiced {
			return nil
		}
		v.speechActive = true
		v.buffer = append(v.buffer[:0], pcm...)
		v.voicedBytes = len(pcm)
		v.silentBytes = 0
		return []VADEvent{{Type: SpeechStarted}}
	}

	v.buffer = append(v.buffer, pcm...)
	if voiced {
		v.voicedBytes += len(pcm)
		v.silentBytes = 0
	} else {
		v.silentBytes += len(pcm)
	}

	if v.bytesToDuration(v.silentBytes) >= v.cfg.SilenceDuration {
		return []VADEvent{v.closeUtterance()}
	}
	if v.bytesToDuration(len(v.buffer)) >= v.cfg.MaxUtteranceDuration {
		return []VADEvent{v.closeUtterance()}
	}
	return nil
}

// Reset abandons any in-progress utterance without emitting an event.
func (v *VAD) Reset() {
	v.speechActive = false
	v.buffer = v.buffer[:0]
	v.voicedBytes = 0
	v.silentBytes = 0
}

func (v *VAD) closeUtterance() VADEvent {
	voicedDur := v.bytesToDuration(v.voicedBytes)
	totalDur := v.bytesToDuration(len(v.buffer))

	ev := VADEvent{Type: UtteranceDiscarded, Duration: totalDur}
	if voicedDur >= v.cfg.MinSpeechDuration {
		pcm := make([]byte, len(v.buffer))
		copy(pcm, v.buffer)
		ev = VADEvent{Type: UtteranceReady, PCM: pcm, Duration: totalDur}
	}
	v.Reset()
	return ev
}

func (v *VAD) bytesToDuration(n int) time.Duration {
	return time.Duration(n/2) * time.Second / time.Duration(v.cfg.SampleRate)
}
