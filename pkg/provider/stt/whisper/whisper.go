// Package whisper provides a local stt.Transcriber backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// It serves as the offline backup behind the hosted recognizer: slower on
// small hardware, but immune to network loss. The model is loaded once at
// startup and shared across all transcriptions.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/visionaid-ai/visionaid/pkg/provider/stt"
)

// Ensure Transcriber implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Transcriber)(nil)

const defaultLanguage = "en"

// Transcriber implements stt.Transcriber using a local whisper.cpp model.
type Transcriber struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the language code for transcription (e.g., "en").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// New loads the whisper.cpp model from the given file path. The caller must
// call Close when the transcriber is no longer needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. Each call creates a fresh whisper
// context from the shared model; contexts are not thread-safe but the model
// is, so concurrent calls do not interfere.
func (t *Transcriber) Transcribe(ctx context.Context, utterance stt.Utterance) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(utterance.PCM) == 0 {
		return "", nil
	}

	samples := pcmToFloat32Mono(utterance.PCM, utterance.Channels)

	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("whisper: set language %q: %w", t.language, err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
