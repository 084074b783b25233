// Package openai provides a tts.Synthesizer backed by the OpenAI speech
// endpoint.
//
// Each text fragment becomes one POST to /v1/audio/speech with response
// format "pcm" (raw 24 kHz mono 16-bit), and the response body is relayed to
// the audio channel in fixed-size chunks as it downloads. Fragments are
// synthesised sequentially so audio order always matches text order.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/visionaid-ai/visionaid/pkg/provider/tts"
)

// DefaultModel is the default speech synthesis model.
const DefaultModel = "tts-1"

// DefaultVoice is used when the caller does not pick a voice.
const DefaultVoice = "alloy"

const (
	defaultBaseURL = "https://api.openai.com"

	// pcmSampleRate is fixed by the endpoint for response_format "pcm".
	pcmSampleRate = 24000

	// chunkBytes is the relay granularity: 4800 bytes is 100 ms of audio,
	// small enough that a barge-in stops playback almost immediately.
	chunkBytes = 4800
)

// Ensure Synthesizer implements the tts.Synthesizer interface.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer implements tts.Synthesizer using the OpenAI API.
type Synthesizer struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// Option is a functional option for Synthesizer.
type Option func(*Synthesizer)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(s *Synthesizer) { s.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient replaces the underlying HTTP client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) { s.client = c }
}

// WithLogger sets the logger for synthesis failures.
func WithLogger(log *slog.Logger) Option {
	return func(s *Synthesizer) { s.log = log }
}

// New constructs a hosted Synthesizer. If model is empty, DefaultModel is
// used.
func New(apiKey, model string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	s := &Synthesizer{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// SampleRate implements tts.Synthesizer.
func (s *Synthesizer) SampleRate() int { return pcmSampleRate }

// speechRequest is the JSON body of a synthesis request.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// SynthesizeStream implements tts.Synthesizer.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai tts: context already cancelled: %w", err)
	}

	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case fragment, ok := <-text:
				if !ok {
					return
				}
				if strings.TrimSpace(fragment) == "" {
					continue
				}
				if err := s.synthesizeOne(ctx, fragment, voice, out); err != nil {
					if ctx.Err() == nil {
						s.log.Error("speech synthesis failed, ending stream", "error", err)
					}
					return
				}
			}
		}
	}()
	return out, nil
}

// synthesizeOne performs one synthesis request and relays the PCM body to out.
func (s *Synthesizer) synthesizeOne(ctx context.Context, fragment string, voice tts.Voice, out chan<- []byte) error {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = DefaultVoice
	}

	body := speechRequest{
		Model:          s.model,
		Input:          fragment,
		Voice:          voiceID,
		ResponseFormat: "pcm",
	}
	if voice.Speed > 0 {
		body.Speed = voice.Speed
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(errBody))
	}

	for {
		chunk := make([]byte, chunkBytes)
		n, err := io.ReadFull(resp.Body, chunk)
		if n > 0 {
			select {
			case out <- chunk[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
	}
}
