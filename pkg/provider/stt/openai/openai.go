// Package openai provides an stt.Transcriber backed by the OpenAI audio
// transcription endpoint.
//
// The endpoint is file-oriented, so each utterance is wrapped in a minimal
// WAV header and submitted as one multipart upload. The SDK client used
// elsewhere in this repo has no streaming-audio surface to offer here, and a
// hand-built multipart request keeps the provider to a single round trip.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/visionaid-ai/visionaid/pkg/audio"
	"github.com/visionaid-ai/visionaid/pkg/provider/stt"
)

// DefaultModel is the default hosted transcription model.
const DefaultModel = "whisper-1"

const defaultBaseURL = "https://api.openai.com"

// Ensure Transcriber implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	apiKey   string
	model    string
	baseURL  string
	language string
	client   *http.Client
}

// Option is a functional option for Transcriber.
type Option func(*Transcriber)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(t *Transcriber) { t.baseURL = strings.TrimRight(url, "/") }
}

// WithLanguage sets the ISO-639-1 language hint (e.g., "en"). Defaults to
// letting the model auto-detect.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithHTTPClient replaces the underlying HTTP client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) { t.client = c }
}

// New constructs a hosted Transcriber. If model is empty, DefaultModel is
// used. The HTTP client carries no timeout of its own; the caller bounds each
// call via ctx (see stt.Fallback).
func New(apiKey, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	t := &Transcriber{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// transcriptionResponse is the JSON body of a successful transcription.
type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, utterance stt.Utterance) (string, error) {
	if len(utterance.PCM) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("openai stt: create form file: %w", err)
	}
	wav := audio.EncodeWAV(utterance.PCM, utterance.SampleRate, utterance.Channels)
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("openai stt: write audio: %w", err)
	}

	_ = writer.WriteField("model", t.model)
	_ = writer.WriteField("response_format", "json")
	if t.language != "" {
		_ = writer.WriteField("language", t.language)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("openai stt: finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("openai stt: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai stt: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai stt: status %d after %s: %s",
			resp.StatusCode, time.Since(start).Round(time.Millisecond), string(body))
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai stt: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
