package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] when the corresponding field is zero.
const (
	DefaultTopK                = 3
	DefaultMinSimilarity       = 0.75
	DefaultEmbeddingDimensions = 1536
	DefaultListenAddr          = ":8080"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"openai", "whisper"},
	"llm":        {"openai"},
	"tts":        {"openai"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. `${VAR}` references are expanded from the
// environment before decoding, so secrets like API keys can stay out of the
// file. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.Expand(string(raw), func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		// Leave unknown references intact so validation can point at them.
		return "${" + name + "}"
	})

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields that have documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Memory.TopK == 0 {
		cfg.Memory.TopK = DefaultTopK
	}
	if cfg.Memory.MinSimilarity == 0 {
		cfg.Memory.MinSimilarity = DefaultMinSimilarity
	}
	if cfg.Memory.EmbeddingDimensions == 0 {
		cfg.Memory.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// The local recognizer has no hosted endpoint to fall back on.
	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.ModelPath == "" {
		errs = append(errs, errors.New("providers.stt: whisper requires model_path"))
	}
	if cfg.Providers.STTFallback.Name == "whisper" && cfg.Providers.STTFallback.ModelPath == "" {
		errs = append(errs, errors.New("providers.stt_fallback: whisper requires model_path"))
	}
	if cfg.Providers.STTFallback.Name != "" && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallback is set but providers.stt is not"))
	}

	// Memory
	if cfg.Memory.Persist && cfg.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required when memory.persist is true"))
	}
	if cfg.Memory.MinSimilarity < 0 || cfg.Memory.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("memory.min_similarity %.2f is out of range [0, 1]", cfg.Memory.MinSimilarity))
	}
	if cfg.Memory.TopK < 0 {
		errs = append(errs, fmt.Errorf("memory.top_k %d must not be negative", cfg.Memory.TopK))
	}
	if cfg.Memory.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d must not be negative", cfg.Memory.EmbeddingDimensions))
	}

	// Vision
	if cfg.Vision.CaptureTimeout < 0 {
		errs = append(errs, errors.New("vision.capture_timeout must not be negative"))
	}
	for i, trigger := range cfg.Vision.ExtraTriggers {
		if strings.TrimSpace(trigger) == "" {
			errs = append(errs, fmt.Errorf("vision.extra_triggers[%d] is blank", i))
		}
	}
	if cfg.Vision.SnapshotURL == "" && (cfg.Vision.FrameDir != "" || len(cfg.Vision.ExtraTriggers) > 0) {
		slog.Warn("vision settings are present but vision.snapshot_url is empty; vision is disabled")
	}

	// Audio
	if cfg.Audio.SpeechThreshold < 0 || cfg.Audio.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.speech_threshold %.2f is out of range [0, 1]", cfg.Audio.SpeechThreshold))
	}
	for name, d := range map[string]Duration{
		"audio.silence_duration":        cfg.Audio.SilenceDuration,
		"audio.min_speech_duration":     cfg.Audio.MinSpeechDuration,
		"audio.max_utterance_duration":  cfg.Audio.MaxUtteranceDuration,
		"audio.suppress_after_playback": cfg.Audio.SuppressAfterPlayback,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	// Voice
	if cfg.Voice.Speed != 0 {
		if cfg.Voice.Speed < 0.5 || cfg.Voice.Speed > 2.0 {
			errs = append(errs, fmt.Errorf("voice.speed %.2f is out of range [0.5, 2.0]", cfg.Voice.Speed))
		}
	}

	// Availability warnings
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; no speech will be recognized")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; semantic memory retrieval is disabled")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
