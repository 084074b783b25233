package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// network changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true when the TTS voice ID or speed changed.
	VoiceChanged bool
	NewVoice     VoiceConfig

	// WakeChanged is true when the wake phrase or language check changed.
	WakeChanged bool
	NewWake     WakeConfig

	// RetrievalChanged is true when top_k or min_similarity changed.
	RetrievalChanged bool

	// TriggersChanged is true when the extra vision triggers changed.
	TriggersChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.WakeChanged ||
		d.RetrievalChanged || d.TriggersChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Voice != new.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Voice
	}

	if old.Wake.Phrase != new.Wake.Phrase ||
		old.Wake.EnglishCheckEnabled() != new.Wake.EnglishCheckEnabled() {
		d.WakeChanged = true
		d.NewWake = new.Wake
	}

	if old.Memory.TopK != new.Memory.TopK ||
		old.Memory.MinSimilarity != new.Memory.MinSimilarity {
		d.RetrievalChanged = true
	}

	if !slices.Equal(old.Vision.ExtraTriggers, new.Vision.ExtraTriggers) {
		d.TriggersChanged = true
	}

	return d
}
