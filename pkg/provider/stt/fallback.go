package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Ensure Fallback implements the Transcriber interface.
var _ Transcriber = (*Fallback)(nil)

// FallbackConfig configures a [Fallback].
type FallbackConfig struct {
	// Timeout bounds each individual primary attempt. Non-positive disables
	// the per-attempt deadline.
	Timeout time.Duration

	// Attempts is how many times the primary is tried before the backup.
	// Values below 1 are treated as 1.
	Attempts int

	// Backoff is the pause between primary attempts. The wait respects the
	// caller's context.
	Backoff time.Duration

	Log *slog.Logger
}

// Fallback runs a primary transcriber with a bounded retry budget and, when
// that budget is exhausted, retries the same utterance against a local
// backup.
//
// Per-attempt deadlines apply to the primary only: the backup runs under the
// caller's context, because a slow local model still beats no answer at all.
// Cancellation of the caller's context is never retried — an abandoned turn
// has no use for a transcript from either backend.
type Fallback struct {
	primary Transcriber
	backup  Transcriber
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallback constructs a Fallback. backup may be nil, in which case
// exhausting the primary's retry budget surfaces the last error directly
// (timeouts wrapped in [ErrTimeout]).
func NewFallback(primary, backup Transcriber, cfg FallbackConfig) (*Fallback, error) {
	if primary == nil {
		return nil, errors.New("stt fallback: primary must not be nil")
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Fallback{primary: primary, backup: backup, cfg: cfg, log: log}, nil
}

// Transcribe implements Transcriber.
func (f *Fallback) Transcribe(ctx context.Context, utterance Utterance) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.Attempts; attempt++ {
		text, err := f.attemptPrimary(ctx, utterance)
		if err == nil {
			return text, nil
		}
		// The caller abandoned the turn; stop immediately.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: after %s: %w", ErrTimeout, f.cfg.Timeout, err)
		}
		lastErr = err

		if attempt < f.cfg.Attempts {
			f.log.Warn("primary transcription attempt failed, retrying",
				"attempt", attempt, "error", err)
			if !sleepCtx(ctx, f.cfg.Backoff) {
				return "", ctx.Err()
			}
		}
	}

	if f.backup == nil {
		return "", lastErr
	}

	f.log.Warn("primary transcription exhausted, retrying against local backup",
		"attempts", f.cfg.Attempts,
		"error", lastErr,
		"utterance_ms", utterance.Duration().Milliseconds())

	text, berr := f.backup.Transcribe(ctx, utterance)
	if berr != nil {
		return "", fmt.Errorf("stt fallback: primary: %w; backup: %w", lastErr, berr)
	}
	return text, nil
}

func (f *Fallback) attemptPrimary(ctx context.Context, utterance Utterance) (string, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	return f.primary.Transcribe(ctx, utterance)
}

// sleepCtx waits for d or until ctx is done; it reports whether the full
// wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
