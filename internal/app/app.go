// Package app wires all VisionAid subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves device sessions until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithMetrics, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/visionaid-ai/visionaid/internal/config"
	"github.com/visionaid-ai/visionaid/internal/guard"
	"github.com/visionaid-ai/visionaid/internal/health"
	"github.com/visionaid-ai/visionaid/internal/observe"
	"github.com/visionaid-ai/visionaid/internal/resilience"
	"github.com/visionaid-ai/visionaid/internal/turn"
	"github.com/visionaid-ai/visionaid/internal/visiongate"
	"github.com/visionaid-ai/visionaid/pkg/memory"
	"github.com/visionaid-ai/visionaid/pkg/memory/inmem"
	"github.com/visionaid-ai/visionaid/pkg/memory/postgres"
	"github.com/visionaid-ai/visionaid/pkg/provider/camera"
	"github.com/visionaid-ai/visionaid/pkg/provider/embeddings"
	"github.com/visionaid-ai/visionaid/pkg/provider/llm"
	"github.com/visionaid-ai/visionaid/pkg/provider/stt"
	"github.com/visionaid-ai/visionaid/pkg/provider/tts"
)

// shutdownGrace bounds the HTTP servers' graceful shutdown after ctx ends.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Camera may be nil
// when vision is disabled; the rest are required. Populated by main.go via
// the config registry.
type Providers struct {
	STT        stt.Transcriber
	LLM        llm.Generator
	TTS        tts.Synthesizer
	Embeddings embeddings.Provider
	Camera     camera.Grabber
}

// runtime bundles the per-turn collaborators that can be rebuilt on a config
// reload. Sessions snapshot the current runtime when they start; sessions
// already in flight keep the runtime they started with.
type runtime struct {
	guard     *guard.Guard
	gate      *visiongate.Gate
	assembler *turn.Assembler
	voice     tts.Voice

	// grabber is the breaker-wrapped camera, shared by the assembler and
	// the readiness probe so both see the same breaker state. Nil when
	// vision is disabled.
	grabber camera.Grabber
}

// App owns all subsystem lifetimes and serves the device session endpoint.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	logLevel  *slog.LevelVar
	metrics   *observe.Metrics

	store memory.Store
	hot   atomic.Pointer[runtime]

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a memory store instead of creating one from config.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics set instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the application logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithLogLevel hands the App the level var backing its logger, enabling
// log-level hot reload. Without it, log_level changes require a restart.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	switch {
	case providers.STT == nil:
		return nil, errors.New("app: stt provider is required")
	case providers.LLM == nil:
		return nil, errors.New("app: llm provider is required")
	case providers.TTS == nil:
		return nil, errors.New("app: tts provider is required")
	case providers.Embeddings == nil:
		return nil, errors.New("app: embeddings provider is required")
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	rt, err := a.buildRuntime(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build runtime: %w", err)
	}
	a.hot.Store(rt)

	return a, nil
}

// initStore selects the durable pgvector store or the in-process one,
// honoring an injected store.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dims := a.cfg.Memory.EmbeddingDimensions

	if !a.cfg.Memory.Persist {
		store, err := inmem.New(dims)
		if err != nil {
			return err
		}
		a.store = store
		a.log.Info("using in-memory store, interactions are lost on restart")
		return nil
	}

	store, err := postgres.NewStore(ctx, a.cfg.Memory.PostgresDSN, dims)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// buildRuntime constructs the reloadable per-turn collaborators from cfg.
func (a *App) buildRuntime(cfg *config.Config) (*runtime, error) {
	g := guard.New(
		guard.WithWakeWord(cfg.Wake.Phrase),
		guard.WithEnglishCheck(cfg.Wake.EnglishCheckEnabled()),
	)
	gate := visiongate.New(cfg.Vision.ExtraTriggers)

	var grabber camera.Grabber
	if cfg.Vision.SnapshotURL != "" && a.providers.Camera != nil {
		// A dead camera must not add a capture timeout to every visual
		// question; the breaker turns repeated failures into instant
		// text-only degrades.
		grabber = resilience.NewCameraBreaker(a.providers.Camera, resilience.Config{}, a.log)
	}

	assembler, err := turn.New(a.providers.Embeddings, a.store, gate, grabber, turn.Config{
		TopK:           cfg.Memory.TopK,
		MinSimilarity:  cfg.Memory.MinSimilarity,
		CaptureTimeout: cfg.Vision.CaptureTimeout.Std(),
		FrameDir:       cfg.Vision.FrameDir,
	}, a.log)
	if err != nil {
		return nil, err
	}

	return &runtime{
		guard:     g,
		gate:      gate,
		assembler: assembler,
		voice:     tts.Voice{ID: cfg.Voice.ID, Speed: cfg.Voice.Speed},
		grabber:   grabber,
	}, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the session, health, and metrics endpoints until ctx is
// cancelled, then shuts the servers down gracefully.
func (a *App) Run(ctx context.Context) error {
	sessionMux := http.NewServeMux()
	sessionMux.HandleFunc("GET /session", a.handleSession)

	opsMux := sessionMux
	if a.cfg.Server.MetricsAddr != "" && a.cfg.Server.MetricsAddr != a.cfg.Server.ListenAddr {
		opsMux = http.NewServeMux()
	}
	health.New(a.healthCheckers()...).Register(opsMux)
	opsMux.Handle("GET /metrics", promhttp.Handler())

	mw := observe.Middleware(a.metrics)

	servers := []*http.Server{{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: mw(sessionMux),
	}}
	if opsMux != sessionMux {
		servers = append(servers, &http.Server{
			Addr:    a.cfg.Server.MetricsAddr,
			Handler: mw(opsMux),
		})
	}

	grp, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		grp.Go(func() error {
			a.log.Info("listening", "addr", srv.Addr)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}
	grp.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				a.log.Warn("server shutdown", "addr", srv.Addr, "error", err)
			}
		}
		return gctx.Err()
	})

	err := grp.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// healthCheckers builds the readiness checks for /readyz.
func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{{
		Name: "memory",
		Check: func(ctx context.Context) error {
			// The pgvector store exposes a row count that doubles as a
			// connectivity probe; the in-process store is always ready.
			if counter, ok := a.store.(interface {
				Len(context.Context) (int64, error)
			}); ok {
				_, err := counter.Len(ctx)
				return err
			}
			return nil
		},
	}}
	if a.cfg.Vision.SnapshotURL != "" && a.providers.Camera != nil {
		checkers = append(checkers, health.Checker{
			Name: "camera",
			Check: func(ctx context.Context) error {
				// Probe through the breaker-wrapped grabber: an open breaker
				// fails readiness instantly instead of paying the capture
				// timeout, and probe outcomes feed the same breaker the
				// assembler uses.
				rt := a.hot.Load()
				if rt.grabber == nil {
					return nil
				}
				_, err := rt.grabber.Capture(ctx)
				return err
			},
		})
	}
	return checkers
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change. It is the
// callback for [config.Watcher]. Provider and network changes are ignored
// with a warning; they require a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", string(d.NewLogLevel))
	}

	if d.VoiceChanged || d.WakeChanged || d.RetrievalChanged || d.TriggersChanged {
		rt, err := a.buildRuntime(new)
		if err != nil {
			a.log.Warn("config reload rejected", "error", err)
			return
		}
		a.hot.Store(rt)
		a.log.Info("session runtime reloaded",
			"voice", d.VoiceChanged,
			"wake", d.WakeChanged,
			"retrieval", d.RetrievalChanged,
			"triggers", d.TriggersChanged,
		)
	}
}

// slogLevel maps a config log level to slog.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
