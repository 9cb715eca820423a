// Package app wires all Vartalaap subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the detection pipeline,
// the session manager with its optional history store and the HTTP surfaces
// (tutor websocket, REST API, health, metrics); Run serves until the context
// ends; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSessionStore,
// WithCatalog, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vartalaap/vartalaap/internal/api"
	"github.com/vartalaap/vartalaap/internal/config"
	"github.com/vartalaap/vartalaap/internal/feedback"
	"github.com/vartalaap/vartalaap/internal/grammar/detector"
	"github.com/vartalaap/vartalaap/internal/grammar/router"
	"github.com/vartalaap/vartalaap/internal/grammar/rules"
	"github.com/vartalaap/vartalaap/internal/health"
	"github.com/vartalaap/vartalaap/internal/observe"
	"github.com/vartalaap/vartalaap/internal/session"
	"github.com/vartalaap/vartalaap/internal/session/postgres"
	"github.com/vartalaap/vartalaap/internal/tutor"
	"github.com/vartalaap/vartalaap/pkg/provider/stt"
)

// shutdownGrace bounds the HTTP drain when Run's context ends.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New.
	catalog  *rules.Catalog
	router   *router.Router
	detector *detector.Detector
	store    session.Store
	sessions *session.Manager
	tutor    *tutor.Handler
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a history store instead of connecting to the
// configured database.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCatalog injects a rule catalog instead of loading one from config.
func WithCatalog(c *rules.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (built via the config registry). A nil providers value means
// the catalog-only pipeline without speech.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Rule catalog ──────────────────────────────────────────────────
	if err := a.initCatalog(); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 2. Detector + tier router ────────────────────────────────────────
	if err := a.initDetector(); err != nil {
		return nil, fmt.Errorf("app: init detector: %w", err)
	}

	// ── 3. Sessions + history ────────────────────────────────────────────
	if err := a.initSessions(ctx); err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 4. HTTP surfaces ─────────────────────────────────────────────────
	a.handler = a.buildHandler()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initCatalog() error {
	if a.catalog != nil {
		return nil
	}
	path := a.cfg.Detection.RulesFile
	if path == "" {
		a.catalog = rules.Default()
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	c, err := rules.Load(f)
	if err != nil {
		return fmt.Errorf("load %q: %w", path, err)
	}
	a.catalog = c
	slog.Info("loaded rule catalog", "path", path, "rules", c.Len())
	return nil
}

func (a *App) initDetector() error {
	opts := []detector.Option{
		detector.WithEscalationWords(a.cfg.Detection.EscalationWords),
		detector.WithMetrics(a.metrics),
	}
	if len(a.providers.Tiers) > 0 {
		r, err := router.New(a.providers.Tiers,
			router.WithTimeout(a.cfg.Detection.TierTimeout),
			router.WithCircuitBreaker(breakerConfig(a.cfg.Detection.CircuitBreaker)),
			router.WithMetrics(a.metrics),
		)
		if err != nil {
			return err
		}
		a.router = r
		opts = append(opts, detector.WithRouter(r))
	} else {
		slog.Warn("no detection tiers available, using the rule catalog only")
	}
	a.detector = detector.New(a.catalog, opts...)
	return nil
}

func (a *App) initSessions(ctx context.Context) error {
	if a.store == nil && a.cfg.Session.PostgresDSN != "" {
		s, err := postgres.NewStore(ctx, a.cfg.Session.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, func() error {
			s.Close()
			return nil
		})
		slog.Info("session history enabled")
	}

	opts := []session.Option{session.WithMetrics(a.metrics)}
	if a.store != nil {
		opts = append(opts, session.WithStore(a.store))
	}
	a.sessions = session.NewManager(opts...)
	return nil
}

func (a *App) buildHandler() http.Handler {
	cfg := a.cfg
	mux := http.NewServeMux()

	tutorOpts := []tutor.Option{
		tutor.WithThrottle(cfg.Detection.ThrottleInterval),
		tutor.WithMinFragmentChars(cfg.Detection.MinFragmentChars),
		tutor.WithNudgeAfter(cfg.Detection.NudgeAfter),
		tutor.WithOriginPatterns(cfg.Server.AllowedOrigins),
		tutor.WithWriteTimeout(cfg.Server.WriteTimeout),
		tutor.WithStreamConfig(streamConfig(cfg.Providers.STT)),
		tutor.WithMetrics(a.metrics),
	}
	if a.providers.TTS != nil {
		tutorOpts = append(tutorOpts, tutor.WithTTS(a.providers.TTS, a.providers.Voice))
	}
	if a.providers.Conversation != nil {
		tutorOpts = append(tutorOpts, tutor.WithConversation(a.providers.Conversation))
	}
	a.tutor = tutor.New(a.detector, a.sessions, a.providers.STT, tutorOpts...)
	mux.Handle("GET /ws", a.tutor)
	mux.Handle("GET /ws/practice", a.tutor)

	apiOpts := []api.Option{api.WithHistoryLimit(cfg.Session.HistoryLimit)}
	if cfg.Session.FeedbackFile != "" {
		apiOpts = append(apiOpts, api.WithFeedback(feedback.NewFileStore(cfg.Session.FeedbackFile)))
	}
	api.New(a.detector, a.sessions, apiOpts...).Register(mux)

	health.New([]health.Checker{
		{Name: "rules", Check: a.checkCatalog},
		{Name: "history", Check: a.sessions.Ping},
	}, health.WithActiveClients(a.tutor.ActiveConnections)).Register(mux)

	if cfg.Observability.MetricsEnabled() {
		mux.Handle("GET /metrics", observe.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) checkCatalog(context.Context) error {
	if a.catalog.Len() == 0 {
		return errors.New("rule catalog is empty")
	}
	return nil
}

// streamConfig is the audio format requested from the STT provider. Without
// an encoding option the provider sniffs containerised audio (webm/ogg).
func streamConfig(entry config.ProviderEntry) stt.StreamConfig {
	cfg := stt.StreamConfig{
		Encoding:       config.OptString(entry.Options, "encoding"),
		SampleRate:     config.OptInt(entry.Options, "sample_rate"),
		Channels:       config.OptInt(entry.Options, "channels"),
		Language:       config.OptString(entry.Options, "language"),
		InterimResults: true,
		UtteranceEndMs: config.OptInt(entry.Options, "utterance_end_ms"),
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return cfg
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains open requests. Open
// tutor sockets see ctx end through their request context.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "live_sessions", len(a.sessions.Active()))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
