// Package server exposes the dictation pipeline over HTTP. Routing and
// middleware run on echo; each learner session gets its own orchestrator and
// auto-submit window so one learner's activity never cancels another's.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vocadrill/vocadrill/internal/autosubmit"
	"github.com/vocadrill/vocadrill/internal/chain"
	"github.com/vocadrill/vocadrill/internal/errlog"
	"github.com/vocadrill/vocadrill/internal/judge"
	"github.com/vocadrill/vocadrill/internal/observe"
	"github.com/vocadrill/vocadrill/internal/session"
	"github.com/vocadrill/vocadrill/pkg/provider/stt"
)

// OrchestratorFactory builds a fresh segmentation chain for one session.
type OrchestratorFactory func() *chain.Orchestrator

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithAddr sets the listen address. Default ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithTLS serves HTTPS with the given certificate pair.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithErrorStore enables the GET errors endpoint backed by store.
func WithErrorStore(store errlog.Store) Option {
	return func(s *Server) {
		s.errors = store
	}
}

// WithSTT enables the transcription proxy endpoint and adds the speech
// service to the health check.
func WithSTT(t stt.Transcriber) Option {
	return func(s *Server) {
		s.stt = t
	}
}

// WithMetrics sets the telemetry sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAutoSubmitDelay overrides [autosubmit.DefaultDelay] for every session.
func WithAutoSubmitDelay(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.autoDelay = d
		}
	}
}

// Server is the vocadrill HTTP server.
type Server struct {
	e        *echo.Echo
	addr     string
	certFile string
	keyFile  string

	sessions session.Store
	errors   errlog.Store
	judge    *judge.Judge
	newOrch  OrchestratorFactory
	stt      stt.Transcriber
	metrics  *observe.Metrics

	autoDelay time.Duration

	mu       sync.Mutex
	runtimes map[string]*sessionRuntime
}

// sessionRuntime is the per-session mutable state: the strategy chain (with
// its cache and generation counter) and the auto-submit window.
type sessionRuntime struct {
	orch      *chain.Orchestrator
	submitter *autosubmit.Submitter
}

// New creates a [Server]. sessions and jdg are required; newOrch is invoked
// once per learner session.
func New(sessions session.Store, jdg *judge.Judge, newOrch OrchestratorFactory, opts ...Option) *Server {
	s := &Server{
		addr:      ":8080",
		sessions:  sessions,
		judge:     jdg,
		newOrch:   newOrch,
		autoDelay: autosubmit.DefaultDelay,
		runtimes:  make(map[string]*sessionRuntime),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.e = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(observe.Middleware(s.metrics))

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/sessions/:session")
	api.DELETE("", s.handleEndSession)
	api.PUT("/batch", s.handlePutBatch)
	api.POST("/segment", s.handleSegment)
	api.POST("/judge", s.handleJudge)
	api.POST("/submit", s.handleSubmit)
	api.GET("/submissions", s.handleSubmissions)
	api.GET("/progress", s.handleProgress)
	if s.errors != nil {
		api.GET("/errors", s.handleErrors)
	}
	if s.stt != nil {
		api.POST("/transcribe", s.handleTranscribe)
	}
	return e
}

// runtime returns the session's runtime, creating it on first use.
func (s *Server) runtime(sessionID string) *sessionRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[sessionID]
	if !ok {
		rt = &sessionRuntime{orch: s.newOrch()}
		rt.submitter = autosubmit.New(s.autoSubmit, autosubmit.WithDelay(s.autoDelay))
		s.runtimes[sessionID] = rt
		s.metrics.RecordSessionOpened(context.Background())
	}
	return rt
}

// dropRuntime tears down the session's runtime, cancelling any pending
// auto-submission.
func (s *Server) dropRuntime(sessionID string) {
	s.mu.Lock()
	rt, ok := s.runtimes[sessionID]
	delete(s.runtimes, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	rt.submitter.Cancel()
	rt.orch.Supersede()
	s.metrics.RecordSessionClosed(context.Background())
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if s.certFile != "" {
			err = s.e.StartTLS(s.addr, s.certFile, s.keyFile)
		} else {
			err = s.e.Start(s.addr)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
