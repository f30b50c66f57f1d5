// Package server is the agent's HTTP surface: push intake, the foreground
// WebSocket, history reconcile/clear, click activation and health.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"jiranotifier/internal/background"
	"jiranotifier/internal/notification"
	logx "jiranotifier/pkg/logx"
)

const (
	DefaultAddr            = "127.0.0.1:8757"
	DefaultMaxPayloadBytes = 64 << 10

	confirmHeader = "X-Confirm"
	confirmClear  = "clear"
)

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxPayloadBytes int64
	// Pprof mounts the runtime profiler under /debug.
	Pprof bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return c
}

// History is the slice of the store the HTTP surface needs.
type History interface {
	ListAll(ctx context.Context) ([]notification.Record, error)
	Clear(ctx context.Context) error
}

// Deps wires the server to the pipeline. Push and Click must return
// immediately; the pipeline runs on the agent lifetime.
type Deps struct {
	Push    func(raw []byte)
	Click   func(a background.Activation)
	Lookup  func(id string) (background.Activation, bool)
	History History
	// Foreground serves GET /ws.
	Foreground http.Handler
	// Cleared is called after a successful clear.
	Cleared func(ctx context.Context)
	Health  func(ctx context.Context) Health
	Log     logx.Logger
}

// Health is the /healthz body.
type Health struct {
	OK      bool   `json:"ok"`
	Store   string `json:"store"`
	Clients int    `json:"clients"`
	Details any    `json:"details,omitempty"`
}

// Server manages the listener lifecycle.
type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
	done chan struct{}
}

func New(cfg Config, deps Deps) *Server {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Server{cfg: cfg.withDefaults(), deps: deps, log: deps.Log}
}

// Handler returns the routed handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Post("/push", s.handlePush)
	if s.deps.Foreground != nil {
		r.Method(http.MethodGet, "/ws", s.deps.Foreground)
	}
	r.Route("/api/notifications", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Delete("/", s.handleClear)
		r.Post("/activate", s.handleActivate)
	})
	r.Get("/healthz", s.handleHealth)
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		// WebSocket writes carry their own deadlines; 0 keeps /ws open.
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()
	s.done = make(chan struct{})

	done := s.done
	addr := s.addr
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("http server listening", logx.String("addr", addr))
	return nil
}

// Stop shuts the server down gracefully. Hijacked WebSocket connections are
// not tracked by net/http; close the foreground registry separately.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done, addr := s.srv, s.done, s.addr
	s.srv, s.ln, s.addr, s.done = nil, nil, "", nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.String("addr", addr), logx.Err(err))
		_ = srv.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("http server stopped", logx.String("addr", addr))
	return err
}

// Addr reports the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Int("bytes", ww.BytesWritten()),
			logx.Duration("took", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}
