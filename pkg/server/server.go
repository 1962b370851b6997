// Package server implements the panelgate control-surface server.
//
// Every route except health, readiness and metrics passes through the
// authentication gate: HTTP API routes via auth.Middleware, the status RPC
// via auth.Interceptor, and the panel socket via an upgrade check with a
// message-based fallback.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/panelgate/panelgate/pkg/auth"
	"github.com/panelgate/panelgate/pkg/config"
	"github.com/panelgate/panelgate/pkg/event"
)

// maxEventBody limits the size of POST /api/events bodies.
const maxEventBody = 64 << 10

// Server serves the control surface.
type Server struct {
	cfg      *config.Config
	gate     auth.Handler
	metrics  *auth.Metrics
	hub      *Hub
	notifier event.Notifier
	logger   *slog.Logger
	debug    auth.DebugSink
	upgrader websocket.Upgrader

	started time.Time
	ready   atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithDebugSink sets the sink that receives "401 <METHOD>: <PATH>" lines for
// rejected panel sockets. HTTP rejections are reported by the gate itself.
func WithDebugSink(sink auth.DebugSink) Option {
	return func(s *Server) {
		if sink != nil {
			s.debug = sink
		}
	}
}

// New creates a server. metrics may be nil when metrics are disabled.
func New(cfg *config.Config, gate auth.Handler, metrics *auth.Metrics, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	hub := NewHub(logger.With(slog.String("component", "hub")))
	s := &Server{
		cfg:      cfg,
		gate:     gate,
		metrics:  metrics,
		hub:      hub,
		notifier: event.Multi{hub, event.NewLogNotifier(logger.With(slog.String("component", "events")))},
		logger:   logger,
		debug:    auth.NopDebugSink(),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hub returns the hub that broadcasts events to panel sockets.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Notify delivers an event to panel sockets and the log.
func (s *Server) Notify(ctx context.Context, ev event.Event) error {
	return s.notifier.Notify(ctx, ev)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/status", s.handleStatus)
	api.HandleFunc("/api/events", s.handleEvents)

	middleware := auth.NewMiddleware(s.gate,
		auth.WithExcludedPaths(s.cfg.Auth.ExcludedPaths...),
		auth.WithSubject(s.cfg.Auth.Subject),
		auth.WithMetrics(s.metrics),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	if s.cfg.MetricsEnabled() && s.metrics != nil {
		mux.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	mux.HandleFunc(s.cfg.WebSocket.Path, s.handleWebSocket)
	rpcPath, rpcHandler := NewStatusHandler(s, auth.NewInterceptor(s.gate, s.metrics,
		auth.WithInterceptorSubject(s.cfg.Auth.Subject)))
	mux.Handle(rpcPath, rpcHandler)
	mux.Handle("/", middleware.Wrap(api))

	return mux
}

// Run serves until ctx is canceled or the listener fails, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	s.ready.Store(true)
	s.logger.Info("control surface ready", slog.String("addr", s.cfg.Server.Address))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrChan:
		s.logger.Error("server failed", slog.String("error", runErr.Error()))
	}
	s.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// Status describes the running control surface.
type Status struct {
	Subject       string `json:"subject,omitempty"`
	Method        string `json:"method"`
	Connections   int    `json:"connections"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func (s *Server) status(ctx context.Context) Status {
	st := Status{
		Method:        auth.MethodOf(s.gate),
		Connections:   s.hub.Count(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if id := auth.IdentityFromContext(ctx); id != nil {
		st.Subject = id.Subject
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.status(r.Context()))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	gift, err := event.DecodeSubscriptionGift(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ev := gift.Event()
	if err := s.Notify(r.Context(), ev); err != nil {
		s.logger.Warn("event delivery incomplete", slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusAccepted, ev)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
