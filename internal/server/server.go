package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elskow/bms/internal/api"
	"github.com/elskow/bms/internal/auth"
	"github.com/elskow/bms/internal/config"
	"github.com/elskow/bms/internal/metrics"
	"github.com/elskow/bms/internal/ratelimit"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	config     *config.AppConfig
	log        *zap.Logger
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
}

type Params struct {
	fx.In

	Config       *config.AppConfig
	Logger       *zap.Logger
	Database     Pinger
	AuthHandler  *auth.Handler
	AdminHandler *auth.AdminHandler
	Middleware   *auth.Middleware
	Throttle     *ratelimit.Throttle
	Metrics      *metrics.Metrics
}

func NewServer(p Params) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if p.Config.Server.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(accessLog(p.Logger))
	if p.Metrics != nil {
		r.Use(p.Metrics.Instrument)
	}
	r.Use(p.Throttle.Middleware)
	if p.Config.Server.MaxBodyBytes > 0 {
		r.Use(bodyLimit(p.Config.Server.MaxBodyBytes))
	}

	r.Get(api.Health, healthHandler(p.Database, p.Logger))
	if p.Metrics != nil {
		r.Method(http.MethodGet, p.Config.Metrics.Path, p.Metrics.Handler())
	}

	p.AuthHandler.Routes(r, p.Middleware)
	p.AdminHandler.Routes(r, p.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	sc := p.Config.Server
	return &Server{
		config: p.Config,
		log:    p.Logger,
		router: r,
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(sc.Host, sc.Port),
			Handler:           r,
			ReadTimeout:       sc.ReadTimeout,
			ReadHeaderTimeout: sc.ReadTimeout,
			WriteTimeout:      sc.WriteTimeout,
			IdleTimeout:       sc.IdleTimeout,
		},
	}
}

// Handler exposes the routed handler without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors are
// returned so startup fails instead of logging later.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis

	s.log.Info("Starting HTTP server",
		zap.String("address", lis.Addr().String()),
		zap.Object("config", serverConfigToField(s.config)),
	)

	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if timeout := s.config.Server.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

func serverConfigToField(config *config.AppConfig) zapcore.ObjectMarshaler {
	return zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("environment", config.Environment)
		enc.AddDuration("read_timeout", config.Server.ReadTimeout)
		enc.AddDuration("write_timeout", config.Server.WriteTimeout)
		enc.AddInt64("max_body_bytes", config.Server.MaxBodyBytes)
		enc.AddBool("trust_proxy_headers", config.Server.TrustProxyHeaders)
		enc.AddString("rate_limit_backend", config.RateLimit.Backend)
		enc.AddBool("metrics_enabled", config.Metrics.Enabled)
		return nil
	})
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// bodyLimit rejects declared oversized bodies up front and caps the rest
// while they are read.
func bodyLimit(limit int64) func(http.Handler) http.Handler {
	capped := middleware.RequestSize(limit)
	return func(next http.Handler) http.Handler {
		limited := capped(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				api.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func healthHandler(db Pinger, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			log.Warn("health check failed", zap.Error(err))
			api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "unavailable",
				"database": "down",
			})
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"database": "up",
		})
	}
}
