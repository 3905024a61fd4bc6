package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/auth"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/handlers"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/ingress"
)

// Pinger reports whether durable storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Logger   slog.Logger
	APIKeys  map[string]string
	DB       Pinger
	Bus      *ingress.Bus
	Reports  handlers.ReportReader
	Gatherer prometheus.Gatherer
	// TapBuffer bounds each /events/tap subscriber's queue.
	TapBuffer int
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /metrics
// Authenticated: /events, /report/daily, /events/tap
func NewRouter(opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := opts.DB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	// Auth group identifies the client via X-API-Key.
	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(opts.Logger.Named("auth"), opts.APIKeys))

	handlers.RegisterEventRoutes(authGroup, opts.Bus)
	handlers.RegisterReportRoutes(authGroup, opts.Reports)
	handlers.RegisterTapRoutes(authGroup, opts.Logger, opts.Bus, opts.TapBuffer)

	return r
}

// Server runs an http.Server until its context ends.
type Server struct {
	logger slog.Logger
	web    *http.Server
}

func NewServer(logger slog.Logger, addr string, handler http.Handler) *Server {
	return &Server{
		logger: logger,
		web: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is done, then shuts down gracefully, waiting up to ten
// seconds for in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	closed := make(chan error, 1)

	go func() {
		closed <- s.web.ListenAndServe()
	}()
	s.logger.Info(ctx, "http server started", slog.F("addr", s.web.Addr))

	select {
	case err := <-closed:
		return xerrors.Errorf("listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.web.Shutdown(shutdownCtx); err != nil {
			return xerrors.Errorf("shutdown: %w", err)
		}
		s.logger.Info(shutdownCtx, "http server stopped")
		return nil
	}
}
