// Package http serves the vendorflow REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/decision"
	"github.com/fyrsmithlabs/vendorflow/internal/linking"
	"github.com/fyrsmithlabs/vendorflow/internal/logging"
	"github.com/fyrsmithlabs/vendorflow/internal/pipeline"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
)

// HeaderUser names the acting user when the body does not.
const HeaderUser = "X-User"

// Enqueuer schedules a thread run in the background.
type Enqueuer interface {
	Enqueue(threadID string, opts pipeline.Options) error
}

// Services are the collaborators behind the API. Queue may be nil, in which
// case async processing is refused.
type Services struct {
	Store       *store.Store
	Pipeline    *pipeline.Service
	Linker      *linking.Linker
	Engine      *decision.Engine
	Definitions *signals.Cache
	Queue       Enqueuer
	Telemetry   HealthReporter
}

// HealthReporter is an optional dependency whose state is listed on
// /health without affecting the overall status.
type HealthReporter interface {
	Health() (status, reason string)
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string

	// ReadOnlyDefinitions rejects definition writes, as when definitions
	// come from a file.
	ReadOnlyDefinitions bool
}

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	svc    Services
	logger *zap.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(svc Services, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc.Store == nil || svc.Pipeline == nil || svc.Linker == nil || svc.Engine == nil || svc.Definitions == nil {
		return nil, errors.New("store, pipeline, linker, engine and definitions are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}

	rm, err := newRequestMetrics(otel.Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("http metrics: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(rm.middleware)
	e.Use(requestLogger(logger))

	s := &Server{
		echo:   e,
		svc:    svc,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request id on the context and logs each request
// with the context's correlation fields.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				// Resolve the status now so the log line carries it.
				c.Error(err)
				err = nil
			}

			fields := append(logging.ContextFields(c.Request().Context()),
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			logger.Info("http request", fields...)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/threads/:id/process", s.handleProcessThread)
	v1.GET("/threads/:id/analysis", s.handleGetAnalysis)
	v1.GET("/threads/:id/candidates", s.handleCandidates)
	v1.POST("/threads/:id/link", s.handleManualLink)

	v1.GET("/proposals", s.handleListProposals)
	v1.POST("/proposals/expire", s.handleExpireProposals)
	v1.POST("/proposals/:id/accept", s.handleAcceptProposal)
	v1.POST("/proposals/:id/reject", s.handleRejectProposal)

	v1.GET("/relationships/:id/history", s.handleHistory)

	v1.GET("/definitions", s.handleListDefinitions)
	v1.PUT("/definitions/:slug", s.handlePutDefinition)
	v1.POST("/definitions/invalidate", s.handleInvalidateDefinitions)
}

// ServeHTTP lets the server be driven directly, as in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
