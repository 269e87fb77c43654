// Package server exposes the runtime over HTTP: readiness, raw SQL,
// embeddings and chat completions with tool use.
package server

import (
	"context"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/labstack/echo/v4"

	"github.com/nittaya1990/spiced/auth"
	"github.com/nittaya1990/spiced/runtime"
)

// Config tunes the HTTP surface.
type Config struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string
	// Verifier authenticates requests. Defaults to anonymous access.
	Verifier auth.Verifier
}

// Server wires the echo engine around a runtime.
type Server struct {
	cfg  Config
	rt   *runtime.Runtime
	echo *echo.Echo
}

func New(cfg Config, rt *runtime.Runtime) *Server {
	if cfg.Verifier == nil {
		cfg.Verifier = auth.AnonymousVerifier{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	// Order matters: the request context must exist before auth can
	// attach the principal to it.
	e.Use(requestContextMiddleware())
	e.Use(authMiddleware(cfg.Verifier))

	s := &Server{cfg: cfg, rt: rt, echo: e}

	v1 := e.Group("/v1")
	v1.GET("/ready", s.handleReady)
	v1.POST("/sql", s.handleSQL)
	v1.POST("/embeddings", s.handleEmbeddings)
	v1.POST("/chat/completions", s.handleChatCompletions)

	return s
}

// Echo exposes the underlying engine, mainly for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start blocks serving requests until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	logger.Infof("http server listening on %s", s.cfg.Addr)
	return s.echo.Start(s.cfg.Addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
