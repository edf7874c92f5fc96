package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/organvm-vi-koinonia/community-hub/internal/config"
	"github.com/organvm-vi-koinonia/community-hub/internal/domain"
	"github.com/organvm-vi-koinonia/community-hub/internal/live"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	gateway   *live.Gateway
	registry  domain.Registry
	auth      domain.Authenticator
	limits    *ConnectionLimits
	startTime time.Time
}

func NewServer(cfg *config.Config, gateway *live.Gateway, registry domain.Registry, auth domain.Authenticator) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())

	srv := &Server{
		echo:     e,
		config:   cfg,
		gateway:  gateway,
		registry: registry,
		auth:     auth,
		limits: NewConnectionLimits(
			cfg.Live.MaxConnections,
			cfg.Live.MaxConnectionsPerIP,
			cfg.Live.ConnectionRate,
			cfg.Live.ConnectionBurst,
		),
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
