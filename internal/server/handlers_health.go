package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/organvm-vi-koinonia/community-hub/internal/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  uptime,
		"version": version.Get(),
	})
}

// handleReadiness reports readiness. The broadcast core has no external
// dependencies; readiness carries the live connection count so operators can
// see drain progress during rollouts.
func (s *Server) handleReadiness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ready",
		"connections": s.limits.Current(),
	})
}
