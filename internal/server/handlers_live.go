package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/organvm-vi-koinonia/community-hub/internal/domain"
	"github.com/organvm-vi-koinonia/community-hub/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // room access is token-gated, not origin-gated
	},
}

// handleLiveRoom reports the current participant count for a salon room.
// The browsing portal renders the page; the core only owns the numbers.
func (s *Server) handleLiveRoom(c echo.Context) error {
	roomID := c.Param("id")
	if err := domain.ValidateRoomID(roomID); err != nil {
		return c.String(http.StatusBadRequest, "Invalid room id")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"room":              roomID,
		"participant_count": s.registry.ParticipantCount(roomID),
	})
}

// handleLiveSocket admits a participant into a live salon room. Admission
// failures are surfaced as HTTP errors before the upgrade; once upgraded,
// the handler blocks on the connection's receive loop until closure.
func (s *Server) handleLiveSocket(c echo.Context) error {
	roomID := c.Param("id")
	if err := domain.ValidateRoomID(roomID); err != nil {
		metrics.LiveAdmissionsRejectedTotal.WithLabelValues("invalid_room").Inc()
		return c.String(http.StatusBadRequest, "Invalid room id")
	}

	identity, err := s.auth.Authenticate(c.Request().Context(), roomID, c.QueryParam("token"))
	if err != nil {
		metrics.LiveAdmissionsRejectedTotal.WithLabelValues("unauthenticated").Inc()
		return c.String(http.StatusUnauthorized, "Authentication required")
	}

	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.ConnectionLimitRejectionsTotal.WithLabelValues(string(reason)).Inc()
		slog.Warn("connection rejected by limits", "ip", ip, "reason", reason)
		return c.String(http.StatusTooManyRequests, "Too many connections")
	}
	defer func() {
		s.limits.Release(ip)
		metrics.ConnectionLimitUtilization.Set(s.limits.UtilizationPct())
	}()
	metrics.ConnectionLimitUtilization.Set(s.limits.UtilizationPct())

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	conn, err := s.gateway.Admit(ws, roomID, identity)
	if err != nil {
		// Admit closed the socket with the appropriate close code.
		slog.Warn("admission failed", "room", roomID, "error", err)
		return nil
	}

	// Blocks until the connection closes.
	s.gateway.Serve(conn)

	return nil
}
