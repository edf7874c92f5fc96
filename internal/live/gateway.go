package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/organvm-vi-koinonia/community-hub/internal/domain"
	"github.com/organvm-vi-koinonia/community-hub/internal/metrics"
)

// CloseAuthenticationRequired is the application close code for connections
// that reach the gateway without a validated identity.
const CloseAuthenticationRequired = 4001

// GatewayConfig holds the per-connection policy knobs.
type GatewayConfig struct {
	MaxMessageBytes  int64
	MessageRate      float64
	MessageBurst     int
	RateLimitStrikes int
	SendBuffer       int
	WriteDeadline    time.Duration
}

// Gateway is the boundary between the upgrade layer and the broadcast core.
// It admits authenticated connections into rooms and runs each connection's
// receive loop until closure.
type Gateway struct {
	registry *Registry
	clock    clockwork.Clock
	cfg      GatewayConfig
}

func NewGateway(registry *Registry, clock clockwork.Clock, cfg GatewayConfig) *Gateway {
	return &Gateway{registry: registry, clock: clock, cfg: cfg}
}

// Admit wires an upgraded socket into a room: connection state, rate
// limiter, registration. On any error the socket has been closed with an
// appropriate close code and the caller owns nothing. identity must already
// be validated by the authentication collaborator.
func (g *Gateway) Admit(ws *websocket.Conn, roomID, identity string) (*Conn, error) {
	if identity == "" {
		metrics.LiveAdmissionsRejectedTotal.WithLabelValues("unauthenticated").Inc()
		g.reject(ws, CloseAuthenticationRequired, "authentication required")
		return nil, domain.ErrAuthenticationRequired
	}
	if err := domain.ValidateRoomID(roomID); err != nil {
		metrics.LiveAdmissionsRejectedTotal.WithLabelValues("invalid_room").Inc()
		g.reject(ws, websocket.ClosePolicyViolation, "invalid room id")
		return nil, err
	}

	limiter := NewMessageLimiter(g.cfg.MessageRate, g.cfg.MessageBurst, g.cfg.RateLimitStrikes, g.clock)
	c := newConn(ws, g.clock, roomID, identity, limiter, g.cfg.SendBuffer, g.cfg.WriteDeadline)
	c.onClosing = func(conn *Conn) {
		g.registry.Leave(conn.roomID, conn)
	}

	if err := g.registry.Join(roomID, c); err != nil {
		switch {
		case errors.Is(err, domain.ErrRoomFull):
			metrics.LiveAdmissionsRejectedTotal.WithLabelValues("room_full").Inc()
			c.Close(websocket.CloseTryAgainLater, "room is full")
		default:
			metrics.LiveAdmissionsRejectedTotal.WithLabelValues("internal").Inc()
			c.Close(websocket.CloseInternalServerErr, "admission failed")
		}
		return nil, err
	}

	c.activate()
	metrics.WebSocketConnectionsTotal.Inc()
	slog.Debug("connection admitted", "room", roomID, "conn", c.id.String())
	return c, nil
}

// Serve runs the receive loop until the connection closes. Every exit path
// funnels through Conn.Close, so removal from the room happens exactly once
// no matter which trigger fires first.
func (g *Gateway) Serve(c *Conn) {
	start := g.clock.Now()
	defer func() {
		metrics.WebSocketConnectionDuration.Observe(g.clock.Since(start).Seconds())
	}()
	defer c.Close(websocket.CloseNormalClosure, "")

	c.ws.SetReadLimit(g.cfg.MaxMessageBytes)

	for {
		msgType, payload, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				metrics.LiveOversizedMessagesTotal.Inc()
				slog.Warn("closing connection: payload too large", "room", c.roomID, "conn", c.id.String())
				c.Close(websocket.CloseMessageTooBig, fmt.Sprintf("message exceeds %d bytes", g.cfg.MaxMessageBytes))
			}
			return
		}
		c.Touch()

		if msgType != websocket.TextMessage {
			c.Close(websocket.CloseUnsupportedData, "text frames only")
			return
		}
		if int64(len(payload)) > g.cfg.MaxMessageBytes {
			metrics.LiveOversizedMessagesTotal.Inc()
			c.Close(websocket.CloseMessageTooBig, fmt.Sprintf("message exceeds %d bytes", g.cfg.MaxMessageBytes))
			return
		}

		text := string(payload)
		if text == "ping" {
			g.reply(c, domain.NewPong())
			continue
		}

		if !c.limiter.Allow() {
			metrics.LiveRateLimitRejectionsTotal.Inc()
			if c.limiter.Exhausted() {
				metrics.LiveRateLimitEvictionsTotal.Inc()
				slog.Warn("closing connection: repeated rate limit violations", "room", c.roomID, "conn", c.id.String())
				c.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
				return
			}
			g.reply(c, domain.NewErrorNotice("Rate limit exceeded. Slow down."))
			continue
		}

		g.registry.Broadcast(c.roomID, c, text)
	}
}

// reply sends a record to one connection only, best effort.
func (g *Gateway) reply(c *Conn, msg domain.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal reply", "error", err)
		return
	}
	_ = c.Deliver(frame)
}

// reject closes a socket that never made it past admission.
func (g *Gateway) reject(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, g.clock.Now().Add(g.cfg.WriteDeadline))
	_ = ws.Close()
}
