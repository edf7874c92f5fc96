package live

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/organvm-vi-koinonia/community-hub/internal/domain"
	"github.com/organvm-vi-koinonia/community-hub/internal/metrics"
)

type connState int

const (
	stateAdmitted connState = iota
	stateActive
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAdmitted:
		return "admitted"
	case stateActive:
		return "active"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Conn is one participant's live connection. The gateway's receive loop is
// the only reader of the socket; a dedicated write pump is the only writer
// while the connection is open. Everything else talks to the connection
// through Deliver, Ping, and Evict, none of which block.
type Conn struct {
	id       uuid.UUID
	roomID   string
	identity string

	ws    *websocket.Conn
	clock clockwork.Clock

	sendCh   chan []byte
	pingCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	writeDeadline time.Duration

	limiter *MessageLimiter

	mu           sync.Mutex
	state        connState
	lastActivity time.Time

	// onClosing removes the connection from its room. Invoked exactly once,
	// on the ACTIVE -> CLOSING transition, whichever trigger wins the race.
	onClosing func(*Conn)
}

func newConn(ws *websocket.Conn, clock clockwork.Clock, roomID, identity string, limiter *MessageLimiter, sendBuffer int, writeDeadline time.Duration) *Conn {
	c := &Conn{
		id:            uuid.New(),
		roomID:        roomID,
		identity:      identity,
		ws:            ws,
		clock:         clock,
		sendCh:        make(chan []byte, sendBuffer),
		pingCh:        make(chan struct{}, 1),
		done:          make(chan struct{}),
		writeDeadline: writeDeadline,
		limiter:       limiter,
		state:         stateAdmitted,
		lastActivity:  clock.Now(),
	}
	ws.SetPongHandler(func(string) error {
		c.Touch()
		return nil
	})
	c.wg.Add(1)
	go c.writePump()
	return c
}

func (c *Conn) ID() uuid.UUID    { return c.id }
func (c *Conn) Identity() string { return c.identity }
func (c *Conn) RoomID() string   { return c.roomID }

// Touch records inbound traffic for the keepalive monitor.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastActivity = c.clock.Now()
	c.mu.Unlock()
}

func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// State reports the current lifecycle state.
func (c *Conn) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

// activate marks the connection live after successful room registration.
func (c *Conn) activate() {
	c.mu.Lock()
	if c.state == stateAdmitted {
		c.state = stateActive
	}
	c.mu.Unlock()
}

func (c *Conn) shuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosing || c.state == stateClosed
}

// Deliver enqueues a frame for the write pump. Never blocks: a full buffer
// means the client is not keeping up and the caller decides its fate.
func (c *Conn) Deliver(frame []byte) error {
	if c.shuttingDown() {
		return domain.ErrConnectionClosed
	}
	select {
	case c.sendCh <- frame:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

// Ping requests a liveness probe from the write pump. Fire-and-forget: a
// pending probe or a closed connection drops the request.
func (c *Conn) Ping() bool {
	if c.shuttingDown() {
		return false
	}
	select {
	case c.pingCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// Evict tears the connection down with a normal close frame. Satisfies
// domain.Member for the registry and the keepalive monitor.
func (c *Conn) Evict(reason string) {
	c.Close(websocket.CloseNormalClosure, reason)
}

// Close runs the single teardown routine: CLOSING transition, room removal,
// pump shutdown, close frame, socket close, CLOSED. Safe to call from the
// receive loop, the keepalive monitor, broadcast fan-out, and server
// shutdown concurrently; every caller after the first is a no-op.
func (c *Conn) Close(code int, reason string) {
	c.mu.Lock()
	if c.state == stateClosing || c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosing
	c.mu.Unlock()

	if c.onClosing != nil {
		c.onClosing(c)
	}

	// Stop the pump before writing the close frame so the socket never has
	// two writers.
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()

	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.SetWriteDeadline(c.clock.Now().Add(c.writeDeadline))
	_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
	_ = c.ws.Close()

	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
}

func (c *Conn) writePump() {
	defer c.wg.Done()

	for {
		select {
		case frame := <-c.sendCh:
			start := c.clock.Now()
			c.updateWriteDeadline()
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				// Broken socket: closing it unblocks the receive loop,
				// which runs the teardown path.
				_ = c.ws.Close()
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(c.clock.Since(start).Seconds())
		case <-c.pingCh:
			c.updateWriteDeadline()
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketPingFailures.Inc()
				_ = c.ws.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) updateWriteDeadline() {
	_ = c.ws.SetWriteDeadline(c.clock.Now().Add(c.writeDeadline))
}
