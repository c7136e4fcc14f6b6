package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peerlink/broker/internal/ratelimit"
	"github.com/peerlink/broker/internal/rendezvous"
)

const (
	// sendQueueSize bounds per-session outbound buffering. A full queue
	// drops the event rather than blocking a registry operation.
	sendQueueSize = 32

	writeWait = 5 * time.Second
)

// session is one WebSocket connection. The read loop owns the join state;
// the write pump owns the connection's write side. Registry events arrive
// through Deliver and are forwarded to the write pump without blocking.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	connID string

	send chan serverMessage
	done chan struct{}
	once sync.Once

	// Room binding, owned by the read loop. The disconnect cleanup in the
	// read loop's defer is the only other reader.
	code     string
	clientID string
}

func newSession(srv *Server, conn *websocket.Conn) *session {
	return &session{
		srv:    srv,
		conn:   conn,
		connID: uuid.NewString(),
		send:   make(chan serverMessage, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Deliver implements rendezvous.Peer. It never blocks: a closed session or a
// full send queue drops the event and reports failure.
func (c *session) Deliver(ev rendezvous.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- eventMessage(ev):
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *session) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue queues a reply for the write pump. Replies compete with relayed
// events for the same bounded queue.
func (c *session) enqueue(msg serverMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.srv.metrics.Inc(MetricSendQueueFull)
	}
}

func (c *session) resetReadDeadline() {
	c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.IdleTimeout))
}

func (c *session) writeClose(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// readLoop consumes client frames until the connection fails, the idle
// deadline fires, or a protocol violation closes it. Implicit disconnect
// cleanup runs unconditionally on exit so crashes and clean closes converge
// on the same path.
func (c *session) readLoop() {
	defer func() {
		c.close()
		if c.code != "" {
			c.srv.registry.Leave(c.code, c.connID)
		}
		c.srv.log.Debug("session closed", "conn_id", c.connID, "client_id", c.clientID)
	}()

	c.conn.SetReadLimit(c.srv.cfg.MaxMessageBytes)
	c.resetReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.resetReadDeadline()
		return nil
	})

	limiter := ratelimit.NewTokenBucket(nil, c.srv.cfg.MaxMessagesPerSecond)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			c.writeClose(websocket.CloseUnsupportedData, "text frames only")
			return
		}
		if !limiter.Allow() {
			c.srv.metrics.Inc(MetricRateLimited)
			c.writeClose(websocket.ClosePolicyViolation, "message rate exceeded")
			return
		}
		c.resetReadDeadline()

		msg, err := parseClientMessage(data)
		if err != nil {
			c.enqueue(errorMessage(errCodeBadRequest, err.Error()))
			continue
		}
		c.handle(msg)
	}
}

func (c *session) handle(msg clientMessage) {
	switch msg.Type {
	case msgTypeJoin:
		c.handleJoin(msg)
	case msgTypeSignal:
		if err := c.srv.registry.Relay(msg.Code, c.connID, msg.TargetClientID, msg.Payload); err != nil {
			c.enqueue(registryErrorMessage(err))
		}
	case msgTypeHeartbeat:
		// Heartbeats keep the idle deadline fresh but never extend room
		// expiry; the ack timestamp lets clients measure liveness.
		c.enqueue(heartbeatMessage(time.Now()))
	case msgTypeLeave:
		if c.code != "" {
			c.srv.registry.Leave(c.code, c.connID)
			c.code, c.clientID = "", ""
		}
		c.enqueue(serverMessage{Type: msgTypeLeft})
	}
}

func (c *session) handleJoin(msg clientMessage) {
	role, err := rendezvous.ParseRole(msg.Role)
	if err != nil {
		c.enqueue(errorMessage(errCodeBadRequest, err.Error()))
		return
	}

	// Rebinding to a different room releases the old slot first; rejoining
	// the same room is handled idempotently by the registry.
	if c.code != "" && c.code != msg.Code {
		c.srv.registry.Leave(c.code, c.connID)
		c.code, c.clientID = "", ""
	}

	occ, err := c.srv.registry.Join(msg.Code, role, msg.ClientID, c.connID, c)
	if err != nil {
		c.enqueue(registryErrorMessage(err))
		return
	}
	c.code, c.clientID = msg.Code, msg.ClientID
	c.enqueue(joinedMessage(msg.Code, occ))
}

// writePump serializes all writes to the connection: queued messages plus
// keepalive pings. It owns conn.Close so the read loop unblocks when the
// session is torn down from this side.
func (c *session) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
