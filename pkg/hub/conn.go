package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Role is what a connection registered as.
type Role int

const (
	// RoleNone is an accepted connection that hasn't registered yet.
	RoleNone Role = iota
	// RoleControl may mutate state.
	RoleControl
	// RoleDisplay renders state for one display index.
	RoleDisplay
)

// String returns the metrics label for r.
func (r Role) String() string {
	switch r {
	case RoleControl:
		return "control"
	case RoleDisplay:
		return "display"
	}
	return "none"
}

// Transport is a message-oriented duplex connection. Implementations
// must allow one concurrent reader and one concurrent writer, and Close
// must unblock a pending ReadMessage.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// wsTransport adapts a gorilla websocket to Transport.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newWSTransport(conn *websocket.Conn, maxMessageSize int64, writeTimeout time.Duration) *wsTransport {
	conn.SetReadLimit(maxMessageSize)
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

// Conn is one client connection. Role and display index are owned by
// the hub loop; the pumps only move bytes.
type Conn struct {
	id        uint64
	hub       *Hub
	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	role      Role
	displayID int
}

func newConn(id uint64, h *Hub, t Transport, queueSize int) *Conn {
	return &Conn{
		id:        id,
		hub:       h,
		transport: t,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
}

// ID returns the connection's process-unique id.
func (c *Conn) ID() uint64 { return c.id }

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// enqueue queues data without blocking. It reports false when the queue
// is full or the connection is closed.
func (c *Conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops both pumps. Pending writes are abandoned. The transport
// closes on its own goroutine; its close frame can wait behind a write
// in progress.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		go c.transport.Close()
	})
}

// readPump forwards inbound frames to the hub until the transport fails.
func (c *Conn) readPump() {
	defer c.hub.leave(c)

	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.hub.logger.Debug("read error", "conn", c.id, "error", err)
			}
			return
		}
		if !c.hub.receive(c, data) {
			return
		}
	}
}

// writePump drains the send queue. A failed write is treated as a
// disconnect.
func (c *Conn) writePump() {
	for {
		select {
		case data := <-c.send:
			if err := c.transport.WriteMessage(data); err != nil {
				c.hub.metrics.writeErrors.Inc()
				c.hub.logger.Debug("write error", "conn", c.id, "error", err)
				c.hub.leave(c)
				return
			}
		case <-c.done:
			return
		}
	}
}
