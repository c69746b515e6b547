package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write to a peer.
	writeWait = 10 * time.Second
	// pongWait is how long a peer may stay silent before the read side
	// gives up; pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

type outFrame struct {
	messageType int
	data        []byte
}

// client wraps one websocket connection behind a buffered send queue so
// the coordinator and document relays never block on a slow peer. A peer
// that falls sendBufferSize frames behind starts losing frames; the next
// reconnect re-seeds it from authoritative state.
type client struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	send      chan outFrame
	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn, logger *slog.Logger) *client {
	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		logger: logger,
		send:   make(chan outFrame, sendBufferSize),
		closed: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *client) ID() string { return c.id }

// Send queues a text frame (room.Conn).
func (c *client) Send(data []byte) {
	c.enqueue(websocket.TextMessage, data)
}

// SendBinary queues a binary frame (crdtdoc.FrameSender).
func (c *client) SendBinary(data []byte) {
	c.enqueue(websocket.BinaryMessage, data)
}

func (c *client) enqueue(messageType int, data []byte) {
	select {
	case c.send <- outFrame{messageType: messageType, data: data}:
	case <-c.closed:
	default:
		c.logger.Warn("dropping frame for slow connection", "conn_id", c.id)
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frame.messageType, frame.data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
