package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stranga/stranga-server/internal/lifecycle"
)

const (
	wsWriteWait = 1 * time.Second

	// closeGrace bounds how long the writer waits for the peer to echo a close
	// frame before dropping the TCP connection.
	closeGrace = 1 * time.Second
)

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan lifecycle.Message

	closeOnce   sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string

	readDone  chan struct{}
	writeDone chan struct{}
}

func newConn(id string, ws *websocket.Conn, queueSize int) *conn {
	return &conn{
		id:        id,
		ws:        ws,
		send:      make(chan lifecycle.Message, queueSize),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

// enqueue never blocks. It reports false if the connection is closing or the
// queue is full.
func (c *conn) enqueue(msg lifecycle.Message) bool {
	if c.isClosed() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// closeWith marks the connection as closing. The write pump flushes whatever
// is queued, then sends a close frame with code and reason. Only the first
// call wins.
func (c *conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// fail queues an error message and closes the connection.
func (c *conn) fail(code, message string, closeCode int, closeReason string) {
	c.enqueue(lifecycle.ErrorMessage(code, message))
	c.closeWith(closeCode, closeReason)
}

func (c *conn) writePump(pingInterval time.Duration) {
	defer close(c.writeDone)
	defer c.ws.Close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeReason),
				time.Now().Add(wsWriteWait))
			select {
			case <-c.readDone:
			case <-time.After(closeGrace):
			}
			return
		}
	}
}

func (c *conn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(msg lifecycle.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
