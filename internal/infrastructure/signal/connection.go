package signal

import (
	"sync"
	"time"

	"lessonlive/internal/core/domain"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type outbound struct {
	data   []byte
	close  bool
	reason string
}

// client is one signaling connection. The reader goroutine owns joined; the
// writer goroutine is the only one writing to conn.
type client struct {
	id          domain.ConnectionID
	identity    domain.Identity
	displayName string
	admin       bool
	roomID      domain.RoomID

	conn    *websocket.Conn
	queue   chan outbound
	limiter *rate.Limiter

	mu      sync.Mutex
	closing bool

	stopOnce sync.Once
	stop     chan struct{}

	joined bool
}

func newClient(conn *websocket.Conn, queueSize int) *client {
	return &client{
		conn:  conn,
		queue: make(chan outbound, queueSize),
		stop:  make(chan struct{}),
	}
}

// enqueue never blocks. It reports false when the queue is full; after a
// close request everything is silently dropped.
func (c *client) enqueue(msg outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return true
	}
	if msg.close {
		c.closing = true
	}
	select {
	case c.queue <- msg:
		return true
	default:
		c.closing = true
		return false
	}
}

// abort closes the socket without flushing.
func (c *client) abort() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.shutdown()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *client) shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *client) writePump(pingInterval, writeTimeout time.Duration, onError func(error)) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.queue:
			if msg.close {
				deadline := time.Now().Add(writeTimeout)
				frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg.reason)
				_ = c.conn.WriteControl(websocket.CloseMessage, frame, deadline)
				c.abort()
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				onError(err)
				c.abort()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				onError(err)
				c.abort()
				return
			}

		case <-c.stop:
			return
		}
	}
}
