package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnectionClosed = errors.New("ws: connection closed")

type Connection struct {
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	closed   bool
	channels map[string]struct{}
}

func newConnection(conn *websocket.Conn) *Connection {
	return &Connection{
		conn:     conn,
		send:     make(chan []byte, 64),
		channels: make(map[string]struct{}),
	}
}

func (c *Connection) SendMessage(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- message:
	default:
		// Slow consumer: dropping the frame is preferable to blocking the
		// hub; counter events are repeatable.
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// joined records channel membership. A closed connection refuses new
// membership so a join cannot be registered after teardown already ran.
func (c *Connection) joined(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.channels[channel] = struct{}{}
	return true
}

func (c *Connection) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	channels := make([]string, 0, len(c.channels))
	for channel := range c.channels {
		channels = append(channels, channel)
	}
	return channels
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
