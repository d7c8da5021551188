package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type HubOptions struct {
	Logger       *logrus.Logger
	CheckOrigin  func(r *http.Request) bool
	OnConnect    func(r *http.Request, hub *Hub, conn *Connection) error
	OnDisconnect func(conn *Connection)
}

// Hub terminates WebSocket connections and groups them into named channels.
// The "user/<id>" channel convention maps a logical user id to the set of
// live connections that currently represent that user on this process.
type Hub struct {
	logger       *logrus.Logger
	upgrader     websocket.Upgrader
	onConnect    func(r *http.Request, hub *Hub, conn *Connection) error
	onDisconnect func(conn *Connection)

	mu       sync.RWMutex
	channels map[string]map[*Connection]struct{}
}

func NewHub(opts *HubOptions) *Hub {
	h := &Hub{
		logger:       opts.Logger,
		onConnect:    opts.OnConnect,
		onDisconnect: opts.OnDisconnect,
		channels:     make(map[string]map[*Connection]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     opts.CheckOrigin,
	}
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("ws: upgrade failed")
		return
	}

	conn := newConnection(wsConn)
	go conn.writePump()

	// The read pump starts only after the connect callback has registered
	// the connection, so its teardown cannot run before JoinChannel.
	if h.onConnect != nil {
		if err := h.onConnect(r, h, conn); err != nil {
			h.logger.WithError(err).Warn("ws: connect callback failed")
			_ = conn.Close()
			h.dropConnection(conn)
			return
		}
	}
	go h.readPump(conn)
}

func (h *Hub) readPump(conn *Connection) {
	defer func() {
		// Closed before dropping: a join racing this teardown is refused
		// by the closed flag, so no registration can outlive the drop.
		_ = conn.Close()
		h.dropConnection(conn)
		if h.onDisconnect != nil {
			h.onDisconnect(conn)
		}
	}()
	conn.conn.SetReadLimit(512)
	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Inbound frames are ignored; the gateway is push-only.
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) JoinChannel(channel string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !conn.joined(channel) {
		return
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Connection]struct{})
	}
	h.channels[channel][conn] = struct{}{}
}

func (h *Hub) LeaveChannel(channel string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromChannel(channel, conn)
}

func (h *Hub) removeFromChannel(channel string, conn *Connection) {
	if conns, ok := h.channels[channel]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.channels, channel)
		}
	}
}

func (h *Hub) ConnectionsInChannel(channel string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Connection, 0, len(h.channels[channel]))
	for conn := range h.channels[channel] {
		conns = append(conns, conn)
	}
	return conns
}

func (h *Hub) dropConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, channel := range conn.Channels() {
		h.removeFromChannel(channel, conn)
	}
}
