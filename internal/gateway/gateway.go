package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/usignal/usignal/pkg/eventbus"
	"github.com/usignal/usignal/pkg/queue"
	"github.com/usignal/usignal/pkg/ws"
)

var ErrMissingSubscriber = errors.New("subscriberId query parameter is required")

// Broadcaster is the cross-process side of delivery: local connections are
// written directly, everything else goes through the backplane.
type Broadcaster interface {
	Join(ctx context.Context, userID string) error
	Leave(ctx context.Context, userID string) error
	Broadcast(ctx context.Context, userID, event string, payload json.RawMessage) error
}

// UserConnectedEvent and UserDisconnectedEvent flow through the in-process
// event bus whenever a WebSocket joins or leaves this gateway.
type UserConnectedEvent struct {
	UserID string
}

type UserDisconnectedEvent struct {
	UserID string
}

// frame is the wire shape pushed to WebSocket clients.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const userChannelPrefix = "user/"

func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

type Config struct {
	Backplane Broadcaster
	EventBus  eventbus.EventBus
	Logger    *logrus.Logger
	// CheckOrigin is passed through to the WebSocket upgrader.
	CheckOrigin func(r *http.Request) bool
}

// Gateway connects the three delivery legs: queue jobs in, WebSocket frames
// out, backplane across. It is the DeliveryHandler for remote broadcasts and
// the Handler for queue jobs.
type Gateway struct {
	hub       *ws.Hub
	backplane Broadcaster
	bus       eventbus.EventBus
	logger    *logrus.Logger
}

func New(cfg Config) (*Gateway, error) {
	if cfg.Backplane == nil {
		return nil, errors.New("gateway: backplane is required")
	}
	if cfg.EventBus == nil {
		return nil, errors.New("gateway: event bus is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	g := &Gateway{
		backplane: cfg.Backplane,
		bus:       cfg.EventBus,
		logger:    logger,
	}
	g.hub = ws.NewHub(&ws.HubOptions{
		Logger:       logger,
		CheckOrigin:  cfg.CheckOrigin,
		OnConnect:    g.onConnect,
		OnDisconnect: g.onDisconnect,
	})

	g.bus.Subscribe(func(event *UserConnectedEvent) {
		if err := g.backplane.Join(context.Background(), event.UserID); err != nil {
			g.logger.WithError(err).WithField("user_id", event.UserID).Warn("gateway: join announce failed")
		}
	})
	g.bus.Subscribe(func(event *UserDisconnectedEvent) {
		if err := g.backplane.Leave(context.Background(), event.UserID); err != nil {
			g.logger.WithError(err).WithField("user_id", event.UserID).Warn("gateway: leave announce failed")
		}
	})
	return g, nil
}

// Hub exposes the WebSocket endpoint handler.
func (g *Gateway) Hub() http.Handler {
	return g.hub
}

func (g *Gateway) Key() string {
	return "/ws"
}

// Register mounts the WebSocket endpoint on the router.
func (g *Gateway) Register(r *mux.Router) {
	r.Handle("/ws", g.hub).Methods(http.MethodGet)
}

func (g *Gateway) onConnect(r *http.Request, hub *ws.Hub, conn *ws.Connection) error {
	userID := strings.TrimSpace(r.URL.Query().Get("subscriberId"))
	if userID == "" {
		return ErrMissingSubscriber
	}
	hub.JoinChannel(UserChannel(userID), conn)
	g.bus.Publish(&UserConnectedEvent{UserID: userID})
	g.logger.WithField("user_id", userID).Debug("gateway: connection joined")
	return nil
}

func (g *Gateway) onDisconnect(conn *ws.Connection) {
	for _, channel := range conn.Channels() {
		userID, ok := strings.CutPrefix(channel, userChannelPrefix)
		if !ok {
			continue
		}
		g.bus.Publish(&UserDisconnectedEvent{UserID: userID})
		g.logger.WithField("user_id", userID).Debug("gateway: connection left")
	}
}

// DeliverLocal writes the event to every live local connection of the user.
// Duplicate deliveries are harmless for the consumers of counter events, so
// no dedup is attempted here.
func (g *Gateway) DeliverLocal(userID, event string, payload json.RawMessage) {
	raw, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		g.logger.WithError(err).Warn("gateway: frame marshal failed")
		return
	}
	for _, conn := range g.hub.ConnectionsInChannel(UserChannel(userID)) {
		if err := conn.SendMessage(raw); err != nil {
			g.logger.WithError(err).WithField("user_id", userID).Debug("gateway: local send failed")
		}
	}
}

// SendMessage pushes an event to every connection of the user cluster-wide:
// local delivery first, then a backplane broadcast for sibling processes.
func (g *Gateway) SendMessage(ctx context.Context, userID, event string, payload json.RawMessage) error {
	g.DeliverLocal(userID, event, payload)
	if err := g.backplane.Broadcast(ctx, userID, event, payload); err != nil {
		return fmt.Errorf("broadcast %s: %w", event, err)
	}
	return nil
}

// HandleJob adapts SendMessage to the queue handler contract. Errors are
// returned so the queue can retry the job.
func (g *Gateway) HandleJob(ctx context.Context, job queue.Job) error {
	return g.SendMessage(ctx, job.UserID, job.Event, job.Payload)
}
