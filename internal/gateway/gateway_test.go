package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/usignal/usignal/internal/gateway"
	"github.com/usignal/usignal/pkg/eventbus"
	"github.com/usignal/usignal/pkg/queue"
)

type fakeBackplane struct {
	mu         sync.Mutex
	joins      []string
	leaves     []string
	broadcasts []string
	err        error
}

func (f *fakeBackplane) Join(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, userID)
	return f.err
}

func (f *fakeBackplane) Leave(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, userID)
	return f.err
}

func (f *fakeBackplane) Broadcast(_ context.Context, userID, event string, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, userID+":"+event)
	return f.err
}

func (f *fakeBackplane) snapshot() (joins, leaves, broadcasts []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...),
		append([]string(nil), f.leaves...),
		append([]string(nil), f.broadcasts...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestGateway(t *testing.T) (*gateway.Gateway, *fakeBackplane, *httptest.Server) {
	t.Helper()
	backplane := &fakeBackplane{}
	g, err := gateway.New(gateway.Config{
		Backplane: backplane,
		EventBus:  eventbus.NewEventPublisher(quietLogger()),
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(g.Hub())
	t.Cleanup(srv.Close)
	return g, backplane, srv
}

func dial(t *testing.T, srv *httptest.Server, subscriberID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?subscriberId=" + subscriberID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGateway_ConnectAnnouncesJoin(t *testing.T) {
	_, backplane, srv := newTestGateway(t)

	dial(t, srv, "sub-1")

	require.Eventually(t, func() bool {
		joins, _, _ := backplane.snapshot()
		return len(joins) == 1 && joins[0] == "sub-1"
	}, time.Second, 10*time.Millisecond)
}

func TestGateway_HandleJobDeliversLocally(t *testing.T) {
	g, backplane, srv := newTestGateway(t)

	conn := dial(t, srv, "sub-1")
	require.Eventually(t, func() bool {
		joins, _, _ := backplane.snapshot()
		return len(joins) == 1
	}, time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(map[string]int{"unseenCount": 4})
	require.NoError(t, g.HandleJob(context.Background(), queue.Job{
		Event:   "unseen_count_changed",
		UserID:  "sub-1",
		Payload: payload,
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "unseen_count_changed", got.Event)
	require.JSONEq(t, `{"unseenCount":4}`, string(got.Data))

	_, _, broadcasts := backplane.snapshot()
	require.Equal(t, []string{"sub-1:unseen_count_changed"}, broadcasts)
}

func TestGateway_DisconnectAnnouncesLeave(t *testing.T) {
	_, backplane, srv := newTestGateway(t)

	conn := dial(t, srv, "sub-1")
	require.Eventually(t, func() bool {
		joins, _, _ := backplane.snapshot()
		return len(joins) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		_, leaves, _ := backplane.snapshot()
		return len(leaves) == 1 && leaves[0] == "sub-1"
	}, time.Second, 10*time.Millisecond)
}

func TestGateway_MissingSubscriberClosesConnection(t *testing.T) {
	_, backplane, srv := newTestGateway(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	joins, _, _ := backplane.snapshot()
	require.Empty(t, joins)
}

func TestGateway_DeliveryWithoutConnectionsIsHarmless(t *testing.T) {
	g, _, _ := newTestGateway(t)

	payload, _ := json.Marshal(map[string]int{"unreadCount": 1})
	require.NoError(t, g.HandleJob(context.Background(), queue.Job{
		Event:   "unread_count_changed",
		UserID:  "nobody",
		Payload: payload,
	}))
}

func TestGateway_BroadcastFailureSurfacesToQueue(t *testing.T) {
	g, backplane, _ := newTestGateway(t)
	backplane.err = errors.New("redis gone")

	err := g.HandleJob(context.Background(), queue.Job{Event: "unseen_count_changed", UserID: "sub-1"})
	require.Error(t, err)
}
