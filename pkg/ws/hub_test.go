package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, opts *HubOptions) (*Hub, *httptest.Server) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(r *http.Request) bool { return true }
	}
	hub := NewHub(opts)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_OnConnectJoinsChannel(t *testing.T) {
	var hub *Hub
	h, srv := newTestHub(t, &HubOptions{
		OnConnect: func(r *http.Request, hb *Hub, conn *Connection) error {
			hb.JoinChannel("user/"+r.URL.Query().Get("subscriberId"), conn)
			return nil
		},
	})
	hub = h

	dial(t, srv, "?subscriberId=s1")

	require.Eventually(t, func() bool {
		return len(hub.ConnectionsInChannel("user/s1")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHub_SendMessageReachesClient(t *testing.T) {
	h, srv := newTestHub(t, &HubOptions{
		OnConnect: func(r *http.Request, hb *Hub, conn *Connection) error {
			hb.JoinChannel("user/s1", conn)
			return nil
		},
	})

	client := dial(t, srv, "")
	require.Eventually(t, func() bool {
		return len(h.ConnectionsInChannel("user/s1")) == 1
	}, time.Second, 10*time.Millisecond)

	for _, conn := range h.ConnectionsInChannel("user/s1") {
		require.NoError(t, conn.SendMessage([]byte(`{"event":"unseen_count_changed"}`)))
	}

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"unseen_count_changed"}`, string(msg))
}

func TestHub_DisconnectRemovesFromChannels(t *testing.T) {
	disconnected := make(chan struct{})
	h, srv := newTestHub(t, &HubOptions{
		OnConnect: func(r *http.Request, hb *Hub, conn *Connection) error {
			hb.JoinChannel("user/s1", conn)
			return nil
		},
		OnDisconnect: func(conn *Connection) {
			close(disconnected)
		},
	})

	client := dial(t, srv, "")
	require.Eventually(t, func() bool {
		return len(h.ConnectionsInChannel("user/s1")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not invoked")
	}

	require.Eventually(t, func() bool {
		return len(h.ConnectionsInChannel("user/s1")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_ConnectCallbackFailureLeavesNoRegistration(t *testing.T) {
	h, srv := newTestHub(t, &HubOptions{
		OnConnect: func(r *http.Request, hb *Hub, conn *Connection) error {
			hb.JoinChannel("user/s1", conn)
			return errors.New("subscriber rejected")
		},
	})

	client := dial(t, srv, "")
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := client.ReadMessage()
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return len(h.ConnectionsInChannel("user/s1")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_JoinAfterCloseIsRefused(t *testing.T) {
	h := NewHub(&HubOptions{Logger: logrus.New()})

	conn := newConnection(nil)
	require.NoError(t, conn.Close())

	h.JoinChannel("user/s1", conn)

	require.Empty(t, h.ConnectionsInChannel("user/s1"))
	require.Empty(t, conn.Channels())
}

func TestConnection_SendAfterClose(t *testing.T) {
	h, srv := newTestHub(t, &HubOptions{
		OnConnect: func(r *http.Request, hb *Hub, conn *Connection) error {
			hb.JoinChannel("user/s1", conn)
			return nil
		},
	})

	dial(t, srv, "")
	require.Eventually(t, func() bool {
		return len(h.ConnectionsInChannel("user/s1")) == 1
	}, time.Second, 10*time.Millisecond)

	conn := h.ConnectionsInChannel("user/s1")[0]
	require.NoError(t, conn.Close())
	require.ErrorIs(t, conn.SendMessage([]byte("x")), ErrConnectionClosed)
}
