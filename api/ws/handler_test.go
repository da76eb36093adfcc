package ws

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SphrGhfri/tabchat/internal/relay"
	"github.com/SphrGhfri/tabchat/pkg/logger"
)

func startRelayServer(t *testing.T) *httptest.Server {
	hub := relay.NewHub()
	go hub.Run()
	t.Cleanup(hub.Close)

	ctx := logger.NewContext(context.Background(), logger.NewLogger("error", ""))
	server := httptest.NewServer(SetupWebSocketRoutes(WSConfig{Hub: hub, RootCtx: ctx}))
	t.Cleanup(server.Close)
	return server
}

func dialRelay(t *testing.T, server *httptest.Server) *websocket.Conn {
	wsURL := "ws" + server.URL[4:] + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRelayEchoesToOtherClients(t *testing.T) {
	server := startRelayServer(t)

	c1 := dialRelay(t, server)
	c2 := dialRelay(t, server)

	// Registration happens on the hub goroutine; give it a beat.
	time.Sleep(100 * time.Millisecond)

	payload := []byte(`{"id":"m1","sender_id":"user_a","sender_name":"A","body":"hi","timestamp":1}`)
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, payload))

	c2.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, got, err := c2.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(got))
}

func TestRelayDoesNotEchoToOrigin(t *testing.T) {
	server := startRelayServer(t)

	c1 := dialRelay(t, server)
	c2 := dialRelay(t, server)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte(`{"id":"m1"}`)))

	// c2 drains the frame so it is not pending anywhere.
	c2.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := c2.ReadMessage()
	require.NoError(t, err)

	// The origin must stay silent.
	c1.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = c1.ReadMessage()
	assert.Error(t, err)
}

func TestRelayHandlesClientDisconnect(t *testing.T) {
	server := startRelayServer(t)

	c1 := dialRelay(t, server)
	c2 := dialRelay(t, server)
	time.Sleep(100 * time.Millisecond)

	c1.Close()
	time.Sleep(100 * time.Millisecond)

	// The surviving client still relays through the hub.
	c3 := dialRelay(t, server)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, c2.WriteMessage(websocket.TextMessage, []byte(`{"id":"m2"}`)))

	c3.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, got, err := c3.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"m2"}`, string(got))
}
