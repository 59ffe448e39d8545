package dev

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bootz-dev/bootz/internal/logging"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + ReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func newHubServer(t *testing.T) (*ReloadHub, *httptest.Server) {
	t.Helper()
	hub := NewReloadHub(logging.Discard())
	srv := httptest.NewServer(NewRouter(RouterConfig{Hub: hub}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func waitClients(t *testing.T, hub *ReloadHub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n },
		2*time.Second, 10*time.Millisecond)
}

func TestReloadHub_Broadcast(t *testing.T) {
	hub, srv := newHubServer(t)
	a := dialHub(t, srv)
	b := dialHub(t, srv)
	waitClients(t, hub, 2)

	hub.NotifyReload()

	assert.Equal(t, Message{Type: MessageReload}, readMessage(t, a))
	assert.Equal(t, Message{Type: MessageReload}, readMessage(t, b))
}

func TestReloadHub_ErrorOverlay(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	waitClients(t, hub, 1)

	hub.NotifyError("server", "error: boom")
	assert.Equal(t, Message{Type: MessageError, Target: "server", Error: "error: boom"}, readMessage(t, conn))

	// A browser connecting while the overlay shows receives it immediately.
	late := dialHub(t, srv)
	assert.Equal(t, MessageError, readMessage(t, late).Type)

	hub.ClearError("server")
	assert.Equal(t, MessageClear, readMessage(t, conn).Type)
	assert.Equal(t, MessageClear, readMessage(t, late).Type)
}

func TestReloadHub_ErrorsPerTarget(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	waitClients(t, hub, 1)

	clientErr := Message{Type: MessageError, Target: "client", Error: "client.tsx: Unexpected \";\""}
	hub.NotifyError("client", clientErr.Error)
	hub.NotifyError("server", "server.ts: boom")
	assert.Equal(t, clientErr, readMessage(t, conn))
	assert.Equal(t, "server", readMessage(t, conn).Target)

	// The server recovers while the client still fails.
	hub.ClearError("server")
	assert.Equal(t, clientErr, readMessage(t, conn))

	late := dialHub(t, srv)
	assert.Equal(t, clientErr, readMessage(t, late))

	hub.ClearError("client")
	assert.Equal(t, MessageClear, readMessage(t, conn).Type)
	assert.Equal(t, MessageClear, readMessage(t, late).Type)
}

func TestReloadHub_ClearWithoutErrorIsSilent(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	waitClients(t, hub, 1)

	hub.ClearError("client")
	hub.NotifyReload()

	assert.Equal(t, MessageReload, readMessage(t, conn).Type)
}

func TestReloadHub_Disconnect(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestReloadHub_Close(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	waitClients(t, hub, 1)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestClientScript(t *testing.T) {
	assert.Contains(t, ClientScript, ReloadPath)
	assert.True(t, strings.HasPrefix(ClientScript, "<script>"))
}
