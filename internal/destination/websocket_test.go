package destination

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/torosent/crankreport/internal/properties"
)

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketBroadcastsMeasurements(t *testing.T) {
	d := NewWebSocket("ws", "", "01RUN", nil)
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	a := dialWS(t, url)
	b := dialWS(t, url)
	require.Eventually(t, func() bool { return d.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, d.Report(sample(9, 10, 11)))

	for _, c := range []*websocket.Conn{a, b} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		typ, msg, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, typ)
		assert.Equal(t, "01RUN", gjson.GetBytes(msg, "run").String())
		assert.Equal(t, int64(9), gjson.GetBytes(msg, "iteration").Int())
		assert.Equal(t, 11.0, gjson.GetBytes(msg, "results.Average").Float())
	}
}

func TestWebSocketDropsDisconnectedClients(t *testing.T) {
	d := NewWebSocket("ws", "", "", nil)
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return d.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, d.Report(sample(0, 0, 1)))
}

func TestWebSocketListenAndClose(t *testing.T) {
	d := NewWebSocket("ws", "127.0.0.1:0", "", nil)
	require.NoError(t, d.Open())
	addr := d.Addr()
	require.NotEmpty(t, addr)

	conn := dialWS(t, "ws://"+addr+"/ws")
	require.Eventually(t, func() bool { return d.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, d.Close())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWebSocketRequiresListenProperty(t *testing.T) {
	_, err := newWebSocketFromProperties("ws", properties.Properties{}, Env{})
	assert.Error(t, err)
}
