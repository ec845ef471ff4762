package observability

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trenchlab/trenchwatch/internal/alert"
)

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, hub *AlertHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Subscribers() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, want, hub.Subscribers())
}

func TestAlertHub_DeliversEvents(t *testing.T) {
	hub := NewAlertHub()
	defer hub.Close()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server)
	waitSubscribers(t, hub, 1)

	sent := alert.Event{
		ID:           "ev-1",
		TokenAddress: "MEME1",
		Symbol:       "TRENCH",
		Transition:   alert.TransitionFirstEligible,
	}
	require.NoError(t, hub.Notify(context.Background(), sent))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got alert.Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "ev-1", got.ID)
	assert.Equal(t, "MEME1", got.TokenAddress)
	assert.Equal(t, alert.TransitionFirstEligible, got.Transition)
}

func TestAlertHub_FansOutToAllSubscribers(t *testing.T) {
	hub := NewAlertHub()
	defer hub.Close()
	server := httptest.NewServer(hub)
	defer server.Close()

	first := dialHub(t, server)
	second := dialHub(t, server)
	waitSubscribers(t, hub, 2)

	require.NoError(t, hub.Notify(context.Background(), alert.Event{ID: "ev-2"}))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(payload), "ev-2")
	}
}

func TestAlertHub_NotifyWithoutSubscribers(t *testing.T) {
	hub := NewAlertHub()
	defer hub.Close()
	assert.NoError(t, hub.Notify(context.Background(), alert.Event{ID: "ev-3"}))
	assert.Zero(t, hub.Subscribers())
}

func TestAlertHub_CloseDisconnectsAndIsIdempotent(t *testing.T) {
	hub := NewAlertHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server)
	waitSubscribers(t, hub, 1)

	hub.Close()
	hub.Close()
	assert.Zero(t, hub.Subscribers())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server sent a close frame")
}

func TestAlertHub_RejectsNewConnectionsAfterClose(t *testing.T) {
	hub := NewAlertHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	hub.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		// Upgrade may still succeed; the server closes immediately after.
		defer conn.Close()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, readErr := conn.ReadMessage()
		assert.Error(t, readErr)
	}
	assert.Zero(t, hub.Subscribers())
}
