package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type received struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data"`
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startHub(t *testing.T, config *HubConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(config, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		<-hub.done
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, header http.Header) *websocket.Conn {
	t.Helper()
	before := hub.GetStats().TotalConnections
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return hub.GetStats().TotalConnections > before
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev received
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func allEvents() *HubConfig {
	return &HubConfig{
		BroadcastProgress:      true,
		BroadcastAnonymization: true,
		BroadcastSessions:      true,
	}
}

func TestHub_Auth(t *testing.T) {
	config := allEvents()
	config.Username, config.Password = "admin", "secret"
	hub, url := startHub(t, config)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad := http.Header{}
	bad.Set("Authorization", "Basic YWRtaW46d3Jvbmc=") // admin:wrong
	_, resp, err = websocket.DefaultDialer.Dial(url, bad)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	good := http.Header{}
	good.Set("Authorization", "Basic YWRtaW46c2VjcmV0") // admin:secret
	conn := dial(t, hub, url, good)

	hub.PublishSessionBurned("s1")
	ev := readEvent(t, conn)
	assert.Equal(t, EventTypeSessionBurned, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
}

func TestHub_Broadcast(t *testing.T) {
	hub, url := startHub(t, allEvents())
	conn := dial(t, hub, url, nil)

	hub.PublishAnonymization("s1", "req-1", AnonymizationEvent{
		Kind:          "text",
		Context:       "general",
		EntitiesFound: 3,
		ByClass:       map[string]int{"PERSON": 3},
	})

	ev := readEvent(t, conn)
	assert.Equal(t, EventTypeAnonymization, ev.Type)
	var data AnonymizationEvent
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, 3, data.EntitiesFound)
	assert.Equal(t, map[string]int{"PERSON": 3}, data.ByClass)

	hub.PublishProgress("s1", "req-2", 50, "Processing chunk 1 of 2")
	ev = readEvent(t, conn)
	assert.Equal(t, EventTypeDocumentProgress, ev.Type)
	assert.JSONEq(t, `{"percent":50,"message":"Processing chunk 1 of 2"}`, string(ev.Data))
}

func TestHub_DisabledEventTypes(t *testing.T) {
	hub, url := startHub(t, &HubConfig{BroadcastSessions: true})
	conn := dial(t, hub, url, nil)

	hub.PublishProgress("s1", "", 10, "skip")
	hub.PublishAnonymization("s1", "", AnonymizationEvent{Kind: "text"})
	hub.PublishSessionBurned("s1")

	assert.Equal(t, EventTypeSessionBurned, readEvent(t, conn).Type)
}

func TestHub_Subscription(t *testing.T) {
	hub, url := startHub(t, allEvents())
	conn := dial(t, hub, url, nil)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{
			"events": []string{"session_burned", "anonymization"},
			"filter": map[string]interface{}{"session_ids": []string{"s2"}, "contexts": []string{"legal"}},
		},
	}))
	assert.Equal(t, eventTypeSubscribed, readEvent(t, conn).Type)

	hub.PublishProgress("s2", "", 10, "not subscribed")
	hub.PublishSessionBurned("s1")
	hub.PublishAnonymization("s2", "", AnonymizationEvent{Kind: "text", Context: "general"})
	hub.PublishAnonymization("s2", "", AnonymizationEvent{Kind: "text", Context: "legal"})

	ev := readEvent(t, conn)
	assert.Equal(t, EventTypeAnonymization, ev.Type)
	assert.Equal(t, "s2", ev.SessionID)
	assert.Contains(t, string(ev.Data), `"legal"`)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, eventTypePong, readEvent(t, conn).Type)
}

func TestHub_ConnectionEvents(t *testing.T) {
	hub, url := startHub(t, &HubConfig{BroadcastConnections: true})

	first := dial(t, hub, url, nil)
	second := dial(t, hub, url, nil)

	ev := readEvent(t, first)
	assert.Equal(t, EventTypeConnection, ev.Type)
	assert.Contains(t, string(ev.Data), `"connected"`)

	require.NoError(t, second.Close())
	ev = readEvent(t, first)
	assert.Contains(t, string(ev.Data), `"disconnected"`)
	assert.Eventually(t, func() bool {
		return hub.GetStats().ActiveConnections == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHub_Nil(t *testing.T) {
	var hub *Hub
	hub.PublishProgress("s", "", 1, "x")
	hub.PublishSessionBurned("s")
	assert.Zero(t, hub.GetStats().TotalConnections)
}
