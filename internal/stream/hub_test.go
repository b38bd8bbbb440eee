package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(NewMux(hub, func() map[string]interface{} {
		return map[string]interface{}{"environments": 2}
	}, nil))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + PathSteps
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_InterestedIn(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	assert.True(t, hub.InterestedIn(events.TypeStepTaken))
	assert.True(t, hub.InterestedIn(events.TypeEpisodeStarted))
	assert.True(t, hub.InterestedIn(events.TypeEpisodeEnded))
	assert.False(t, hub.InterestedIn(events.TypeHazardEntered))
	assert.False(t, hub.InterestedIn(events.TypePhaseTransition))
}

func TestHub_StreamsEnvironmentEvents(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv)

	bus := events.NewEventBusWithLogger(zerolog.Nop())
	bus.Subscribe(hub)

	e, err := env.New(env.WithLogger(zerolog.Nop()), env.WithPublisher(bus), env.WithID("env-1"))
	require.NoError(t, err)

	started := readEvent(t, conn)
	assert.Equal(t, events.TypeEpisodeStarted, started["type"])
	assert.Equal(t, "env-1", started["env_id"])

	_, err = e.Step(core.ActionRight)
	require.NoError(t, err)

	step := readEvent(t, conn)
	assert.Equal(t, events.TypeStepTaken, step["type"])
	assert.Equal(t, e.EpisodeID(), step["episode_id"])
	assert.Equal(t, 1.0, step["step"])
	assert.Equal(t, 3.0, step["action"])
	assert.Equal(t, map[string]interface{}{"row": 0.0, "col": 1.0}, step["to"])
	assert.Equal(t, "Neutral", step["cell"])
}

func TestHub_BroadcastsToEveryViewer(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, hub, srv)
	b := dial(t, hub, srv)

	hub.Broadcast([]byte(`{"type":"ping"}`))

	assert.Equal(t, "ping", readEvent(t, a)["type"])
	assert.Equal(t, "ping", readEvent(t, b)["type"])
	assert.Equal(t, int64(2), hub.Stats().Sent)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_CloseRejectsNewViewers(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	// the existing viewer receives a close frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + PathSteps
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHealthz(t *testing.T) {
	_, srv := startHub(t)

	resp, err := http.Get(srv.URL + PathHealth)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 2.0, body["environments"])
	assert.Contains(t, body, "stream")
}

func TestWebsocketPathRejectsPlainHTTP(t *testing.T) {
	_, srv := startHub(t)

	resp, err := http.Get(srv.URL + PathSteps)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
