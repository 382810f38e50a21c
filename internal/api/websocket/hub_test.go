package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/auth"
	"github.com/KevinKickass/OpenWaterCore/internal/events"
	"github.com/KevinKickass/OpenWaterCore/internal/judo"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTokens map[string][]auth.Permission

func (f fakeTokens) ValidateToken(token string) ([]auth.Permission, error) {
	perms, ok := f[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return perms, nil
}

type fakeSurface struct {
	mu   sync.Mutex
	sets map[string]any
}

func (f *fakeSurface) Snapshot() []judo.LiveValue {
	return []judo.LiveValue{{Key: "water_hardness", Value: 15.0, Valid: true}}
}

func (f *fakeSurface) Set(ctx context.Context, key string, value any) error {
	if key == "total_water" {
		return errors.New("register is not writable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[key] = value
	return nil
}

type wireMessage struct {
	Type   string         `json:"type"`
	Reason string         `json:"reason"`
	Data   map[string]any `json:"data"`
}

func startHub(t *testing.T) (*Hub, *fakeSurface, string) {
	t.Helper()

	surface := &fakeSurface{sets: make(map[string]any)}
	tokens := fakeTokens{
		"rw": {auth.PermRead, auth.PermWrite},
		"ro": {auth.PermRead},
	}
	hub := NewHub(zap.NewNop(), tokens, surface)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	return hub, surface, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))
	assert.Equal(t, "auth_success", readMessage(t, conn).Type)
	assert.Equal(t, string(MessageTypeSnapshot), readMessage(t, conn).Type)
}

func TestHubRejectsBadToken(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "nope"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "auth_failed", msg.Type)
	assert.Equal(t, 0, hub.GetClientCount())
}

func TestHubRequiresAuthFirst(t *testing.T) {
	_, _, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "snapshot"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "auth_failed", msg.Type)
	assert.Contains(t, msg.Reason, "authentication")
}

func TestHubForwardsUpdates(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url)
	authenticate(t, conn, "ro")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	streamer := events.NewStreamer()
	go hub.Forward(streamer.Subscribe())
	streamer.Broadcast(events.Update{Key: "total_water", Value: 1056.492, Valid: true, UpdatedAt: time.Now()})

	msg := readMessage(t, conn)
	assert.Equal(t, string(MessageTypeRegisterUpdate), msg.Type)
	assert.Equal(t, "total_water", msg.Data["key"])
	assert.InDelta(t, 1056.492, msg.Data["value"], 1e-9)
}

func TestHubSet(t *testing.T) {
	_, surface, url := startHub(t)

	t.Run("write permission", func(t *testing.T) {
		conn := dial(t, url)
		authenticate(t, conn, "rw")

		require.NoError(t, conn.WriteJSON(map[string]any{
			"type": "set", "request_id": "r1", "key": "water_hardness", "value": 12,
		}))
		msg := readMessage(t, conn)
		assert.Equal(t, string(MessageTypeSetResult), msg.Type)
		assert.Equal(t, "r1", msg.Data["request_id"])
		assert.Equal(t, true, msg.Data["success"])

		surface.mu.Lock()
		assert.EqualValues(t, 12, surface.sets["water_hardness"])
		surface.mu.Unlock()

		require.NoError(t, conn.WriteJSON(map[string]any{
			"type": "set", "request_id": "r2", "key": "total_water", "value": 1,
		}))
		msg = readMessage(t, conn)
		assert.Equal(t, false, msg.Data["success"])
		assert.Contains(t, msg.Data["error"], "not writable")
	})

	t.Run("read only token", func(t *testing.T) {
		conn := dial(t, url)
		authenticate(t, conn, "ro")

		require.NoError(t, conn.WriteJSON(map[string]any{
			"type": "set", "request_id": "r3", "key": "water_hardness", "value": 9,
		}))
		msg := readMessage(t, conn)
		assert.Equal(t, false, msg.Data["success"])
		assert.Equal(t, errForbidden.Error(), msg.Data["error"])
	})
}
