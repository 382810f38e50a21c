package judo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/KevinKickass/OpenWaterCore/internal/catalog"
	"github.com/KevinKickass/OpenWaterCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDevice struct {
	mu       sync.Mutex
	bodies   map[string]string
	requests []string
}

func (f *fakeDevice) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "Connectivity" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Path)
		body, found := f.bodies[r.URL.Path]
		f.mu.Unlock()

		if !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func newTestClient(t *testing.T, bodies map[string]string) (*Client, *fakeDevice) {
	t.Helper()

	dev := &fakeDevice{bodies: bodies}
	srv := httptest.NewServer(dev.handler(t))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		BaseURL:  srv.URL,
		Username: "admin",
		Password: "Connectivity",
	}, zap.NewNop())
	t.Cleanup(func() { _ = client.Close() })

	return client, dev
}

func TestClientRead(t *testing.T) {
	ctx := context.Background()

	client, dev := newTestClient(t, map[string]string{
		"/api/rest/2800": `{"data":"EC1E1000"}`,
		"/api/rest/5600": `{"data": "f6541100"}`,
		"/api/rest/0600": `{"status":"ok"}`,
		"/api/rest/0100": `{"data":"zz"}`,
		"/api/rest/0E00": `not json`,
	})

	t.Run("returns hex payload", func(t *testing.T) {
		data, ok := client.Read(ctx, 0x2800)
		require.True(t, ok)
		assert.Equal(t, "EC1E1000", data)

		data, ok = client.Read(ctx, 0x5600)
		require.True(t, ok)
		assert.Equal(t, "f6541100", data)
	})

	t.Run("failures collapse to not ok", func(t *testing.T) {
		for _, addr := range []types.Address{0x0600, 0x0100, 0x0E00, 0x9999} {
			data, ok := client.Read(ctx, addr)
			assert.False(t, ok, addr.String())
			assert.Empty(t, data)
		}
	})

	t.Run("unreachable host", func(t *testing.T) {
		c := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
		_, ok := c.Read(ctx, 0x2800)
		assert.False(t, ok)
	})

	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.Contains(t, dev.requests, "/api/rest/2800")
}

func TestClientWrite(t *testing.T) {
	ctx := context.Background()
	client, dev := newTestClient(t, map[string]string{
		"/api/rest/5F006400c8001e00": `{}`,
		"/api/rest/3500":             ``,
	})

	assert.True(t, client.Write(ctx, 0x5F00, "6400c8001e00"))
	assert.True(t, client.Write(ctx, 0x3500, ""))
	assert.False(t, client.Write(ctx, 0x3000, "0f"))

	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.Equal(t, []string{"/api/rest/5F006400c8001e00", "/api/rest/3500", "/api/rest/30000f"}, dev.requests)
}

func TestClientConnect(t *testing.T) {
	ctx := context.Background()
	cat, err := catalog.Default()
	require.NoError(t, err)

	t.Run("known device", func(t *testing.T) {
		client, _ := newTestClient(t, map[string]string{
			"/api/rest/FF00": `{"data":"33"}`,
		})

		dt, err := client.Connect(ctx, cat)
		require.NoError(t, err)
		assert.Equal(t, "i_soft_safe_plus", dt.Label)
		assert.True(t, client.Connected())
		assert.Equal(t, dt, client.DeviceType())
	})

	t.Run("unknown device", func(t *testing.T) {
		client, _ := newTestClient(t, map[string]string{
			"/api/rest/FF00": `{"data":"01"}`,
		})

		_, err := client.Connect(ctx, cat)
		assert.ErrorIs(t, err, types.ErrUnrecognizedDevice)
		assert.False(t, client.Connected())
	})

	t.Run("identity unreadable", func(t *testing.T) {
		client, _ := newTestClient(t, map[string]string{})

		_, err := client.Connect(ctx, cat)
		assert.ErrorIs(t, err, types.ErrNotConnected)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		client, _ := newTestClient(t, map[string]string{
			"/api/rest/FF00": `{"data":"33"}`,
		})
		_, err := client.Connect(ctx, cat)
		require.NoError(t, err)

		assert.NoError(t, client.Close())
		assert.NoError(t, client.Close())
		assert.False(t, client.Connected())
	})
}
