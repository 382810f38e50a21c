package system

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fakeAppliance(t *testing.T, identity string) config.DeviceConfig {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/rest/FF00":
			w.Write([]byte(`{"data":"` + identity + `"}`))
		case "/api/rest/2800":
			w.Write([]byte(`{"data":"EC1E1000"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return config.DeviceConfig{
		Host:          host,
		Port:          port,
		Timeout:       time.Second,
		ScanInterval:  time.Hour,
		CycleDeadline: 5 * time.Second,
	}
}

func testConfig(t *testing.T, device config.DeviceConfig) *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{GRPCPort: 0, HTTPPort: 0},
		Device:  device,
		Flow:    config.FlowConfig{BurstInterval: time.Hour, WindowSize: 3},
		Storage: config.StorageConfig{Driver: "file", CachePath: filepath.Join(t.TempDir(), "cache.json")},
		Auth:    config.AuthConfig{JWTSecretEnv: "OWC_LIFECYCLE_TEST_JWT", AccessTokenTTL: time.Minute},
	}
}

func TestLifecycleStartAndShutdown(t *testing.T) {
	cfg := testConfig(t, fakeAppliance(t, "33"))
	lm, err := NewLifecycleManager(context.Background(), nil, cfg, zap.NewNop())
	require.NoError(t, err)

	statusCh := lm.SubscribeStatus()
	defer lm.UnsubscribeStatus(statusCh)

	require.NoError(t, lm.Start(context.Background()))
	assert.Equal(t, StateRunning, lm.State())

	require.Eventually(t, func() bool {
		_, ok := lm.Device().Value("total_water")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	status := lm.GetCurrentStatus()
	assert.Equal(t, "RUNNING", status.State)
	assert.True(t, status.Connected)
	assert.True(t, status.PollerRunning)
	assert.Contains(t, status.DeviceType, "i_soft_safe_plus")
	assert.Equal(t, 24, status.RegisterCount)
	assert.False(t, status.MQTTConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, lm.Shutdown(ctx))
	require.NoError(t, lm.Shutdown(ctx))

	assert.Equal(t, StateStopped, lm.State())
	assert.False(t, lm.GetCurrentStatus().PollerRunning)
	assert.False(t, lm.GetCurrentStatus().Connected)

	select {
	case <-lm.Done():
	default:
		t.Fatal("Done not closed after Shutdown")
	}

	var states []SystemState
	for len(statusCh) > 0 {
		states = append(states, (<-statusCh).State)
	}
	assert.Equal(t, []SystemState{StateConnecting, StateRunning, StateStopping, StateStopped}, states)
}

func TestLifecycleUnknownDevice(t *testing.T) {
	cfg := testConfig(t, fakeAppliance(t, "01"))
	lm, err := NewLifecycleManager(context.Background(), nil, cfg, zap.NewNop())
	require.NoError(t, err)

	err = lm.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, lm.State())
	assert.False(t, lm.GetCurrentStatus().PollerRunning)

	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, lm.State())
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateConnecting))
	assert.NoError(t, ValidateTransition(StateConnecting, StateRunning))
	assert.NoError(t, ValidateTransition(StateError, StateStopping))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(StateRunning, StateConnecting))
	assert.Error(t, ValidateTransition(SystemState(42), StateRunning))
	assert.Equal(t, "UNKNOWN", SystemState(42).String())
}
