package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "device:\n  host: 192.168.1.50\n"))
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.HTTPPort)
		assert.Equal(t, 60*time.Second, cfg.Device.ScanInterval)
		assert.Equal(t, 10*time.Second, cfg.Flow.BurstInterval)
		assert.Equal(t, 3, cfg.Flow.WindowSize)
		assert.Equal(t, "file", cfg.Storage.Driver)
		assert.Equal(t, "http://192.168.1.50", cfg.Device.BaseURL())
		assert.False(t, cfg.MQTT.Enabled)
		assert.Equal(t, PasswordHashConfig{MemoryKiB: 19456, Iterations: 2, Parallelism: 1}, cfg.Auth.PasswordHash)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("OWC_DEVICE_PASSWORD", "secret")
		t.Setenv("OWC_FLOW_WINDOW_SIZE", "5")

		cfg, err := Load(writeConfig(t, "device:\n  host: judo.local\n  port: 8081\n  password: plain\n"))
		require.NoError(t, err)

		assert.Equal(t, "secret", cfg.Device.Password)
		assert.Equal(t, 5, cfg.Flow.WindowSize)
		assert.Equal(t, "http://judo.local:8081", cfg.Device.BaseURL())
	})

	t.Run("validation", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server:\n  http_port: 9000\n"))
		assert.ErrorContains(t, err, "device.host")

		_, err = Load(writeConfig(t, "device:\n  host: x\nstorage:\n  driver: redis\n"))
		assert.ErrorContains(t, err, "storage driver")

		_, err = Load(writeConfig(t, "device:\n  host: x\nmqtt:\n  enabled: true\n"))
		assert.ErrorContains(t, err, "mqtt.broker")

		_, err = Load(writeConfig(t, "device:\n  host: x\nauth:\n  password_hash:\n    iterations: 0\n"))
		assert.ErrorContains(t, err, "auth.password_hash")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestJWTSecret(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "OWC_TEST_JWT"}
	assert.False(t, a.IsProductionReady())

	t.Setenv("OWC_TEST_JWT", "0123456789abcdef0123456789abcdef")
	assert.Equal(t, "0123456789abcdef0123456789abcdef", a.GetJWTSecret())
	assert.True(t, a.IsProductionReady())
}
