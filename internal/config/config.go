package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Device   DeviceConfig   `mapstructure:"device"`
	Flow     FlowConfig     `mapstructure:"flow"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DeviceConfig describes how to reach the connectivity module.
type DeviceConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ScanInterval  time.Duration `mapstructure:"scan_interval"`
	CycleDeadline time.Duration `mapstructure:"cycle_deadline"`
	CatalogPath   string        `mapstructure:"catalog_path"`
}

type FlowConfig struct {
	BurstInterval time.Duration `mapstructure:"burst_interval"`
	WindowSize    int           `mapstructure:"window_size"`
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver"` // file | postgres
	CachePath string `mapstructure:"cache_path"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv         string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	OperatorUsername     string        `mapstructure:"operator_username"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash"`

	IntegrationTokenHashes []string `mapstructure:"integration_token_hashes"`

	PasswordHash PasswordHashConfig `mapstructure:"password_hash"`
}

// PasswordHashConfig sets the argon2id cost for new operator hashes.
// Existing hashes carry their own parameters.
type PasswordHashConfig struct {
	MemoryKiB   uint32 `mapstructure:"memory_kib"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// Load reads the YAML config at path. Values from an optional .env file in
// the working directory are exported first, so OWC_* variables can override
// any key (OWC_DEVICE_PASSWORD -> device.password).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults setzen
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("device.port", 80)
	v.SetDefault("device.username", "admin")
	v.SetDefault("device.password", "Connectivity")
	v.SetDefault("device.timeout", "5s")
	v.SetDefault("device.scan_interval", "60s")
	v.SetDefault("device.cycle_deadline", "30s")
	v.SetDefault("device.catalog_path", "")

	v.SetDefault("flow.burst_interval", "10s")
	v.SetDefault("flow.window_size", 3)

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.cache_path", "data/judo_cache.json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 5)

	// Auth Defaults
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.operator_username", "operator")
	v.SetDefault("auth.password_hash.memory_kib", 19*1024)
	v.SetDefault("auth.password_hash.iterations", 2)
	v.SetDefault("auth.password_hash.parallelism", 1)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic_prefix", "openwatercore")

	// Environment Variables mit Prefix OWC_
	v.SetEnvPrefix("OWC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Device.Host == "" {
		return fmt.Errorf("device.host is required")
	}
	switch c.Storage.Driver {
	case "file", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if p := c.Auth.PasswordHash; p.MemoryKiB < 8*uint32(p.Parallelism) || p.Iterations == 0 || p.Parallelism == 0 {
		return fmt.Errorf("auth.password_hash needs iterations, parallelism and at least 8 KiB memory per lane")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// BaseURL is the root of the connectivity module's REST tunnel.
func (d *DeviceConfig) BaseURL() string {
	if d.Port == 0 || d.Port == 80 {
		return fmt.Sprintf("http://%s", d.Host)
	}
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
