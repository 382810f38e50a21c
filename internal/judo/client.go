package judo

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/types"
	"go.uber.org/zap"
)

// Transport is the read/write surface the coordinator and the device facade use.
type Transport interface {
	Read(ctx context.Context, addr types.Address) (string, bool)
	Write(ctx context.Context, addr types.Address, payload string) bool
}

// IdentityResolver maps the 1-byte identity code to a known device type.
type IdentityResolver interface {
	IdentityAddress() types.Address
	DeviceType(code uint8) (types.DeviceType, bool)
}

type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to the connectivity module. Reads and writes are both GET requests;
// a write carries its payload appended to the register address in the path.
// Calls are not serialized against each other.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *zap.Logger

	mu         sync.Mutex
	connected  bool
	closed     bool
	deviceType types.DeviceType
}

type restResponse struct {
	Data *string `json:"data"`
}

func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Connect reads the identity register and matches it against the device-type table.
func (c *Client) Connect(ctx context.Context, ids IdentityResolver) (types.DeviceType, error) {
	data, ok := c.Read(ctx, ids.IdentityAddress())
	if !ok {
		c.setConnected(false, types.DeviceType{})
		return types.DeviceType{}, fmt.Errorf("%w: identity register %s unreadable", types.ErrNotConnected, ids.IdentityAddress())
	}

	raw, err := hex.DecodeString(strings.TrimSpace(data))
	if err != nil || len(raw) == 0 {
		c.setConnected(false, types.DeviceType{})
		return types.DeviceType{}, fmt.Errorf("%w: identity payload %q", types.ErrUnrecognizedDevice, data)
	}

	dt, known := ids.DeviceType(raw[0])
	if !known {
		c.logger.Warn("Unknown device detected", zap.String("id", fmt.Sprintf("%02X", raw[0])))
		c.setConnected(false, types.DeviceType{})
		return types.DeviceType{}, fmt.Errorf("%w: code 0x%02X", types.ErrUnrecognizedDevice, raw[0])
	}

	c.setConnected(true, dt)
	c.logger.Info("Connected to device", zap.String("device_type", dt.String()), zap.String("url", c.baseURL))
	return dt, nil
}

// Close releases idle connections. Calling it more than once is harmless.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.httpClient.CloseIdleConnections()
	c.closed = true
	c.connected = false

	c.logger.Info("Connection to device closed", zap.String("url", c.baseURL))
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) DeviceType() types.DeviceType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceType
}

// Read fetches the raw hex payload of addr. Every failure collapses to ok=false.
func (c *Client) Read(ctx context.Context, addr types.Address) (string, bool) {
	body, ok := c.get(ctx, addr.String())
	if !ok {
		return "", false
	}

	var resp restResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("Malformed response body", zap.String("address", addr.String()), zap.Error(err))
		return "", false
	}
	if resp.Data == nil {
		c.logger.Warn("Response without data field", zap.String("address", addr.String()))
		return "", false
	}

	data := strings.TrimSpace(*resp.Data)
	if _, err := hex.DecodeString(data); err != nil {
		c.logger.Warn("Response data is not hex", zap.String("address", addr.String()), zap.String("data", data))
		return "", false
	}

	return data, true
}

// Write sends payload to addr. The response body is ignored on success.
func (c *Client) Write(ctx context.Context, addr types.Address, payload string) bool {
	_, ok := c.get(ctx, addr.String()+payload)
	return ok
}

func (c *Client) get(ctx context.Context, resource string) ([]byte, bool) {
	url := c.baseURL + "/api/rest/" + resource

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Warn("Failed to build request", zap.String("resource", resource), zap.Error(err))
		return nil, false
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Connection to device failed", zap.String("resource", resource), zap.Error(err))
		return nil, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		c.logger.Warn("Failed to read response", zap.String("resource", resource), zap.Error(err))
		return nil, false
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Device returned error status",
			zap.String("resource", resource),
			zap.Int("status", resp.StatusCode))
		return nil, false
	}

	return body, true
}

func (c *Client) setConnected(connected bool, dt types.DeviceType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
	c.deviceType = dt
}
