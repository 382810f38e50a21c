package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/config"
	"github.com/KevinKickass/OpenWaterCore/internal/judo"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string     `json:"state"`
	DeviceType       string     `json:"device_type,omitempty"`
	Connected        bool       `json:"connected"`
	PollerRunning    bool       `json:"poller_running"`
	LastCycle        *time.Time `json:"last_cycle,omitempty"`
	RegisterCount    int        `json:"register_count"`
	WebSocketClients int        `json:"websocket_clients"`
	MQTTConnected    bool       `json:"mqtt_connected"`
}

type LifecycleManager interface {
	Config() *config.Config
	Device() *judo.Device
	Poller() *judo.Poller
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
