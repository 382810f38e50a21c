package system

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/api/rest"
	"github.com/KevinKickass/OpenWaterCore/internal/api/rpc"
	"github.com/KevinKickass/OpenWaterCore/internal/api/websocket"
	"github.com/KevinKickass/OpenWaterCore/internal/auth"
	"github.com/KevinKickass/OpenWaterCore/internal/catalog"
	"github.com/KevinKickass/OpenWaterCore/internal/config"
	"github.com/KevinKickass/OpenWaterCore/internal/events"
	"github.com/KevinKickass/OpenWaterCore/internal/interfaces"
	"github.com/KevinKickass/OpenWaterCore/internal/judo"
	"github.com/KevinKickass/OpenWaterCore/internal/storage"
	"github.com/KevinKickass/OpenWaterCore/internal/telemetry"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type LifecycleManager struct {
	config   *config.Config
	storage  *storage.PostgresClient
	catalog  *catalog.Catalog
	client   *judo.Client
	streamer *events.Streamer
	device   *judo.Device
	poller   *judo.Poller
	logger   *zap.Logger

	authService *auth.AuthService
	wsHub       *websocket.Hub
	hubFeed     <-chan events.Update
	restServer  *rest.Server
	grpcServer  *grpc.Server
	mqttBridge  *telemetry.Bridge

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string

	listenersMu     sync.RWMutex
	statusListeners []chan StatusEvent

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires all components. db may be nil when the
// write-only cache lives in a file.
func NewLifecycleManager(
	ctx context.Context,
	db *storage.PostgresClient,
	cfg *config.Config,
	logger *zap.Logger,
) (*LifecycleManager, error) {
	loader, err := catalog.NewLoader()
	if err != nil {
		return nil, err
	}
	cat, err := loader.Load(cfg.Device.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load register catalog: %w", err)
	}

	info := cat.Info()
	logger.Info("Register catalog loaded",
		zap.String("catalog", info.ID),
		zap.Int("registers", cat.Len()),
		zap.Int("groups", len(cat.Groups())))

	var cache storage.Cache
	if db != nil {
		cache = storage.NewPostgresCache(db, logger)
	} else {
		cache = storage.NewFileCache(cfg.Storage.CachePath, logger)
	}

	client := judo.NewClient(judo.ClientConfig{
		BaseURL:  cfg.Device.BaseURL(),
		Username: cfg.Device.Username,
		Password: cfg.Device.Password,
		Timeout:  cfg.Device.Timeout,
	}, logger)

	streamer := events.NewStreamer()
	device := judo.NewDevice(cat, client, cache, streamer, judo.DeviceConfig{
		BurstInterval: cfg.Flow.BurstInterval,
		WindowSize:    cfg.Flow.WindowSize,
	}, logger)
	poller := judo.NewPoller(device, judo.PollerConfig{
		Interval:      cfg.Device.ScanInterval,
		CycleDeadline: cfg.Device.CycleDeadline,
	}, logger)

	authService := auth.NewAuthService(cfg.Auth, logger)

	lm := &LifecycleManager{
		config:          cfg,
		storage:         db,
		catalog:         cat,
		client:          client,
		streamer:        streamer,
		device:          device,
		poller:          poller,
		logger:          logger,
		authService:     authService,
		wsHub:           websocket.NewHub(logger, authService, device),
		currentState:    StateInitializing,
		shutdownChan:    make(chan struct{}),
		statusListeners: make([]chan StatusEvent, 0),
	}

	if cfg.MQTT.Enabled {
		lm.mqttBridge = telemetry.NewBridge(cfg.MQTT, streamer, device, logger)
	}

	return lm, nil
}

// Start connects to the appliance and brings up polling and all interfaces.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenWaterCore", zap.String("device", lm.config.Device.BaseURL()))

	lm.setState(StateConnecting)

	dt, err := lm.client.Connect(ctx, lm.catalog)
	if err != nil {
		lm.setError(fmt.Errorf("failed to connect to device: %w", err))
		return err
	}

	if err := lm.device.LoadCache(ctx); err != nil {
		lm.logger.Warn("Write-only cache not loaded", zap.Error(err))
	}

	if err := lm.poller.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start poller: %w", err))
		return err
	}

	go lm.wsHub.Run()
	lm.hubFeed = lm.streamer.Subscribe()
	go lm.wsHub.Forward(lm.hubFeed)

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	if lm.mqttBridge != nil {
		if err := lm.mqttBridge.Start(); err != nil {
			// Interfaces keep working without the broker
			lm.logger.Error("MQTT bridge not started", zap.Error(err))
		}
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.String("device_type", dt.String()),
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("mqtt_enabled", lm.mqttBridge != nil))

	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	// Polling and bursts first so nothing talks to the device while it closes
	lm.poller.Stop()
	lm.device.Stop()
	if err := lm.client.Close(); err != nil {
		lm.logger.Warn("Closing device client failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	if lm.mqttBridge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.mqttBridge.Stop()
		}()
	}

	// Wait for all shutdowns
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded")
	case err = <-errChan:
	}

	lm.wsHub.Stop()
	if lm.hubFeed != nil {
		lm.streamer.Unsubscribe(lm.hubFeed)
	}

	return err
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer(rpc.ServerOptions(lm.authService, lm.logger)...)
	rpc.NewRegisterService(lm.device, lm.streamer, lm.logger).Register(lm.grpcServer)
	lm.logger.Info("Register gRPC service registered")

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", rpc.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
	if state != StateError {
		lm.lastError = ""
	}
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

// State returns the current lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:            state.String(),
		Connected:        lm.client.Connected(),
		PollerRunning:    lm.poller.IsRunning(),
		RegisterCount:    lm.catalog.Len(),
		WebSocketClients: lm.wsHub.GetClientCount(),
		MQTTConnected:    lm.mqttBridge != nil && lm.mqttBridge.IsConnected(),
	}

	if status.Connected {
		status.DeviceType = lm.client.DeviceType().String()
	}
	if last := lm.poller.LastCycle(); !last.IsZero() {
		status.LastCycle = &last
	}

	return status
}

func (lm *LifecycleManager) statusEvent() StatusEvent {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	ev := StatusEvent{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
		Error:     lm.lastError,
	}
	if lm.client.Connected() {
		ev.DeviceType = lm.client.DeviceType().String()
	}
	return ev
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.statusEvent()

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan StatusEvent {
	ch := make(chan StatusEvent, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan StatusEvent) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Device() *judo.Device {
	return lm.device
}

func (lm *LifecycleManager) Poller() *judo.Poller {
	return lm.poller
}

// Storage returns the database client, nil with the file cache.
func (lm *LifecycleManager) Storage() *storage.PostgresClient {
	return lm.storage
}
