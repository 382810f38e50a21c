package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/config"
	"github.com/KevinKickass/OpenWaterCore/internal/events"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	publishQoS   = 1
	setTimeout   = 15 * time.Second
	setQueueSize = 16
)

type setRequest struct {
	topic   string
	payload []byte
}

// Setter accepts register writes coming from the broker.
type Setter interface {
	Set(ctx context.Context, key string, value any) error
}

// Subscriber hands out register update feeds.
type Subscriber interface {
	Subscribe() <-chan events.Update
	Unsubscribe(ch <-chan events.Update)
}

type statePayload struct {
	Value     any       `json:"value"`
	Valid     bool      `json:"valid"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bridge mirrors register values to retained MQTT topics
// ({prefix}/{key}) and forwards writes from {prefix}/{key}/set.
type Bridge struct {
	cfg     config.MQTTConfig
	updates Subscriber
	setter  Setter
	logger  *zap.Logger

	client mqtt.Client
	feed   <-chan events.Update
	sets   chan setRequest

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewBridge(cfg config.MQTTConfig, updates Subscriber, setter Setter, logger *zap.Logger) *Bridge {
	if cfg.ClientID == "" {
		cfg.ClientID = "openwatercore-" + uuid.NewString()
	}
	return &Bridge{
		cfg:      cfg,
		updates:  updates,
		setter:   setter,
		logger:   logger.With(zap.String("component", "mqtt")),
		sets:     make(chan setRequest, setQueueSize),
		stopChan: make(chan struct{}),
	}
}

// Start connects to the broker and begins publishing.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("mqtt bridge already running")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetMaxReconnectInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetResumeSubs(true)
	opts.SetWriteTimeout(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)

	opts.OnConnect = func(client mqtt.Client) {
		b.logger.Info("Connected to MQTT broker", zap.String("broker", b.cfg.Broker))
		topic := b.setFilter()
		if token := client.Subscribe(topic, publishQoS, b.onSetMessage); token.Wait() && token.Error() != nil {
			b.logger.Error("Failed to subscribe", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		b.logger.Warn("MQTT connection lost", zap.Error(err))
	}

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect failed: %w", token.Error())
	}

	b.feed = b.updates.Subscribe()
	b.running = true
	b.stopChan = make(chan struct{})

	b.wg.Add(2)
	go b.publishLoop(b.stopChan)
	go b.setLoop(b.stopChan)

	return nil
}

func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.updates.Unsubscribe(b.feed)
	b.client.Disconnect(250)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && b.client.IsConnected()
}

func (b *Bridge) publishLoop(stop <-chan struct{}) {
	defer b.wg.Done()

	for {
		select {
		case <-stop:
			return
		case u, ok := <-b.feed:
			if !ok {
				return
			}
			b.publish(u)
		}
	}
}

func (b *Bridge) publish(u events.Update) {
	payload, err := encodeState(u)
	if err != nil {
		b.logger.Warn("Failed to encode register value", zap.String("register", u.Key), zap.Error(err))
		return
	}

	if !b.client.IsConnected() {
		return
	}

	topic := b.stateTopic(u.Key)
	token := b.client.Publish(topic, publishQoS, true, payload)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			b.logger.Warn("Publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}()
}

// onSetMessage runs on paho's router goroutine and must not block on device I/O.
func (b *Bridge) onSetMessage(_ mqtt.Client, msg mqtt.Message) {
	b.enqueueSet(msg.Topic(), msg.Payload())
}

func (b *Bridge) enqueueSet(topic string, payload []byte) bool {
	select {
	case b.sets <- setRequest{topic: topic, payload: payload}:
		return true
	default:
		b.logger.Warn("Set queue full, dropping command", zap.String("topic", topic))
		return false
	}
}

// setLoop applies queued writes one at a time in arrival order.
func (b *Bridge) setLoop(stop <-chan struct{}) {
	defer b.wg.Done()

	for {
		select {
		case <-stop:
			return
		case req := <-b.sets:
			b.handleSet(req.topic, req.payload)
		}
	}
}

func (b *Bridge) handleSet(topic string, payload []byte) {
	key, ok := b.keyFromSetTopic(topic)
	if !ok {
		b.logger.Debug("Ignoring message on unexpected topic", zap.String("topic", topic))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), setTimeout)
	defer cancel()

	value := decodeSetValue(payload)
	if err := b.setter.Set(ctx, key, value); err != nil {
		b.logger.Warn("Register write via MQTT failed",
			zap.String("register", key),
			zap.Any("value", value),
			zap.Error(err))
		return
	}
	b.logger.Info("Register written via MQTT", zap.String("register", key))
}

func (b *Bridge) stateTopic(key string) string {
	return b.cfg.TopicPrefix + "/" + key
}

func (b *Bridge) setFilter() string {
	return b.cfg.TopicPrefix + "/+/set"
}

func (b *Bridge) keyFromSetTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.cfg.TopicPrefix+"/")
	if !ok {
		return "", false
	}
	key, ok := strings.CutSuffix(rest, "/set")
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

func encodeState(u events.Update) ([]byte, error) {
	value := u.Value
	if t, ok := value.(time.Time); ok {
		value = t.UTC().Format(time.RFC3339)
	}
	return json.Marshal(statePayload{Value: value, Valid: u.Valid, UpdatedAt: u.UpdatedAt})
}

// decodeSetValue accepts a JSON scalar, {"value": ...} or a bare label.
func decodeSetValue(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return strings.TrimSpace(string(payload))
	}
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["value"]; ok {
			return inner
		}
	}
	return v
}
