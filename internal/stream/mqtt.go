package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig locates the broker and topic device readings are published on.
// A "+" segment in Topic is taken as the device id when the payload has none.
type MQTTConfig struct {
	Broker   string
	Port     int
	Topic    string
	ClientID string
}

// IngestFunc persists and broadcasts one device reading.
type IngestFunc func(ctx context.Context, event IoTReadingEvent) error

// MQTTSubscriber feeds device readings published over MQTT into an IngestFunc.
type MQTTSubscriber struct {
	client mqtt.Client
	cfg    MQTTConfig
	ingest IngestFunc
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMQTTSubscriber(cfg MQTTConfig, ingest IngestFunc, logger *slog.Logger) *MQTTSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MQTTSubscriber{
		cfg:    cfg,
		ingest: ingest,
		logger: logger.With("component", "mqtt"),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Resubscribe on every (re)connect since the session is clean.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.setConnected(true)
		s.logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
		token := c.Subscribe(cfg.Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			s.handleMessage(msg.Topic(), msg.Payload())
		})
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			s.logger.Error("mqtt subscribe failed", "topic", cfg.Topic, "error", token.Error())
			return
		}
		s.logger.Info("subscribed to mqtt topic", "topic", cfg.Topic, "qos", 1)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Connect establishes the broker connection, waiting until ctx is done or the
// subscriber is stopped.
func (s *MQTTSubscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("mqtt subscriber stopped")
	default:
	}
	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()
	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("mqtt subscriber stopped")
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *MQTTSubscriber) handleMessage(topic string, payload []byte) {
	var event IoTReadingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn("failed to parse device reading", "topic", topic, "error", err)
		return
	}
	if event.DeviceID == "" {
		event.DeviceID = deviceIDFromTopic(s.cfg.Topic, topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if err := s.ingest(ctx, event); err != nil {
		s.logger.Warn("device reading rejected", "topic", topic, "device", event.DeviceID, "error", err)
		return
	}
	s.logger.Debug("ingested device reading", "topic", topic, "device", event.DeviceID)
}

// deviceIDFromTopic returns the segment of topic matching the first "+"
// wildcard of filter.
func deviceIDFromTopic(filter, topic string) string {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, seg := range fs {
		if seg == "+" && i < len(ts) {
			return ts[i]
		}
	}
	return ""
}

// IsConnected returns whether the client is connected.
func (s *MQTTSubscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber. It is safe to call more than once.
func (s *MQTTSubscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.Topic)
		token.WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)
	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *MQTTSubscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
