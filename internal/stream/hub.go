// Package stream fans device events out to live subscribers and ingests
// device readings from WebSocket clients and MQTT.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/airwatch/internal/metrics"
	"github.com/i474232898/airwatch/internal/telemetry"
)

const defaultSendBuffer = 64

// Reasons a subscriber leaves the hub.
const (
	reasonClosed     = "closed"
	reasonWriteError = "write_error"
	reasonSlow       = "slow"
)

// Conn is one subscriber's transport. WriteMessage is only ever called from a
// single goroutine per connection.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Subscriber is a registered connection.
type Subscriber struct {
	id   string
	conn Conn
	send chan []byte
	done chan struct{}
}

// ID returns the subscriber's identifier.
func (s *Subscriber) ID() string { return s.id }

// Options tunes the hub.
type Options struct {
	// SendBuffer is the per-subscriber queue length; a full queue drops the subscriber.
	SendBuffer int
	// EchoSender controls whether a device update is also delivered to the connection that sent it.
	EchoSender bool
}

// Hub is the live subscriber registry. It is safe for concurrent use.
type Hub struct {
	store  telemetry.DeviceStore
	opts   Options
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}

	now func() time.Time
}

// NewHub creates a hub persisting device readings into store.
func NewHub(store telemetry.DeviceStore, opts Options, logger *slog.Logger) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:       store,
		opts:        opts,
		logger:      logger.With("component", "stream"),
		subscribers: make(map[*Subscriber]struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Connect registers conn and sends it a connection acknowledgment.
func (h *Hub) Connect(conn Conn) *Subscriber {
	sub := &Subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	metrics.StreamSubscribers.Inc()
	go h.writePump(sub)

	h.logger.Debug("subscriber connected", "subscriber", sub.id, "subscribers", count)
	h.sendTo(sub, connectionEvent(sub.id, h.now()))
	return sub
}

// Disconnect removes sub. No further sends are attempted.
func (h *Hub) Disconnect(sub *Subscriber) {
	h.remove(sub, reasonClosed)
}

// HandleMessage processes one inbound payload from sub. Malformed payloads are
// answered with an error event to sub only.
func (h *Hub) HandleMessage(ctx context.Context, sub *Subscriber, payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		h.sendTo(sub, errorEvent("Invalid message format", h.now()))
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case TypeIoTReading:
		event, err := parseIoTReading(payload)
		if err != nil {
			h.sendTo(sub, errorEvent("Invalid message format", h.now()))
			return err
		}
		var exclude *Subscriber
		if !h.opts.EchoSender {
			exclude = sub
		}
		if err := h.ingest(ctx, event, exclude); err != nil {
			h.sendTo(sub, errorEvent("Failed to store reading", h.now()))
			return err
		}
		return nil

	case TypeSubscribe:
		var req subscribeEvent
		_ = json.Unmarshal(payload, &req)
		h.sendTo(sub, Event{
			Type:         TypeSubscriptionConfirmed,
			Subscription: req.Subscription,
			Timestamp:    h.now(),
		})
		return nil

	default:
		h.sendTo(sub, errorEvent(fmt.Sprintf("Unsupported event type %q", env.Type), h.now()))
		return fmt.Errorf("%w: unsupported type %q", ErrMalformedEvent, env.Type)
	}
}

// Ingest persists a device reading received outside a subscriber connection and
// broadcasts it to every subscriber.
func (h *Hub) Ingest(ctx context.Context, event IoTReadingEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	return h.ingest(ctx, event, nil)
}

// ingest persists first; a reading that failed to store is never broadcast.
func (h *Hub) ingest(ctx context.Context, event IoTReadingEvent, exclude *Subscriber) error {
	now := h.now()
	reading := event.DeviceReading(now)
	if err := h.store.AppendDevice(ctx, reading); err != nil {
		h.logger.Error("persist device reading", "device", reading.DeviceID, "error", err)
		return fmt.Errorf("persist device reading: %w", err)
	}
	metrics.ObserveStored(string(telemetry.SourceDevice))

	h.broadcast(updateEvent(reading, now), exclude)
	return nil
}

// Broadcast serialises event once and queues it to every subscriber.
func (h *Hub) Broadcast(event Event) {
	h.broadcast(event, nil)
}

func (h *Hub) broadcast(event Event, exclude *Subscriber) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", "type", event.Type, "error", err)
		return
	}
	metrics.ObserveEvent(event.Type)

	var slow []*Subscriber
	h.mu.RLock()
	for sub := range h.subscribers {
		if sub == exclude {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("dropping slow subscriber", "subscriber", sub.id)
		h.remove(sub, reasonSlow)
	}
}

func (h *Hub) sendTo(sub *Subscriber, event Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", "type", event.Type, "error", err)
		return
	}
	metrics.ObserveEvent(event.Type)

	h.mu.RLock()
	_, ok := h.subscribers[sub]
	queued := false
	if ok {
		select {
		case sub.send <- msg:
			queued = true
		default:
		}
	}
	h.mu.RUnlock()

	if ok && !queued {
		h.remove(sub, reasonSlow)
	}
}

// writePump is the only writer of sub.conn.
func (h *Hub) writePump(sub *Subscriber) {
	for {
		select {
		case msg := <-sub.send:
			if err := sub.conn.WriteMessage(msg); err != nil {
				h.logger.Debug("write failed", "subscriber", sub.id, "error", err)
				h.remove(sub, reasonWriteError)
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (h *Hub) remove(sub *Subscriber, reason string) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subscribers, sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	close(sub.done)
	if err := sub.conn.Close(); err != nil {
		h.logger.Debug("close connection", "subscriber", sub.id, "error", err)
	}

	metrics.StreamSubscribers.Dec()
	if reason != reasonClosed {
		metrics.ObserveDropped(reason)
	}
	h.logger.Debug("subscriber removed", "subscriber", sub.id, "reason", reason, "subscribers", count)
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close removes every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.remove(sub, reasonClosed)
	}
}
