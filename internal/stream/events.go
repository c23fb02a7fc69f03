package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/i474232898/airwatch/internal/telemetry"
)

// Inbound event types.
const (
	TypeIoTReading = "iot_reading"
	TypeSubscribe  = "subscribe"
)

// Outbound event types.
const (
	TypeConnection            = "connection"
	TypeIoTUpdate             = "iot_update"
	TypeSubscriptionConfirmed = "subscription_confirmed"
	TypeError                 = "error"
)

// ErrMalformedEvent is returned for inbound payloads that cannot be parsed or
// miss required fields.
var ErrMalformedEvent = errors.New("malformed event")

var validate = validator.New()

type envelope struct {
	Type string `json:"type"`
}

// IoTReadingEvent is a device sample as sent by a device.
type IoTReadingEvent struct {
	DeviceID       string     `json:"deviceId" validate:"required,max=128"`
	Location       string     `json:"location" validate:"required,max=256"`
	PM25           *float64   `json:"pm25" validate:"required,gte=0"`
	PM10           *float64   `json:"pm10" validate:"required,gte=0"`
	Temperature    *float64   `json:"temperature,omitempty" validate:"omitempty,gte=-90,lte=70"`
	Humidity       *float64   `json:"humidity,omitempty" validate:"omitempty,gte=0,lte=100"`
	BatteryLevel   *float64   `json:"batteryLevel,omitempty" validate:"omitempty,gte=0,lte=100"`
	SignalStrength *float64   `json:"signalStrength,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// Validate checks the event's fields.
func (e IoTReadingEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// DeviceReading normalises the event, stamping it with now when the device
// sent no timestamp.
func (e IoTReadingEvent) DeviceReading(now time.Time) telemetry.DeviceReading {
	ts := now
	if e.Timestamp != nil && !e.Timestamp.IsZero() {
		ts = *e.Timestamp
	}
	return telemetry.DeviceReading{
		ID:             uuid.NewString(),
		DeviceID:       e.DeviceID,
		Location:       e.Location,
		Timestamp:      ts.UTC(),
		PM25:           *e.PM25,
		PM10:           *e.PM10,
		Temperature:    e.Temperature,
		Humidity:       e.Humidity,
		BatteryLevel:   e.BatteryLevel,
		SignalStrength: e.SignalStrength,
	}
}

type subscribeEvent struct {
	Subscription json.RawMessage `json:"subscription,omitempty"`
}

// Event is an outbound message. Only the fields of its Type are set.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`

	DeviceID string        `json:"deviceId,omitempty"`
	Location string        `json:"location,omitempty"`
	Data     *DeviceUpdate `json:"data,omitempty"`

	Subscription json.RawMessage `json:"subscription,omitempty"`
}

// DeviceUpdate is the normalised payload of an iot_update event.
type DeviceUpdate struct {
	telemetry.DeviceReading
	AQI      int    `json:"aqi"`
	Category string `json:"category"`
}

func parseIoTReading(payload []byte) (IoTReadingEvent, error) {
	var e IoTReadingEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return IoTReadingEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return IoTReadingEvent{}, err
	}
	return e, nil
}

func connectionEvent(id string, now time.Time) Event {
	return Event{
		Type:      TypeConnection,
		Status:    "connected",
		ID:        id,
		Message:   "Connected to AirWatch IoT stream",
		Timestamp: now,
	}
}

func updateEvent(r telemetry.DeviceReading, now time.Time) Event {
	aqi := r.AQI()
	return Event{
		Type:      TypeIoTUpdate,
		DeviceID:  r.DeviceID,
		Location:  r.Location,
		Data:      &DeviceUpdate{DeviceReading: r, AQI: aqi, Category: telemetry.Category(aqi)},
		Timestamp: now,
	}
}

func errorEvent(message string, now time.Time) Event {
	return Event{Type: TypeError, Message: message, Timestamp: now}
}
