package telemetry

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Timestamps must fit in int64 nanoseconds since the epoch (1677-09-21 to 2262-04-11).
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

func timestampInRange(t time.Time) bool {
	return !t.Before(MinTimestamp) && !t.After(MaxTimestamp)
}

var (
	// ErrNoData is returned when no readings are stored for a location or device.
	ErrNoData = errors.New("no telemetry data")

	// ErrInvalidReading is returned when a reading lacks a required field.
	ErrInvalidReading = errors.New("invalid reading")
)

// Source tags where a reading came from.
type Source string

const (
	SourceLive   Source = "live"
	SourceCached Source = "cached"
	SourceDevice Source = "device"
)

// Pollutant names a measured pollutant. Concentrations are always µg/m³.
type Pollutant string

const (
	PM25 Pollutant = "pm2_5"
	PM10 Pollutant = "pm10"
	CO   Pollutant = "co"
	NO2  Pollutant = "no2"
	O3   Pollutant = "o3"
	SO2  Pollutant = "so2"
)

// ConcentrationUnit is the unit every pollutant concentration is reported in.
const ConcentrationUnit = "µg/m³"

// Location represents a tracked place. City/Country must be provided; coordinates
// are optional and resolved by providers that need them.
type Location struct {
	City    string   `json:"city" validate:"required,max=100"`
	Country string   `json:"country" validate:"required,max=100"`
	Lat     *float64 `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lon     *float64 `json:"lon,omitempty" validate:"omitempty,longitude"`
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return strings.ToLower(strings.TrimSpace(l.City)) + ":" + strings.ToUpper(strings.TrimSpace(l.Country))
}

// Reading is one environmental observation for a location. Readings are never
// mutated after creation.
type Reading struct {
	ID         string                `json:"id"`
	Location   string                `json:"location"`
	Timestamp  time.Time             `json:"timestamp"` // always UTC
	AQI        int                   `json:"aqi"`
	Pollutants map[Pollutant]float64 `json:"pollutants"`

	Temperature *float64 `json:"temperatureC,omitempty"`
	Humidity    *float64 `json:"humidityPercent,omitempty"`
	WindSpeed   *float64 `json:"windSpeedMs,omitempty"`

	Source   Source `json:"source"`
	Provider string `json:"provider,omitempty"`
}

// Validate checks the fields every stored reading must carry.
func (r Reading) Validate() error {
	switch {
	case r.Location == "":
		return errors.Join(ErrInvalidReading, errors.New("location is required"))
	case r.Timestamp.IsZero():
		return errors.Join(ErrInvalidReading, errors.New("timestamp is required"))
	case !timestampInRange(r.Timestamp):
		return errors.Join(ErrInvalidReading, errors.New("timestamp out of range"))
	case r.Source == "":
		return errors.Join(ErrInvalidReading, errors.New("source is required"))
	}
	return nil
}

// DeviceReading is a sample pushed by a field device rather than pulled from a provider.
type DeviceReading struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"deviceId"`
	Location       string    `json:"location"`
	Timestamp      time.Time `json:"timestamp"`
	PM25           float64   `json:"pm25"`
	PM10           float64   `json:"pm10"`
	Temperature    *float64  `json:"temperature,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	BatteryLevel   *float64  `json:"batteryLevel,omitempty"`
	SignalStrength *float64  `json:"signalStrength,omitempty"`
}

// Validate checks the identity fields of a device reading.
func (d DeviceReading) Validate() error {
	switch {
	case d.DeviceID == "":
		return errors.Join(ErrInvalidReading, errors.New("deviceId is required"))
	case d.Location == "":
		return errors.Join(ErrInvalidReading, errors.New("location is required"))
	case d.Timestamp.IsZero():
		return errors.Join(ErrInvalidReading, errors.New("timestamp is required"))
	case !timestampInRange(d.Timestamp):
		return errors.Join(ErrInvalidReading, errors.New("timestamp out of range"))
	}
	return nil
}

// AQI returns the air-quality index implied by the device's particulate readings.
func (d DeviceReading) AQI() int {
	return ComputeAQI(map[Pollutant]float64{PM25: d.PM25, PM10: d.PM10})
}
