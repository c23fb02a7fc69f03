package telemetry

import (
	"context"
	"time"
)

// Provider abstracts an upstream air-quality/weather source (e.g. OpenWeather,
// Open-Meteo, WeatherAPI). Fetch returns one fresh Reading for the location; the
// ID and Source fields are filled in by the Service.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (Reading, error)
}

// Store is the contract every reading store (in-memory or durable) must satisfy.
// Reads for a location without data return ErrNoData.
type Store interface {
	Append(ctx context.Context, r Reading) error
	Latest(ctx context.Context, location string) (Reading, error)
	// Recent returns up to n readings, most recent first.
	Recent(ctx context.Context, location string, n int) ([]Reading, error)
	// Range returns readings with timestamps in [from, to], oldest first. The
	// result is empty (not ErrNoData) when the location has data outside the range.
	Range(ctx context.Context, location string, from, to time.Time) ([]Reading, error)

	DeviceStore
}

// DeviceStore keeps device-originated samples.
type DeviceStore interface {
	AppendDevice(ctx context.Context, r DeviceReading) error
	RecentDevice(ctx context.Context, deviceID string, n int) ([]DeviceReading, error)
}
