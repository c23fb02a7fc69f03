package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/kelvins/geocoder"
	"github.com/sony/gobreaker"

	"github.com/i474232898/airwatch/internal/telemetry"
)

var errLocationNotFound = errors.New("location not found")

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Geocoder resolves a city/country pair to coordinates.
type Geocoder interface {
	Name() string
	Geocode(ctx context.Context, loc telemetry.Location) (Coordinates, error)
}

// OpenWeatherGeocoder uses OpenWeather's direct geocoding API.
type OpenWeatherGeocoder struct {
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherGeocoder(client *http.Client, apiKey string) *OpenWeatherGeocoder {
	return &OpenWeatherGeocoder{
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/geo/1.0/direct",
		httpCfg: HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit: newCircuitBreaker("openweather-geo"),
	}
}

func (g *OpenWeatherGeocoder) Name() string { return "openweather-geo" }

func (g *OpenWeatherGeocoder) Geocode(ctx context.Context, loc telemetry.Location) (Coordinates, error) {
	if g.apiKey == "" {
		return Coordinates{}, fmt.Errorf("openweather geocoding: %w", errMissingAPIKey)
	}

	q := loc.City
	if loc.Country != "" {
		q = loc.City + "," + loc.Country
	}
	values := url.Values{}
	values.Set("q", q)
	values.Set("limit", "1")
	values.Set("appid", g.apiKey)

	var payload []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	}
	if err := getJSON(ctx, g.httpCfg, g.circuit, g.baseURL, values, &payload); err != nil {
		return Coordinates{}, err
	}
	if len(payload) == 0 {
		return Coordinates{}, fmt.Errorf("%w: %s", errLocationNotFound, q)
	}
	return Coordinates{Lat: payload[0].Lat, Lon: payload[0].Lon}, nil
}

// GoogleGeocoder resolves locations through the Google Geocoding API.
type GoogleGeocoder struct {
	geocode func(geocoder.Address) (geocoder.Location, error)
}

// NewGoogleGeocoder configures the Google client with apiKey. The key is process
// wide in the underlying library.
func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	geocoder.ApiKey = apiKey
	return &GoogleGeocoder{geocode: geocoder.Geocoding}
}

func (g *GoogleGeocoder) Name() string { return "google" }

func (g *GoogleGeocoder) Geocode(ctx context.Context, loc telemetry.Location) (Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return Coordinates{}, err
	}
	res, err := g.geocode(geocoder.Address{City: loc.City, Country: loc.Country})
	if err != nil {
		return Coordinates{}, fmt.Errorf("google geocoding: %w", err)
	}
	if res.Latitude == 0 && res.Longitude == 0 {
		return Coordinates{}, fmt.Errorf("%w: %s", errLocationNotFound, loc.Key())
	}
	return Coordinates{Lat: res.Latitude, Lon: res.Longitude}, nil
}

// CachingResolver asks geocoders in order and remembers the first answer per
// location. Locations carrying coordinates are returned as-is.
type CachingResolver struct {
	geocoders []Geocoder
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]Coordinates
}

func NewCachingResolver(logger *slog.Logger, geocoders ...Geocoder) *CachingResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingResolver{
		geocoders: geocoders,
		logger:    logger,
		cache:     make(map[string]Coordinates),
	}
}

func (r *CachingResolver) Resolve(ctx context.Context, loc telemetry.Location) (Coordinates, error) {
	if loc.Lat != nil && loc.Lon != nil {
		return Coordinates{Lat: *loc.Lat, Lon: *loc.Lon}, nil
	}

	key := loc.Key()
	r.mu.RLock()
	c, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	var errs []error
	for _, g := range r.geocoders {
		c, err := g.Geocode(ctx, loc)
		if err != nil {
			r.logger.Debug("geocoding failed", "geocoder", g.Name(), "location", key, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))
			continue
		}
		r.mu.Lock()
		r.cache[key] = c
		r.mu.Unlock()
		return c, nil
	}
	if len(errs) == 0 {
		return Coordinates{}, fmt.Errorf("%w: no geocoder configured for %s", errLocationNotFound, key)
	}
	return Coordinates{}, errors.Join(errs...)
}
