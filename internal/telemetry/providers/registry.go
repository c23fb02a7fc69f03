package providers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/i474232898/airwatch/internal/telemetry"
)

// Provider names accepted by Build.
const (
	NameOpenWeather = "openweather"
	NameOpenMeteo   = "openmeteo"
	NameWeatherAPI  = "weatherapi"
)

// Keys carries the credentials of the upstream APIs.
type Keys struct {
	OpenWeather string
	WeatherAPI  string
	Google      string
}

// Build constructs the named providers in order, sharing one geocoding
// resolver. Providers whose API key is missing are skipped with a warning.
func Build(client *http.Client, names []string, keys Keys, logger *slog.Logger) ([]telemetry.Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var geocoders []Geocoder
	if keys.OpenWeather != "" {
		geocoders = append(geocoders, NewOpenWeatherGeocoder(client, keys.OpenWeather))
	}
	if keys.Google != "" {
		geocoders = append(geocoders, NewGoogleGeocoder(keys.Google))
	}
	resolver := NewCachingResolver(logger, geocoders...)

	out := make([]telemetry.Provider, 0, len(names))
	for _, name := range names {
		switch name {
		case NameOpenWeather:
			if keys.OpenWeather == "" {
				logger.Warn("provider disabled: missing api key", "provider", name)
				continue
			}
			out = append(out, NewOpenWeatherProvider(client, keys.OpenWeather, resolver))
		case NameOpenMeteo:
			if len(geocoders) == 0 {
				logger.Warn("provider disabled: no geocoder configured", "provider", name)
				continue
			}
			out = append(out, NewOpenMeteoProvider(client, resolver))
		case NameWeatherAPI:
			if keys.WeatherAPI == "" {
				logger.Warn("provider disabled: missing api key", "provider", name)
				continue
			}
			out = append(out, NewWeatherAPIProvider(client, keys.WeatherAPI))
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	return out, nil
}
