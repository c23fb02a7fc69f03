package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/airwatch/internal/telemetry"
)

// Resolver turns a location into coordinates for coordinate-only APIs.
type Resolver interface {
	Resolve(ctx context.Context, loc telemetry.Location) (Coordinates, error)
}

// OpenWeatherProvider implements telemetry.Provider using the OpenWeatherMap air
// pollution API, enriched with current weather when available.
type OpenWeatherProvider struct {
	name       string
	apiKey     string
	airURL     string
	weatherURL string
	resolver   Resolver
	httpCfg    HTTPClientConfig
	circuit    *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, resolver Resolver) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:       "openweather",
		apiKey:     apiKey,
		airURL:     "https://api.openweathermap.org/data/2.5/air_pollution",
		weatherURL: "https://api.openweathermap.org/data/2.5/weather",
		resolver:   resolver,
		httpCfg:    HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit:    newCircuitBreaker("openweather"),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, loc telemetry.Location) (telemetry.Reading, error) {
	if p.apiKey == "" {
		return telemetry.Reading{}, fmt.Errorf("openweather: %w", errMissingAPIKey)
	}
	coords, err := p.resolver.Resolve(ctx, loc)
	if err != nil {
		return telemetry.Reading{}, fmt.Errorf("resolve %s: %w", loc.Key(), err)
	}

	values := url.Values{}
	values.Set("lat", formatCoord(coords.Lat))
	values.Set("lon", formatCoord(coords.Lon))
	values.Set("appid", p.apiKey)

	var air struct {
		List []struct {
			Dt         int64 `json:"dt"`
			Components struct {
				CO   *float64 `json:"co"`
				NO2  *float64 `json:"no2"`
				O3   *float64 `json:"o3"`
				SO2  *float64 `json:"so2"`
				PM25 *float64 `json:"pm2_5"`
				PM10 *float64 `json:"pm10"`
			} `json:"components"`
		} `json:"list"`
	}
	if err := getJSON(ctx, p.httpCfg, p.circuit, p.airURL, values, &air); err != nil {
		return telemetry.Reading{}, err
	}
	if len(air.List) == 0 {
		return telemetry.Reading{}, errIncompleteData
	}

	item := air.List[0]
	conc, err := pollutants(map[telemetry.Pollutant]*float64{
		telemetry.PM25: item.Components.PM25,
		telemetry.PM10: item.Components.PM10,
		telemetry.CO:   item.Components.CO,
		telemetry.NO2:  item.Components.NO2,
		telemetry.O3:   item.Components.O3,
		telemetry.SO2:  item.Components.SO2,
	})
	if err != nil {
		return telemetry.Reading{}, err
	}

	var ts time.Time
	if item.Dt > 0 {
		ts = time.Unix(item.Dt, 0).UTC()
	}

	r := telemetry.Reading{
		Timestamp:  ts,
		Pollutants: conc,
		Provider:   p.name,
	}
	p.addWeather(ctx, values, &r)
	return r, nil
}

// addWeather fills the weather fields. It is best effort: the reading stays
// valid without them.
func (p *OpenWeatherProvider) addWeather(ctx context.Context, values url.Values, r *telemetry.Reading) {
	values.Set("units", "metric")

	var payload struct {
		Main struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed *float64 `json:"speed"`
		} `json:"wind"`
	}
	if err := getJSON(ctx, p.httpCfg, p.circuit, p.weatherURL, values, &payload); err != nil {
		return
	}
	r.Temperature = payload.Main.Temp
	r.Humidity = payload.Main.Humidity
	r.WindSpeed = payload.Wind.Speed
}
