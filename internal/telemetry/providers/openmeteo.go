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

const openMeteoTimeLayout = "2006-01-02T15:04"

// OpenMeteoProvider implements telemetry.Provider for Open-Meteo. It needs no
// API key but works on coordinates only.
type OpenMeteoProvider struct {
	name       string
	airURL     string
	weatherURL string
	resolver   Resolver
	httpCfg    HTTPClientConfig
	circuit    *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(client *http.Client, resolver Resolver) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:       "openmeteo",
		airURL:     "https://air-quality-api.open-meteo.com/v1/air-quality",
		weatherURL: "https://api.open-meteo.com/v1/forecast",
		resolver:   resolver,
		httpCfg:    HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit:    newCircuitBreaker("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc telemetry.Location) (telemetry.Reading, error) {
	coords, err := p.resolver.Resolve(ctx, loc)
	if err != nil {
		return telemetry.Reading{}, fmt.Errorf("resolve %s: %w", loc.Key(), err)
	}

	values := url.Values{}
	values.Set("latitude", formatCoord(coords.Lat))
	values.Set("longitude", formatCoord(coords.Lon))
	values.Set("timezone", "UTC")
	values.Set("current", "pm10,pm2_5,carbon_monoxide,nitrogen_dioxide,sulphur_dioxide,ozone")

	var air struct {
		Current struct {
			Time string   `json:"time"`
			PM10 *float64 `json:"pm10"`
			PM25 *float64 `json:"pm2_5"`
			CO   *float64 `json:"carbon_monoxide"`
			NO2  *float64 `json:"nitrogen_dioxide"`
			SO2  *float64 `json:"sulphur_dioxide"`
			O3   *float64 `json:"ozone"`
		} `json:"current"`
	}
	if err := getJSON(ctx, p.httpCfg, p.circuit, p.airURL, values, &air); err != nil {
		return telemetry.Reading{}, err
	}

	conc, err := pollutants(map[telemetry.Pollutant]*float64{
		telemetry.PM25: air.Current.PM25,
		telemetry.PM10: air.Current.PM10,
		telemetry.CO:   air.Current.CO,
		telemetry.NO2:  air.Current.NO2,
		telemetry.O3:   air.Current.O3,
		telemetry.SO2:  air.Current.SO2,
	})
	if err != nil {
		return telemetry.Reading{}, err
	}

	// A zero timestamp is replaced with the collection time by the service.
	ts, _ := time.Parse(openMeteoTimeLayout, air.Current.Time)

	r := telemetry.Reading{
		Timestamp:  ts,
		Pollutants: conc,
		Provider:   p.name,
	}

	values.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m")
	values.Set("wind_speed_unit", "ms")
	var weather struct {
		Current struct {
			Temperature *float64 `json:"temperature_2m"`
			Humidity    *float64 `json:"relative_humidity_2m"`
			WindSpeed   *float64 `json:"wind_speed_10m"`
		} `json:"current"`
	}
	// Weather is best effort.
	if err := getJSON(ctx, p.httpCfg, p.circuit, p.weatherURL, values, &weather); err == nil {
		r.Temperature = weather.Current.Temperature
		r.Humidity = weather.Current.Humidity
		r.WindSpeed = weather.Current.WindSpeed
	}
	return r, nil
}
