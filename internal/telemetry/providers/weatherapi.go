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

// WeatherAPIProvider implements telemetry.Provider for WeatherAPI.com. Air quality
// and weather come from the same current.json call.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/current.json",
		httpCfg: HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit: newCircuitBreaker("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc telemetry.Location) (telemetry.Reading, error) {
	if p.apiKey == "" {
		return telemetry.Reading{}, fmt.Errorf("weatherapi: %w", errMissingAPIKey)
	}

	values := url.Values{}
	values.Set("key", p.apiKey)
	values.Set("aqi", "yes")
	// WeatherAPI uses "q" for location; it accepts "city,country" or "lat,lon".
	if loc.Lat != nil && loc.Lon != nil {
		values.Set("q", formatCoord(*loc.Lat)+","+formatCoord(*loc.Lon))
	} else {
		q := loc.City
		if loc.Country != "" {
			q = loc.City + "," + loc.Country
		}
		values.Set("q", q)
	}

	var payload struct {
		Current struct {
			LastUpdatedEpoch int64    `json:"last_updated_epoch"`
			TempC            *float64 `json:"temp_c"`
			Humidity         *float64 `json:"humidity"`
			WindKph          *float64 `json:"wind_kph"`
			AirQuality       struct {
				CO   *float64 `json:"co"`
				NO2  *float64 `json:"no2"`
				O3   *float64 `json:"o3"`
				SO2  *float64 `json:"so2"`
				PM25 *float64 `json:"pm2_5"`
				PM10 *float64 `json:"pm10"`
			} `json:"air_quality"`
		} `json:"current"`
	}
	if err := getJSON(ctx, p.httpCfg, p.circuit, p.baseURL, values, &payload); err != nil {
		return telemetry.Reading{}, err
	}

	aq := payload.Current.AirQuality
	conc, err := pollutants(map[telemetry.Pollutant]*float64{
		telemetry.PM25: aq.PM25,
		telemetry.PM10: aq.PM10,
		telemetry.CO:   aq.CO,
		telemetry.NO2:  aq.NO2,
		telemetry.O3:   aq.O3,
		telemetry.SO2:  aq.SO2,
	})
	if err != nil {
		return telemetry.Reading{}, err
	}

	var ts time.Time
	if payload.Current.LastUpdatedEpoch > 0 {
		ts = time.Unix(payload.Current.LastUpdatedEpoch, 0).UTC()
	}

	r := telemetry.Reading{
		Timestamp:   ts,
		Pollutants:  conc,
		Temperature: payload.Current.TempC,
		Humidity:    payload.Current.Humidity,
		Provider:    p.name,
	}
	if payload.Current.WindKph != nil {
		// kph to m/s
		r.WindSpeed = ptr(*payload.Current.WindKph / 3.6)
	}
	return r, nil
}
