package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/airwatch/internal/telemetry"
)

var fastBackoff = BackoffConfig{
	MaxRetries:      2,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

var delhi = telemetry.Location{City: "Delhi", Country: "IN"}

type staticResolver struct {
	coords Coordinates
	err    error
}

func (s staticResolver) Resolve(context.Context, telemetry.Location) (Coordinates, error) {
	return s.coords, s.err
}

func TestOpenWeatherProviderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("appid"))
		assert.Equal(t, "28.610000", r.URL.Query().Get("lat"))
		switch r.URL.Path {
		case "/air":
			fmt.Fprint(w, `{"list":[{"dt":1717315200,"main":{"aqi":4},"components":{"co":310.5,"no2":22.1,"o3":40,"so2":5.2,"pm2_5":35.4,"pm10":80}}]}`)
		case "/weather":
			assert.Equal(t, "metric", r.URL.Query().Get("units"))
			fmt.Fprint(w, `{"main":{"temp":31.5,"humidity":40},"wind":{"speed":3.2}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), "secret", staticResolver{coords: Coordinates{Lat: 28.61, Lon: 77.21}})
	p.airURL = srv.URL + "/air"
	p.weatherURL = srv.URL + "/weather"
	p.httpCfg.Backoff = fastBackoff

	r, err := p.Fetch(context.Background(), delhi)
	require.NoError(t, err)

	assert.Equal(t, "openweather", r.Provider)
	assert.Equal(t, time.Unix(1717315200, 0).UTC(), r.Timestamp)
	assert.Equal(t, 35.4, r.Pollutants[telemetry.PM25])
	assert.Equal(t, 80.0, r.Pollutants[telemetry.PM10])
	assert.Equal(t, 310.5, r.Pollutants[telemetry.CO])
	require.NotNil(t, r.Temperature)
	assert.Equal(t, 31.5, *r.Temperature)
	require.NotNil(t, r.WindSpeed)
	assert.Equal(t, 3.2, *r.WindSpeed)
}

func TestOpenWeatherProviderWeatherIsOptional(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/air" {
			fmt.Fprint(w, `{"list":[{"dt":1717315200,"components":{"pm2_5":12}}]}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), "secret", staticResolver{})
	p.airURL = srv.URL + "/air"
	p.weatherURL = srv.URL + "/weather"
	p.httpCfg.Backoff = fastBackoff

	r, err := p.Fetch(context.Background(), delhi)
	require.NoError(t, err)
	assert.Equal(t, 12.0, r.Pollutants[telemetry.PM25])
	assert.Nil(t, r.Temperature)
}

func TestOpenWeatherProviderRequiresKey(t *testing.T) {
	p := NewOpenWeatherProvider(http.DefaultClient, "", staticResolver{})
	_, err := p.Fetch(context.Background(), delhi)
	assert.ErrorIs(t, err, errMissingAPIKey)
}

func TestOpenMeteoProviderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/air":
			fmt.Fprint(w, `{"current":{"time":"2024-06-02T08:00","pm10":60.5,"pm2_5":20.1,"carbon_monoxide":200,"nitrogen_dioxide":15,"sulphur_dioxide":3,"ozone":50}}`)
		case "/forecast":
			assert.Equal(t, "ms", r.URL.Query().Get("wind_speed_unit"))
			fmt.Fprint(w, `{"current":{"temperature_2m":29.4,"relative_humidity_2m":55,"wind_speed_10m":2.5}}`)
		}
	}))
	defer srv.Close()

	p := NewOpenMeteoProvider(srv.Client(), staticResolver{coords: Coordinates{Lat: 28.61, Lon: 77.21}})
	p.airURL = srv.URL + "/air"
	p.weatherURL = srv.URL + "/forecast"
	p.httpCfg.Backoff = fastBackoff

	r, err := p.Fetch(context.Background(), delhi)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC), r.Timestamp)
	assert.Equal(t, 20.1, r.Pollutants[telemetry.PM25])
	assert.Equal(t, 50.0, r.Pollutants[telemetry.O3])
	require.NotNil(t, r.Humidity)
	assert.Equal(t, 55.0, *r.Humidity)
}

func TestOpenMeteoProviderResolverFailure(t *testing.T) {
	boom := errors.New("no geocoder")
	p := NewOpenMeteoProvider(http.DefaultClient, staticResolver{err: boom})

	_, err := p.Fetch(context.Background(), delhi)
	assert.ErrorIs(t, err, boom)
}

func TestWeatherAPIProviderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Delhi,IN", r.URL.Query().Get("q"))
		assert.Equal(t, "yes", r.URL.Query().Get("aqi"))
		fmt.Fprint(w, `{"current":{"last_updated_epoch":1717315200,"temp_c":33,"humidity":30,"wind_kph":18,"air_quality":{"co":400,"no2":30,"o3":60,"so2":8,"pm2_5":55.5,"pm10":120}}}`)
	}))
	defer srv.Close()

	p := NewWeatherAPIProvider(srv.Client(), "key")
	p.baseURL = srv.URL
	p.httpCfg.Backoff = fastBackoff

	r, err := p.Fetch(context.Background(), delhi)
	require.NoError(t, err)
	assert.Equal(t, 55.5, r.Pollutants[telemetry.PM25])
	require.NotNil(t, r.WindSpeed)
	assert.InDelta(t, 5.0, *r.WindSpeed, 1e-9)
}

func TestWeatherAPIProviderWithoutParticulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"current":{"temp_c":33,"air_quality":{"co":400}}}`)
	}))
	defer srv.Close()

	p := NewWeatherAPIProvider(srv.Client(), "key")
	p.baseURL = srv.URL
	p.httpCfg.Backoff = fastBackoff

	_, err := p.Fetch(context.Background(), delhi)
	assert.ErrorIs(t, err, errIncompleteData)
}

func TestResilienceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"current":{"air_quality":{"pm10":40}}}`)
	}))
	defer srv.Close()

	p := NewWeatherAPIProvider(srv.Client(), "key")
	p.baseURL = srv.URL
	p.httpCfg.Backoff = fastBackoff

	r, err := p.Fetch(context.Background(), delhi)
	require.NoError(t, err)
	assert.Equal(t, 40.0, r.Pollutants[telemetry.PM10])
	assert.EqualValues(t, 3, calls.Load())
}

func TestResilienceDoesNotRetryUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewWeatherAPIProvider(srv.Client(), "bad-key")
	p.baseURL = srv.URL
	p.httpCfg.Backoff = fastBackoff

	_, err := p.Fetch(context.Background(), delhi)
	assert.ErrorIs(t, err, errUnauthorized)
	assert.EqualValues(t, 1, calls.Load())
}

func TestResilienceGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewWeatherAPIProvider(srv.Client(), "key")
	p.baseURL = srv.URL
	p.httpCfg.Backoff = fastBackoff

	_, err := p.Fetch(context.Background(), delhi)
	assert.ErrorIs(t, err, errRateLimited)
	assert.EqualValues(t, fastBackoff.MaxRetries+1, calls.Load())
}

func TestOpenWeatherGeocoder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Atlantis,XX" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[{"name":"Delhi","lat":28.65,"lon":77.23,"country":"IN"}]`)
	}))
	defer srv.Close()

	g := NewOpenWeatherGeocoder(srv.Client(), "secret")
	g.baseURL = srv.URL
	g.httpCfg.Backoff = fastBackoff

	c, err := g.Geocode(context.Background(), delhi)
	require.NoError(t, err)
	assert.Equal(t, Coordinates{Lat: 28.65, Lon: 77.23}, c)

	_, err = g.Geocode(context.Background(), telemetry.Location{City: "Atlantis", Country: "XX"})
	assert.ErrorIs(t, err, errLocationNotFound)
}

type countingGeocoder struct {
	name   string
	coords Coordinates
	err    error
	calls  atomic.Int32
}

func (g *countingGeocoder) Name() string { return g.name }

func (g *countingGeocoder) Geocode(context.Context, telemetry.Location) (Coordinates, error) {
	g.calls.Add(1)
	return g.coords, g.err
}

func TestCachingResolverFallsBackAndCaches(t *testing.T) {
	first := &countingGeocoder{name: "first", err: errors.New("quota exceeded")}
	second := &countingGeocoder{name: "second", coords: Coordinates{Lat: 12.97, Lon: 77.59}}
	r := NewCachingResolver(nil, first, second)

	for i := 0; i < 3; i++ {
		c, err := r.Resolve(context.Background(), telemetry.Location{City: "Bengaluru", Country: "IN"})
		require.NoError(t, err)
		assert.Equal(t, second.coords, c)
	}
	assert.EqualValues(t, 1, first.calls.Load())
	assert.EqualValues(t, 1, second.calls.Load())
}

func TestCachingResolverPrefersExplicitCoordinates(t *testing.T) {
	g := &countingGeocoder{name: "g"}
	r := NewCachingResolver(nil, g)

	lat, lon := 19.07, 72.88
	c, err := r.Resolve(context.Background(), telemetry.Location{City: "Mumbai", Country: "IN", Lat: &lat, Lon: &lon})
	require.NoError(t, err)
	assert.Equal(t, Coordinates{Lat: lat, Lon: lon}, c)
	assert.Zero(t, g.calls.Load())
}

func TestCachingResolverAllFail(t *testing.T) {
	r := NewCachingResolver(nil)
	_, err := r.Resolve(context.Background(), delhi)
	assert.ErrorIs(t, err, errLocationNotFound)
}

func TestGoogleGeocoder(t *testing.T) {
	g := &GoogleGeocoder{geocode: func(a geocoder.Address) (geocoder.Location, error) {
		assert.Equal(t, "Chennai", a.City)
		return geocoder.Location{Latitude: 13.08, Longitude: 80.27}, nil
	}}

	c, err := g.Geocode(context.Background(), telemetry.Location{City: "Chennai", Country: "IN"})
	require.NoError(t, err)
	assert.Equal(t, Coordinates{Lat: 13.08, Lon: 80.27}, c)
}

func TestBuild(t *testing.T) {
	ps, err := Build(http.DefaultClient, []string{NameWeatherAPI, NameOpenWeather, NameOpenMeteo}, Keys{WeatherAPI: "w"}, nil)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, NameWeatherAPI, ps[0].Name())

	ps, err = Build(http.DefaultClient, []string{NameOpenWeather, NameOpenMeteo}, Keys{OpenWeather: "o"}, nil)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, NameOpenWeather, ps[0].Name())
	assert.Equal(t, NameOpenMeteo, ps[1].Name())

	_, err = Build(http.DefaultClient, []string{"darksky"}, Keys{}, nil)
	assert.Error(t, err)
}
