package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/airwatch/internal/logging"
	"github.com/i474232898/airwatch/internal/telemetry"
)

// Environments accepted in APP_ENV.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

var (
	defaultCities    = "Bengaluru,Delhi,Mumbai,Chennai,Hyderabad"
	defaultCountries = "IN,IN,IN,IN,IN"
)

type AppConfig struct {
	AppEnv   string     `validate:"oneof=dev prod"`
	LogLevel slog.Level `validate:"-"`

	OpenWeatherAPIKey string
	WeatherAPIKey     string
	GeocoderAPIKey    string
	// Providers in fallback order.
	Providers []string `validate:"min=1,dive,oneof=openweather openmeteo weatherapi"`

	// FetchInterval controls how often we collect for each location; FetchCron,
	// when set, replaces it.
	FetchInterval  time.Duration `validate:"gt=0"`
	FetchCron      string
	CollectTimeout time.Duration `validate:"gt=0"`
	HTTPTimeout    time.Duration `validate:"gt=0"`

	// Locations to track.
	Locations []telemetry.Location `validate:"dive"`

	StoreDriver string `validate:"oneof=memory sqlite"`
	SQLitePath  string `validate:"required_if=StoreDriver sqlite"`
	// Retention: max readings per location and max age (0 = unlimited).
	StoreMaxHistory int           `validate:"gte=0"`
	StoreMaxAge     time.Duration `validate:"gte=0"`

	ForecastStrategy string `validate:"oneof=ar holt"`

	Port             string `validate:"required,numeric"`
	StreamAddr       string `validate:"required"`
	StreamEchoSender bool
	StreamSendBuffer int `validate:"gt=0"`

	// MQTTBroker empty disables MQTT ingestion.
	MQTTBroker   string
	MQTTPort     int    `validate:"gt=0,lte=65535"`
	MQTTTopic    string `validate:"required_with=MQTTBroker"`
	MQTTClientID string `validate:"required_with=MQTTBroker"`
}

var validate = validator.New()

// Load reads configuration from the environment (and a .env file when present)
// with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		AppEnv:            getenvDefault("APP_ENV", EnvDev),
		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		WeatherAPIKey:     os.Getenv("WEATHERAPI_API_KEY"),
		GeocoderAPIKey:    os.Getenv("GEOCODER_API_KEY"),
		Providers:         splitList(getenvDefault("PROVIDERS", "openweather,openmeteo,weatherapi")),
		FetchCron:         strings.TrimSpace(os.Getenv("FETCH_CRON")),
		StoreDriver:       getenvDefault("STORE_DRIVER", "memory"),
		SQLitePath:        getenvDefault("SQLITE_PATH", "data/airwatch.db"),
		ForecastStrategy:  getenvDefault("FORECAST_STRATEGY", "ar"),
		Port:              getenvDefault("PORT", "8080"),
		StreamAddr:        getenvDefault("STREAM_ADDR", ":8081"),
		MQTTBroker:        os.Getenv("MQTT_BROKER"),
		MQTTTopic:         getenvDefault("MQTT_TOPIC", "airwatch/devices/+/readings"),
		MQTTClientID:      getenvDefault("MQTT_CLIENT_ID", "airwatch-server"),
	}

	var err error
	if cfg.LogLevel, err = logging.ParseLevel(getenvDefault("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"FETCH_INTERVAL", "15m", &cfg.FetchInterval},
		{"COLLECT_TIMEOUT", "30s", &cfg.CollectTimeout},
		{"HTTP_TIMEOUT", "10s", &cfg.HTTPTimeout},
		{"STORE_MAX_AGE", "0", &cfg.StoreMaxAge},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(getenvDefault(d.key, d.def)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"STORE_MAX_HISTORY", 0, &cfg.StoreMaxHistory},
		{"STREAM_SEND_BUFFER", 64, &cfg.StreamSendBuffer},
		{"MQTT_PORT", 1883, &cfg.MQTTPort},
	}
	for _, i := range ints {
		if *i.dst, err = getenvInt(i.key, i.def); err != nil {
			return nil, err
		}
	}

	if cfg.StreamEchoSender, err = getenvBool("STREAM_ECHO_SENDER", true); err != nil {
		return nil, err
	}

	if cfg.Locations, err = loadLocations(); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadLocations pairs TRACKED_CITIES with TRACKED_COUNTRIES positionally.
func loadLocations() ([]telemetry.Location, error) {
	cities := splitList(getenvDefault("TRACKED_CITIES", defaultCities))
	countries := splitList(getenvDefault("TRACKED_COUNTRIES", defaultCountries))
	if len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities (%d) and countries (%d) must be the same", len(cities), len(countries))
	}

	locs := make([]telemetry.Location, 0, len(cities))
	seen := make(map[string]bool, len(cities))
	for i := range cities {
		loc := telemetry.Location{City: cities[i], Country: countries[i]}
		if seen[loc.Key()] {
			continue
		}
		seen[loc.Key()] = true
		locs = append(locs, loc)
	}
	return locs, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
