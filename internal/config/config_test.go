package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/airwatch/internal/telemetry"
)

var configKeys = []string{
	"APP_ENV", "LOG_LEVEL", "OPENWEATHER_API_KEY", "WEATHERAPI_API_KEY", "GEOCODER_API_KEY",
	"PROVIDERS", "FETCH_INTERVAL", "FETCH_CRON", "COLLECT_TIMEOUT", "HTTP_TIMEOUT",
	"TRACKED_CITIES", "TRACKED_COUNTRIES", "STORE_DRIVER", "SQLITE_PATH",
	"STORE_MAX_HISTORY", "STORE_MAX_AGE", "FORECAST_STRATEGY", "PORT",
	"STREAM_ADDR", "STREAM_ECHO_SENDER", "STREAM_SEND_BUFFER",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_TOPIC", "MQTT_CLIENT_ID",
}

// clearEnv blanks every key so the host environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, EnvDev, cfg.AppEnv)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, []string{"openweather", "openmeteo", "weatherapi"}, cfg.Providers)
	assert.Equal(t, 15*time.Minute, cfg.FetchInterval)
	assert.Equal(t, 30*time.Second, cfg.CollectTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Zero(t, cfg.StoreMaxHistory)
	assert.Zero(t, cfg.StoreMaxAge)
	assert.Equal(t, "ar", cfg.ForecastStrategy)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8081", cfg.StreamAddr)
	assert.True(t, cfg.StreamEchoSender)
	assert.Equal(t, 64, cfg.StreamSendBuffer)
	assert.Empty(t, cfg.MQTTBroker)
	assert.Equal(t, 1883, cfg.MQTTPort)

	require.Len(t, cfg.Locations, 5)
	assert.Equal(t, telemetry.Location{City: "Bengaluru", Country: "IN"}, cfg.Locations[0])
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PROVIDERS", "weatherapi, openmeteo")
	t.Setenv("FETCH_CRON", "*/15 * * * *")
	t.Setenv("TRACKED_CITIES", "Pune, Delhi,pune")
	t.Setenv("TRACKED_COUNTRIES", "IN,IN,in")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_MAX_HISTORY", "96")
	t.Setenv("STORE_MAX_AGE", "24h")
	t.Setenv("FORECAST_STRATEGY", "holt")
	t.Setenv("STREAM_ECHO_SENDER", "false")
	t.Setenv("MQTT_BROKER", "broker.local")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"weatherapi", "openmeteo"}, cfg.Providers)
	assert.Equal(t, "*/15 * * * *", cfg.FetchCron)
	assert.Equal(t, []telemetry.Location{
		{City: "Pune", Country: "IN"},
		{City: "Delhi", Country: "IN"},
	}, cfg.Locations)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "data/airwatch.db", cfg.SQLitePath)
	assert.Equal(t, 96, cfg.StoreMaxHistory)
	assert.Equal(t, 24*time.Hour, cfg.StoreMaxAge)
	assert.Equal(t, "holt", cfg.ForecastStrategy)
	assert.False(t, cfg.StreamEchoSender)
	assert.Equal(t, "broker.local", cfg.MQTTBroker)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"FETCH_INTERVAL":     "often",
		"LOG_LEVEL":          "loud",
		"APP_ENV":            "staging",
		"PROVIDERS":          "openweather,darksky",
		"STORE_DRIVER":       "postgres",
		"FORECAST_STRATEGY":  "lstm",
		"STREAM_ECHO_SENDER": "maybe",
		"STORE_MAX_HISTORY":  "-1",
		"MQTT_PORT":          "70000",
		"PORT":               "http",
	}

	for key, value := range cases {
		key, value := key, value
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestFromEnvMismatchedLocations(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRACKED_CITIES", "Delhi,Mumbai")
	t.Setenv("TRACKED_COUNTRIES", "IN")

	_, err := FromEnv()
	assert.Error(t, err)
}
