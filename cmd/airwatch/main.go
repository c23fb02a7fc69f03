package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/airwatch/internal/api/http"
	"github.com/i474232898/airwatch/internal/config"
	"github.com/i474232898/airwatch/internal/forecast"
	"github.com/i474232898/airwatch/internal/logging"
	"github.com/i474232898/airwatch/internal/scheduler"
	"github.com/i474232898/airwatch/internal/store"
	"github.com/i474232898/airwatch/internal/stream"
	"github.com/i474232898/airwatch/internal/telemetry"
	"github.com/i474232898/airwatch/internal/telemetry/providers"
)

const appName = "airwatch"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg := logging.New(cfg.AppEnv, cfg.LogLevel, appName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		Driver:     cfg.StoreDriver,
		SQLitePath: cfg.SQLitePath,
		MaxHistory: cfg.StoreMaxHistory,
		MaxAge:     cfg.StoreMaxAge,
	}, lg)
	if err != nil {
		lg.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	provs, err := providers.Build(httpClient, cfg.Providers, providers.Keys{
		OpenWeather: cfg.OpenWeatherAPIKey,
		WeatherAPI:  cfg.WeatherAPIKey,
		Google:      cfg.GeocoderAPIKey,
	}, lg)
	if err != nil {
		lg.Error("failed to build providers", "error", err)
		os.Exit(1)
	}
	if len(provs) == 0 {
		lg.Warn("no provider is usable; live collection will fail until API keys are configured")
	}

	service := telemetry.NewService(st, telemetry.NewFallbackProvider(lg, provs...), cfg.Locations, lg)

	predictor, err := forecast.NewPredictor(st, cfg.ForecastStrategy)
	if err != nil {
		lg.Error("failed to build predictor", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(service, scheduler.Options{
		Interval: cfg.FetchInterval,
		Cron:     cfg.FetchCron,
		Timeout:  cfg.CollectTimeout,
	}, lg)
	if err := sched.Start(); err != nil {
		lg.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	hub := stream.NewHub(st, stream.Options{
		SendBuffer: cfg.StreamSendBuffer,
		EchoSender: cfg.StreamEchoSender,
	}, lg)
	defer hub.Close()

	mux := http.NewServeMux()
	mux.Handle("/ws", stream.Handler(hub, lg))
	streamSrv := &http.Server{
		Addr:              cfg.StreamAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Info("stream server listening", "addr", cfg.StreamAddr)
		if err := streamSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("stream server stopped", "error", err)
			stop()
		}
	}()

	if cfg.MQTTBroker != "" {
		sub := stream.NewMQTTSubscriber(stream.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			Port:     cfg.MQTTPort,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
		}, hub.Ingest, lg)
		if err := sub.Connect(ctx); err != nil {
			// Device ingestion over WebSocket still works without the broker.
			lg.Error("mqtt connect failed", "broker", cfg.MQTTBroker, "error", err)
		} else {
			defer sub.Disconnect()
		}
	}

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          time.Minute,
		ErrorHandler:          httpapi.ErrorHandler,
	})
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, service, predictor)

	go func() {
		lg.Info("http server listening", "port", cfg.Port, "env", cfg.AppEnv)
		if err := app.Listen(":" + cfg.Port); err != nil {
			lg.Error("fiber server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Error("error during http shutdown", "error", err)
	}
	if err := streamSrv.Shutdown(shutdownCtx); err != nil {
		lg.Error("error during stream shutdown", "error", err)
	}
}
