package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/foae/night-battery-charger/clients/esphome"
	"github.com/foae/night-battery-charger/clients/telegram"
	"github.com/foae/night-battery-charger/handler"
	"github.com/foae/night-battery-charger/internal/config"
	"github.com/foae/night-battery-charger/service"
)

func main() {
	// Load .env file (optional, falls back to env vars)
	_ = godotenv.Load()

	// Parse configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting night battery charger",
		"service", cfg.ServiceName,
		"listen_addr", cfg.HTTPListenAddr,
		"window_open", cfg.WindowOpen,
		"window_close", cfg.WindowClose,
		"battery_capacity_kwh", cfg.BatteryCapacityKWh,
		"min_soc_reserve_pct", cfg.MinSOCReservePct,
	)

	// Resolve the ESPHome node, via mDNS when no address is configured
	baseURL := cfg.ESPHomeURL
	if baseURL == "" {
		slog.Info("no ESPHome address configured, discovering via mDNS")
		discovered, err := esphome.Discover(context.Background(), 15*time.Second)
		if err != nil {
			slog.Error("ESPHome discovery failed", "error", err)
			os.Exit(1)
		}
		baseURL = discovered
	}

	esphomeClient := esphome.New(esphome.Config{
		BaseURL:             baseURL,
		SOCSensor:           cfg.SOCSensor,
		HousePowerSensor:    cfg.HousePowerSensor,
		SolarTodaySensor:    cfg.SolarTodaySensor,
		SolarTomorrowSensor: cfg.SolarTomorrowSensor,
		ChargeSwitch:        cfg.ChargeSwitch,
		BypassSwitch:        cfg.BypassSwitch,
	})
	telegramClient := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID)

	if telegramClient.Enabled() {
		slog.Info("telegram notifications enabled")
	}

	store := service.NewStateStore(cfg.DataDir)

	chargerSvc, err := service.New(
		cfg,
		esphomeClient, // SOC reader
		esphomeClient, // power reader
		esphomeClient, // solar forecaster
		esphomeClient, // switch controller
		telegramClient,
		store,
	)
	if err != nil {
		slog.Error("failed to initialize service", "error", err)
		os.Exit(1)
	}

	// Setup HTTP handler
	h := handler.New(chargerSvc)
	router := h.NewRouter()

	server := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// WaitGroup for graceful shutdown
	var wg sync.WaitGroup

	// Start HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("HTTP server listening", "addr", cfg.HTTPListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start charging loop in background
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := chargerSvc.Start(ctx); err != nil && err != context.Canceled {
			slog.Error("charging service error", "error", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Wait for all goroutines to complete
	wg.Wait()

	slog.Info("shutdown complete")
}
