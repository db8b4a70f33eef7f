package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"zigbee-quirks/internal/config"
	"zigbee-quirks/internal/host"
	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/quirks/nous"
	"zigbee-quirks/internal/store"
	"zigbee-quirks/internal/web"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("quirkd starting", "version", version, "timezone", loc.String())

	clusterRegistry := zcl.NewRegistry(logger)
	for _, c := range clusters.Standard() {
		clusterRegistry.Register(c)
	}

	quirks := quirk.NewRegistry(clusterRegistry, logger)
	if err := nous.Register(quirks); err != nil {
		logger.Error("register quirks", "err", err)
		os.Exit(1)
	}

	overrides, err := config.LoadOverrides(cfg.QuirksDir, logger)
	if err != nil {
		logger.Error("load quirk overrides", "err", err)
		os.Exit(1)
	}
	logger.Info("registries initialized",
		"clusters", clusterRegistry.Len(), "quirks", len(quirks.All()), "overrides", overrides.Len())

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	h := host.New(host.Options{
		Registry:    quirks,
		Store:       db,
		Overrides:   overrides,
		Logger:      logger,
		Location:    loc,
		TaskTimeout: cfg.Clock.TaskTimeout,
	})
	restored, err := h.Restore()
	if err != nil {
		logger.Error("restore devices", "err", err)
		os.Exit(1)
	}
	logger.Info("devices restored", "quirked", restored)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webServer := web.NewServer(h, clusterRegistry, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(h, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	h.Close()

	logger.Info("goodbye")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
