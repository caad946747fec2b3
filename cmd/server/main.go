package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/jaki95/tunecache/config"
	"github.com/jaki95/tunecache/internal/app"
	"github.com/jaki95/tunecache/internal/server"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "Path to the configuration file")
	port := flag.String("port", "", "Server port (overrides server.port)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	// Setup logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.Level(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if slog.Level(cfg.LogLevel) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Wire(ctx, cfg)
	if err != nil {
		slog.Error("Failed to wire services", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.Tracks.Sweep(); err != nil {
		slog.Warn("Failed to sweep staging directory", "error", err)
	}

	srv := server.New(server.Deps{
		Catalog:  c.Catalog,
		Tracks:   c.Tracks,
		Archives: c.Archives,
		Guard:    c.Guard,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting tunecache API server", "port", cfg.Server.Port)
		errCh <- srv.Start(cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	slog.Info("Shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := c.Drain(shutdownCtx); err != nil {
		slog.Error("Background work did not finish", "error", err, "in_flight", c.Tracks.InFlight())
	}
	slog.Info("Server stopped")
}
