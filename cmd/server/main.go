package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetchunk/internal/config"
	"github.com/JonMunkholm/sheetchunk/internal/core"
	_ "github.com/JonMunkholm/sheetchunk/internal/core/formats" // Register source formats
	"github.com/JonMunkholm/sheetchunk/internal/logging"
	"github.com/JonMunkholm/sheetchunk/internal/sheets"
	"github.com/JonMunkholm/sheetchunk/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"sink", cfg.Sink.Kind,
		"max_bytes", cfg.Chunk.MaxBytes,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"schedule_enabled", cfg.Schedule.Enabled,
	)

	ctx := context.Background()

	client, err := sheets.NewClient(ctx, cfg.Sheets)
	if err != nil {
		slog.Error("failed to create sheets client", "error", err)
		os.Exit(1)
	}

	var mirror sheets.Mirror
	if cfg.Cache.RedisAddr != "" {
		rdb, err := sheets.NewRedisClient(ctx, cfg.Cache)
		if err != nil {
			// The API still works without the mirror.
			slog.Warn("redis unavailable, sheet cache is local only", "addr", cfg.Cache.RedisAddr, "error", err)
		} else {
			defer rdb.Close()
			mirror = sheets.NewRedisMirror(rdb, cfg.Cache.Key, cfg.Cache.TTL)
			slog.Info("sheet cache mirrored to redis", "addr", cfg.Cache.RedisAddr, "ttl", cfg.Cache.TTL)
		}
	}
	cache := sheets.NewCache(client, mirror)

	// Conversion is optional for the query server.
	var service *core.Service
	if cfg.Schedule.Enabled || len(cfg.Security.APIKeys) > 0 {
		svc, cleanup, err := core.NewServiceFromConfig(ctx, cfg)
		if err != nil {
			slog.Error("failed to create conversion service", "error", err)
			os.Exit(1)
		}
		defer cleanup()
		service = svc
		slog.Info("source formats registered", "extensions", core.Extensions())
	}

	server := web.NewServer(cfg, cache, service)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	if service != nil && cfg.Schedule.Enabled {
		go service.StartScheduler(jobCtx, cfg.Chunk.InputDir, cfg.Schedule.Interval)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if service != nil {
			if st := service.LimiterStatus(); st.Active > 0 {
				slog.Info("waiting for conversions to complete", "active", st.Active)
				if err := service.WaitForConversions(shutdownCtx); err != nil {
					slog.Warn("conversions did not complete in time", "error", err)
				}
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
