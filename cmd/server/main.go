package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/organvm-vi-koinonia/community-hub/internal/config"
	"github.com/organvm-vi-koinonia/community-hub/internal/live"
	"github.com/organvm-vi-koinonia/community-hub/internal/logging"
	"github.com/organvm-vi-koinonia/community-hub/internal/server"
	"github.com/organvm-vi-koinonia/community-hub/internal/version"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("community-hub live core starting", "version", version.Get().Version, "env", cfg.AppEnv)

	clock := clockwork.NewRealClock()

	registry := live.NewRegistry(clock, cfg.Live.MaxClientsPerRoom, cfg.Live.EchoSender)

	monitor := live.NewKeepaliveMonitor(registry, clock, cfg.Live.KeepaliveInterval, cfg.Live.KeepaliveGrace)
	monitor.Start()

	gateway := live.NewGateway(registry, clock, live.GatewayConfig{
		MaxMessageBytes:  cfg.Live.MaxMessageBytes,
		MessageRate:      cfg.Live.MessageRate,
		MessageBurst:     cfg.Live.MessageBurst,
		RateLimitStrikes: cfg.Live.RateLimitStrikes,
		SendBuffer:       cfg.Live.SendBuffer,
		WriteDeadline:    cfg.Live.WriteDeadline,
	})

	srv := server.NewServer(cfg, gateway, registry, server.TokenAuthenticator{})

	done := runGracefulShutdown(srv, monitor, registry)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("shutdown complete")
}

func runGracefulShutdown(srv *server.Server, monitor *live.KeepaliveMonitor, registry *live.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		monitor.Stop()
		registry.CloseAll("Server shutting down")

		close(done)
	}()

	return done
}
