package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vigilops/vigil/internal/auth"
	"github.com/vigilops/vigil/internal/broadcast"
	"github.com/vigilops/vigil/internal/config"
	"github.com/vigilops/vigil/internal/gateway"
	"github.com/vigilops/vigil/internal/logging"
	"github.com/vigilops/vigil/internal/repository"
	"github.com/vigilops/vigil/internal/server"
	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/state"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "json", "log format (json, text)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Auth.Secret == "" {
		log.Fatal("auth.secret must be set (VIGIL_AUTH_SECRET)")
	}

	logger := logging.New(logging.ParseLevel(*logLevel), *logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional durable stores
	var (
		archive server.Archive
		store   session.Store
	)
	if cfg.Database.Enabled {
		repo, err := repository.NewPostgresRepository(ctx, cfg.Database.Postgres.DSN())
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure schema: %v", err)
		}
		archive = repo
		store = repo
	}

	var resume session.ResumeStore
	if cfg.Redis.Enabled {
		rs, err := state.Connect(ctx, cfg.Redis.URL, cfg.Sessions.IdleTimeout*2)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rs.Close()
		resume = rs
	}

	// Observer fan-out: websocket hub always, NATS when enabled
	hub := gateway.NewHub(logger, cfg.Gateway.SendQueueSize)
	var publisher *broadcast.NATSPublisher
	if cfg.NATS.Enabled {
		publisher, err = broadcast.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer publisher.Close()
	}
	var broadcaster session.Broadcaster
	if publisher != nil {
		broadcaster = broadcast.Combine(hub, publisher)
	} else {
		broadcaster = hub
	}

	registry := session.NewRegistry(session.Config{
		Engine:           cfg.Fusion.Engine(),
		IdleTimeout:      cfg.Sessions.IdleTimeout,
		LostContactAfter: cfg.Sessions.LostContactAfter,
		JanitorInterval:  cfg.Sessions.JanitorInterval,
	}, session.Deps{
		Log:       logger,
		Store:     store,
		Resume:    resume,
		Broadcast: broadcaster,
	})
	registry.Start(ctx)
	defer registry.Stop()

	tokens := auth.NewHMACTokens(cfg.Auth.Secret)
	gw := gateway.New(logger, registry, hub, tokens, gateway.Config{
		WriteTimeout:      cfg.Gateway.WriteTimeout,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Gateway.HeartbeatTimeout,
		SendQueueSize:     cfg.Gateway.SendQueueSize,
		ReorderWindow:     cfg.Gateway.ReorderWindow,
		ReorderMaxPending: cfg.Gateway.ReorderMaxPending,
	})
	handler := server.NewHandler(logger, registry, tokens, archive, cfg.Auth.TokenTTL)

	// No global read/write timeouts: websocket connections are long-lived
	// and the gateway enforces its own per-frame deadlines.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.NewRouter(handler, gw),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("vigild.listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("vigild.serve_failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("vigild.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("vigild.shutdown_failed", "err", err)
		os.Exit(1)
	}
}
