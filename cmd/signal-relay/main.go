package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/meshcall/signal-relay/internal/config"
	"github.com/meshcall/signal-relay/internal/httpserver"
	"github.com/meshcall/signal-relay/internal/metrics"
	"github.com/meshcall/signal-relay/internal/relay"
	"github.com/meshcall/signal-relay/internal/signaling"
	"github.com/meshcall/signal-relay/internal/store"
	"github.com/meshcall/signal-relay/internal/vision"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// No .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting signal-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"persistence_enabled", cfg.MongoURI != "",
		"vision_enabled", cfg.VisionAPIKey != "",
	)

	m := metrics.New()

	// Persistence is best-effort by contract: a missing store URI or a failed
	// connection degrades the sink to a no-op without affecting routing.
	var snapshotStore store.Store
	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mongoStore, client, err := store.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		cancel()
		if err != nil {
			logger.Warn("document store unavailable, persistence disabled", "err", err)
		} else {
			snapshotStore = mongoStore
			mongoClient = client
			logger.Info("document store connected", "database", cfg.MongoDatabase)
		}
	}
	sink := store.NewSink(snapshotStore, cfg.SnapshotQueueSize, cfg.SnapshotWriteTimeout, logger, m)

	router := relay.NewRouter(relay.NewRegistry(), sink, logger, m)

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt})

	sig := signaling.NewServer(signaling.Config{
		Router:  router,
		Logger:  logger,
		Metrics: m,

		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		IdleTimeout:          cfg.WSIdleTimeout,
		PingInterval:         cfg.WSPingInterval,
	})
	sig.RegisterRoutes(srv.Mux())

	var visionClient *vision.Client
	if cfg.VisionAPIKey != "" {
		visionClient = vision.NewClient(cfg.VisionAPIURL, cfg.VisionAPIKey, cfg.VisionModel, cfg.VisionTimeout)
	}
	vision.NewHandler(visionClient, logger, m).RegisterRoutes(srv.Mux())

	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	if err := sink.Close(shutdownCtx); err != nil {
		logger.Warn("snapshot sink did not drain", "err", err)
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			logger.Warn("document store disconnect failed", "err", err)
		}
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, builtAt string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if builtAt == "" {
					builtAt = s.Value
				}
			}
		}
	}
	return commit, builtAt
}
