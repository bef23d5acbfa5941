// Package config loads the relay's runtime configuration from environment
// variables, with a small set of flag overrides for local development.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "SIGNAL_RELAY_LISTEN_ADDR"
	envVarMode            = "SIGNAL_RELAY_MODE"
	envVarLogFormat       = "SIGNAL_RELAY_LOG_FORMAT"
	envVarLogLevel        = "SIGNAL_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "SIGNAL_RELAY_SHUTDOWN_TIMEOUT"

	// WebSocket signaling hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarWSIdleTimeout                 = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval                = "WS_PING_INTERVAL"

	// Persistence sink. An empty MONGO_URI degrades the sink to a no-op.
	envVarMongoURI             = "MONGO_URI"
	envVarMongoDatabase        = "MONGO_DATABASE"
	envVarSnapshotQueueSize    = "SNAPSHOT_QUEUE_SIZE"
	envVarSnapshotWriteTimeout = "SNAPSHOT_WRITE_TIMEOUT"

	// AI image-analysis boundary. An empty VISION_API_KEY disables the
	// endpoint.
	envVarVisionAPIURL  = "VISION_API_URL"
	envVarVisionAPIKey  = "VISION_API_KEY"
	envVarVisionModel   = "VISION_MODEL"
	envVarVisionTimeout = "VISION_TIMEOUT"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultWSIdleTimeout                 = 60 * time.Second
	DefaultWSPingInterval                = 20 * time.Second

	DefaultMongoDatabase        = "signal_relay"
	DefaultSnapshotQueueSize    = 64
	DefaultSnapshotWriteTimeout = 5 * time.Second

	DefaultVisionAPIURL  = "https://api.openai.com/v1/chat/completions"
	DefaultVisionModel   = "gpt-4o-mini"
	DefaultVisionTimeout = 30 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	WSIdleTimeout                 time.Duration
	WSPingInterval                time.Duration

	MongoURI             string
	MongoDatabase        string
	SnapshotQueueSize    int
	SnapshotWriteTimeout time.Duration

	VisionAPIURL  string
	VisionAPIKey  string
	VisionModel   string
	VisionTimeout time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	mode, err := parseMode(envOrDefault(lookup, envVarMode, string(ModeDev)))
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr: envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		Mode:       mode,
		LogFormat:  logFormat,
		LogLevel:   logLevel,

		MongoURI:      envOrDefault(lookup, envVarMongoURI, ""),
		MongoDatabase: envOrDefault(lookup, envVarMongoDatabase, DefaultMongoDatabase),

		VisionAPIURL: envOrDefault(lookup, envVarVisionAPIURL, DefaultVisionAPIURL),
		VisionAPIKey: envOrDefault(lookup, envVarVisionAPIKey, ""),
		VisionModel:  envOrDefault(lookup, envVarVisionModel, DefaultVisionModel),
	}

	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return Config{}, err
	}

	maxMsgBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, int(DefaultMaxSignalingMessageBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSignalingMessageBytes = int64(maxMsgBytes)
	if cfg.MaxSignalingMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.WSIdleTimeout, err = envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSPingInterval, err = envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval); err != nil {
		return Config{}, err
	}

	if cfg.SnapshotQueueSize, err = envIntOrDefault(lookup, envVarSnapshotQueueSize, DefaultSnapshotQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotWriteTimeout, err = envDurationOrDefault(lookup, envVarSnapshotWriteTimeout, DefaultSnapshotWriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.VisionTimeout, err = envDurationOrDefault(lookup, envVarVisionTimeout, DefaultVisionTimeout); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("signal-relay", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address (host:port)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.MaxSignalingMessageBytes <= 0 {
		return fmt.Errorf("%s must be positive", envVarMaxSignalingMessageBytes)
	}
	if c.MaxSignalingMessagesPerSecond <= 0 {
		return fmt.Errorf("%s must be positive", envVarMaxSignalingMessagesPerSecond)
	}
	if c.WSPingInterval <= 0 || c.WSIdleTimeout <= 0 {
		return fmt.Errorf("websocket keepalive intervals must be positive")
	}
	if c.WSPingInterval >= c.WSIdleTimeout {
		return fmt.Errorf("%s must be shorter than %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	if c.SnapshotQueueSize <= 0 {
		return fmt.Errorf("%s must be positive", envVarSnapshotQueueSize)
	}
	return nil
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want dev or prod)", envVarMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want text or json)", envVarLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q", envVarLogLevel, raw)
	}
}
