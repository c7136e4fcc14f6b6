// Package config loads broker configuration from environment variables with
// command-line flag overrides, and constructs the process logger.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "PEERLINK_BROKER_LISTEN_ADDR"
	envVarLogFormat       = "PEERLINK_BROKER_LOG_FORMAT"
	envVarLogLevel        = "PEERLINK_BROKER_LOG_LEVEL"
	envVarShutdownTimeout = "PEERLINK_BROKER_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Room registry knobs.
	envVarRoomTTL           = "ROOM_TTL"
	envVarRoomCodeLength    = "ROOM_CODE_LENGTH"
	envVarRoomCodeAttempts  = "ROOM_CODE_ATTEMPTS"
	envVarRoomSweepInterval = "ROOM_SWEEP_INTERVAL"

	// WebSocket signaling hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultRoomTTL           = 30 * time.Minute
	DefaultRoomCodeLength    = 6
	DefaultRoomCodeAttempts  = 16
	DefaultRoomSweepInterval = time.Minute

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	RoomTTL           time.Duration
	RoomCodeLength    int
	RoomCodeAttempts  int
	RoomSweepInterval time.Duration

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// ICEServers is the static ICE server list handed to clients. A parse
	// error is retained rather than failing startup, so /readyz can surface
	// it while the rest of the broker keeps serving.
	ICEServers   []webrtc.ICEServer
	iceConfigErr error
}

// ICEConfigError returns the error retained from ICE server parsing, if any.
func (c Config) ICEConfigError() error { return c.iceConfigErr }

// Load builds a Config from the environment and the provided command-line
// arguments. Flags take precedence over environment variables.
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (Config, error) {
	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	logFormatStr := envOrDefault(lookup, envVarLogFormat, string(LogFormatText))
	logLevelStr := envOrDefault(lookup, envVarLogLevel, "info")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	roomTTL, err := envDurationOrDefault(lookup, envVarRoomTTL, DefaultRoomTTL)
	if err != nil {
		return Config{}, err
	}
	roomCodeLength, err := envIntOrDefault(lookup, envVarRoomCodeLength, DefaultRoomCodeLength)
	if err != nil {
		return Config{}, err
	}
	roomCodeAttempts, err := envIntOrDefault(lookup, envVarRoomCodeAttempts, DefaultRoomCodeAttempts)
	if err != nil {
		return Config{}, err
	}
	roomSweepInterval, err := envDurationOrDefault(lookup, envVarRoomSweepInterval, DefaultRoomSweepInterval)
	if err != nil {
		return Config{}, err
	}

	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("peerlink-broker", flag.ContinueOnError)
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "TCP address for the HTTP/WebSocket server")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "log output format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "log level: debug, info, warn or error")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "comma-separated allowed browser origins ('*' allows any; empty means same-host)")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "graceful shutdown budget")
	fs.DurationVar(&roomTTL, "room-ttl", roomTTL, "absolute room lifetime")
	fs.IntVar(&roomCodeLength, "room-code-length", roomCodeLength, "room code length in characters")
	fs.IntVar(&roomCodeAttempts, "room-code-attempts", roomCodeAttempts, "collision retries before CreateRoom fails")
	fs.DurationVar(&roomSweepInterval, "room-sweep-interval", roomSweepInterval, "period of the expired-room sweep")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	logFormat := LogFormat(strings.ToLower(strings.TrimSpace(logFormatStr)))
	switch logFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("invalid %s/--log-format %q", envVarLogFormat, logFormatStr)
	}

	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--log-level: %w", envVarLogLevel, err)
	}

	if roomTTL <= 0 {
		return Config{}, fmt.Errorf("invalid %s/--room-ttl: must be positive", envVarRoomTTL)
	}
	if roomCodeLength < 4 || roomCodeLength > 32 {
		return Config{}, fmt.Errorf("invalid %s/--room-code-length %d: must be in [4, 32]", envVarRoomCodeLength, roomCodeLength)
	}
	if roomCodeAttempts <= 0 {
		return Config{}, fmt.Errorf("invalid %s/--room-code-attempts: must be positive", envVarRoomCodeAttempts)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,

		RoomTTL:           roomTTL,
		RoomCodeLength:    roomCodeLength,
		RoomCodeAttempts:  roomCodeAttempts,
		RoomSweepInterval: roomSweepInterval,

		SignalingWSIdleTimeout:        wsIdleTimeout,
		SignalingWSPingInterval:       wsPingInterval,
		MaxSignalingMessageBytes:      maxMessageBytes,
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,
	}

	iceServers, err := parseICEServersFromEnv(lookup)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", s)
	}
}

func parseAllowedOrigins(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "*" {
			out = append(out, part)
			continue
		}
		if !strings.HasPrefix(part, "http://") && !strings.HasPrefix(part, "https://") {
			return nil, fmt.Errorf("origin %q must start with http:// or https:// (or be '*')", part)
		}
		out = append(out, strings.ToLower(strings.TrimRight(part, "/")))
	}
	return out, nil
}

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

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
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
