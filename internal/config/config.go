package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "ember.db"
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
	defaultSinkKind       = "log"
	defaultVsockCID       = 2
	defaultVsockPort      = 1024
	defaultUserAgent      = "ember/0.1"
	defaultFetchTimeout   = 30 * time.Second
	defaultMaxBodyBytes   = 16 << 20
	defaultScriptTimeout  = 5 * time.Second

	envListenAddr          = "EMBER_LISTEN_ADDR"
	envDBPath              = "EMBER_DB_PATH"
	envLogLevel            = "EMBER_LOG_LEVEL"
	envViewportWidth       = "EMBER_VIEWPORT_WIDTH"
	envViewportHeight      = "EMBER_VIEWPORT_HEIGHT"
	envSinkKind            = "EMBER_SINK"
	envSinkAddr            = "EMBER_SINK_ADDR"
	envVsockCID            = "EMBER_VSOCK_CID"
	envVsockPort           = "EMBER_VSOCK_PORT"
	envUserAgent           = "EMBER_USER_AGENT"
	envFetchTimeout        = "EMBER_FETCH_TIMEOUT"
	envMaxBodyBytes        = "EMBER_MAX_BODY_BYTES"
	envScriptTimeout       = "EMBER_SCRIPT_TIMEOUT"
	envRendererExitTimeout = "EMBER_RENDERER_EXIT_TIMEOUT"
)

// Config holds application configuration. Values come from defaults, then an
// optional YAML file, then environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	ViewportWidth  int
	ViewportHeight int

	// SinkKind selects where frames go: "log", or a compositor reached over
	// "tcp", "unix", "vsock" or "firecracker".
	SinkKind  string
	SinkAddr  string
	VsockCID  uint32
	VsockPort uint32

	UserAgent     string
	FetchTimeout  time.Duration
	MaxBodyBytes  int64
	ScriptTimeout time.Duration

	// RendererExitTimeout bounds the wait for the renderer during shutdown.
	// Zero waits forever.
	RendererExitTimeout time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		ViewportWidth:  defaultViewportWidth,
		ViewportHeight: defaultViewportHeight,
		SinkKind:       defaultSinkKind,
		VsockCID:       defaultVsockCID,
		VsockPort:      defaultVsockPort,
		UserAgent:      defaultUserAgent,
		FetchTimeout:   defaultFetchTimeout,
		MaxBodyBytes:   defaultMaxBodyBytes,
		ScriptTimeout:  defaultScriptTimeout,
	}
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numeric values are ignored.
func Load() Config {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

// LoadFile reads the YAML file at path over the defaults, expanding ${VAR}
// references, and then applies environment variables.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	var f fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := Default()
	if err := f.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v, ok := envInt(envViewportWidth); ok && v > 0 {
		cfg.ViewportWidth = int(v)
	}
	if v, ok := envInt(envViewportHeight); ok && v > 0 {
		cfg.ViewportHeight = int(v)
	}
	if v := os.Getenv(envSinkKind); v != "" {
		cfg.SinkKind = strings.ToLower(v)
	}
	if v := os.Getenv(envSinkAddr); v != "" {
		cfg.SinkAddr = v
	}
	if v, ok := envInt(envVsockCID); ok && v >= 0 {
		cfg.VsockCID = uint32(v)
	}
	if v, ok := envInt(envVsockPort); ok && v > 0 {
		cfg.VsockPort = uint32(v)
	}
	if v := os.Getenv(envUserAgent); v != "" {
		cfg.UserAgent = v
	}
	if v, ok := envDuration(envFetchTimeout); ok && v > 0 {
		cfg.FetchTimeout = v
	}
	if v, ok := envInt(envMaxBodyBytes); ok && v > 0 {
		cfg.MaxBodyBytes = v
	}
	if v, ok := envDuration(envScriptTimeout); ok && v > 0 {
		cfg.ScriptTimeout = v
	}
	if v, ok := envDuration(envRendererExitTimeout); ok && v >= 0 {
		cfg.RendererExitTimeout = v
	}
}

func envInt(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
