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

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/seantiz/taskgate/internal/logging"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "taskgate.db"
	defaultLogFormat      = FormatJSON
	defaultMaxParallelism = -1

	envListenAddr     = "TASKGATE_LISTEN_ADDR"
	envDBPath         = "TASKGATE_DB_PATH"
	envLogLevel       = "TASKGATE_LOG_LEVEL"
	envLogFormat      = "TASKGATE_LOG_FORMAT"
	envMaxParallelism = "TASKGATE_MAX_PARALLELISM"
	envDefaultTimeout = "TASKGATE_DEFAULT_TIMEOUT"
	envConfigFile     = "TASKGATE_CONFIG"
)

// Log formats.
const (
	FormatJSON   = "json"
	FormatText   = "text"
	FormatLogrus = "logrus"
)

// Config holds application configuration.
type Config struct {
	ListenAddr     string
	DBPath         string
	LogLevel       slog.Level
	LogFormat      string
	MaxParallelism int

	// DefaultTimeout applies to submitted tasks that carry no timeout of
	// their own. Zero means none.
	DefaultTimeout time.Duration
}

// fileConfig is the YAML shape of the optional config file.
type fileConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	DBPath         string `yaml:"db_path"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MaxParallelism *int   `yaml:"max_parallelism"`
	DefaultTimeout string `yaml:"default_timeout"`
}

// Load builds the configuration from defaults, then the YAML file named by
// TASKGATE_CONFIG (if set), then environment variables.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		LogFormat:      defaultLogFormat,
		MaxParallelism: defaultMaxParallelism,
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.LogFormat != "" {
		format, err := parseLogFormat(fc.LogFormat)
		if err != nil {
			return err
		}
		c.LogFormat = format
	}
	if fc.MaxParallelism != nil {
		c.MaxParallelism = *fc.MaxParallelism
	}
	if fc.DefaultTimeout != "" {
		d, err := time.ParseDuration(fc.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("parse default_timeout: %w", err)
		}
		c.DefaultTimeout = d
	}
	return nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envLogFormat); v != "" {
		format, err := parseLogFormat(v)
		if err != nil {
			return err
		}
		c.LogFormat = format
	}
	if v := os.Getenv(envMaxParallelism); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envMaxParallelism, err)
		}
		c.MaxParallelism = n
	}
	if v := os.Getenv(envDefaultTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envDefaultTimeout, err)
		}
		c.DefaultTimeout = d
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var errUnknownFormat = errors.New("unknown log format")

func parseLogFormat(s string) (string, error) {
	switch f := strings.ToLower(s); f {
	case FormatJSON, FormatText, FormatLogrus:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownFormat, s)
	}
}

// NewLogger creates a structured logger writing to w at the configured level.
// The text format uses slog's text handler; every other format gets JSON.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logging.ReplaceLevel,
	}
	if format == FormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewEngineLogger returns the logger the task engine writes to. The logrus
// format gets a logrus text logger; the others wrap NewLogger.
func NewEngineLogger(w io.Writer, cfg Config) logging.Logger {
	if cfg.LogFormat == FormatLogrus {
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(logrusLevel(cfg.LogLevel))
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return logging.NewLogrus(l)
	}
	return logging.NewSlog(NewLogger(w, cfg.LogLevel, cfg.LogFormat))
}

func logrusLevel(level slog.Level) logrus.Level {
	switch {
	case level <= slog.LevelDebug:
		return logrus.DebugLevel
	case level <= slog.LevelInfo:
		return logrus.InfoLevel
	case level <= slog.LevelWarn:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}
