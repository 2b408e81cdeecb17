// Package config resolves flowwatch settings from built-in defaults, an
// optional YAML file and FLOWWATCH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir     string       `yaml:"data_dir"`
	DBPath      string       `yaml:"db_path"`
	CatalogDirs []string     `yaml:"catalog_dirs"`
	Stream      StreamConfig `yaml:"stream"`
	Engine      EngineConfig `yaml:"engine"`
	Server      ServerConfig `yaml:"server"`
	Log         LogConfig    `yaml:"log"`
}

type StreamConfig struct {
	Transport       string        `yaml:"transport"`
	URL             string        `yaml:"url"`
	NATSURL         string        `yaml:"nats_url"`
	Subject         string        `yaml:"subject"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	ReconnectPolicy string        `yaml:"reconnect_policy"`
}

type EngineConfig struct {
	DecayDelay    time.Duration `yaml:"decay_delay"`
	HistoryLimit  int           `yaml:"history_limit"`
	TimelineLimit int           `yaml:"timeline_limit"`
}

type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	DemoInterval      time.Duration `yaml:"demo_interval"`
	StepDelay         time.Duration `yaml:"step_delay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the built-in settings rooted at dataDir.
func Defaults(dataDir string) Config {
	return Config{
		DataDir:     dataDir,
		CatalogDirs: []string{filepath.Join(dataDir, "workflows"), ".flowwatch/workflows"},
		Stream: StreamConfig{
			Transport:       "sse",
			URL:             "http://localhost:8080/events",
			NATSURL:         "nats://127.0.0.1:4222",
			Subject:         "workflow.events",
			ReconnectDelay:  5 * time.Second,
			ReconnectPolicy: "fixed",
		},
		Engine: EngineConfig{
			DecayDelay:    3 * time.Second,
			HistoryLimit:  20,
			TimelineLimit: 20,
		},
		Server: ServerConfig{
			ListenAddr:        ":8080",
			HeartbeatInterval: 15 * time.Second,
			DemoInterval:      8 * time.Second,
			StepDelay:         600 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("FLOWWATCH_DATA_DIR", filepath.Join(homeDir, ".flowwatch"))
	path, explicit := os.LookupEnv("FLOWWATCH_CONFIG")
	if !explicit {
		path = filepath.Join(dataDir, "config.yaml")
	}

	c, err := load(path, explicit, Defaults(dataDir))
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// load reads path over defaults. A missing file is only an error when the
// caller named it explicitly.
func load(path string, required bool, defaults Config) (*Config, error) {
	var c Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !required:
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := mergo.Merge(&c, defaults); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "flowwatch.db")
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	c.DBPath = getEnv("FLOWWATCH_DB_PATH", c.DBPath)
	c.Stream.Transport = getEnv("FLOWWATCH_TRANSPORT", c.Stream.Transport)
	c.Stream.URL = getEnv("FLOWWATCH_STREAM_URL", c.Stream.URL)
	c.Stream.NATSURL = getEnv("FLOWWATCH_NATS_URL", c.Stream.NATSURL)
	c.Stream.Subject = getEnv("FLOWWATCH_SUBJECT", c.Stream.Subject)
	c.Stream.ReconnectPolicy = getEnv("FLOWWATCH_RECONNECT_POLICY", c.Stream.ReconnectPolicy)
	c.Server.ListenAddr = getEnv("FLOWWATCH_LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.MetricsAddr = getEnv("FLOWWATCH_METRICS_ADDR", c.Server.MetricsAddr)
	c.Log.Level = getEnv("FLOWWATCH_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("FLOWWATCH_LOG_FORMAT", c.Log.Format)

	if dirs, ok := os.LookupEnv("FLOWWATCH_CATALOG_DIRS"); ok {
		c.CatalogDirs = filepath.SplitList(dirs)
	}

	durations := map[string]*time.Duration{
		"FLOWWATCH_RECONNECT_DELAY": &c.Stream.ReconnectDelay,
		"FLOWWATCH_DECAY_DELAY":     &c.Engine.DecayDelay,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv("FLOWWATCH_HISTORY_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FLOWWATCH_HISTORY_LIMIT: %w", err)
		}
		c.Engine.HistoryLimit = n
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Stream.Transport {
	case "sse", "nats":
	default:
		errs = append(errs, fmt.Errorf("stream.transport must be sse or nats, got %q", c.Stream.Transport))
	}
	switch c.Stream.ReconnectPolicy {
	case "fixed", "exponential":
	default:
		errs = append(errs, fmt.Errorf("stream.reconnect_policy must be fixed or exponential, got %q", c.Stream.ReconnectPolicy))
	}
	if c.Stream.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("stream.reconnect_delay must be positive"))
	}
	if c.Engine.DecayDelay <= 0 {
		errs = append(errs, errors.New("engine.decay_delay must be positive"))
	}
	if c.Engine.HistoryLimit <= 0 || c.Engine.TimelineLimit <= 0 {
		errs = append(errs, errors.New("engine limits must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// LogPath is where the TUI sends logs while it owns the terminal.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "flowwatch.log")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
