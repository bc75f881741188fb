package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServiceURL     = "http://127.0.0.1:5000"
	DefaultPollInterval   = time.Second
	DefaultRequestTimeout = 5 * time.Second

	MinPollInterval   = 250 * time.Millisecond
	MaxPollInterval   = time.Minute
	MinRequestTimeout = time.Second
	MaxRequestTimeout = 2 * time.Minute

	// EnvPrefix scopes every environment override.
	EnvPrefix = "PPEWATCH_"
	// PathEnv names the variable that points at the config file.
	PathEnv = EnvPrefix + "CONFIG"
)

// Config holds everything the client needs to start.
type Config struct {
	ServiceURL     string        `yaml:"service_url" env:"SERVICE_URL"`
	PollInterval   time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	LogFile        string        `yaml:"log_file" env:"LOG_FILE"`
	LogLevel       string        `yaml:"log_level" env:"LOG_LEVEL"`
	AltScreen      bool          `yaml:"alt_screen" env:"ALT_SCREEN"`
	Launcher       bool          `yaml:"launcher" env:"LAUNCHER"`
}

func Default() Config {
	return Config{
		ServiceURL:     DefaultServiceURL,
		PollInterval:   DefaultPollInterval,
		RequestTimeout: DefaultRequestTimeout,
		LogFile:        filepath.Join(os.TempDir(), "ppewatch.log"),
		LogLevel:       zerolog.InfoLevel.String(),
		AltScreen:      true,
		Launcher:       true,
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "ppewatch.yaml"
	}
	return filepath.Join(dir, "ppewatch", "config.yaml")
}

// Load layers defaults, the YAML file at path and PPEWATCH_* variables, in
// that order. An empty path means DefaultPath, which may be absent.
func Load(path string) (Config, error) {
	cfg := Default()

	optional := false
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
		optional = true
	}
	if err := loadFile(path, &cfg); err != nil {
		if !(optional && errors.Is(err, fs.ErrNotExist)) {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate clamps durations into range and rejects what cannot be fixed up.
func (c *Config) Validate() error {
	c.ServiceURL = strings.TrimSpace(c.ServiceURL)
	u, err := url.Parse(c.ServiceURL)
	if err != nil {
		return fmt.Errorf("service_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("service_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("service_url: missing host")
	}

	c.PollInterval = clampDuration(c.PollInterval, MinPollInterval, MaxPollInterval)
	c.RequestTimeout = clampDuration(c.RequestTimeout, MinRequestTimeout, MaxRequestTimeout)

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = zerolog.InfoLevel.String()
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
