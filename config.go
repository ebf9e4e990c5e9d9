package domveil

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level domveil configuration.
type Config struct {
	Admin   AdminConfig   `yaml:"admin"`
	Store   StoreConfig   `yaml:"store"`
	Browser BrowserConfig `yaml:"browser"`
	Session SessionConfig `yaml:"session"`

	// RestrictedPrefixes lists URL scheme prefixes agents are never
	// injected into.
	RestrictedPrefixes []string `yaml:"restricted_prefixes"`
}

// AdminConfig controls the loopback inspection listener.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig controls rule persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// BrowserConfig controls the Chrome attachment.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome instance.
	// Empty launches a local headless one.
	Remote       string        `yaml:"remote"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SessionConfig tunes channel reconnection.
type SessionConfig struct {
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	MaxAttempts int           `yaml:"max_attempts"`
	GraceWindow time.Duration `yaml:"grace_window"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("domveil: parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Admin.Addr == "" {
		c.Admin.Addr = "127.0.0.1:8377"
	}
	if c.Store.Path == "" {
		c.Store.Path = "domveil.db"
	}
	if c.Browser.PollInterval <= 0 {
		c.Browser.PollInterval = time.Second
	}
	if c.Session.BackoffBase <= 0 {
		c.Session.BackoffBase = 500 * time.Millisecond
	}
	if c.Session.BackoffMax <= 0 {
		c.Session.BackoffMax = 5 * time.Second
	}
	if c.Session.MaxAttempts <= 0 {
		c.Session.MaxAttempts = 3
	}
	if c.Session.GraceWindow <= 0 {
		c.Session.GraceWindow = time.Second
	}
}
