// Package config persists NodePanel's named API endpoints and settings.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/NodePassProject/nodepass-panel/internal/stream"
	"gopkg.in/yaml.v3"
)

// maxConfigSize bounds how much of the config file is read.
const maxConfigSize = 1 << 20

// Config is the top-level NodePanel configuration file.
type Config struct {
	Active    string       `yaml:"active,omitempty"`
	Endpoints []Endpoint   `yaml:"endpoints"`
	Stream    StreamConfig `yaml:"stream"`
	Log       LogConfig    `yaml:"log"`
}

// Endpoint is one named NodePass API.
type Endpoint struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`   // API root including prefix, e.g. http://host:9090/api
	Token string `yaml:"token"` // sent as X-API-Key
}

// StreamConfig tunes the event stream.
type StreamConfig struct {
	EventsPath     string        `yaml:"events_path"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// LogConfig controls NodePanel's own diagnostics.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Identity converts the endpoint into a stream identity.
func (e Endpoint) Identity() stream.Identity {
	return stream.Identity{ID: e.ID, RootURL: e.URL, Token: e.Token, Name: e.Name}
}

// Validate checks that the endpoint can be connected to.
func (e Endpoint) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if e.URL == "" {
		return fmt.Errorf("endpoint %q: url is required", e.Name)
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("endpoint %q: invalid url: %w", e.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %q: url scheme must be http or https, got %q", e.Name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q: url has no host", e.Name)
	}
	if e.Token == "" {
		return fmt.Errorf("endpoint %q: token is required", e.Name)
	}
	return nil
}

// Defaults returns a config with no endpoints and default stream settings.
func Defaults() *Config {
	return &Config{
		Stream: StreamConfig{
			EventsPath:     client.DefaultEventsPath,
			ReconnectDelay: stream.DefaultReconnectDelay,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns $HOME/.nodepanel/config.yaml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nodepanel", "config.yaml")
}

// Load reads a config file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("reading config: %s is a symbolic link", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("reading config: %s is too large (%d bytes)", path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply zero-value defaults after unmarshal
	if cfg.Stream.EventsPath == "" {
		cfg.Stream.EventsPath = client.DefaultEventsPath
	}
	if cfg.Stream.ReconnectDelay <= 0 {
		cfg.Stream.ReconnectDelay = stream.DefaultReconnectDelay
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return cfg, nil
}

// Save writes the config atomically. The file holds API tokens, so it is
// created with mode 0600.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks that the config is consistent.
func (c *Config) Validate() error {
	ids := make(map[string]bool, len(c.Endpoints))
	names := make(map[string]bool, len(c.Endpoints))
	for _, e := range c.Endpoints {
		if e.ID == "" {
			return fmt.Errorf("endpoint %q has no id", e.Name)
		}
		if ids[e.ID] {
			return fmt.Errorf("duplicate endpoint id %q", e.ID)
		}
		if names[e.Name] {
			return fmt.Errorf("duplicate endpoint name %q", e.Name)
		}
		ids[e.ID], names[e.Name] = true, true
		if err := e.Validate(); err != nil {
			return err
		}
	}
	if c.Active != "" && !ids[c.Active] {
		return fmt.Errorf("active endpoint %q does not exist", c.Active)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return nil
}
