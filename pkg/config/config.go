// Package config loads agentc settings.
//
// Sources, lowest precedence first:
//  1. built-in defaults
//  2. the YAML file (--config, or ~/.agentc/config.yaml when present)
//  3. AGENTC_* environment variables, after loading ./.env
//  4. command-line flags (see Flags)
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sipeed/agentc/pkg/domain/avatar"
	"github.com/sipeed/agentc/pkg/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTC_"

// Config is the full agentc configuration.
type Config struct {
	Server  ServerConfig    `yaml:"server"`
	Voice   VoiceConfig     `yaml:"voice"`
	Avatars []avatar.Avatar `yaml:"avatars"`
	Storage StorageConfig   `yaml:"storage"`
	UI      UIConfig        `yaml:"ui"`
	Log     LogConfig       `yaml:"log"`

	// SourceFile is the YAML file the config was read from, if any.
	SourceFile string `yaml:"-"`
}

// ServerConfig locates the Agent C server.
type ServerConfig struct {
	URL         string        `yaml:"url" env:"URL"`
	Token       string        `yaml:"token" env:"TOKEN"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

type VoiceConfig struct {
	Default string `yaml:"default" env:"DEFAULT"`
}

// StorageConfig selects where sessions are persisted. An empty Autosave
// disables scheduled saves; sessions are still saved on exit.
type StorageConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"`
	Path     string `yaml:"path" env:"PATH"`
	Autosave string `yaml:"autosave" env:"AUTOSAVE"`
}

// UIConfig configures the local UI bridge.
type UIConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
	APIKey  string `yaml:"api_key" env:"API_KEY"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:         "ws://localhost:8000/api/rt/ws",
			DialTimeout: 15 * time.Second,
		},
		Voice: VoiceConfig{Default: "none"},
		Storage: StorageConfig{
			Driver:   "json",
			Path:     defaultHome(),
			Autosave: "*/5 * * * *",
		},
		UI: UIConfig{Addr: "127.0.0.1:8765"},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentc"
	}
	return filepath.Join(home, ".agentc")
}

// DefaultPath is the config file used when none is given explicitly.
func DefaultPath() string {
	return filepath.Join(defaultHome(), "config.yaml")
}

// Load builds a Config from defaults, the YAML file at path, .env and the
// environment. An explicit path must exist; with an empty path the default
// file is read only if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("YAML parse error in %s: %w", path, err)
	}
	c.SourceFile = path
	logger.DebugCF("config", "Config file loaded", map[string]interface{}{"path": path})
	return nil
}

// applyEnv overlays AGENTC_<SECTION>_<FIELD> variables. Only variables that
// are set override the current value.
func (c *Config) applyEnv() error {
	sections := []struct {
		prefix string
		target interface{}
	}{
		{"SERVER_", &c.Server},
		{"VOICE_", &c.Voice},
		{"STORAGE_", &c.Storage},
		{"UI_", &c.UI},
		{"LOG_", &c.Log},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("environment %s%s*: %w", EnvPrefix, s.prefix, err)
		}
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.URL == "" {
		errs = append(errs, fmt.Errorf("server.url is required"))
	} else if u, err := url.Parse(c.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("server.url: scheme must be ws or wss, got %q", u.Scheme))
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "", "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.Autosave != "" && !gronx.New().IsValid(c.Storage.Autosave) {
		errs = append(errs, fmt.Errorf("storage.autosave: invalid cron expression %q", c.Storage.Autosave))
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}

	seen := make(map[string]bool, len(c.Avatars))
	for i, a := range c.Avatars {
		if a.AvatarID == "" {
			errs = append(errs, fmt.Errorf("avatars[%d]: avatar_id is required", i))
			continue
		}
		if seen[a.AvatarID] {
			errs = append(errs, fmt.Errorf("avatars[%d]: duplicate avatar_id %q", i, a.AvatarID))
		}
		seen[a.AvatarID] = true
	}

	return errors.Join(errs...)
}
