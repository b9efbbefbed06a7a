// Package config loads refuge settings from a YAML file and the
// environment. Command-line flags are applied on top by main.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"refuge/live"
)

// Config represents the complete client configuration
type Config struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	Endpoint     string `yaml:"endpoint"`
	Voice        string `yaml:"voice"`
	Mode         string `yaml:"mode"`
	Device       string `yaml:"device"`
	SystemPrompt string `yaml:"system_prompt"`
	MetricsAddr  string `yaml:"metrics_addr"`
	RecordPath   string `yaml:"record_path"`
	LogPath      string `yaml:"log_path"`
}

func Default() *Config {
	return &Config{
		Model:        live.DefaultModel,
		Endpoint:     live.DefaultEndpoint,
		Voice:        string(live.VoiceZephyr),
		Mode:         string(live.ModeStandard),
		SystemPrompt: live.DefaultSystemPrompt,
	}
}

// DefaultPath is config.yaml under the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "refuge", "config.yaml")
}

// Load reads the configuration file at path over the defaults, then applies
// environment overrides and validates the result. An empty path means
// DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	optional := path == ""
	if optional {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case optional && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.APIKey = v
	} else if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("REFUGE_MODEL"); v != "" {
		c.Model = v
	}
}

// fillDefaults restores defaults for keys the file set to empty values.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = d.SystemPrompt
	}
}

// Validate checks the enums and required fields. A missing API key is not
// an error here; the session reports it when a link is started.
func (c *Config) Validate() error {
	if _, err := live.ParseVoice(c.Voice); err != nil {
		return fmt.Errorf("voice: %w", err)
	}
	if _, err := live.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model cannot be empty")
	}
	if !strings.HasPrefix(c.Endpoint, "ws://") && !strings.HasPrefix(c.Endpoint, "wss://") {
		return fmt.Errorf("endpoint must be a ws:// or wss:// url, got %q", c.Endpoint)
	}
	return nil
}

// Settings returns the link settings named by the file. Call after Validate.
func (c *Config) Settings() (live.Settings, error) {
	v, err := live.ParseVoice(c.Voice)
	if err != nil {
		return live.Settings{}, err
	}
	m, err := live.ParseMode(c.Mode)
	if err != nil {
		return live.Settings{}, err
	}
	return live.Settings{Voice: v, Mode: m}, nil
}
