package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"refuge/live"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")
	t.Setenv("REFUGE_MODEL", "")
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api_key: file-key
voice: kore
mode: translator
device: USB
metrics_addr: ":9090"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "file-key" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.Device != "USB" || cfg.MetricsAddr != ":9090" {
		t.Errorf("Device = %q, MetricsAddr = %q", cfg.Device, cfg.MetricsAddr)
	}
	if cfg.Model != live.DefaultModel {
		t.Errorf("Model = %q, want default", cfg.Model)
	}
	s, err := cfg.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if s.Voice != live.VoiceKore || s.Mode != live.ModeTranslator {
		t.Errorf("Settings = %+v", s)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantKey   string
		wantModel string
	}{
		{"gemini key wins", map[string]string{"GEMINI_API_KEY": "g", "API_KEY": "a"}, "g", live.DefaultModel},
		{"api key fallback", map[string]string{"API_KEY": "a"}, "a", live.DefaultModel},
		{"file key kept", nil, "file-key", live.DefaultModel},
		{"model override", map[string]string{"REFUGE_MODEL": "gemini-x"}, "file-key", "gemini-x"},
	}
	path := writeConfig(t, "api_key: file-key\n")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.APIKey != tt.wantKey {
				t.Errorf("APIKey = %q, want %q", cfg.APIKey, tt.wantKey)
			}
			if cfg.Model != tt.wantModel {
				t.Errorf("Model = %q, want %q", cfg.Model, tt.wantModel)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for explicit missing file")
	}

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("default path should be optional: %v", err)
	}
	if cfg.Voice != string(live.VoiceZephyr) || cfg.Mode != string(live.ModeStandard) {
		t.Errorf("defaults = %q/%q", cfg.Voice, cfg.Mode)
	}
}

func TestLoadBlankValuesFallBack(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "model: \"\"\nsystem_prompt: \"  \"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != live.DefaultModel {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.SystemPrompt != live.DefaultSystemPrompt {
		t.Error("blank system prompt not replaced")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errPart string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad voice", func(c *Config) { c.Voice = "Alloy" }, "voice"},
		{"bad mode", func(c *Config) { c.Mode = "chat" }, "mode"},
		{"empty model", func(c *Config) { c.Model = " " }, "model"},
		{"http endpoint", func(c *Config) { c.Endpoint = "https://example.com" }, "endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errPart == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errPart) {
				t.Fatalf("got %v, want error containing %q", err, tt.errPart)
			}
		})
	}
}

func TestLoadParseError(t *testing.T) {
	clearEnv(t)
	if _, err := Load(writeConfig(t, "voice: [unterminated\n")); err == nil {
		t.Error("expected parse error")
	}
}
