package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recognizer.Language != "hi" {
		t.Fatalf("expected default language hi, got %q", cfg.Recognizer.Language)
	}
	if cfg.Recognizer.MaxResults != 5 {
		t.Fatalf("expected max results 5, got %d", cfg.Recognizer.MaxResults)
	}
	if cfg.Draft.Terminator != "। " {
		t.Fatalf("unexpected terminator %q", cfg.Draft.Terminator)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listen.yaml")
	data := []byte(`
runtime_name: test-listen
recognizer:
  mode: exec
  command: "recognize --stream"
  language: en-US
history:
  retention_mode: ephemeral
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "test-listen" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Recognizer.Command != "recognize --stream" || cfg.Recognizer.Language != "en-US" {
		t.Fatalf("unexpected recognizer config: %+v", cfg.Recognizer)
	}
	if cfg.Recognizer.MaxResults != 5 {
		t.Fatalf("expected defaults to survive partial file, got %d", cfg.Recognizer.MaxResults)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_NODE_ID", "test-node")
	t.Setenv("LOQA_RECOGNIZER_MODE", "bus")
	t.Setenv("LOQA_RECOGNIZER_LANGUAGE", "en-IN")
	t.Setenv("LOQA_RECOGNIZER_MAX_RESULTS", "3")
	t.Setenv("LOQA_HISTORY_PATH", "./tmp.db")
	t.Setenv("LOQA_HISTORY_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_HISTORY_MAX_ATTEMPTS", "123")
	t.Setenv("LOQA_DRAFT_TERMINATOR", ". ")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.Recognizer.Mode != "bus" || cfg.Recognizer.Language != "en-IN" || cfg.Recognizer.MaxResults != 3 {
		t.Fatalf("expected recognizer overrides, got %+v", cfg.Recognizer)
	}
	if cfg.History.Path != "./tmp.db" || cfg.History.RetentionMode != "persistent" || cfg.History.MaxAttempts != 123 {
		t.Fatalf("expected history overrides, got %+v", cfg.History)
	}
	if cfg.Draft.Terminator != ". " {
		t.Fatalf("expected terminator override to keep whitespace, got %q", cfg.Draft.Terminator)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown mode":        func(c *Config) { c.Recognizer.Mode = "cloud" },
		"exec without cmd":    func(c *Config) { c.Recognizer.Mode = "exec" },
		"bus mode disabled":   func(c *Config) { c.Recognizer.Mode = "bus" },
		"zero max results":    func(c *Config) { c.Recognizer.MaxResults = 0 },
		"too many results":    func(c *Config) { c.Recognizer.MaxResults = MaxResultsLimit + 1 },
		"empty language":      func(c *Config) { c.Recognizer.Language = "" },
		"host without bus":    func(c *Config) { c.Recognizer.Host = true },
		"bad retention":       func(c *Config) { c.History.RetentionMode = "forever" },
		"capture no channels": func(c *Config) { c.Capture.Enabled = true; c.Capture.Channels = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
