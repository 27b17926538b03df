package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ListenAddr != ":5000" || c.StorageURL != "http://localhost:8080" {
		t.Fatalf("unexpected addresses: %+v", c)
	}
	if c.HTTPTimeout() != 30*time.Second || c.RetryMaxAttempts != 3 || c.RetryBaseDelay() != 300*time.Millisecond || c.RetryMaxDelay() != 3*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", c)
	}
	if c.MaxUploadBytes() != 32<<20 || c.CacheTTL() != 300*time.Second {
		t.Fatalf("unexpected limits: %+v", c)
	}
	if c.AssistantProvider != "gemini" || c.ChatModel != "gemini-1.5-flash" || c.Temperature != 1.0 {
		t.Fatalf("unexpected assistant defaults: %+v", c)
	}
	if !c.MetricsEnabled || len(c.CORSOrigins) != 1 || c.CORSOrigins[0] != "*" || c.RedisAddr != "" {
		t.Fatalf("unexpected server defaults: %+v", c)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "listen_addr: \":6000\"\nlog_format: console\nredis_addr: localhost:6379\ncors_origins:\n  - http://localhost:3000\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATALOOM_LISTEN_ADDR", ":7000")
	t.Setenv("DATALOOM_ASSISTANT_PROVIDER", "ollama")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ListenAddr != ":7000" {
		t.Fatalf("env should override file, got %s", c.ListenAddr)
	}
	if c.AssistantProvider != "ollama" || c.LogFormat != "console" || c.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected config: %+v", c)
	}
	if len(c.CORSOrigins) != 1 || c.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("cors_origins=%v", c.CORSOrigins)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("assistant_provider: openrouter\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "assistant_provider") {
		t.Fatalf("expected assistant_provider error, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	t.Setenv("HOME", t.TempDir())
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c.StorageURL = "http://storage:8080"
	c.CacheTTLSec = 60
	if err := Save(c, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.StorageURL != "http://storage:8080" || got.CacheTTLSec != 60 || got.ListenAddr != ":5000" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
