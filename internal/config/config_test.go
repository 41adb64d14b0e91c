// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME at a temp dir and clears every variable the loader
// reads, so tests never see the developer's environment.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, name := range []string{
		"PORT", "MINICHAT_ADDR", "OLLAMA_BASE_URL", "MINICHAT_OLLAMA_URL",
		"DEFAULT_MODEL", "MINICHAT_MODEL", "MINICHAT_STORE", "REDIS_URL",
		"MINICHAT_REDIS_URL", "MINICHAT_SERVER_URL", "MINICHAT_LOG_LEVEL",
		"MINICHAT_LOG_FORMAT", "MINICHAT_LOG_FILE", "MINICHAT_CORS_ORIGINS",
		"MINICHAT_RATE_LIMIT",
	} {
		t.Setenv(name, "")
	}
	wd, _ := os.Getwd()
	os.Chdir(home)
	t.Cleanup(func() { os.Chdir(wd) })
	return home
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Ollama.DefaultModel != "llama2" {
		t.Errorf("DefaultModel = %q, want llama2", cfg.Ollama.DefaultModel)
	}
	if cfg.Ollama.ChatTimeout.Duration != 180*time.Second {
		t.Errorf("ChatTimeout = %v, want 180s", cfg.Ollama.ChatTimeout)
	}
	if cfg.Ollama.HealthTimeout.Duration != 5*time.Second {
		t.Errorf("HealthTimeout = %v, want 5s", cfg.Ollama.HealthTimeout)
	}
	if cfg.Client.Timeout.Duration != 120*time.Second {
		t.Errorf("Client.Timeout = %v, want 120s", cfg.Client.Timeout)
	}
	if cfg.Store.Capacity != 100 || cfg.Client.HistorySize != 20 {
		t.Errorf("Capacity = %d, HistorySize = %d", cfg.Store.Capacity, cfg.Client.HistorySize)
	}
	if cfg.Server.RateLimit != 100 || cfg.Server.RateWindow.Duration != 15*time.Minute {
		t.Errorf("rate limit = %d per %v", cfg.Server.RateLimit, cfg.Server.RateWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NoFiles(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":3001" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	want := filepath.Join(home, ".minichat", "history.json")
	if cfg.Client.HistoryFile != want {
		t.Errorf("HistoryFile = %q, want %q", cfg.Client.HistoryFile, want)
	}
}

func TestLoad_TOML(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".minichat")
	os.MkdirAll(dir, 0700)
	os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[server]
addr = ":8080"
heartbeat_interval = "5s"

[ollama]
url = "http://gpu-box:11434/"
default_model = "mistral"
chat_timeout = 60

[store]
backend = "redis"
redis_url = "redis://cache:6379/1"
`), 0600)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.Heartbeat.Duration != 5*time.Second {
		t.Errorf("Heartbeat = %v", cfg.Server.Heartbeat)
	}
	if cfg.Ollama.URL != "http://gpu-box:11434" {
		t.Errorf("URL = %q, trailing slash should be trimmed", cfg.Ollama.URL)
	}
	if cfg.Ollama.ChatTimeout.Duration != 60*time.Second {
		t.Errorf("ChatTimeout = %v, bare integers are seconds", cfg.Ollama.ChatTimeout)
	}
	if cfg.Ollama.HealthTimeout.Duration != 5*time.Second {
		t.Errorf("unset HealthTimeout = %v, want default", cfg.Ollama.HealthTimeout)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisURL != "redis://cache:6379/1" {
		t.Errorf("Store = %+v", cfg.Store)
	}
}

func TestLoad_JSONFallback(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".minichat")
	os.MkdirAll(dir, 0700)
	os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"ollama":{"default_model":"phi3","models_timeout":"3s"}}`), 0600)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ollama.DefaultModel != "phi3" || cfg.Ollama.ModelsTimeout.Duration != 3*time.Second {
		t.Errorf("Ollama = %+v", cfg.Ollama)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".minichat")
	os.MkdirAll(dir, 0700)
	os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[store]\nbackend = \"sqlite\"\n"), 0600)

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verrs ValidateErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error %T is not ValidateErrors", err)
	}
	if !strings.Contains(err.Error(), "store.backend") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "relay.toml")
	os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\nformat = \"json\"\n"), 0600)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "4000")
	t.Setenv("OLLAMA_BASE_URL", "http://legacy:11434")
	t.Setenv("MINICHAT_OLLAMA_URL", "http://preferred:11434")
	t.Setenv("DEFAULT_MODEL", "gemma")
	t.Setenv("MINICHAT_CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("MINICHAT_RATE_LIMIT", "7")
	t.Setenv("REDIS_URL", "redis://r:6379/2")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Server.Addr != ":4000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Ollama.URL != "http://preferred:11434" {
		t.Errorf("URL = %q, MINICHAT_ form should win", cfg.Ollama.URL)
	}
	if cfg.Ollama.DefaultModel != "gemma" {
		t.Errorf("DefaultModel = %q", cfg.Ollama.DefaultModel)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.test" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Server.RateLimit != 7 {
		t.Errorf("RateLimit = %d", cfg.Server.RateLimit)
	}
	if cfg.Store.RedisURL != "redis://r:6379/2" {
		t.Errorf("RedisURL = %q", cfg.Store.RedisURL)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	home := isolate(t)
	os.WriteFile(filepath.Join(home, ".env"), []byte("DEFAULT_MODEL=from-dotenv\n"), 0600)
	t.Cleanup(func() { os.Unsetenv("DEFAULT_MODEL") })
	os.Unsetenv("DEFAULT_MODEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ollama.DefaultModel != "from-dotenv" {
		t.Errorf("DefaultModel = %q", cfg.Ollama.DefaultModel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad ollama scheme", func(c *Config) { c.Ollama.URL = "ftp://x" }, "ollama.url"},
		{"missing host", func(c *Config) { c.Client.ServerURL = "http://" }, "client.server_url"},
		{"prefix without slash", func(c *Config) { c.Server.APIPrefix = "api" }, "server.api_prefix"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"zero chat timeout", func(c *Config) { c.Ollama.ChatTimeout = D(0) }, "ollama.chat_timeout"},
		{"negative write timeout", func(c *Config) { c.Server.WriteTimeout = D(-time.Second) }, "server.write_timeout"},
		{"redis without url", func(c *Config) { c.Store.Backend = "redis"; c.Store.RedisURL = "" }, "store.redis_url"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention %s", err, tt.field)
			}
		})
	}
}

func TestDuration_RoundTrip(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("Duration = %v", d.Duration)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected error for invalid duration")
	}

	data, err := json.Marshal(struct{ T Duration }{D(2 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"T":"2s"}` {
		t.Errorf("json = %s", data)
	}
}

func TestSaveTOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Ollama.DefaultModel = "qwen2.5"

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML failed: %v", err)
	}
	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Ollama.DefaultModel != "qwen2.5" {
		t.Errorf("DefaultModel = %q", loaded.Ollama.DefaultModel)
	}
	if loaded.Ollama.ChatTimeout.Duration != 180*time.Second {
		t.Errorf("ChatTimeout = %v", loaded.Ollama.ChatTimeout)
	}
}
