// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/trahoangdev/mini-chatbot/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete mini-chatbot configuration.
type Config struct {
	Server ServerConfig `toml:"server" json:"server"`
	Ollama OllamaConfig `toml:"ollama" json:"ollama"`
	Store  StoreConfig  `toml:"store" json:"store"`
	Client ClientConfig `toml:"client" json:"client"`
	Log    LogConfig    `toml:"log" json:"log"`
}

// ServerConfig configures the HTTP relay.
type ServerConfig struct {
	Addr            string   `toml:"addr" json:"addr"`
	APIPrefix       string   `toml:"api_prefix" json:"api_prefix"`
	CORSOrigins     []string `toml:"cors_origins" json:"cors_origins"`
	RateLimit       int      `toml:"rate_limit" json:"rate_limit"` // requests per window per client IP, 0 disables
	RateWindow      Duration `toml:"rate_window" json:"rate_window"`
	MaxBodyBytes    int64    `toml:"max_body_bytes" json:"max_body_bytes"`
	Heartbeat       Duration `toml:"heartbeat_interval" json:"heartbeat_interval"` // SSE keep-alive, 0 disables
	WriteTimeout    Duration `toml:"write_timeout" json:"write_timeout"`           // JSON routes; POST /chat/message extends its own
	ShutdownTimeout Duration `toml:"shutdown_timeout" json:"shutdown_timeout"`
}

// OllamaConfig configures the upstream model server.
type OllamaConfig struct {
	URL           string   `toml:"url" json:"url"`
	DefaultModel  string   `toml:"default_model" json:"default_model"`
	HealthTimeout Duration `toml:"health_timeout" json:"health_timeout"`
	ModelsTimeout Duration `toml:"models_timeout" json:"models_timeout"`
	ChatTimeout   Duration `toml:"chat_timeout" json:"chat_timeout"`
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	Backend   string   `toml:"backend" json:"backend"` // memory | redis
	Capacity  int      `toml:"capacity" json:"capacity"`
	RedisURL  string   `toml:"redis_url" json:"redis_url"`
	KeyPrefix string   `toml:"key_prefix" json:"key_prefix"`
	TTL       Duration `toml:"ttl" json:"ttl"`
}

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	ServerURL   string   `toml:"server_url" json:"server_url"`
	Model       string   `toml:"model" json:"model"`
	Timeout     Duration `toml:"timeout" json:"timeout"`
	HistoryFile string   `toml:"history_file" json:"history_file"`
	HistorySize int      `toml:"history_size" json:"history_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`   // debug | info | warn | error
	Format string `toml:"format" json:"format"` // console | json
	File   string `toml:"file" json:"file"`     // rotated log file, empty for stderr
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration that reads and writes as "15s" in TOML and JSON.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration {
	return Duration{d}
}

// UnmarshalText parses a Go duration string. A bare integer is seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// =============================================================================
// DEFAULT CONFIG
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":3001",
			APIPrefix:       "/api/v1",
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       100,
			RateWindow:      D(15 * time.Minute),
			MaxBodyBytes:    1 << 20,
			Heartbeat:       D(15 * time.Second),
			WriteTimeout:    D(60 * time.Second),
			ShutdownTimeout: D(30 * time.Second),
		},
		Ollama: OllamaConfig{
			URL:           "http://localhost:11434",
			DefaultModel:  "llama2",
			HealthTimeout: D(5 * time.Second),
			ModelsTimeout: D(10 * time.Second),
			ChatTimeout:   D(180 * time.Second),
		},
		Store: StoreConfig{
			Backend:   "memory",
			Capacity:  100,
			RedisURL:  "redis://localhost:6379/0",
			KeyPrefix: "minichat:",
		},
		Client: ClientConfig{
			ServerURL:   "http://localhost:3001/api/v1",
			Timeout:     D(120 * time.Second),
			HistorySize: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the mini-chatbot configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".minichat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the config file from ConfigDir (TOML first, then JSON), then
// .env and environment overrides, then fills defaults and validates.
func Load() (*Config, error) {
	cfg := Default()

	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
		break
	}

	return finish(cfg)
}

// LoadFromPath loads configuration from an explicit file. The format is
// chosen by extension.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := loadFile(cfg, path); err != nil {
		return nil, err
	}
	return finish(cfg)
}

func loadFile(cfg *Config, path string) error {
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. Missing files are ignored and existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path as TOML.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# mini-chatbot configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.APIPrefix != "" && !strings.HasPrefix(c.Server.APIPrefix, "/") {
		add("server.api_prefix", "must start with '/', got %q", c.Server.APIPrefix)
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		add("server.rate_window", "must be positive when rate_limit is set")
	}
	if c.Server.MaxBodyBytes <= 0 {
		add("server.max_body_bytes", "must be positive")
	}
	if c.Server.Heartbeat.Duration < 0 {
		add("server.heartbeat_interval", "must not be negative")
	}
	if c.Server.WriteTimeout.Duration < 0 {
		add("server.write_timeout", "must not be negative")
	}

	if err := validateHTTPURL(c.Ollama.URL); err != nil {
		add("ollama.url", "%v", err)
	}
	if c.Ollama.DefaultModel == "" {
		add("ollama.default_model", "must not be empty")
	}
	for field, d := range map[string]Duration{
		"ollama.health_timeout": c.Ollama.HealthTimeout,
		"ollama.models_timeout": c.Ollama.ModelsTimeout,
		"ollama.chat_timeout":   c.Ollama.ChatTimeout,
		"client.timeout":        c.Client.Timeout,
	} {
		if d.Duration <= 0 {
			add(field, "must be positive")
		}
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			add("store.redis_url", "required for the redis backend")
		}
	default:
		add("store.backend", "invalid backend '%s', must be one of: memory, redis", c.Store.Backend)
	}
	if c.Store.Capacity <= 0 {
		add("store.capacity", "must be positive")
	}

	if err := validateHTTPURL(c.Client.ServerURL); err != nil {
		add("client.server_url", "%v", err)
	}
	if c.Client.HistorySize <= 0 {
		add("client.history_size", "must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		add("log.format", "invalid format '%s', must be one of: console, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// SetDefaults fills zero values left by partial config files.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.APIPrefix == "" {
		c.Server.APIPrefix = d.Server.APIPrefix
	}
	c.Server.APIPrefix = strings.TrimRight(c.Server.APIPrefix, "/")
	if c.Server.RateWindow.Duration == 0 {
		c.Server.RateWindow = d.Server.RateWindow
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if c.Server.WriteTimeout.Duration == 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout.Duration == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	c.Ollama.URL = strings.TrimRight(c.Ollama.URL, "/")
	if c.Ollama.DefaultModel == "" {
		c.Ollama.DefaultModel = d.Ollama.DefaultModel
	}
	if c.Ollama.HealthTimeout.Duration == 0 {
		c.Ollama.HealthTimeout = d.Ollama.HealthTimeout
	}
	if c.Ollama.ModelsTimeout.Duration == 0 {
		c.Ollama.ModelsTimeout = d.Ollama.ModelsTimeout
	}
	if c.Ollama.ChatTimeout.Duration == 0 {
		c.Ollama.ChatTimeout = d.Ollama.ChatTimeout
	}

	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Store.Capacity == 0 {
		c.Store.Capacity = d.Store.Capacity
	}

	if c.Client.ServerURL == "" {
		c.Client.ServerURL = d.Client.ServerURL
	}
	c.Client.ServerURL = strings.TrimRight(c.Client.ServerURL, "/")
	if c.Client.Timeout.Duration == 0 {
		c.Client.Timeout = d.Client.Timeout
	}
	if c.Client.HistorySize == 0 {
		c.Client.HistorySize = d.Client.HistorySize
	}
	if c.Client.HistoryFile == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Client.HistoryFile = filepath.Join(dir, "history.json")
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PORT, MINICHAT_ADDR: server listen port / address
//   - OLLAMA_BASE_URL, MINICHAT_OLLAMA_URL: ollama.url
//   - DEFAULT_MODEL, MINICHAT_MODEL: ollama.default_model
//   - MINICHAT_CORS_ORIGINS: comma separated server.cors_origins
//   - MINICHAT_RATE_LIMIT: server.rate_limit
//   - MINICHAT_STORE: store.backend
//   - REDIS_URL, MINICHAT_REDIS_URL: store.redis_url
//   - MINICHAT_SERVER_URL: client.server_url
//   - MINICHAT_LOG_LEVEL, MINICHAT_LOG_FORMAT, MINICHAT_LOG_FILE: log.*
//
// The MINICHAT_ form wins when both are set.
func (c *Config) ApplyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	setString(&c.Server.Addr, "MINICHAT_ADDR")
	setString(&c.Ollama.URL, "OLLAMA_BASE_URL", "MINICHAT_OLLAMA_URL")
	setString(&c.Ollama.DefaultModel, "DEFAULT_MODEL", "MINICHAT_MODEL")
	setString(&c.Store.Backend, "MINICHAT_STORE")
	setString(&c.Store.RedisURL, "REDIS_URL", "MINICHAT_REDIS_URL")
	setString(&c.Client.ServerURL, "MINICHAT_SERVER_URL")
	setString(&c.Log.Level, "MINICHAT_LOG_LEVEL")
	setString(&c.Log.Format, "MINICHAT_LOG_FORMAT")
	setString(&c.Log.File, "MINICHAT_LOG_FILE")

	if origins := os.Getenv("MINICHAT_CORS_ORIGINS"); origins != "" {
		var list []string
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				list = append(list, o)
			}
		}
		c.Server.CORSOrigins = list
	}
	if limit := os.Getenv("MINICHAT_RATE_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			c.Server.RateLimit = n
		}
	}
}

// setString assigns the last non-empty variable among names to dst.
func setString(dst *string, names ...string) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
}
