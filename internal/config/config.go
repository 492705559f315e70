package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultProvider     = "groq"
	DefaultMaxMessages  = 10
	DefaultQueueSize    = 16
	DefaultWorkerIdle   = 60
	DefaultServerAddr   = ":8000"
	DefaultSystemPrompt = "You are a helpful first-aid assistant. " +
		"When answering, ALWAYS use short BULLET POINTS. " +
		"Use EMOJIS relevant to the context. " +
		"CAPITALIZE IMPORTANT WORDS or PHRASES to emphasize them. " +
		"Keep the answer CONCISE and EASY TO UNDERSTAND."
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig     BasicConfig               `json:"basic_config" toml:"basic_config"`
	DefaultProvider string                    `json:"default_provider" toml:"default_provider"`
	Providers       map[string]ProviderConfig `json:"providers" toml:"providers"`
	Redis           RedisConfig               `json:"redis" toml:"redis"`
	Tracing         TracingConfig             `json:"tracing" toml:"tracing"`
}

// ProviderConfig describes one completion endpoint. Type selects the client
// implementation: "openai" (any OpenAI-compatible API), "claude" or "gemini".
type ProviderConfig struct {
	Type           string   `json:"type" toml:"type"`
	BaseURL        string   `json:"base_url" toml:"base_url"`
	Model          string   `json:"model" toml:"model"`
	APIKey         string   `json:"api_key" toml:"api_key"`
	Temperature    *float32 `json:"temperature,omitempty" toml:"temperature"`
	TimeoutSeconds int      `json:"timeout_seconds" toml:"timeout_seconds"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" toml:"server_address"`
	LogLevel          string `json:"log_level" toml:"log_level"`
	SystemPrompt      string `json:"system_prompt" toml:"system_prompt"`
	MaxMessages       int    `json:"max_messages" toml:"max_messages"`
	MaxSessions       int    `json:"max_sessions" toml:"max_sessions"`
	SessionTTL        int    `json:"session_ttl_minutes" toml:"session_ttl_minutes"`
	SessionQueueSize  int    `json:"session_queue_size" toml:"session_queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout_seconds" toml:"worker_idle_timeout_seconds"`
}

type RedisConfig struct {
	Enabled    bool   `json:"enabled" toml:"enabled"`
	Host       string `json:"host" toml:"host"`
	Port       int    `json:"port" toml:"port"`
	Username   string `json:"username" toml:"username"`
	Password   string `json:"password" toml:"password"`
	DB         int    `json:"db" toml:"db"`
	KeyPrefix  string `json:"key_prefix" toml:"key_prefix"`
	TTLMinutes int    `json:"ttl_minutes" toml:"ttl_minutes"`
}

type TracingConfig struct {
	Endpoint string `json:"endpoint" toml:"endpoint"`
	URLPath  string `json:"url_path" toml:"url_path"`
	APIKey   string `json:"api_key" toml:"api_key"`
}

// Default returns the configuration the service runs with when no file is present.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:     DefaultServerAddr,
			LogLevel:          "info",
			SystemPrompt:      DefaultSystemPrompt,
			MaxMessages:       DefaultMaxMessages,
			SessionQueueSize:  DefaultQueueSize,
			WorkerIdleTimeout: DefaultWorkerIdle,
		},
		DefaultProvider: DefaultProvider,
		Providers: map[string]ProviderConfig{
			DefaultProvider: {
				Type:    "openai",
				BaseURL: "https://api.groq.com/openai/v1",
				Model:   "llama3-8b-8192",
			},
		},
		Redis: RedisConfig{
			Host:      "127.0.0.1",
			Port:      6379,
			KeyPrefix: "firstaid:",
		},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; an explicitly named one is.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := decodeFile(absPath, cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("open config %s: %w", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GROQ_API_KEY")); v != "" {
		if p, ok := cfg.Providers[DefaultProvider]; ok && p.APIKey == "" {
			p.APIKey = v
			cfg.Providers[DefaultProvider] = p
		}
	}
	// PORT is what hosting platforms such as Render hand us.
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.BasicConfig.ServerAddress = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("FIRSTAID_ADDR")); v != "" {
		cfg.BasicConfig.ServerAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("FIRSTAID_LOG_LEVEL")); v != "" {
		cfg.BasicConfig.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("FIRSTAID_MAX_MESSAGES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BasicConfig.MaxMessages = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FIRSTAID_REDIS_ADDR")); v != "" {
		host, port, ok := strings.Cut(v, ":")
		cfg.Redis.Enabled = true
		cfg.Redis.Host = host
		if ok {
			if n, err := strconv.Atoi(port); err == nil {
				cfg.Redis.Port = n
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	if c.BasicConfig.MaxMessages < 2 {
		return fmt.Errorf("max_messages must be at least 2, got %d", c.BasicConfig.MaxMessages)
	}
	if strings.TrimSpace(c.BasicConfig.SystemPrompt) == "" {
		return errors.New("system_prompt must be configured")
	}
	if c.BasicConfig.MaxSessions < 0 {
		return errors.New("max_sessions cannot be negative")
	}
	if c.BasicConfig.SessionQueueSize <= 0 {
		c.BasicConfig.SessionQueueSize = DefaultQueueSize
	}
	if c.BasicConfig.WorkerIdleTimeout <= 0 {
		c.BasicConfig.WorkerIdleTimeout = DefaultWorkerIdle
	}
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddr
	}
	prov, ok := c.Providers[c.DefaultProvider]
	if !ok {
		return fmt.Errorf("default provider %q not configured", c.DefaultProvider)
	}
	if prov.Model == "" {
		return fmt.Errorf("provider %s: model must be configured", c.DefaultProvider)
	}
	return nil
}

// Provider returns the active provider settings.
func (c *Config) Provider() (string, ProviderConfig) {
	return c.DefaultProvider, c.Providers[c.DefaultProvider]
}
