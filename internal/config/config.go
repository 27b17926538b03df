package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DATALOOM_LISTEN_ADDR.
const EnvPrefix = "DATALOOM"

// Global configuration structure.
type Global struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	StorageURL string `mapstructure:"storage_url" yaml:"storage_url"`

	// HTTP/Retry configuration for the storage service
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`
	MaxUploadMB      int `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// Chat assistant
	AssistantProvider string  `mapstructure:"assistant_provider" yaml:"assistant_provider"`
	ChatModel         string  `mapstructure:"chat_model" yaml:"chat_model"`
	VisionModel       string  `mapstructure:"vision_model" yaml:"vision_model"`
	OllamaHost        string  `mapstructure:"ollama_host" yaml:"ollama_host"`
	ImagePrompt       string  `mapstructure:"image_prompt" yaml:"image_prompt,omitempty"`
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature"`

	// Dataset cache; an empty address disables it
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	CacheTTLSec   int    `mapstructure:"cache_ttl_sec" yaml:"cache_ttl_sec"`

	MetricsEnabled bool     `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	CORSOrigins    []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// HTTPTimeout returns the storage request timeout.
func (c *Global) HTTPTimeout() time.Duration { return time.Duration(c.HTTPTimeoutSec) * time.Second }

// RetryBaseDelay returns the first backoff step.
func (c *Global) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the backoff cap.
func (c *Global) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

// CacheTTL returns how long a cached dataset stays valid.
func (c *Global) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSec) * time.Second }

// MaxUploadBytes returns the request body limit.
func (c *Global) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }

func defaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":5000")
	v.SetDefault("storage_url", "http://localhost:8080")
	v.SetDefault("http_timeout_sec", 30)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 300)
	v.SetDefault("retry_max_delay_ms", 3000)
	v.SetDefault("max_upload_mb", 32)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("assistant_provider", "gemini")
	v.SetDefault("chat_model", "gemini-1.5-flash")
	v.SetDefault("vision_model", "gemini-1.5-flash")
	v.SetDefault("ollama_host", "http://127.0.0.1:11434")
	v.SetDefault("image_prompt", "")
	v.SetDefault("temperature", 1.0)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_ttl_sec", 300)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("cors_origins", []string{"*"})
}

// DefaultPath is ~/.dataloom/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".dataloom", "config.yaml"), nil
}

// Save writes the given configuration to the cfgFile path, or to
// DefaultPath when cfgFile is empty. The file is replaced atomically.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. Flags are applied by the caller.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		path, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values the service cannot run with.
func (c *Global) Validate() error {
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log_format: %s (use json or console)", c.LogFormat)
	}
	switch c.AssistantProvider {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("invalid assistant_provider: %s (use gemini or ollama)", c.AssistantProvider)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry_max_attempts must be positive, got %d", c.RetryMaxAttempts)
	}
	return nil
}
