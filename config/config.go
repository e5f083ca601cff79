// Package config provides configuration management for the nutritionist
// backend. Configuration is layered: built-in defaults, an optional YAML file
// with ${VAR} expansion, then environment overrides, then validation.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	LLM            LLMConfig            `yaml:"llm"`
	Session        SessionConfig        `yaml:"session"`
	History        HistoryConfig        `yaml:"history"`
	Reply          ReplyConfig          `yaml:"reply"`
	Prompt         PromptConfig         `yaml:"prompt"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Logging        LoggingConfig        `yaml:"logging"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Queue          QueueConfig          `yaml:"queue"`
}

// ServerConfig holds settings for the HTTP listener.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 5000)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 15s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. It must leave room for the completion timeout (default: 45s)
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes caps the size of request bodies (default: 64KB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ShutdownTimeout specifies how long to wait for in-flight requests
	// during graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CORSAllowedOrigins lists origins allowed to call the API.
	// A single "*" allows any origin.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// LLMConfig holds settings for the completion provider.
type LLMConfig struct {
	// Provider selects the backend: "gemini" and "openai" use the
	// OpenAI-compatible chat API, anything else is handed to gollm
	// (e.g. "anthropic", "ollama", "groq").
	Provider string `yaml:"provider"`

	// Model is the model name passed to the provider
	Model string `yaml:"model"`

	// APIKey is the provider credential. The process refuses to start without it.
	// Use environment variables (GEMINI_API_KEY or LLM_API_KEY) rather than
	// writing it into the file.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the provider base URL
	Endpoint string `yaml:"endpoint"`

	// Temperature is the sampling temperature (default: 0.7)
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the completion length (default: 1024)
	MaxTokens int `yaml:"max_tokens"`

	// Timeout is the hard wall-clock limit for one completion call (default: 30s)
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig controls server-side conversation continuity.
type SessionConfig struct {
	// Enabled exposes session mode and the /sessions endpoints (default: true)
	Enabled bool `yaml:"enabled"`

	// Driver selects the store: "memory" (default) or "redis"
	Driver string `yaml:"driver"`

	// Timeout expires sessions idle for longer than this (default: 30m)
	Timeout time.Duration `yaml:"timeout"`

	// MaxHistory is the number of non-system messages kept per session (default: 20)
	MaxHistory int `yaml:"max_history"`

	// Redis holds connection settings for the redis driver
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the session store.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string `yaml:"address"`

	// Password for Redis authentication (optional)
	Password string `yaml:"password"`

	// DB is the Redis database number to use
	DB int `yaml:"db"`

	// KeyPrefix namespaces session keys (default: "nutritionist:session:")
	KeyPrefix string `yaml:"key_prefix"`
}

// CatalogConfig points at the product catalog file.
type CatalogConfig struct {
	// Path to a JSON or YAML product list. Empty or unreadable degrades to
	// an empty catalog.
	Path string `yaml:"path"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// CircuitBreakerConfig configures the breaker in front of the provider.
type CircuitBreakerConfig struct {
	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// RateLimitConfig configures per-client request limits.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// RequestsPerMinute is the sustained rate per client IP
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst is the number of requests allowed above the sustained rate
	Burst int `yaml:"burst"`
}

// QueueConfig defines admission control for /analyze.
type QueueConfig struct {
	// Enabled determines if the queue middleware is active
	Enabled bool `yaml:"enabled"`

	// MaxConcurrent is the number of requests processed at once
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxQueued is the number of requests allowed to wait; more are rejected with 503
	MaxQueued int `yaml:"max_queued"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               5000,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       45 * time.Second,
			MaxHeaderBytes:     1 << 20,
			MaxBodyBytes:       64 << 10,
			ShutdownTimeout:    30 * time.Second,
			CORSAllowedOrigins: []string{"*"},
		},
		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-1.5-flash",
			Temperature: 0.7,
			MaxTokens:   1024,
			Timeout:     30 * time.Second,
		},
		Session: SessionConfig{
			Enabled:    true,
			Driver:     "memory",
			Timeout:    30 * time.Minute,
			MaxHistory: 20,
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "nutritionist:session:",
			},
		},
		History: HistoryConfig{
			MaxRecords: 10,
			MaxCost:    1500,
		},
		Reply: ReplyConfig{
			Mode:     "json",
			Fallback: "empty",
			GenericSuggestions: []string{
				"Can you describe your symptoms in more detail?",
				"What does a typical day of eating look like for you?",
				"How long have you been feeling this way?",
			},
			DefaultReply:    "I'm here to help with your nutrition questions. Could you tell me a bit more about how you're feeling?",
			Apology:         "Sorry, I'm having trouble responding right now. Please try again in a moment.",
			CleanMarkdown:   true,
			BuyNow:          false,
			BuyNowThreshold: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      1,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 30,
			Burst:             10,
		},
		Queue: QueueConfig{
			Enabled:       false,
			MaxConcurrent: 32,
			MaxQueued:     128,
		},
	}
}

// LoadFile loads configuration from a YAML file, then applies the process
// environment and validates the result.
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Resolve builds the runtime configuration. An empty path, or a path that
// does not exist, yields defaults plus environment overrides.
func Resolve(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references.
// Unset variables without a default expand to the empty string.
func expandEnvVars(s string) (string, error) {
	if open, closed := strings.Count(s, "${"), strings.Count(s, "}"); open > closed {
		return "", fmt.Errorf("unterminated variable reference")
	}

	return os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	}), nil
}

// Load decodes YAML from r on top of DefaultConfig, applies the process
// environment and validates the result.
func Load(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	cfg := DefaultConfig()
	if strings.TrimSpace(expanded) == "" {
		return cfg, nil
	}

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.MaxHeaderBytes < 0 {
		return fmt.Errorf("negative max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive: %d", c.Server.MaxBodyBytes)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("missing LLM API key: set GEMINI_API_KEY or LLM_API_KEY")
	}
	if c.LLM.Provider == "" {
		return fmt.Errorf("empty LLM provider")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("empty LLM model")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("temperature out of range [0, 2]: %v", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive: %d", c.LLM.MaxTokens)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM timeout must be positive: %v", c.LLM.Timeout)
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.LLM.Timeout {
		return fmt.Errorf("write timeout %v must exceed LLM timeout %v", c.Server.WriteTimeout, c.LLM.Timeout)
	}

	if c.Session.Enabled {
		switch c.Session.Driver {
		case "memory":
		case "redis":
			if c.Session.Redis.Address == "" {
				return fmt.Errorf("redis session driver requires an address")
			}
		default:
			return fmt.Errorf("invalid session driver: %s", c.Session.Driver)
		}
		if c.Session.Timeout <= 0 {
			return fmt.Errorf("session timeout must be positive: %v", c.Session.Timeout)
		}
		if c.Session.MaxHistory <= 0 {
			return fmt.Errorf("session max history must be positive: %d", c.Session.MaxHistory)
		}
	}

	if c.History.MaxRecords <= 0 {
		return fmt.Errorf("history max records must be positive: %d", c.History.MaxRecords)
	}
	if c.History.MaxCost <= 0 {
		return fmt.Errorf("history max cost must be positive: %d", c.History.MaxCost)
	}

	switch c.Reply.Mode {
	case "json", "text":
	default:
		return fmt.Errorf("invalid reply mode: %s", c.Reply.Mode)
	}
	switch c.Reply.Fallback {
	case "empty", "generic":
	default:
		return fmt.Errorf("invalid reply fallback: %s", c.Reply.Fallback)
	}
	if c.Reply.BuyNow && c.Reply.BuyNowThreshold <= 0 {
		return fmt.Errorf("buy_now threshold must be positive: %d", c.Reply.BuyNowThreshold)
	}
	if strings.TrimSpace(c.Reply.Apology) == "" {
		return fmt.Errorf("empty apology reply")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_minute and burst")
	}
	if c.Queue.Enabled && (c.Queue.MaxConcurrent <= 0 || c.Queue.MaxQueued < 0) {
		return fmt.Errorf("queue requires positive max_concurrent and non-negative max_queued")
	}

	return nil
}
