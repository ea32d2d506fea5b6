package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
	Fetch      FetchConfig
	Sandbox    SandboxConfig
	Navigation NavigationConfig
	Generator  GeneratorConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-IP API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// FetchConfig controls how page markup is acquired.
type FetchConfig struct {
	Timeout       time.Duration `envconfig:"FETCH_TIMEOUT" default:"20s"`
	Retries       int           `envconfig:"FETCH_RETRIES" default:"1"`
	Strategy      string        `envconfig:"FETCH_STRATEGY" default:"sequential"`
	ProvidersFile string        `envconfig:"FETCH_PROVIDERS_FILE"`
	RateLimit     float64       `envconfig:"FETCH_RATE_LIMIT" default:"0"`
	MaxBodyBytes  int64         `envconfig:"FETCH_MAX_BODY_BYTES" default:"10485760"`
}

// SandboxConfig controls the render boundary.
type SandboxConfig struct {
	ScriptTimeout   time.Duration `envconfig:"SANDBOX_SCRIPT_TIMEOUT" default:"2s"`
	SameOriginHosts []string      `envconfig:"SANDBOX_SAME_ORIGIN_HOSTS"`
	AllowForms      bool          `envconfig:"SANDBOX_ALLOW_FORMS" default:"false"`
	AllowModals     bool          `envconfig:"SANDBOX_ALLOW_MODALS" default:"false"`
}

// NavigationConfig controls address handling.
type NavigationConfig struct {
	BlockedHosts []string `envconfig:"NAV_BLOCKED_HOSTS" default:"localhost,127.*,10.*,192.168.*,169.254.*"`
}

// GeneratorConfig holds code-generation service settings.
type GeneratorConfig struct {
	APIKey  string        `envconfig:"GEMINI_API_KEY"`
	Model   string        `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	Timeout time.Duration `envconfig:"GEMINI_TIMEOUT" default:"2m"`
}

// Enabled reports whether a generator can be constructed.
func (g GeneratorConfig) Enabled() bool {
	return g.APIKey != ""
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Fetch.Strategy {
	case "sequential", "race":
	default:
		return fmt.Errorf("invalid FETCH_STRATEGY %q: want sequential or race", c.Fetch.Strategy)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.Sandbox.ScriptTimeout <= 0 {
		return fmt.Errorf("SANDBOX_SCRIPT_TIMEOUT must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Fetch: FetchConfig{
			Timeout:      20 * time.Second,
			Retries:      1,
			Strategy:     "sequential",
			MaxBodyBytes: 10 << 20,
		},
		Sandbox: SandboxConfig{
			ScriptTimeout: 2 * time.Second,
		},
		Navigation: NavigationConfig{
			BlockedHosts: []string{"localhost", "127.*", "10.*", "192.168.*", "169.254.*"},
		},
		Generator: GeneratorConfig{
			Model:   "gemini-2.5-flash",
			Timeout: 2 * time.Minute,
		},
	}
}
