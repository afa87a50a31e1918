package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Resend      ResendConfig   `yaml:"resend"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis configuration for the webhook lookup cache
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// ResendConfig holds ESP webhook configuration
type ResendConfig struct {
	WebhookSecret    string `yaml:"webhook_secret"`
	ToleranceSeconds int    `yaml:"tolerance_seconds"`
}

// Tolerance returns the webhook timestamp tolerance as a duration
func (c ResendConfig) Tolerance() time.Duration {
	return time.Duration(c.ToleranceSeconds) * time.Second
}

// IsProduction reports whether the app runs in a production deployment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Resend.ToleranceSeconds == 0 {
		c.Resend.ToleranceSeconds = 300
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		// No config file is fine when everything comes from the environment
		cfg = &Config{}
		cfg.applyDefaults()
	} else if err != nil {
		return nil, err
	}

	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("RESEND_WEBHOOK_SECRET"); v != "" {
		cfg.Resend.WebhookSecret = v
	}

	return cfg, nil
}
