package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the animgen server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Generator GeneratorConfig
	Jobs      JobsConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type GeneratorConfig struct {
	Provider string
	// StepDelay paces the procedural generator between units of work.
	StepDelay time.Duration
	Remote    RemoteConfig
}

type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type JobsConfig struct {
	Workers         int
	Timeout         time.Duration
	Retention       time.Duration
	JanitorInterval time.Duration
}

var validProviders = map[string]bool{
	"procedural": true,
	"remote":     true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("ANIMGEN_PORT", 8080),
			Env:             envString("ANIMGEN_ENV", "development"),
			RateLimitPerMin: envInt("ANIMGEN_RATE_LIMIT_PER_MIN", 120),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Generator: GeneratorConfig{
			Provider:  envString("GENERATOR_PROVIDER", "procedural"),
			StepDelay: envDuration("GENERATOR_STEP_DELAY", 50*time.Millisecond),
			Remote: RemoteConfig{
				BaseURL: os.Getenv("GENERATOR_REMOTE_URL"),
				APIKey:  os.Getenv("GENERATOR_REMOTE_API_KEY"),
				Timeout: envDuration("GENERATOR_REMOTE_TIMEOUT", 120*time.Second),
			},
		},
		Jobs: JobsConfig{
			Workers:         envInt("JOB_WORKERS", 4),
			Timeout:         envDurationSecs("JOB_TIMEOUT_SECS", 300*time.Second),
			Retention:       envDuration("JOB_RETENTION", 30*time.Minute),
			JanitorInterval: envDuration("JOB_JANITOR_INTERVAL", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validProviders[c.Generator.Provider] {
		return fmt.Errorf("GENERATOR_PROVIDER must be one of procedural, remote; got %q", c.Generator.Provider)
	}
	if c.Generator.Provider == "remote" {
		u := c.Generator.Remote.BaseURL
		if u == "" {
			return fmt.Errorf("GENERATOR_REMOTE_URL is required when GENERATOR_PROVIDER is remote")
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("GENERATOR_REMOTE_URL must start with http:// or https://, got %q", u)
		}
	}
	if c.Generator.StepDelay < 0 {
		return fmt.Errorf("GENERATOR_STEP_DELAY must not be negative")
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOB_WORKERS must be at least 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.Timeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT_SECS must be positive")
	}
	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("JOB_RETENTION must be positive")
	}
	if c.Jobs.JanitorInterval <= 0 {
		return fmt.Errorf("JOB_JANITOR_INTERVAL must be positive")
	}

	if c.Server.RateLimitPerMin < 1 {
		return fmt.Errorf("ANIMGEN_RATE_LIMIT_PER_MIN must be at least 1, got %d", c.Server.RateLimitPerMin)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
