package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the data-enricher server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Jobs     JobsConfig
	Sheets   SheetsConfig
	Enrich   EnrichConfig
}

type ServerConfig struct {
	Port int
	Env  string
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

// JobsConfig tunes the background job orchestration subsystem.
type JobsConfig struct {
	MaxWorkers       int
	HeartbeatTimeout time.Duration
	RetentionDays    int
	RowDelay         time.Duration
	TextConcurrency  int
	StatsTTL         time.Duration
}

type SheetsConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type EnrichConfig struct {
	Provider string
	Timeout  time.Duration
	OpenAI   OpenAIConfig
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

var validProviders = map[string]bool{
	"openai": true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ENRICHER_PORT", 8080),
			Env:  envString("ENRICHER_ENV", "development"),
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
		Jobs: JobsConfig{
			MaxWorkers:       envInt("JOBS_MAX_WORKERS", 3),
			HeartbeatTimeout: envDuration("JOBS_HEARTBEAT_TIMEOUT", 2*time.Minute),
			RetentionDays:    envInt("JOBS_RETENTION_DAYS", 30),
			RowDelay:         envDuration("JOBS_ROW_DELAY", 100*time.Millisecond),
			TextConcurrency:  envInt("JOBS_TEXT_CONCURRENCY", 10),
			StatsTTL:         envDuration("JOBS_STATS_TTL", 10*time.Second),
		},
		Sheets: SheetsConfig{
			BaseURL: envString("SHEETS_BASE_URL", "https://sheets.googleapis.com"),
			Token:   os.Getenv("SHEETS_ACCESS_TOKEN"),
			Timeout: envDuration("SHEETS_TIMEOUT", 30*time.Second),
		},
		Enrich: EnrichConfig{
			Provider: envString("ENRICH_PROVIDER", "openai"),
			Timeout:  envDurationSecs("ENRICH_TIMEOUT_SECS", 60*time.Second),
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
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

	if !strings.HasPrefix(c.Sheets.BaseURL, "http://") && !strings.HasPrefix(c.Sheets.BaseURL, "https://") {
		return fmt.Errorf("SHEETS_BASE_URL must start with http:// or https://, got %q", c.Sheets.BaseURL)
	}

	if c.Jobs.MaxWorkers < 1 {
		return fmt.Errorf("JOBS_MAX_WORKERS must be >= 1, got %d", c.Jobs.MaxWorkers)
	}
	if c.Jobs.TextConcurrency < 1 {
		return fmt.Errorf("JOBS_TEXT_CONCURRENCY must be >= 1, got %d", c.Jobs.TextConcurrency)
	}

	if !validProviders[c.Enrich.Provider] {
		return fmt.Errorf("ENRICH_PROVIDER must be one of openai, mock; got %q", c.Enrich.Provider)
	}
	if c.Enrich.Provider == "openai" && c.Enrich.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when ENRICH_PROVIDER is openai")
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
