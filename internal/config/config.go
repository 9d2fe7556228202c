package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Search    SearchConfig    `yaml:"search"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Report    ReportConfig    `yaml:"report"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type            string         `yaml:"type"` // sqlite, mysql, postgres
	DefaultCurrency string         `yaml:"default_currency"`
	SQLite          SQLiteConfig   `yaml:"sqlite"`
	MySQL           MySQLConfig    `yaml:"mysql"`
	Postgres        PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig contains the sqlite file location
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
}

// MeilisearchConfig contains Meilisearch connection settings.
// An empty host disables indexing.
type MeilisearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
	Index  string `yaml:"index"`
}

// ScraperConfig contains scraper-specific settings
type ScraperConfig struct {
	Mode                string    `yaml:"mode"` // http or browser
	LinksFile           string    `yaml:"links_file"`
	TimeoutSeconds      int       `yaml:"timeout_seconds"`
	MaxRetries          int       `yaml:"max_retries"`
	RetryDelaySeconds   int       `yaml:"retry_delay_seconds"`
	RequestDelaySeconds int       `yaml:"request_delay_seconds"`
	JitterSeconds       int       `yaml:"jitter_seconds"`
	UserAgent           string    `yaml:"user_agent"`
	ChromePath          string    `yaml:"chrome_path"`
	Headless            bool      `yaml:"headless"`
	MinorUnitExponent   int       `yaml:"minor_unit_exponent"`
	Selectors           Selectors `yaml:"selectors"`
	BreakerThreshold    int       `yaml:"breaker_threshold"`
	BreakerResetMinutes int       `yaml:"breaker_reset_minutes"`
}

// Selectors are the CSS selectors used to pull a listing out of a product page
type Selectors struct {
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Currency string `yaml:"currency"`
}

// RateLimitConfig contains rate limiting settings for the HTTP API
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	RequestsPerHour   int  `yaml:"requests_per_hour"`
}

// ScheduleConfig controls the periodic fetch job
type ScheduleConfig struct {
	Enabled          bool   `yaml:"enabled"`
	DailyRunTime     string `yaml:"daily_run_time"`
	CronSpec         string `yaml:"cron_spec"` // overrides daily_run_time when set
	ReportAfterFetch bool   `yaml:"report_after_fetch"`
}

// ReportConfig contains spreadsheet report settings
type ReportConfig struct {
	OutputPath    string `yaml:"output_path"`
	IncludeLegend bool   `yaml:"include_legend"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Port         string   `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "price_tracker.sqlite3",
			},
		},
		Search: SearchConfig{
			Meilisearch: MeilisearchConfig{
				Index: "products",
			},
		},
		Scraper: ScraperConfig{
			Mode:                "http",
			LinksFile:           "links.txt",
			TimeoutSeconds:      30,
			MaxRetries:          2,
			RetryDelaySeconds:   2,
			RequestDelaySeconds: 2,
			JitterSeconds:       2,
			UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
			Headless:            true,
			MinorUnitExponent:   2,
			Selectors: Selectors{
				Name:  "h1",
				Price: "[itemprop='price']",
			},
			BreakerThreshold:    3,
			BreakerResetMinutes: 30,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 30,
			RequestsPerHour:   600,
		},
		Schedule: ScheduleConfig{
			Enabled:          false,
			DailyRunTime:     "09:00",
			ReportAfterFetch: true,
		},
		Report: ReportConfig{
			OutputPath:    "price_report.xlsx",
			IncludeLegend: true,
		},
		Server: ServerConfig{
			Port:         "8080",
			AllowOrigins: []string{"http://localhost:5173"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML file and applies environment overrides
func LoadConfig(filepath string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	// If file doesn't exist, keep defaults
	if _, err := os.Stat(filepath); err == nil {
		data, err := os.ReadFile(filepath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overrides deployment-specific values from the environment
func (c *Config) ApplyEnv() {
	c.Database.Type = getEnvOrConfig("DB_TYPE", c.Database.Type)
	c.Database.SQLite.Path = getEnvOrConfig("SQLITE_PATH", c.Database.SQLite.Path)

	switch c.Database.Type {
	case "mysql":
		m := &c.Database.MySQL
		m.Host = getEnvOrConfig("DB_HOST", m.Host)
		m.Port = getEnvIntOrConfig("DB_PORT", m.Port)
		m.User = getEnvOrConfig("DB_USER", m.User)
		m.Password = getEnvOrConfig("DB_PASSWORD", m.Password)
		m.Database = getEnvOrConfig("DB_NAME", m.Database)
	case "postgres":
		p := &c.Database.Postgres
		p.Host = getEnvOrConfig("DB_HOST", p.Host)
		p.Port = getEnvIntOrConfig("DB_PORT", p.Port)
		p.User = getEnvOrConfig("DB_USER", p.User)
		p.Password = getEnvOrConfig("DB_PASSWORD", p.Password)
		p.Database = getEnvOrConfig("DB_NAME", p.Database)
	}

	c.Search.Meilisearch.Host = getEnvOrConfig("MEILISEARCH_HOST", c.Search.Meilisearch.Host)
	c.Search.Meilisearch.APIKey = getEnvOrConfig("MEILISEARCH_KEY", c.Search.Meilisearch.APIKey)
	c.Server.Port = getEnvOrConfig("PORT", c.Server.Port)
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("%w: database.sqlite.path is required", ErrInvalidConfig)
		}
	case "mysql", "postgres":
	default:
		return fmt.Errorf("%w: unknown database.type %q", ErrInvalidConfig, c.Database.Type)
	}

	switch c.Scraper.Mode {
	case "http", "browser":
	default:
		return fmt.Errorf("%w: unknown scraper.mode %q", ErrInvalidConfig, c.Scraper.Mode)
	}

	if c.Scraper.MaxRetries < 0 || c.Scraper.TimeoutSeconds < 0 || c.Scraper.RequestDelaySeconds < 0 {
		return fmt.Errorf("%w: scraper timings must not be negative", ErrInvalidConfig)
	}
	if c.Scraper.MinorUnitExponent < 0 || c.Scraper.MinorUnitExponent > 4 {
		return fmt.Errorf("%w: scraper.minor_unit_exponent must be between 0 and 4", ErrInvalidConfig)
	}
	if c.Scraper.Selectors.Price == "" {
		return fmt.Errorf("%w: scraper.selectors.price is required", ErrInvalidConfig)
	}

	if c.Schedule.Enabled && c.Schedule.CronSpec == "" {
		if _, _, err := ParseDailyRunTime(c.Schedule.DailyRunTime); err != nil {
			return err
		}
	}

	return nil
}

// ParseDailyRunTime parses "HH:MM" into hour and minute
func ParseDailyRunTime(timeStr string) (hour, minute int, err error) {
	n, err := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute)
	if err != nil || n != 2 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: schedule.daily_run_time %q is not HH:MM", ErrInvalidConfig, timeStr)
	}
	return hour, minute, nil
}

// GetTimeout returns the timeout as a duration
func (c *ScraperConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetRetryDelay returns the retry delay as a duration
func (c *ScraperConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// GetRequestDelay returns the request delay as a duration
func (c *ScraperConfig) GetRequestDelay() time.Duration {
	return time.Duration(c.RequestDelaySeconds) * time.Second
}

// GetJitter returns the request jitter as a duration
func (c *ScraperConfig) GetJitter() time.Duration {
	return time.Duration(c.JitterSeconds) * time.Second
}

// GetBreakerReset returns the circuit breaker reset timeout
func (c *ScraperConfig) GetBreakerReset() time.Duration {
	return time.Duration(c.BreakerResetMinutes) * time.Minute
}

func getEnvOrConfig(envKey, configValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	return configValue
}

func getEnvIntOrConfig(envKey string, configValue int) int {
	if value := os.Getenv(envKey); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return configValue
}
