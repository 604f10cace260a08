// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers accepted in DB_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverFile     = "file"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`

	DBDriver                 string `mapstructure:"DB_DRIVER"`
	DBHost                   string `mapstructure:"DB_HOST"`
	DBPort                   string `mapstructure:"DB_PORT"`
	DBUser                   string `mapstructure:"DB_USER"`
	DBPassword               string `mapstructure:"DB_PASSWORD"`
	DBName                   string `mapstructure:"DB_NAME"`
	DBSSLMode                string `mapstructure:"DB_SSLMODE"`
	DBSQLitePath             string `mapstructure:"DB_SQLITE_PATH"`
	DBSchemaMode             string `mapstructure:"DB_SCHEMA_MODE"`
	DBMaxOpenConns           int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	StoreFile                string `mapstructure:"MODERATION_STORE_FILE"`

	DBAutoMigrateAllowDestructive bool `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`

	RedisURL string `mapstructure:"REDIS_URL"`

	ProfanityTerms         string `mapstructure:"MODERATION_PROFANITY_TERMS"`
	DenylistFile           string `mapstructure:"MODERATION_DENYLIST_FILE"`
	ClassifierURL          string `mapstructure:"MODERATION_CLASSIFIER_URL"`
	ClassifierAPIKey       string `mapstructure:"MODERATION_CLASSIFIER_API_KEY"`
	ClassifierTimeoutMS    int    `mapstructure:"MODERATION_CLASSIFIER_TIMEOUT_MS"`
	ClassifierCacheSize    int    `mapstructure:"MODERATION_CLASSIFIER_CACHE_SIZE"`
	ClassifierCacheTTLSecs int    `mapstructure:"MODERATION_CLASSIFIER_CACHE_TTL_SECONDS"`
	WindowHours            int    `mapstructure:"MODERATION_WINDOW_HOURS"`
	CheckRateLimit         int    `mapstructure:"MODERATION_CHECK_RATE_LIMIT"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTLP_ENDPOINT"`
	OTLPInsecure       bool    `mapstructure:"OTLP_INSECURE"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("FEATURE_FLAGS", "")

	viper.SetDefault("DB_DRIVER", DriverPostgres)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "moderation")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_SQLITE_PATH", "moderation.db")
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE", false)
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("MODERATION_STORE_FILE", "moderation_data.json")

	viper.SetDefault("REDIS_URL", "localhost:6379")

	viper.SetDefault("MODERATION_PROFANITY_TERMS", "")
	viper.SetDefault("MODERATION_DENYLIST_FILE", "")
	viper.SetDefault("MODERATION_CLASSIFIER_URL", "")
	viper.SetDefault("MODERATION_CLASSIFIER_API_KEY", "")
	viper.SetDefault("MODERATION_CLASSIFIER_TIMEOUT_MS", 1500)
	viper.SetDefault("MODERATION_CLASSIFIER_CACHE_SIZE", 1024)
	viper.SetDefault("MODERATION_CLASSIFIER_CACHE_TTL_SECONDS", 600)
	viper.SetDefault("MODERATION_WINDOW_HOURS", 24)
	viper.SetDefault("MODERATION_CHECK_RATE_LIMIT", 120)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "")
	viper.SetDefault("OTLP_INSECURE", false)
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.DBSchemaMode = strings.ToLower(strings.TrimSpace(c.DBSchemaMode))
}

// IsProduction reports whether APP_ENV is a production profile.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// ProfanityTermList splits MODERATION_PROFANITY_TERMS.
func (c *Config) ProfanityTermList() []string {
	var out []string
	for _, term := range strings.Split(c.ProfanityTerms, ",") {
		if term = strings.TrimSpace(term); term != "" {
			out = append(out, term)
		}
	}
	return out
}

// ClassifierTimeout is the bound on one classifier call.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.ClassifierTimeoutMS) * time.Millisecond
}

// ClassifierCacheTTL is how long classifier answers are reused.
func (c *Config) ClassifierCacheTTL() time.Duration {
	return time.Duration(c.ClassifierCacheTTLSecs) * time.Second
}

// Window is the tier-selection window.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite, DriverFile:
	default:
		return fmt.Errorf("DB_DRIVER %q is not supported", c.DBDriver)
	}
	if c.ClassifierTimeoutMS <= 0 {
		return errors.New("MODERATION_CLASSIFIER_TIMEOUT_MS must be positive")
	}
	if c.WindowHours <= 0 {
		return errors.New("MODERATION_WINDOW_HOURS must be positive")
	}
	if c.DBConnMaxLifetimeMinutes < 0 {
		return errors.New("DB_CONN_MAX_LIFETIME_MINUTES cannot be negative")
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return errors.New("TRACING_SAMPLE_RATIO must be between 0 and 1")
	}

	if c.IsProduction() && c.DBDriver == DriverPostgres {
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
	}
	if c.IsProduction() && c.AllowedOrigins == "*" {
		log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
	}

	return nil
}
