package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                     "8375",
		Env:                      "development",
		DBDriver:                 DriverPostgres,
		DBPassword:               "secure-password",
		DBSSLMode:                "disable",
		DBConnMaxLifetimeMinutes: 5,
		ClassifierTimeoutMS:      1500,
		WindowHours:              24,
		TracingSampleRatio:       1,
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateModerationSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Port = "" }},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"zero classifier timeout", func(c *Config) { c.ClassifierTimeoutMS = 0 }},
		{"zero window", func(c *Config) { c.WindowHours = 0 }},
		{"sample ratio above one", func(c *Config) { c.TracingSampleRatio = 1.5 }},
		{"default password in production", func(c *Config) {
			c.Env = "production"
			c.DBSSLMode = "require"
			c.DBPassword = "password"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	sqlite := validConfig()
	sqlite.Env = "production"
	sqlite.DBDriver = DriverSQLite
	sqlite.DBPassword = ""
	assert.NoError(t, sqlite.Validate(), "sqlite in production does not need DB credentials")
}

func TestLoadConfig_DefaultsAndNormalization(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("MODERATION_PROFANITY_TERMS", "darn, heck ,,")

	c, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, DriverSQLite, c.DBDriver)
	assert.Equal(t, "8375", c.Port)
	assert.Equal(t, 1500*time.Millisecond, c.ClassifierTimeout())
	assert.Equal(t, 24*time.Hour, c.Window())
	assert.Equal(t, []string{"darn", "heck"}, c.ProfanityTermList())
	assert.Equal(t, "hybrid", c.DBSchemaMode)
}
