package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling and env variable binding.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	Environment string `mapstructure:"ENVIRONMENT"` // "development" or "production"

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	JWTSecretKey        string `mapstructure:"JWT_SECRET_KEY"`
	AccessTokenTTLMin   int    `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTokenTTLDays int    `mapstructure:"REFRESH_TOKEN_TTL_DAYS"`

	// Cache policy. Free-text filters shorter than SearchCacheMinLen bypass
	// the cache entirely to avoid key explosion.
	CacheTTLSec       int `mapstructure:"CACHE_TTL_SEC"`
	SearchCacheMinLen int `mapstructure:"SEARCH_CACHE_MIN_LEN"`

	// SweepIntervalMin controls how often the credential sweeper removes
	// long-revoked/expired rows. SweepRetentionDays is how long they are kept.
	SweepIntervalMin   int `mapstructure:"SWEEP_INTERVAL_MIN"`
	SweepRetentionDays int `mapstructure:"SWEEP_RETENTION_DAYS"`
}

// IsProduction reports whether the server runs with production hardening
// (secure cookies, strict same-site).
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/taskhive/")
	v.AddConfigPath("$HOME/.taskhive")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/taskhive_dev")
	v.SetDefault("MONGO_DB_NAME", "taskhive_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("JWT_SECRET_KEY", "a_very_secret_jwt_key_change_me") // CHANGE IN PRODUCTION
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 15)
	v.SetDefault("REFRESH_TOKEN_TTL_DAYS", 7)
	v.SetDefault("CACHE_TTL_SEC", 1800)
	v.SetDefault("SEARCH_CACHE_MIN_LEN", 3)
	v.SetDefault("SWEEP_INTERVAL_MIN", 60)
	v.SetDefault("SWEEP_RETENTION_DAYS", 30)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, we fall back to defaults/env vars.
		// Other errors (permissions, malformed yaml) are returned.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
