package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "COURSEFEED"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "coursefeed.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultRetentionMins  = 30
	defaultSummaryChars   = 140
	defaultRateLimitRPS   = 5.0
	defaultRateLimitBurst = 10
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	LogFormat       string
	SigningSecret   string
	CacheRetention  time.Duration
	SummaryMaxChars int
	RateLimitPerSec float64
	RateLimitBurst  int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("cache.retention_minutes", defaultRetentionMins)
	configViper.SetDefault("summary.max_chars", defaultSummaryChars)
	configViper.SetDefault("ratelimit.per_second", defaultRateLimitRPS)
	configViper.SetDefault("ratelimit.burst", defaultRateLimitBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		LogFormat:       configViper.GetString("log.format"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		CacheRetention:  time.Duration(configViper.GetInt("cache.retention_minutes")) * time.Minute,
		SummaryMaxChars: configViper.GetInt("summary.max_chars"),
		RateLimitPerSec: configViper.GetFloat64("ratelimit.per_second"),
		RateLimitBurst:  configViper.GetInt("ratelimit.burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SummaryMaxChars < 1 {
		return fmt.Errorf("summary.max_chars must be positive")
	}
	if c.RateLimitPerSec <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("ratelimit.per_second and ratelimit.burst must be positive")
	}
	return nil
}
