package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the bugnest server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Pipeline  PipelineConfig
	Trend     TrendConfig
	Notifier  NotifierConfig
	Severity  SeverityConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port      int
	Env       string
	LogLevel  string
	PublicURL string
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

// PipelineConfig bounds the event processing stages.
type PipelineConfig struct {
	Workers          int
	QueueSize        int
	AggregateTimeout time.Duration
	DispatchTimeout  time.Duration
	LockTTL          time.Duration
}

type TrendConfig struct {
	CacheTTL time.Duration
}

type NotifierConfig struct {
	SilenceBackend    string
	EmailProvider     string
	EmailFrom         string
	SMTP              SMTPConfig
	ResendAPIKey      string
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SeverityConfig maps event types onto rule levels. Types in neither list
// get the default level.
type SeverityConfig struct {
	SeriousTypes []string
	WarningTypes []string
}

type RateLimitConfig struct {
	PerMinute int
}

var validSilenceBackends = map[string]bool{
	"redis":    true,
	"postgres": true,
	"memory":   true,
}

var validEmailProviders = map[string]bool{
	"none":   true,
	"smtp":   true,
	"resend": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      envInt("BUGNEST_PORT", 8080),
			Env:       envString("BUGNEST_ENV", "development"),
			LogLevel:  strings.ToLower(envString("LOG_LEVEL", "info")),
			PublicURL: strings.TrimRight(envString("BUGNEST_PUBLIC_URL", "http://localhost:8080"), "/"),
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
		Pipeline: PipelineConfig{
			Workers:          envInt("PIPELINE_WORKERS", 8),
			QueueSize:        envInt("PIPELINE_QUEUE_SIZE", 256),
			AggregateTimeout: envDuration("PIPELINE_AGGREGATE_TIMEOUT", 5*time.Second),
			DispatchTimeout:  envDuration("PIPELINE_DISPATCH_TIMEOUT", 30*time.Second),
			LockTTL:          envDuration("PIPELINE_LOCK_TTL", 10*time.Second),
		},
		Trend: TrendConfig{
			CacheTTL: envDuration("TREND_CACHE_TTL", time.Minute),
		},
		Notifier: NotifierConfig{
			SilenceBackend: strings.ToLower(envString("NOTIFIER_SILENCE_BACKEND", "redis")),
			EmailProvider:  strings.ToLower(envString("NOTIFIER_EMAIL_PROVIDER", "none")),
			EmailFrom:      envString("NOTIFIER_EMAIL_FROM", "bugnest@localhost"),
			SMTP: SMTPConfig{
				Host:     os.Getenv("SMTP_HOST"),
				Port:     envInt("SMTP_PORT", 587),
				Username: os.Getenv("SMTP_USERNAME"),
				Password: os.Getenv("SMTP_PASSWORD"),
			},
			ResendAPIKey:      os.Getenv("RESEND_API_KEY"),
			WebhookTimeout:    envDurationSecs("WEBHOOK_TIMEOUT_SECS", 10*time.Second),
			WebhookMaxRetries: envInt("WEBHOOK_MAX_RETRIES", 3),
		},
		Severity: SeverityConfig{
			SeriousTypes: envList("SEVERITY_SERIOUS_TYPES", []string{"uncaughtError", "unhandledrejectionError"}),
			WarningTypes: envList("SEVERITY_WARNING_TYPES", []string{"resourceError", "ajaxError", "fetchError", "websocketError"}),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("INGEST_RATE_LIMIT_PER_MINUTE", 600),
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

	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("BUGNEST_PUBLIC_URL must start with http:// or https://, got %q", c.Server.PublicURL)
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("PIPELINE_QUEUE_SIZE must be positive, got %d", c.Pipeline.QueueSize)
	}

	if !validSilenceBackends[c.Notifier.SilenceBackend] {
		return fmt.Errorf("NOTIFIER_SILENCE_BACKEND must be one of redis, postgres, memory; got %q", c.Notifier.SilenceBackend)
	}

	if !validEmailProviders[c.Notifier.EmailProvider] {
		return fmt.Errorf("NOTIFIER_EMAIL_PROVIDER must be one of none, smtp, resend; got %q", c.Notifier.EmailProvider)
	}
	if c.Notifier.EmailProvider == "smtp" && c.Notifier.SMTP.Host == "" {
		return fmt.Errorf("SMTP_HOST is required when NOTIFIER_EMAIL_PROVIDER is smtp")
	}
	if c.Notifier.EmailProvider == "resend" && c.Notifier.ResendAPIKey == "" {
		return fmt.Errorf("RESEND_API_KEY is required when NOTIFIER_EMAIL_PROVIDER is resend")
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

// envList parses a comma-separated list, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
