// Package config loads the verifier's YAML configuration with environment
// overrides. Secrets can live in a local .env file during development and in
// real environment variables in deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	DNS       DNSConfig       `yaml:"dns"`
	Infra     InfraConfig     `yaml:"infra"`
	Worker    WorkerConfig    `yaml:"worker"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	API       APIConfig       `yaml:"api"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SMTPConfig tunes the probe sessions and the connection pool.
type SMTPConfig struct {
	HeloDomain            string `yaml:"helo_domain"`
	MailFrom              string `yaml:"mail_from"`
	Ports                 []int  `yaml:"ports"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	CommandTimeoutSeconds int    `yaml:"command_timeout_seconds"`
	MaxConnsPerHost       int    `yaml:"max_conns_per_host"`
	IdleTimeoutSeconds    int    `yaml:"idle_timeout_seconds"`
	ProxyURL              string `yaml:"proxy_url"` // optional SOCKS5 egress
}

// ConnectTimeout returns the configured connect timeout as a duration.
func (c SMTPConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// CommandTimeout returns the configured command timeout as a duration.
func (c SMTPConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// IdleTimeout returns the configured pool idle timeout as a duration.
func (c SMTPConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// DNSConfig tunes the MX resolver.
type DNSConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	CacheSize      int `yaml:"cache_size"`
}

// Timeout returns the configured lookup timeout as a duration.
func (c DNSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// InfraConfig tunes the infrastructure prober and website fingerprint.
type InfraConfig struct {
	WebTimeoutSeconds         int `yaml:"web_timeout_seconds"`
	FingerprintTimeoutSeconds int `yaml:"fingerprint_timeout_seconds"`
	TLSTimeoutSeconds         int `yaml:"tls_timeout_seconds"`
}

// WebTimeout returns the web presence check timeout.
func (c InfraConfig) WebTimeout() time.Duration {
	return time.Duration(c.WebTimeoutSeconds) * time.Second
}

// FingerprintTimeout returns the website fingerprint timeout.
func (c InfraConfig) FingerprintTimeout() time.Duration {
	return time.Duration(c.FingerprintTimeoutSeconds) * time.Second
}

// TLSTimeout returns the TLS connect check timeout.
func (c InfraConfig) TLSTimeout() time.Duration {
	return time.Duration(c.TLSTimeoutSeconds) * time.Second
}

// WorkerConfig tunes the verification worker pool.
type WorkerConfig struct {
	Concurrency          int `yaml:"concurrency"`
	SleepEmptySeconds    int `yaml:"sleep_empty_seconds"`
	BatchSize            int `yaml:"batch_size"`
	BatchMaxWaitMS       int `yaml:"batch_max_wait_ms"`
	GreylistRetries      int `yaml:"greylist_retries"`
	GreylistDelayMinutes int `yaml:"greylist_delay_minutes"`
	AddressBudgetSeconds int `yaml:"address_budget_seconds"`
}

// SleepEmpty returns the pause after an empty queue poll.
func (c WorkerConfig) SleepEmpty() time.Duration {
	return time.Duration(c.SleepEmptySeconds) * time.Second
}

// BatchMaxWait returns how long a partial domain batch may wait.
func (c WorkerConfig) BatchMaxWait() time.Duration {
	return time.Duration(c.BatchMaxWaitMS) * time.Millisecond
}

// GreylistDelay returns the delay between greylist attempts.
func (c WorkerConfig) GreylistDelay() time.Duration {
	return time.Duration(c.GreylistDelayMinutes) * time.Minute
}

// AddressBudget returns the hard per-address deadline.
func (c WorkerConfig) AddressBudget() time.Duration {
	return time.Duration(c.AddressBudgetSeconds) * time.Second
}

// RateLimitConfig tunes the per-domain token bucket and circuit breaker.
type RateLimitConfig struct {
	Capacity                float64 `yaml:"capacity"`
	RefillPerSecond         float64 `yaml:"refill_per_second"`
	BreakerWindowSeconds    int     `yaml:"breaker_window_seconds"`
	BreakerThreshold        int     `yaml:"breaker_threshold"`
	BreakerOpenSeconds      int     `yaml:"breaker_open_seconds"`
	GlobalRequestsPerSecond int     `yaml:"global_rps"`
}

// BreakerWindow returns the failure counting window.
func (c RateLimitConfig) BreakerWindow() time.Duration {
	return time.Duration(c.BreakerWindowSeconds) * time.Second
}

// BreakerOpenFor returns how long an opened breaker stays open.
func (c RateLimitConfig) BreakerOpenFor() time.Duration {
	return time.Duration(c.BreakerOpenSeconds) * time.Second
}

// APIConfig holds API authentication and CORS settings.
type APIConfig struct {
	APIKey      string   `yaml:"api_key"`
	JWTSecret   string   `yaml:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Load reads a YAML config file and applies defaults. A missing file yields
// a pure-defaults config so the binaries can run on env vars alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379"
	}
	if cfg.SMTP.HeloDomain == "" {
		cfg.SMTP.HeloDomain = "verifier.local"
	}
	if cfg.SMTP.MailFrom == "" {
		cfg.SMTP.MailFrom = "verify@checker.com"
	}
	if len(cfg.SMTP.Ports) == 0 {
		cfg.SMTP.Ports = []int{25, 587, 465}
	}
	if cfg.SMTP.ConnectTimeoutSeconds == 0 {
		cfg.SMTP.ConnectTimeoutSeconds = 4
	}
	if cfg.SMTP.CommandTimeoutSeconds == 0 {
		cfg.SMTP.CommandTimeoutSeconds = 10
	}
	if cfg.SMTP.MaxConnsPerHost == 0 {
		cfg.SMTP.MaxConnsPerHost = 3
	}
	if cfg.SMTP.IdleTimeoutSeconds == 0 {
		cfg.SMTP.IdleTimeoutSeconds = 60
	}
	if cfg.DNS.TimeoutSeconds == 0 {
		cfg.DNS.TimeoutSeconds = 4
	}
	if cfg.DNS.CacheSize == 0 {
		cfg.DNS.CacheSize = 2048
	}
	if cfg.Infra.WebTimeoutSeconds == 0 {
		cfg.Infra.WebTimeoutSeconds = 4
	}
	if cfg.Infra.FingerprintTimeoutSeconds == 0 {
		cfg.Infra.FingerprintTimeoutSeconds = 6
	}
	if cfg.Infra.TLSTimeoutSeconds == 0 {
		cfg.Infra.TLSTimeoutSeconds = 3
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 10
	}
	if cfg.Worker.SleepEmptySeconds == 0 {
		cfg.Worker.SleepEmptySeconds = 1
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 20
	}
	if cfg.Worker.BatchMaxWaitMS == 0 {
		cfg.Worker.BatchMaxWaitMS = 400
	}
	if cfg.Worker.GreylistRetries == 0 {
		cfg.Worker.GreylistRetries = 2
	}
	if cfg.Worker.GreylistDelayMinutes == 0 {
		cfg.Worker.GreylistDelayMinutes = 5
	}
	if cfg.Worker.AddressBudgetSeconds == 0 {
		cfg.Worker.AddressBudgetSeconds = 240
	}
	if cfg.RateLimit.Capacity == 0 {
		cfg.RateLimit.Capacity = 20
	}
	if cfg.RateLimit.RefillPerSecond == 0 {
		cfg.RateLimit.RefillPerSecond = 10
	}
	if cfg.RateLimit.BreakerWindowSeconds == 0 {
		cfg.RateLimit.BreakerWindowSeconds = 60
	}
	if cfg.RateLimit.BreakerThreshold == 0 {
		cfg.RateLimit.BreakerThreshold = 5
	}
	if cfg.RateLimit.BreakerOpenSeconds == 0 {
		cfg.RateLimit.BreakerOpenSeconds = 30
	}
	if cfg.RateLimit.GlobalRequestsPerSecond == 0 {
		cfg.RateLimit.GlobalRequestsPerSecond = 50
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SMTP_HELO_DOMAIN"); v != "" {
		cfg.SMTP.HeloDomain = v
	}
	if v := os.Getenv("SMTP_MAIL_FROM"); v != "" {
		cfg.SMTP.MailFrom = v
	}
	if v := os.Getenv("SMTP_PROXY_URL"); v != "" {
		cfg.SMTP.ProxyURL = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("WORKER_SLEEP_EMPTY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.SleepEmptySeconds = n
		}
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}

	return cfg, nil
}
