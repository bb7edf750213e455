package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all console configuration
type Config struct {
	App       AppConfig
	API       APIConfig
	Session   SessionConfig
	Cache     CacheConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string `validate:"required"`
	Env  string `validate:"oneof=development testing staging production"`
}

// APIConfig holds backend API settings
type APIConfig struct {
	BaseURL string        `validate:"required,url"`
	Timeout time.Duration `validate:"min=0"`
}

// SessionConfig holds session manager settings
type SessionConfig struct {
	InitTimeout time.Duration `validate:"min=0"` // bound on the boot-time restore wait
	// RefreshInterval is how often an authenticated session is extended
	RefreshInterval time.Duration `validate:"min=0"`
	// ReconcileInterval is how often the accessible-project list is reloaded
	ReconcileInterval time.Duration `validate:"min=0"`
}

// CacheConfig holds read-model cache settings
type CacheConfig struct {
	Enabled         bool
	TTL             time.Duration `validate:"min=0"`
	MaxStaleAge     time.Duration `validate:"min=0"`
	RefreshTimeout  time.Duration `validate:"min=0"`
	CleanupInterval time.Duration `validate:"min=0"`
}

// StorageConfig holds durable key-value storage settings
type StorageConfig struct {
	// Path is the durable store file; empty keeps everything in memory
	Path string
}

// RedisConfig holds the optional ephemeral cache tier settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int `validate:"min=0,max=65535"`
	Password string
	DB       int `validate:"min=0"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
	Output string `validate:"required"` // stdout, stderr, or file path
}

// TelemetryConfig holds OpenTelemetry metrics configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string // OTEL collector gRPC endpoint, e.g. "localhost:4317"
	ServiceName       string
	Insecure          bool // non-TLS connection (development only)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CONSOLE_ prefix (e.g., CONSOLE_API_BASE_URL)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./console")
	v.AddConfigPath("$HOME/.config/erp-console")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CONSOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		API: APIConfig{
			BaseURL: v.GetString("api.base_url"),
			Timeout: v.GetDuration("api.timeout"),
		},
		Session: SessionConfig{
			InitTimeout:       v.GetDuration("session.init_timeout"),
			RefreshInterval:   v.GetDuration("session.refresh_interval"),
			ReconcileInterval: v.GetDuration("session.reconcile_interval"),
		},
		Cache: CacheConfig{
			Enabled:         v.GetBool("cache.enabled"),
			TTL:             v.GetDuration("cache.ttl"),
			MaxStaleAge:     v.GetDuration("cache.max_stale_age"),
			RefreshTimeout:  v.GetDuration("cache.refresh_timeout"),
			CleanupInterval: v.GetDuration("cache.cleanup_interval"),
		},
		Storage: StorageConfig{
			Path: v.GetString("storage.path"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	// Cache defaults to enabled unless the key is present and false
	if !v.IsSet("cache.enabled") {
		cfg.Cache.Enabled = true
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "erp-console"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:8080"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 15 * time.Second
	}
	if cfg.Session.InitTimeout == 0 {
		cfg.Session.InitTimeout = 5 * time.Second
	}
	if cfg.Session.RefreshInterval == 0 {
		cfg.Session.RefreshInterval = 10 * time.Minute
	}
	if cfg.Session.ReconcileInterval == 0 {
		cfg.Session.ReconcileInterval = 5 * time.Minute
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.MaxStaleAge == 0 {
		cfg.Cache.MaxStaleAge = time.Hour
	}
	if cfg.Cache.RefreshTimeout == 0 {
		cfg.Cache.RefreshTimeout = 30 * time.Second
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = 30 * time.Second
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "erp-console"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			f := invalid[0]
			return fmt.Errorf("invalid config value for %s (rule %q)", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.Cache.MaxStaleAge < c.Cache.TTL {
		return fmt.Errorf("cache.max_stale_age (%s) cannot be shorter than cache.ttl (%s)",
			c.Cache.MaxStaleAge, c.Cache.TTL)
	}

	if c.App.Env == "production" {
		if strings.HasPrefix(c.API.BaseURL, "http://") {
			return fmt.Errorf("api.base_url must use https in production")
		}
		if c.Telemetry.Enabled && c.Telemetry.Insecure {
			return fmt.Errorf("telemetry.insecure must be false in production")
		}
	}

	return nil
}

// Addr returns the host:port address of the Redis tier
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
