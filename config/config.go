package config

import (
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Tokens     TokensConfig     `yaml:"tokens"`
	Reports    ReportsConfig    `yaml:"reports"`
	Janitor    JanitorConfig    `yaml:"janitor"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the operator alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for operator web push alerts.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                  int            `yaml:"port"`
	RateLimitPerSec       float64        `yaml:"rate_limit_per_sec"`
	RateLimitBurst        int            `yaml:"rate_limit_burst"`
	CacheTTLSeconds       int            `yaml:"cache_ttl_seconds"`
	RequestTimeoutSeconds int            `yaml:"request_timeout_seconds"`
	RequestTimeout        time.Duration  `yaml:"-"`
	Timezone              string         `yaml:"timezone"`
	Location              *time.Location `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// TokensConfig holds the secrets used to sign device-facing and operator credentials.
type TokensConfig struct {
	MembershipSecret    string `yaml:"membership_secret"`
	DeviceTokenSecret   string `yaml:"device_token_secret"`
	DeviceTokenTTLDays  int    `yaml:"device_token_ttl_days"`
	OperatorSecret      string `yaml:"operator_secret"`
	OperatorTokenIssuer string `yaml:"operator_token_issuer"`
}

// ReportsConfig tunes the error-report intake pipeline.
type ReportsConfig struct {
	HourlyLimit        int  `yaml:"hourly_limit"`
	MaxSkewSeconds     int  `yaml:"max_skew_seconds"`
	MaxScreenshotBytes int  `yaml:"max_screenshot_bytes"`
	DuplicateConflict  bool `yaml:"duplicate_conflict"`
}

// JanitorConfig controls the periodic rate-limit counter pruning task.
type JanitorConfig struct {
	Enabled          bool          `yaml:"enabled"`
	IntervalSeconds  int           `yaml:"interval_seconds"`
	Interval         time.Duration `yaml:"-"`
	RetentionMinutes int           `yaml:"retention_minutes"`
	Retention        time.Duration `yaml:"-"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the configuration from the given path. Secrets present in the
// environment take precedence over the file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and secrets
// taken from the environment only.
func Default() (*Config, error) {
	var cfg Config
	cfg.Janitor.Enabled = true
	applyEnv(&cfg)
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"DATABASE_DSN":        &cfg.Database.DSN,
		"MEMBERSHIP_SECRET":   &cfg.Tokens.MembershipSecret,
		"DEVICE_TOKEN_SECRET": &cfg.Tokens.DeviceTokenSecret,
		"OPERATOR_JWT_SECRET": &cfg.Tokens.OperatorSecret,
		"VAPID_PUBLIC_KEY":    &cfg.Push.PublicKey,
		"VAPID_PRIVATE_KEY":   &cfg.Push.PrivateKey,
	}
	for key, dst := range overrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	if cfg.Server.RequestTimeoutSeconds <= 0 {
		cfg.Server.RequestTimeoutSeconds = 10
	}
	cfg.Server.RequestTimeout = time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second

	if cfg.Server.Timezone == "" {
		cfg.Server.Timezone = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(cfg.Server.Timezone)
	if err != nil {
		return err
	}
	cfg.Server.Location = loc

	if cfg.Tokens.DeviceTokenTTLDays <= 0 {
		cfg.Tokens.DeviceTokenTTLDays = 365
	}
	if cfg.Tokens.OperatorTokenIssuer == "" {
		cfg.Tokens.OperatorTokenIssuer = "entitlement-backend"
	}

	if cfg.Reports.HourlyLimit <= 0 {
		cfg.Reports.HourlyLimit = 100
	}
	if cfg.Reports.MaxSkewSeconds <= 0 {
		cfg.Reports.MaxSkewSeconds = 300
	}
	if cfg.Reports.MaxScreenshotBytes <= 0 {
		cfg.Reports.MaxScreenshotBytes = 200 * 1024
	}

	if cfg.Janitor.IntervalSeconds <= 0 {
		cfg.Janitor.IntervalSeconds = 600
	}
	cfg.Janitor.Interval = time.Duration(cfg.Janitor.IntervalSeconds) * time.Second
	if cfg.Janitor.RetentionMinutes <= 0 {
		cfg.Janitor.RetentionMinutes = 120
	}
	cfg.Janitor.Retention = time.Duration(cfg.Janitor.RetentionMinutes) * time.Minute

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		slog.Warn("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return nil
}
