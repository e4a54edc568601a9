// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token         string  `yaml:"token"`
	Username      string  `yaml:"username"`
	AdminIDs      []int64 `yaml:"admin_ids"`
	PaymentToken  string  `yaml:"payment_token"` // Telegram Payments provider token
	Currency      string  `yaml:"currency"`
	UpdateWorkers int     `yaml:"update_workers"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	StateTTL time.Duration `yaml:"state_ttl"` // purchase flow conversation state
}

type ProvisionConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIToken    string        `yaml:"api_token"`
	CallTimeout time.Duration `yaml:"call_timeout"` // per-RPC deadline
}

type ReconcileConfig struct {
	Interval      time.Duration `yaml:"interval"`       // health-check tick
	Cooldown      time.Duration `yaml:"cooldown"`       // min gap between full syncs
	TickTimeout   time.Duration `yaml:"tick_timeout"`   // whole-pass deadline
	HealthTimeout time.Duration `yaml:"health_timeout"` // per-check deadline
	BatchDelay    time.Duration `yaml:"batch_delay"`    // inter-call delay, provider rate limits
	BatchSize     int           `yaml:"batch_size"`     // max users per pass, 0 = unbounded
}

type ActivationConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

type PurchaseConfig struct {
	IntentTTL      time.Duration `yaml:"intent_ttl"`
	ExpiryInterval time.Duration `yaml:"expiry_interval"` // subscription expiry sweep
	ReferralPct    int           `yaml:"referral_percent"`
	LockTimeout    time.Duration `yaml:"lock_timeout"` // subscriber guard bound
}

type APIConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type Config struct {
	Bot        BotConfig        `yaml:"bot"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Provision  ProvisionConfig  `yaml:"provision"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Activation ActivationConfig `yaml:"activation"`
	Purchase   PurchaseConfig   `yaml:"purchase"`
	API        APIConfig        `yaml:"api"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Provision.BaseURL == "" {
		return nil, errors.New("provision.base_url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Bot.Currency == "" {
		cfg.Bot.Currency = "RUB"
	}
	if cfg.Bot.UpdateWorkers <= 0 {
		cfg.Bot.UpdateWorkers = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Redis.StateTTL <= 0 {
		cfg.Redis.StateTTL = 15 * time.Minute
	}
	if cfg.Provision.CallTimeout <= 0 {
		cfg.Provision.CallTimeout = 10 * time.Second
	}
	if cfg.Reconcile.Interval <= 0 {
		cfg.Reconcile.Interval = 5 * time.Minute
	}
	if cfg.Reconcile.Cooldown <= 0 {
		cfg.Reconcile.Cooldown = 5 * time.Minute
	}
	if cfg.Reconcile.TickTimeout <= 0 {
		cfg.Reconcile.TickTimeout = 4 * time.Minute
	}
	if cfg.Reconcile.HealthTimeout <= 0 {
		cfg.Reconcile.HealthTimeout = 15 * time.Second
	}
	if cfg.Reconcile.BatchDelay < 0 {
		cfg.Reconcile.BatchDelay = 0
	}
	if cfg.Activation.RetryInterval <= 0 {
		cfg.Activation.RetryInterval = time.Minute
	}
	if cfg.Activation.MaxAttempts <= 0 {
		cfg.Activation.MaxAttempts = 5
	}
	if cfg.Purchase.IntentTTL <= 0 {
		cfg.Purchase.IntentTTL = 5 * time.Minute
	}
	if cfg.Purchase.ExpiryInterval <= 0 {
		cfg.Purchase.ExpiryInterval = time.Minute
	}
	if cfg.Purchase.LockTimeout <= 0 {
		cfg.Purchase.LockTimeout = 15 * time.Second
	}
	if cfg.API.Port <= 0 {
		cfg.API.Port = 8080
	}
}
