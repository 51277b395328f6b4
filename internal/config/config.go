// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	SubmitRateLimit   int           `yaml:"submit_rate_limit"` // submissions per client per window, 0 disables
	SubmitRateWindow  time.Duration `yaml:"submit_rate_window"`
	AllowedOrigins    []string      `yaml:"allowed_origins"` // push channel origin patterns; empty means same host only
}

// EngineConfig is the single reconciliation policy shared by every job.
type EngineConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	RetentionWindow time.Duration `yaml:"retention_window"`
	GCInterval      time.Duration `yaml:"gc_interval"`
	AdoptInterval   time.Duration `yaml:"adopt_interval"` // shared stores only
	ResumeLimit     int           `yaml:"resume_limit"`
}

type ProviderConfig struct {
	Kind            string  `yaml:"kind"` // http | veo | sim
	BaseURL         string  `yaml:"base_url"`
	Token           string  `yaml:"token"`
	Model           string  `yaml:"model"` // veo only
	ConcurrentLimit int     `yaml:"concurrent_limit"`
	RatePerSecond   float64 `yaml:"rate_per_second"`
	Burst           int     `yaml:"burst"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // memory | redis | postgres
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type HubConfig struct {
	BufferSize   int           `yaml:"buffer_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Engine   EngineConfig   `yaml:"engine"`
	Provider ProviderConfig `yaml:"provider"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Hub      HubConfig      `yaml:"hub"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if tok := os.Getenv("PROVIDER_TOKEN"); tok != "" {
		cfg.Provider.Token = tok
	}
	cfg.Runtime.Dev = dev
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults. It does not validate.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	c.HTTP.ReadHeaderTimeout = orDuration(c.HTTP.ReadHeaderTimeout, 5*time.Second)
	c.HTTP.RequestTimeout = orDuration(c.HTTP.RequestTimeout, 30*time.Second)
	c.HTTP.ShutdownTimeout = orDuration(c.HTTP.ShutdownTimeout, 10*time.Second)
	c.HTTP.SubmitRateWindow = orDuration(c.HTTP.SubmitRateWindow, time.Minute)

	// 150 polls at 2s gives a job roughly five minutes.
	c.Engine.PollInterval = orDuration(c.Engine.PollInterval, 2*time.Second)
	if c.Engine.MaxAttempts <= 0 {
		c.Engine.MaxAttempts = 150
	}
	c.Engine.ProviderTimeout = orDuration(c.Engine.ProviderTimeout, 10*time.Second)
	c.Engine.RetentionWindow = orDuration(c.Engine.RetentionWindow, 15*time.Minute)
	c.Engine.GCInterval = orDuration(c.Engine.GCInterval, time.Minute)
	c.Engine.AdoptInterval = orDuration(c.Engine.AdoptInterval, 30*time.Second)
	if c.Engine.ResumeLimit <= 0 {
		c.Engine.ResumeLimit = 1000
	}

	c.Provider.Kind = strings.ToLower(strings.TrimSpace(c.Provider.Kind))
	if c.Provider.Kind == "" {
		c.Provider.Kind = "http"
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "veo-2.0-generate-001"
	}
	if c.Provider.ConcurrentLimit <= 0 {
		c.Provider.ConcurrentLimit = 16
	}
	if c.Provider.Burst <= 0 {
		c.Provider.Burst = 10
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "videogen"
	}

	if c.Hub.BufferSize <= 0 {
		c.Hub.BufferSize = 64
	}
	c.Hub.WriteTimeout = orDuration(c.Hub.WriteTimeout, 5*time.Second)
}

// Validate performs minimal validation of required fields.
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case "http":
		if c.Provider.BaseURL == "" {
			return errors.New("provider.base_url is required")
		}
	case "veo":
		if c.Provider.Token == "" {
			return errors.New("provider.token is required for veo")
		}
	case "sim":
		if !c.Runtime.Dev {
			return errors.New("provider.kind=sim is only allowed in dev mode")
		}
	default:
		return fmt.Errorf("unknown provider.kind %q", c.Provider.Kind)
	}

	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis.url is required")
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	if c.Engine.ProviderTimeout >= c.Engine.PollInterval*time.Duration(c.Engine.MaxAttempts) {
		return errors.New("engine.provider_timeout must be shorter than the whole attempt budget")
	}
	return nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
