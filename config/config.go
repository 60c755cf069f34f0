package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Device     DeviceConfig     `yaml:"device"`
	Auth       AuthConfig       `yaml:"auth"`
	Push       PushConfig       `yaml:"push"`
	Watch      WatchConfig      `yaml:"watch"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// DeviceConfig holds the device trust boundary configuration: the shared
// secret machines present on telemetry ingest, and the staleness window
// used to derive connectivity.
type DeviceConfig struct {
	APIToken              string        `yaml:"api_token"`
	LivenessWindowSeconds int           `yaml:"liveness_window_seconds"`
	LivenessWindow        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// AuthConfig holds the dashboard credential configuration. Tokens are
// issued by the clinic web application; this service only validates them.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WatchConfig holds the liveness sweep configuration.
type WatchConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
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

	if cfg.Device.LivenessWindowSeconds <= 0 {
		cfg.Device.LivenessWindowSeconds = 60
	}
	cfg.Device.LivenessWindow = time.Duration(cfg.Device.LivenessWindowSeconds) * time.Second

	if cfg.Watch.IntervalSeconds <= 0 {
		cfg.Watch.IntervalSeconds = 30
	}
	cfg.Watch.Interval = time.Duration(cfg.Watch.IntervalSeconds) * time.Second

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	// Environment override so the shared secret can stay out of the file.
	if token := os.Getenv("DEVICE_API_TOKEN"); token != "" {
		cfg.Device.APIToken = token
	}

	return &cfg, nil
}
