package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxPageSize is the largest page the pull endpoint serves.
const MaxPageSize = 1000

// Config represents the application configuration shared by the auction
// and search services.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Replica        ReplicaConfig        `yaml:"replica"`
	Bus            BusConfig            `yaml:"bus"`
	Sync           SyncConfig           `yaml:"sync"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// DatabaseConfig holds the authoritative auction store settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
	Migrate  bool   `yaml:"migrate"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ReplicaConfig holds the search replica store settings.
type ReplicaConfig struct {
	Driver       string        `yaml:"driver"` // "redis" or "memory"
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	TombstoneTTL time.Duration `yaml:"tombstone_ttl"`
}

// BusConfig holds message bus settings.
type BusConfig struct {
	Driver         string        `yaml:"driver"` // "nats" or "memory"
	URL            string        `yaml:"url"`
	Stream         string        `yaml:"stream"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	Durable        string        `yaml:"durable"`
	MaxAge         time.Duration `yaml:"max_age"`
	AckWait        time.Duration `yaml:"ack_wait"`
	MaxDeliver     int           `yaml:"max_deliver"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	Workers        int           `yaml:"workers"`
}

// SyncConfig holds catch-up reconciliation settings.
type SyncConfig struct {
	AuctionServiceURL string        `yaml:"auction_service_url"`
	Interval          time.Duration `yaml:"interval"`
	PageSize          int           `yaml:"page_size"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	WatermarkLookback time.Duration `yaml:"watermark_lookback"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
	LogLevel       string `yaml:"log_level"` // debug, info, warn or error
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Default returns the configuration used before a file is applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Replica: ReplicaConfig{
			Driver:       "redis",
			Addr:         "localhost:6379",
			KeyPrefix:    "search",
			TombstoneTTL: 48 * time.Hour,
		},
		Bus: BusConfig{
			Driver:         "nats",
			URL:            "nats://localhost:4222",
			Stream:         "AUCTIONS",
			SubjectPrefix:  "auctions",
			Durable:        "search-replica",
			MaxAge:         24 * time.Hour,
			AckWait:        30 * time.Second,
			MaxDeliver:     10,
			PublishTimeout: 5 * time.Second,
			Workers:        8,
		},
		Sync: SyncConfig{
			AuctionServiceURL: "http://localhost:8080",
			Interval:          5 * time.Minute,
			PageSize:          500,
			RequestTimeout:    10 * time.Second,
			MaxRetries:        5,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctionsync",
			ServiceVersion: "0.1.0",
			LogLevel:       "info",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctionsync-catchup",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	switch c.Replica.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported replica driver %q: must be \"redis\" or \"memory\"", c.Replica.Driver)
	}
	switch c.Bus.Driver {
	case "nats", "memory":
	default:
		return fmt.Errorf("unsupported bus driver %q: must be \"nats\" or \"memory\"", c.Bus.Driver)
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > MaxPageSize {
		return fmt.Errorf("sync.page_size must be between 1 and %d, got %d", MaxPageSize, c.Sync.PageSize)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.WatermarkLookback < 0 {
		return fmt.Errorf("sync.watermark_lookback must not be negative, got %s", c.Sync.WatermarkLookback)
	}
	if c.Bus.Workers <= 0 {
		return fmt.Errorf("bus.workers must be positive, got %d", c.Bus.Workers)
	}
	return nil
}
