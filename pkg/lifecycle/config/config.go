// Package config assembles a lifecycle Service and its supporting
// infrastructure from environment variables, a config file, or code.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tendant/simple-lifecycle/pkg/lifecycle/scheduler"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Port:        "8080",
		Environment: "development",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Database: DatabaseConfig{
			Type:     "memory",
			MaxConns: 10,
		},
		Archive: ArchiveConfig{
			Type:   "none",
			Prefix: "versions",
		},
		Audit: AuditConfig{
			Source: "simple-lifecycle",
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: scheduler.DefaultInterval,
		},
		EventLogging:   true,
		EventQueueSize: 256,
	}
}

// Config represents the configuration of a lifecycle deployment
type Config struct {
	Port        string `env:"PORT" yaml:"port" env-description:"HTTP listen port"`
	Environment string `env:"ENVIRONMENT" yaml:"environment" env-description:"development, production or testing"`

	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Audit     AuditConfig     `yaml:"audit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Auth      AuthConfig      `yaml:"auth"`

	// Event fan-out
	EventLogging   bool `env:"EVENT_LOGGING" yaml:"event_logging" env-description:"Log every lifecycle event"`
	EventQueueSize int  `env:"EVENT_QUEUE_SIZE" yaml:"event_queue_size" env-description:"Async event queue size; 0 delivers synchronously"`

	// Publish policy
	RequiredFields []string `env:"REQUIRED_FIELDS" env-separator:"," yaml:"required_fields" env-description:"Fields that must be non-empty before publishing"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" yaml:"level" env-description:"debug, info, warn or error"`
	Format string `env:"LOG_FORMAT" yaml:"format" env-description:"text (colored) or json"`
}

// DatabaseConfig selects the repository
type DatabaseConfig struct {
	URL         string `env:"DATABASE_URL" yaml:"url" env-description:"memory or postgres://..."`
	Type        string `yaml:"type"` // "memory", "postgres"; derived from URL by WithEnv
	MaxConns    int32  `env:"DB_MAX_CONNS" yaml:"max_conns" env-description:"Postgres pool size"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" yaml:"auto_migrate" env-description:"Apply the lifecycle schema on startup"`
}

// ArchiveConfig selects where pruned versions are archived
type ArchiveConfig struct {
	URL    string `env:"ARCHIVE_URL" yaml:"url" env-description:"none, memory:// or s3://bucket?region=..."`
	Type   string `yaml:"type"` // "none", "memory", "s3"
	Prefix string `env:"ARCHIVE_PREFIX" yaml:"prefix" env-description:"Object key prefix for archived versions"`

	S3 S3Config `yaml:"s3"`
}

// S3Config holds S3 archive settings
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `env:"AWS_REGION" yaml:"region"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" yaml:"access_key_id"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" yaml:"secret_access_key"`
	Endpoint        string `env:"AWS_S3_ENDPOINT" yaml:"endpoint"`
	UsePathStyle    bool   `env:"AWS_S3_PATH_STYLE" yaml:"use_path_style"`
	EnableSSE       bool   `env:"AWS_S3_SSE" yaml:"enable_sse"`
	SSEAlgorithm    string `env:"AWS_S3_SSE_ALGORITHM" yaml:"sse_algorithm"`
	SSEKMSKeyID     string `env:"AWS_S3_SSE_KMS_KEY_ID" yaml:"sse_kms_key_id"`
	CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" yaml:"create_bucket"`
}

// AuditConfig points the CloudEvents audit forwarder at a sink
type AuditConfig struct {
	URL    string `env:"EVENT_AUDIT_URL" yaml:"url" env-description:"CloudEvents sink; empty disables auditing"`
	Source string `env:"EVENT_AUDIT_SOURCE" yaml:"source"`
}

// SchedulerConfig controls the due-publish loop
type SchedulerConfig struct {
	Enabled  bool          `env:"SCHEDULER_ENABLED" yaml:"enabled"`
	Interval time.Duration `env:"SCHEDULER_INTERVAL" yaml:"interval"`
}

// AuthConfig controls request authentication
type AuthConfig struct {
	JWTSecret    string `env:"JWT_SECRET" yaml:"jwt_secret" env-description:"HS256 secret; empty trusts the X-Actor-ID header"`
	APIKeySHA256 string `env:"API_KEY_SHA256" yaml:"api_key_sha256" env-description:"SHA256 of the API key; empty disables the check"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("log format must be 'text' or 'json'")
	}

	if c.Database.Type != "memory" && c.Database.Type != "postgres" {
		return errors.New("database type must be 'memory' or 'postgres'")
	}
	if c.Database.Type == "postgres" && c.Database.URL == "" {
		return errors.New("database url is required when using postgres")
	}
	if c.Database.MaxConns <= 0 {
		return errors.New("database max conns must be positive")
	}

	switch c.Archive.Type {
	case "none", "memory":
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return errors.New("s3 bucket is required for the s3 archive")
		}
	default:
		return fmt.Errorf("unsupported archive type: %s", c.Archive.Type)
	}

	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	if c.EventQueueSize < 0 {
		return errors.New("event queue size cannot be negative")
	}

	return nil
}

// WithPort sets the HTTP port
func WithPort(port string) Option {
	return func(c *Config) error {
		c.Port = port
		return nil
	}
}

// WithLogging sets the log level and format
func WithLogging(level, format string) Option {
	return func(c *Config) error {
		c.Log.Level = level
		c.Log.Format = format
		return nil
	}
}

// WithDatabase selects the repository
func WithDatabase(dbType, url string) Option {
	return func(c *Config) error {
		c.Database.Type = dbType
		c.Database.URL = url
		return nil
	}
}

// WithMemoryArchive archives pruned versions in process memory
func WithMemoryArchive() Option {
	return func(c *Config) error {
		c.Archive.Type = "memory"
		return nil
	}
}

// WithS3Archive archives pruned versions to an S3 bucket
func WithS3Archive(bucket, region string) Option {
	return func(c *Config) error {
		c.Archive.Type = "s3"
		c.Archive.S3.Bucket = bucket
		c.Archive.S3.Region = region
		return nil
	}
}

// WithAudit forwards lifecycle events to a CloudEvents sink
func WithAudit(url string) Option {
	return func(c *Config) error {
		c.Audit.URL = url
		return nil
	}
}

// WithScheduler enables or disables the due-publish loop
func WithScheduler(enabled bool, interval time.Duration) Option {
	return func(c *Config) error {
		c.Scheduler.Enabled = enabled
		c.Scheduler.Interval = interval
		return nil
	}
}

// WithEventQueue sets the async event queue size; 0 delivers synchronously
func WithEventQueue(size int) Option {
	return func(c *Config) error {
		c.EventQueueSize = size
		return nil
	}
}

// WithRequiredFields vetoes publishing items missing any of the fields
func WithRequiredFields(fields ...string) Option {
	return func(c *Config) error {
		c.RequiredFields = fields
		return nil
	}
}
