// Package config loads runtime configuration from a YAML file with
// environment overrides. Secrets live in the environment (or a local .env
// file); the YAML carries structure and defaults.
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
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Blob     BlobConfig     `yaml:"blob"`
	Email    EmailConfig    `yaml:"email"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Sweeps   SweepsConfig   `yaml:"sweeps"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds the Postgres connection settings. An empty URL runs
// the process on the in-memory store (tests, demos).
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds the optional Redis settings used for distributed locks
// and the heartbeat debounce. An empty Addr falls back to store-backed
// leases and in-process debounce.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BlobConfig selects the attachment body backend.
type BlobConfig struct {
	Type       string `yaml:"type"` // "local" or "s3"
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	AWSProfile string `yaml:"aws_profile"`
}

// EmailConfig holds ingest and delivery settings shared by all inboxes.
// Per-inbox transport lives in the inbox config store.
type EmailConfig struct {
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	Provider            string `yaml:"provider"` // "smtp" (per inbox) or "ses"
	SESRegion           string `yaml:"ses_region"`
}

// PollInterval returns the poll interval as a duration.
func (e EmailConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

// JobsConfig tunes the background job runner.
type JobsConfig struct {
	Workers                 int `yaml:"workers"`
	PollIntervalSeconds     int `yaml:"poll_interval_seconds"`
	RecoveryIntervalSeconds int `yaml:"recovery_interval_seconds"`
}

// SweepsConfig tunes the SLA breach and availability sweepers.
type SweepsConfig struct {
	SLAIntervalSeconds          int `yaml:"sla_interval_seconds"`
	AvailabilityIntervalSeconds int `yaml:"availability_interval_seconds"`
}

// SecurityConfig holds secrets. EncryptionSecret seals inbox credentials at
// rest and must be set outside of tests.
type SecurityConfig struct {
	EncryptionSecret string `yaml:"encryption_secret"`
}

// Load reads and parses the configuration file, applying defaults. An empty
// path yields a default configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Blob.Type == "" {
		cfg.Blob.Type = "local"
	}
	if cfg.Blob.LocalPath == "" {
		cfg.Blob.LocalPath = "./data/blobs"
	}
	if cfg.Email.PollIntervalSeconds == 0 {
		cfg.Email.PollIntervalSeconds = 30
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "smtp"
	}
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = 4
	}
	if cfg.Jobs.PollIntervalSeconds == 0 {
		cfg.Jobs.PollIntervalSeconds = 1
	}
	if cfg.Jobs.RecoveryIntervalSeconds == 0 {
		cfg.Jobs.RecoveryIntervalSeconds = 60
	}
	if cfg.Sweeps.SLAIntervalSeconds == 0 {
		cfg.Sweeps.SLAIntervalSeconds = 30
	}
	if cfg.Sweeps.AvailabilityIntervalSeconds == 0 {
		cfg.Sweeps.AvailabilityIntervalSeconds = 60
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides. A
// .env file (if present) is read first, so secrets can live in .env locally
// and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = n
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}
	if secret := os.Getenv("ENCRYPTION_SECRET"); secret != "" {
		cfg.Security.EncryptionSecret = secret
	}
	if bucket := os.Getenv("BLOB_S3_BUCKET"); bucket != "" {
		cfg.Blob.Type = "s3"
		cfg.Blob.S3Bucket = bucket
	}
	if region := os.Getenv("BLOB_S3_REGION"); region != "" {
		cfg.Blob.S3Region = region
	}
	if profile := os.Getenv("AWS_PROFILE_OVERRIDE"); profile != "" {
		cfg.Blob.AWSProfile = profile
	}
	if region := os.Getenv("SES_REGION"); region != "" {
		cfg.Email.Provider = "ses"
		cfg.Email.SESRegion = region
	}

	return cfg, nil
}
