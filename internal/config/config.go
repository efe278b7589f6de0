package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Blob backends.
const (
	BlobDir = "dir"
	BlobS3  = "s3"
)

// Config represents the global ~/.messenger/config.toml. The env tags name the
// MESSENGER_* variables that override it.
type Config struct {
	DefaultProfile string      `toml:"default_profile" env:"PROFILE"`
	LogLevel       string      `toml:"log_level" env:"LOG_LEVEL"`
	Store          StoreConfig `toml:"store"`
	Blob           BlobConfig  `toml:"blob"`
}

// StoreConfig selects the document backend.
type StoreConfig struct {
	Backend string     `toml:"backend" env:"STORE_BACKEND"`
	NATS    NATSConfig `toml:"nats" envPrefix:"NATS_"`
}

// NATSConfig configures the JetStream key-value backend.
type NATSConfig struct {
	URL             string        `toml:"url" env:"URL"`
	Bucket          string        `toml:"bucket" env:"BUCKET"`
	ConflictRetries int           `toml:"conflict_retries" env:"CONFLICT_RETRIES"`
	ConnectTimeout  time.Duration `toml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// BlobConfig selects where attachments are stored.
type BlobConfig struct {
	Backend string   `toml:"backend" env:"BLOB_BACKEND"`
	Dir     string   `toml:"dir,omitempty" env:"BLOB_DIR"`
	S3      S3Config `toml:"s3" envPrefix:"S3_"`
}

// S3Config configures an S3-compatible bucket. PublicBaseURL is the prefix
// stored references are built from.
type S3Config struct {
	Bucket        string `toml:"bucket" env:"BUCKET"`
	Region        string `toml:"region" env:"REGION"`
	Endpoint      string `toml:"endpoint,omitempty" env:"ENDPOINT"`
	AccessKey     string `toml:"access_key,omitempty" env:"ACCESS_KEY"`
	SecretKey     string `toml:"secret_key,omitempty" env:"SECRET_KEY"`
	PathStyle     bool   `toml:"path_style" env:"PATH_STYLE"`
	PublicBaseURL string `toml:"public_base_url,omitempty" env:"PUBLIC_BASE_URL"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Backend: BackendSQLite,
			NATS: NATSConfig{
				URL:             "nats://127.0.0.1:4222",
				Bucket:          "messenger",
				ConflictRetries: 16,
				ConnectTimeout:  5 * time.Second,
			},
		},
		Blob: BlobConfig{
			Backend: BlobDir,
			S3:      S3Config{Region: "us-east-1"},
		},
	}
}

// Load reads config from the given path over the defaults. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default when the file is missing.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks backend names and the settings each backend needs.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendNATS, BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Blob.Backend {
	case BlobDir:
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket is required for the s3 backend")
		}
		if c.Blob.S3.PublicBaseURL == "" {
			return errors.New("blob.s3.public_base_url is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.Blob.Backend)
	}
	return nil
}
