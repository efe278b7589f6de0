package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Store.Backend = BackendNATS
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Store.Backend != BackendNATS {
		t.Errorf("Store.Backend = %q, want %q", loaded.Store.Backend, BackendNATS)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Store.Backend != BackendSQLite {
		t.Errorf("default backend = %q, want sqlite", cfg.Store.Backend)
	}
}

func TestLoadKeepsDefaultsForUnsetKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
default_profile = "home"

[store]
backend = "nats"

[store.nats]
url = "nats://broker:4222"
connect_timeout = "2s"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.NATS.URL != "nats://broker:4222" {
		t.Errorf("NATS.URL = %q", cfg.Store.NATS.URL)
	}
	if cfg.Store.NATS.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", cfg.Store.NATS.ConnectTimeout)
	}
	if cfg.Store.NATS.Bucket != "messenger" {
		t.Errorf("Bucket = %q, want default", cfg.Store.NATS.Bucket)
	}
	if cfg.Blob.Backend != BlobDir {
		t.Errorf("Blob.Backend = %q, want default", cfg.Blob.Backend)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MESSENGER_STORE_BACKEND", "memory")
	t.Setenv("MESSENGER_S3_BUCKET", "media")
	t.Setenv("MESSENGER_S3_PATH_STYLE", "true")
	t.Setenv("MESSENGER_NATS_CONNECT_TIMEOUT", "750ms")
	t.Setenv("MESSENGER_NATS_CONFLICT_RETRIES", "3")

	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Blob.S3.Bucket != "media" || !cfg.Blob.S3.PathStyle {
		t.Errorf("S3 = %+v", cfg.Blob.S3)
	}
	if cfg.Store.NATS.ConnectTimeout != 750*time.Millisecond {
		t.Errorf("ConnectTimeout = %v", cfg.Store.NATS.ConnectTimeout)
	}
	if cfg.Store.NATS.Bucket != "messenger" || cfg.Blob.S3.Region != "us-east-1" {
		t.Errorf("unset variables replaced defaults: %+v %+v", cfg.Store.NATS, cfg.Blob.S3)
	}
	if cfg.Store.NATS.ConflictRetries != 3 {
		t.Errorf("ConflictRetries = %d", cfg.Store.NATS.ConflictRetries)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	t.Setenv("MESSENGER_S3_PATH_STYLE", "sometimes")
	if err := ApplyEnv(Default()); err == nil {
		t.Error("ApplyEnv() expected error for bad bool")
	}
}

func TestResolveReadsDotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("MESSENGER_LOG_LEVEL=debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESSENGER_LOG_LEVEL", "")
	os.Unsetenv("MESSENGER_LOG_LEVEL")

	cfg, err := Resolve(filepath.Join(dir, "absent.toml"), envFile, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown store", func(c *Config) { c.Store.Backend = "redis" }, true},
		{"unknown blob", func(c *Config) { c.Blob.Backend = "ftp" }, true},
		{"s3 without bucket", func(c *Config) { c.Blob.Backend = BlobS3 }, true},
		{"s3 without public url", func(c *Config) { c.Blob.Backend = BlobS3; c.Blob.S3.Bucket = "b" }, true},
		{"s3 complete", func(c *Config) {
			c.Blob.Backend = BlobS3
			c.Blob.S3.Bucket = "b"
			c.Blob.S3.PublicBaseURL = "https://cdn.example.com/b"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
