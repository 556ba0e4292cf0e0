package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

email:
  poll_interval_seconds: 15

blob:
  type: s3
  s3_bucket: oxidesk-attachments
  s3_region: us-east-1

jobs:
  workers: 8
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, 15, cfg.Email.PollIntervalSeconds)
	assert.Equal(t, "s3", cfg.Blob.Type)
	assert.Equal(t, "oxidesk-attachments", cfg.Blob.S3Bucket)
	assert.Equal(t, 8, cfg.Jobs.Workers)

	// Unset fields fall back to defaults.
	assert.Equal(t, "smtp", cfg.Email.Provider)
	assert.Equal(t, 1, cfg.Jobs.PollIntervalSeconds)
	assert.Equal(t, 30, cfg.Sweeps.SLAIntervalSeconds)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Blob.Type)
	assert.Equal(t, 30, cfg.Email.PollIntervalSeconds)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://app@db/oxidesk")
	t.Setenv("ENCRYPTION_SECRET", "s3cret")
	t.Setenv("BLOB_S3_BUCKET", "env-bucket")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres://app@db/oxidesk", cfg.Database.URL)
	assert.Equal(t, "s3cret", cfg.Security.EncryptionSecret)
	assert.Equal(t, "s3", cfg.Blob.Type)
	assert.Equal(t, "env-bucket", cfg.Blob.S3Bucket)
}
