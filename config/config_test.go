// ffscript/config/config_test.go
package config_test

import (
	"testing"
	"time"

	"ffscript/config"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		// Ensure no env vars are lingering from other tests
		t.Setenv("FFSCRIPT_PORT", "")
		t.Setenv("FFSCRIPT_MAX_CONCURRENCY", "")
		t.Setenv("FFSCRIPT_AUTH_ENABLE", "")
		t.Setenv("FFSCRIPT_FF_TIMEOUT", "")
		t.Setenv("FFSCRIPT_MAX_INPUT_SIZE", "")
		t.Setenv("FFSCRIPT_DEFAULT_MODE", "")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 1, cfg.MaxConcurrency)
		assert.Equal(t, 10, cfg.MaxFiles)
		assert.Equal(t, false, cfg.AuthEnable)
		assert.Equal(t, "ffmpeg", cfg.FFBin)
		assert.Equal(t, 12*time.Minute+3*time.Second, cfg.FFTimeout)
		assert.Equal(t, int64(200*1024*1024), cfg.MaxInputSize)
		assert.Equal(t, "local", cfg.DefaultMode)
		assert.Equal(t, "sqlite", cfg.DBDriver)
		assert.Equal(t, "fs", cfg.StorageBackend)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("FFSCRIPT_PORT", "9999")
		t.Setenv("FFSCRIPT_MAX_CONCURRENCY", "10")
		t.Setenv("FFSCRIPT_AUTH_ENABLE", "true")
		t.Setenv("FFSCRIPT_AUTH_KEY", "newsecret")
		t.Setenv("FFSCRIPT_MAX_INPUT_SIZE", "50MB")
		t.Setenv("FFSCRIPT_OUTPUT_LOCAL_LIFETIME", "30m")
		t.Setenv("FFSCRIPT_STORAGE_BACKEND", "s3")
		t.Setenv("FFSCRIPT_S3_BUCKET", "media")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 10, cfg.MaxConcurrency)
		assert.Equal(t, true, cfg.AuthEnable)
		assert.Equal(t, "newsecret", cfg.AuthKey)
		assert.Equal(t, int64(50*1024*1024), cfg.MaxInputSize)
		assert.Equal(t, 30*time.Minute, cfg.OutputLocalLifetime)
		assert.Equal(t, "s3", cfg.StorageBackend)
		assert.Equal(t, "media", cfg.S3Bucket)
	})
}
