package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("", Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "MyData", cfg.Input.Dir)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.Equal(t, filepath.Join("output", "ledger.db"), cfg.Ledger.Path)
	assert.Equal(t, "GB", cfg.Spotify.Market)
	assert.Equal(t, 200*time.Millisecond, cfg.Spotify.RateEvery)
	assert.True(t, cfg.Features.Enabled)
	assert.False(t, cfg.Artist.Enabled)
	assert.Equal(t, 4, cfg.Retry.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Delay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5*time.Second, cfg.Retry.RateLimitWait)
	assert.Equal(t, 100, cfg.Batch.Features)
	assert.Equal(t, 50, cfg.Batch.Tracks)
	assert.Equal(t, 50, cfg.Batch.Artists)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"REHYDRATOR_INPUT_DIR", "input.dir"},
		{"REHYDRATOR_OUTPUT_DIR", "output.dir"},
		{"REHYDRATOR_LEDGER_PATH", "ledger.path"},
		{"REHYDRATOR_SPOTIFY_MARKET", "spotify.market"},
		{"REHYDRATOR_SPOTIFY_RATE_EVERY", "spotify.rate_every"},
		{"REHYDRATOR_FEATURES_ENABLED", "features.enabled"},
		{"REHYDRATOR_ARTIST_INFO_ENABLED", "artist.enabled"},
		{"REHYDRATOR_RETRY_ATTEMPTS", "retry.attempts"},
		{"REHYDRATOR_RETRY_MAX_DELAY", "retry.max_delay"},
		{"REHYDRATOR_BATCH_FEATURES", "batch.features"},
		{"REHYDRATOR_LOG_LEVEL", "log.level"},

		// Unknown variables are dropped, not guessed at.
		{"REHYDRATOR_BOGUS", ""},
		{"REHYDRATOR_SPOTIFY_TOKEN", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, envTransform(tt.input), "input %q", tt.input)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REHYDRATOR_SPOTIFY_MARKET", "us")
	t.Setenv("REHYDRATOR_RETRY_DELAY", "500ms")
	t.Setenv("REHYDRATOR_FEATURES_ENABLED", "false")
	t.Setenv("REHYDRATOR_BATCH_FEATURES", "25")

	cfg, err := Load("", Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "US", cfg.Spotify.Market, "market codes are normalized to upper case")
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.Delay)
	assert.False(t, cfg.Features.Enabled)
	assert.Equal(t, 25, cfg.Batch.Features)
}

func TestUnknownEnvIgnored(t *testing.T) {
	t.Setenv("REHYDRATOR_NO_SUCH_KEY", "surprise")

	cfg, err := Load("", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "GB", cfg.Spotify.Market)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rehydrator.yaml")
	yaml := []byte(`
input:
  dir: /data/exports
spotify:
  market: de
batch:
  features: 10
`)
	require.NoError(t, os.WriteFile(path, yaml, 0644))

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "/data/exports", cfg.Input.Dir)
	assert.Equal(t, "DE", cfg.Spotify.Market)
	assert.Equal(t, 10, cfg.Batch.Features)
	// Untouched settings keep their defaults.
	assert.Equal(t, "output", cfg.Output.Dir)
}

func TestConfigFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("spotify:\n  market: se\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rehydrator.yaml"), yaml, 0644))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "SE", cfg.Spotify.Market)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), Overrides{})
	assert.Error(t, err)
}

func TestOverridesOutrankEnv(t *testing.T) {
	t.Setenv("REHYDRATOR_OUTPUT_DIR", "envdir")
	t.Setenv("REHYDRATOR_ARTIST_INFO_ENABLED", "true")

	off := false
	cfg, err := Load("", Overrides{OutputDir: "flagdir", Artist: &off})
	require.NoError(t, err)

	assert.Equal(t, "flagdir", cfg.Output.Dir)
	assert.False(t, cfg.Artist.Enabled)
}

func TestDerivedLedgerPath(t *testing.T) {
	t.Run("follows the output directory", func(t *testing.T) {
		cfg, err := Load("", Overrides{OutputDir: "elsewhere"})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("elsewhere", "ledger.db"), cfg.Ledger.Path)
	})

	t.Run("explicit path wins", func(t *testing.T) {
		cfg, err := Load("", Overrides{OutputDir: "elsewhere", LedgerPath: "/var/lib/ledger.db"})
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/ledger.db", cfg.Ledger.Path)
	})
}

func TestValidation(t *testing.T) {
	t.Run("rejects three-letter market", func(t *testing.T) {
		_, err := Load("", Overrides{Market: "GBR"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Market")
	})

	t.Run("rejects oversized feature batches", func(t *testing.T) {
		t.Setenv("REHYDRATOR_BATCH_FEATURES", "500")
		_, err := Load("", Overrides{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Features")
	})

	t.Run("rejects zero retry attempts", func(t *testing.T) {
		t.Setenv("REHYDRATOR_RETRY_ATTEMPTS", "0")
		_, err := Load("", Overrides{})
		assert.Error(t, err)
	})

	t.Run("rejects unknown log level", func(t *testing.T) {
		_, err := Load("", Overrides{LogLevel: "verbose"})
		assert.Error(t, err)
	})

	t.Run("rejects max delay below the initial delay", func(t *testing.T) {
		t.Setenv("REHYDRATOR_RETRY_DELAY", "10s")
		t.Setenv("REHYDRATOR_RETRY_MAX_DELAY", "1s")
		_, err := Load("", Overrides{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry.max_delay")
	})
}
