// Package config loads the rehydrator configuration from layered sources:
// built-in defaults, an optional YAML file, REHYDRATOR_* environment
// variables, and finally command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of configuration environment variables, e.g.
// REHYDRATOR_INPUT_DIR.
const EnvPrefix = "REHYDRATOR_"

// defaultConfigFile is picked up from the working directory when no
// -config flag is given.
const defaultConfigFile = "rehydrator.yaml"

type Config struct {
	Input    InputConfig    `koanf:"input"`
	Output   OutputConfig   `koanf:"output"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Spotify  SpotifyConfig  `koanf:"spotify"`
	Features FeaturesConfig `koanf:"features"`
	Artist   ArtistConfig   `koanf:"artist"`
	Retry    RetryConfig    `koanf:"retry"`
	Batch    BatchConfig    `koanf:"batch"`
	Log      LogConfig      `koanf:"log"`
}

// InputConfig locates the streaming-history export files.
type InputConfig struct {
	Dir string `koanf:"dir" validate:"required"`
}

// OutputConfig locates the hydrated TSV files.
type OutputConfig struct {
	Dir string `koanf:"dir" validate:"required"`
}

// LedgerConfig locates the resume ledger. An empty path defaults to
// ledger.db inside the output directory.
type LedgerConfig struct {
	Path string `koanf:"path"`
}

// SpotifyConfig tunes the catalog client.
type SpotifyConfig struct {
	// Market is the two-letter country code every search is constrained to.
	Market string `koanf:"market" validate:"required,len=2,alpha"`

	// RateEvery is the minimum interval between API calls, shared by all
	// persons in a run.
	RateEvery time.Duration `koanf:"rate_every" validate:"min=0"`
}

// FeaturesConfig toggles the audio-features pass.
type FeaturesConfig struct {
	Enabled bool `koanf:"enabled"`
}

// ArtistConfig toggles the artist genre/popularity pass.
type ArtistConfig struct {
	Enabled bool `koanf:"enabled"`
}

// RetryConfig bounds how failed API calls are repeated.
type RetryConfig struct {
	Attempts      int           `koanf:"attempts" validate:"min=1"`
	Delay         time.Duration `koanf:"delay" validate:"min=0"`
	MaxDelay      time.Duration `koanf:"max_delay" validate:"min=0"`
	RateLimitWait time.Duration `koanf:"rate_limit_wait" validate:"min=0"`
}

// BatchConfig caps how many IDs ride in one batched request. The maxima
// are the documented API limits per endpoint.
type BatchConfig struct {
	Features int `koanf:"features" validate:"min=1,max=100"`
	Tracks   int `koanf:"tracks" validate:"min=1,max=50"`
	Artists  int `koanf:"artists" validate:"min=1,max=50"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Input:  InputConfig{Dir: "MyData"},
		Output: OutputConfig{Dir: "output"},
		Spotify: SpotifyConfig{
			Market:    "GB",
			RateEvery: 200 * time.Millisecond,
		},
		Features: FeaturesConfig{Enabled: true},
		Artist:   ArtistConfig{Enabled: false},
		Retry: RetryConfig{
			Attempts:      4,
			Delay:         2 * time.Second,
			MaxDelay:      30 * time.Second,
			RateLimitWait: 5 * time.Second,
		},
		Batch: BatchConfig{Features: 100, Tracks: 50, Artists: 50},
		Log:   LogConfig{Level: "info", Format: "console"},
	}
}

// Overrides carries command-line values that outrank every other source.
// Zero fields mean "not set".
type Overrides struct {
	InputDir   string
	OutputDir  string
	LedgerPath string
	Market     string
	Features   *bool
	Artist     *bool
	LogLevel   string
	LogFormat  string
}

// Load builds the configuration. If path is empty, rehydrator.yaml in the
// working directory is used when present; a non-empty path must exist.
func Load(path string, o Overrides) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	o.apply(cfg)
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransform maps REHYDRATOR_* variables to config paths. Unknown
// variables map to the empty string and are dropped, so unrelated
// environment entries cannot leak into the config.
func envTransform(key string) string {
	mappings := map[string]string{
		"input_dir":             "input.dir",
		"output_dir":            "output.dir",
		"ledger_path":           "ledger.path",
		"spotify_market":        "spotify.market",
		"spotify_rate_every":    "spotify.rate_every",
		"features_enabled":      "features.enabled",
		"artist_info_enabled":   "artist.enabled",
		"retry_attempts":        "retry.attempts",
		"retry_delay":           "retry.delay",
		"retry_max_delay":       "retry.max_delay",
		"retry_rate_limit_wait": "retry.rate_limit_wait",
		"batch_features":        "batch.features",
		"batch_tracks":          "batch.tracks",
		"batch_artists":         "batch.artists",
		"log_level":             "log.level",
		"log_format":            "log.format",
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}

func (o Overrides) apply(c *Config) {
	if o.InputDir != "" {
		c.Input.Dir = o.InputDir
	}
	if o.OutputDir != "" {
		c.Output.Dir = o.OutputDir
	}
	if o.LedgerPath != "" {
		c.Ledger.Path = o.LedgerPath
	}
	if o.Market != "" {
		c.Spotify.Market = o.Market
	}
	if o.Features != nil {
		c.Features.Enabled = *o.Features
	}
	if o.Artist != nil {
		c.Artist.Enabled = *o.Artist
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Log.Format = o.LogFormat
	}
}

// applyDerived fills values that depend on other settings.
func (c *Config) applyDerived() {
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.Output.Dir, "ledger.db")
	}
	c.Spotify.Market = strings.ToUpper(c.Spotify.Market)
}

// Validate checks the configuration, returning a descriptive error for the
// first problem found.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails rule %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.Delay {
		return fmt.Errorf("invalid config: retry.max_delay %s is below retry.delay %s",
			c.Retry.MaxDelay, c.Retry.Delay)
	}
	return nil
}
