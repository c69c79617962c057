// Package main is the entry point for the rehydrator, a batch tool that
// enriches Spotify streaming-history exports (StreamingHistory<N>.json)
// with track identifiers, audio features and artist metadata, writing one
// TSV per person.
//
// Credentials come from SPOTIFY_ID and SPOTIFY_SECRET (a .env file in the
// working directory is honoured). Everything else is layered configuration:
// built-in defaults, an optional rehydrator.yaml, REHYDRATOR_* environment
// variables, then command-line flags.
//
// Progress survives interruption: every resolved track is recorded in a
// SQLite ledger, so a rerun only searches what the previous run never got to.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/config"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/fetcher"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/ledger"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/logging"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/rehydrate"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/resolver"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/retry"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/spotify"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Rehydration failed")
	}
}

func run() error {
	// A .env file is optional; variables already in the environment win.
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "path to a YAML config file (default: rehydrator.yaml if present)")
		inputDir   = flag.String("input", "", "directory holding the streaming-history JSON files")
		outputDir  = flag.String("output", "", "directory the hydrated TSV files are written to")
		ledgerPath = flag.String("ledger", "", "path of the resume ledger database")
		market     = flag.String("market", "", "two-letter market code searches are constrained to")
		features   = flag.Bool("features", true, "fetch audio features for matched tracks")
		artistInfo = flag.Bool("artist-info", false, "fetch genre and popularity of each track's lead artist")
		logLevel   = flag.String("log-level", "", "log level: trace, debug, info, warn or error")
		logFormat  = flag.String("log-format", "", "log format: console or json")
	)
	flag.Parse()

	overrides := config.Overrides{
		InputDir:   *inputDir,
		OutputDir:  *outputDir,
		LedgerPath: *ledgerPath,
		Market:     *market,
		LogLevel:   *logLevel,
		LogFormat:  *logFormat,
	}
	// Boolean flags only override when given explicitly, so config files
	// and environment variables keep working for them.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "features":
			overrides.Features = features
		case "artist-info":
			overrides.Artist = artistInfo
		}
	})

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	// 1. Validate credentials (fail fast).
	creds := spotify.Credentials{
		ID:     os.Getenv("SPOTIFY_ID"),
		Secret: os.Getenv("SPOTIFY_SECRET"),
	}
	if creds.ID == "" || creds.Secret == "" {
		return errors.New("SPOTIFY_ID and SPOTIFY_SECRET must be set in the environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Resume ledger.
	store, err := ledger.OpenSQLite(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ledger")
		}
	}()

	// 3. Spotify client and retry policy.
	client, err := spotify.New(ctx, creds, cfg.Spotify.Market, cfg.Spotify.RateEvery)
	if err != nil {
		return err
	}
	policy := retry.Policy{
		MaxAttempts:   cfg.Retry.Attempts,
		Delay:         cfg.Retry.Delay,
		MaxDelay:      cfg.Retry.MaxDelay,
		RateLimitWait: cfg.Retry.RateLimitWait,
		Classify:      spotify.Classify,
	}

	// 4. Pipeline.
	output, err := rehydrate.NewDirStore(cfg.Output.Dir)
	if err != nil {
		return err
	}
	r := rehydrate.New(
		resolver.New(client, store, policy),
		fetcher.New(client, policy, fetcher.Limits{
			Features: cfg.Batch.Features,
			Tracks:   cfg.Batch.Tracks,
			Artists:  cfg.Batch.Artists,
		}),
		output,
		rehydrate.Options{Features: cfg.Features.Enabled, Artist: cfg.Artist.Enabled},
	)

	logging.Info().
		Str("input", cfg.Input.Dir).
		Str("output", cfg.Output.Dir).
		Str("ledger", cfg.Ledger.Path).
		Str("market", cfg.Spotify.Market).
		Bool("features", cfg.Features.Enabled).
		Bool("artist_info", cfg.Artist.Enabled).
		Msg("Starting rehydration")

	_, err = r.Run(ctx, cfg.Input.Dir)
	if errors.Is(err, context.Canceled) {
		logging.Warn().Msg("Interrupted; the ledger keeps finished lookups, rerun to resume")
	}
	return err
}
