// Package resolver turns LookupKeys into catalog track IDs: one search per
// key, first candidate accepted, ledger consulted first.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/ledger"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/logging"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/models"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/retry"
)

// Searcher is the one catalog call the resolver needs.
type Searcher interface {
	// SearchTrack returns the first candidate for the artist/track pair, or
	// nil when the catalog offers none.
	SearchTrack(ctx context.Context, artist, track string) (*models.CatalogTrack, error)
}

// progressEvery is how many keys pass between progress log lines.
const progressEvery = 50

type Resolver struct {
	searcher Searcher
	store    ledger.Store
	policy   retry.Policy
}

func New(searcher Searcher, store ledger.Store, policy retry.Policy) *Resolver {
	return &Resolver{searcher: searcher, store: store, policy: policy}
}

// Stats counts what one Resolve pass did.
type Stats struct {
	Reused   int
	Searched int
	Found    int
	Missing  int
	Failed   int
}

// Resolve maps every key for the person. Keys already in the ledger are
// reused without touching the API; each fresh resolution is appended to the
// ledger before the next key is attempted, so an interrupted run resumes
// exactly where it stopped.
func (r *Resolver) Resolve(ctx context.Context, person string, keys []models.LookupKey) (map[models.LookupKey]models.ResolvedMatch, Stats, error) {
	known, err := r.store.Load(ctx, person)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("load ledger: %w", err)
	}

	out := make(map[models.LookupKey]models.ResolvedMatch, len(keys))
	var stats Stats
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		if match, ok := known[key]; ok {
			out[key] = match
			stats.Reused++
			continue
		}

		match, err := r.resolveOne(ctx, key)
		if err != nil {
			return nil, stats, err
		}
		stats.Searched++
		switch match.Status {
		case models.StatusFound:
			stats.Found++
		case models.StatusMissing:
			stats.Missing++
		case models.StatusFailed:
			stats.Failed++
		}

		if err := r.store.Append(ctx, person, match); err != nil {
			return nil, stats, fmt.Errorf("append ledger: %w", err)
		}
		out[key] = match

		if (i+1)%progressEvery == 0 || i+1 == len(keys) {
			logging.Info().
				Int("done", i+1).
				Int("total", len(keys)).
				Msg("Resolving tracks")
		}
	}
	return out, stats, nil
}

func (r *Resolver) resolveOne(ctx context.Context, key models.LookupKey) (models.ResolvedMatch, error) {
	var cand *models.CatalogTrack
	err := r.policy.Do(ctx, "search track", func() error {
		var serr error
		cand, serr = r.searcher.SearchTrack(ctx, key.Artist, key.Track)
		return serr
	})
	if err != nil {
		if r.policy.Class(err) == retry.Auth || ctx.Err() != nil {
			return models.ResolvedMatch{}, err
		}
		// Degrade to an unmatched key; the run carries on.
		logging.Error().
			Err(err).
			Str("artist", key.Artist).
			Str("track", key.Track).
			Msg("Search failed, recording as unmatched")
		return models.ResolvedMatch{Key: key, Status: models.StatusFailed}, nil
	}

	if cand == nil {
		return models.ResolvedMatch{Key: key, Status: models.StatusMissing}, nil
	}

	return models.ResolvedMatch{
		Key:           key,
		TrackID:       cand.ID,
		MatchedArtist: cand.ArtistName,
		MatchedTrack:  cand.Name,
		Confidence:    confidence(key, cand),
		Status:        models.StatusFound,
	}, nil
}

// confidence scores how close the catalog's naming is to the export's. The
// first candidate is accepted regardless; the score is recorded so a reader
// of the output can judge dubious matches.
func confidence(key models.LookupKey, cand *models.CatalogTrack) float64 {
	query := strings.ToLower(key.Artist + " " + key.Track)
	found := strings.ToLower(cand.ArtistName + " " + cand.Name)
	return strutil.Similarity(query, found, metrics.NewJaroWinkler())
}
