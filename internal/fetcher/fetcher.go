// Package fetcher pulls per-track metadata from the catalog in batched
// requests: an audio-features pass and an optional artist pass.
//
// The export files carry no artist identifiers, so the artist pass first
// resolves track IDs to their lead artist through batched track lookups,
// then fetches the distinct artists.
package fetcher

import (
	"context"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/logging"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/models"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/retry"
)

// Catalog is the batched read surface the fetcher needs. Each method issues
// exactly one API request; the fetcher owns splitting ID lists into
// request-sized chunks. Unknown IDs come back as nil entries, not errors.
type Catalog interface {
	GetAudioFeatures(ctx context.Context, ids []string) ([]*models.AudioFeatures, error)
	GetTracks(ctx context.Context, ids []string) ([]*models.CatalogTrack, error)
	GetArtists(ctx context.Context, ids []string) ([]*models.ArtistInfo, error)
}

// Limits caps how many IDs ride in one request of each kind.
type Limits struct {
	Features int
	Tracks   int
	Artists  int
}

type Fetcher struct {
	catalog Catalog
	policy  retry.Policy
	limits  Limits

	// Run-wide memo: an ID fetched for one person is not fetched again for
	// a later person. Present-but-nil means the catalog had no entry.
	features map[string]*models.AudioFeatures
	tracks   map[string]*models.CatalogTrack
	artists  map[string]*models.ArtistInfo
}

func New(catalog Catalog, policy retry.Policy, limits Limits) *Fetcher {
	return &Fetcher{
		catalog:  catalog,
		policy:   policy,
		limits:   limits,
		features: make(map[string]*models.AudioFeatures),
		tracks:   make(map[string]*models.CatalogTrack),
		artists:  make(map[string]*models.ArtistInfo),
	}
}

// Metadata assembles the metadata map for the given track IDs: audio
// features when withFeatures, lead-artist genres and popularity when
// withArtists. IDs the catalog knows nothing about simply have nil fields.
func (f *Fetcher) Metadata(ctx context.Context, trackIDs []string, withFeatures, withArtists bool) (map[string]models.TrackMetadata, error) {
	out := make(map[string]models.TrackMetadata, len(trackIDs))
	if len(trackIDs) == 0 || (!withFeatures && !withArtists) {
		return out, nil
	}

	if withFeatures {
		if err := f.fetchFeatures(ctx, trackIDs); err != nil {
			return nil, err
		}
	}
	if withArtists {
		if err := f.fetchArtists(ctx, trackIDs); err != nil {
			return nil, err
		}
	}

	for _, id := range trackIDs {
		md := models.TrackMetadata{}
		if withFeatures {
			md.Features = f.features[id]
		}
		if withArtists {
			if t := f.tracks[id]; t != nil && t.ArtistID != "" {
				md.Artist = f.artists[t.ArtistID]
			}
		}
		out[id] = md
	}
	return out, nil
}

func (f *Fetcher) fetchFeatures(ctx context.Context, trackIDs []string) error {
	missing := missingIDs(trackIDs, f.features)

	for start := 0; start < len(missing); start += f.limits.Features {
		end := start + f.limits.Features
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]

		var feats []*models.AudioFeatures
		err := f.policy.Do(ctx, "get audio features", func() error {
			var ferr error
			feats, ferr = f.catalog.GetAudioFeatures(ctx, chunk)
			return ferr
		})
		if err != nil {
			if err := f.degradeChunk(ctx, err, len(chunk), "audio-features"); err != nil {
				return err
			}
			markMissing(chunk, f.features)
			continue
		}

		markMissing(chunk, f.features)
		for _, ft := range feats {
			if ft != nil {
				f.features[ft.ID] = ft
			}
		}
	}
	return nil
}

func (f *Fetcher) fetchArtists(ctx context.Context, trackIDs []string) error {
	if err := f.fetchTracks(ctx, trackIDs); err != nil {
		return err
	}

	// Distinct lead artists, in the order their tracks first appear.
	var artistIDs []string
	seen := make(map[string]struct{})
	for _, id := range trackIDs {
		t := f.tracks[id]
		if t == nil || t.ArtistID == "" {
			continue
		}
		if _, dup := seen[t.ArtistID]; dup {
			continue
		}
		seen[t.ArtistID] = struct{}{}
		artistIDs = append(artistIDs, t.ArtistID)
	}

	missing := missingIDs(artistIDs, f.artists)
	for start := 0; start < len(missing); start += f.limits.Artists {
		end := start + f.limits.Artists
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]

		var arts []*models.ArtistInfo
		err := f.policy.Do(ctx, "get artists", func() error {
			var aerr error
			arts, aerr = f.catalog.GetArtists(ctx, chunk)
			return aerr
		})
		if err != nil {
			if err := f.degradeChunk(ctx, err, len(chunk), "artists"); err != nil {
				return err
			}
			markMissing(chunk, f.artists)
			continue
		}

		markMissing(chunk, f.artists)
		for _, a := range arts {
			if a != nil {
				f.artists[a.ID] = a
			}
		}
	}
	return nil
}

func (f *Fetcher) fetchTracks(ctx context.Context, trackIDs []string) error {
	missing := missingIDs(trackIDs, f.tracks)

	for start := 0; start < len(missing); start += f.limits.Tracks {
		end := start + f.limits.Tracks
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]

		var full []*models.CatalogTrack
		err := f.policy.Do(ctx, "get tracks", func() error {
			var terr error
			full, terr = f.catalog.GetTracks(ctx, chunk)
			return terr
		})
		if err != nil {
			if err := f.degradeChunk(ctx, err, len(chunk), "tracks"); err != nil {
				return err
			}
			markMissing(chunk, f.tracks)
			continue
		}

		markMissing(chunk, f.tracks)
		for _, t := range full {
			if t != nil {
				f.tracks[t.ID] = t
			}
		}
	}
	return nil
}

// degradeChunk decides what a failed chunk means: auth errors and
// cancellation abort the run, anything else leaves the chunk's entries
// empty and lets the run continue.
func (f *Fetcher) degradeChunk(ctx context.Context, err error, size int, kind string) error {
	if f.policy.Class(err) == retry.Auth || ctx.Err() != nil {
		return err
	}
	logging.Error().
		Err(err).
		Int("ids", size).
		Str("kind", kind).
		Msg("Metadata chunk failed, leaving entries empty")
	return nil
}

// missingIDs returns the ids not yet present in the memo, deduplicated,
// preserving order.
func missingIDs[V any](ids []string, memo map[string]V) []string {
	var missing []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := memo[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// markMissing records that every id in chunk has been asked for, so a
// catalog with no entry for an ID is not asked again.
func markMissing[V any](chunk []string, memo map[string]*V) {
	for _, id := range chunk {
		if _, ok := memo[id]; !ok {
			memo[id] = nil
		}
	}
}
