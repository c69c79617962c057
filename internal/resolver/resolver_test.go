package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/ledger"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/logging"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/models"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/retry"
)

var (
	errUpstream = errors.New("upstream hiccup")
	errBadCreds = errors.New("invalid client credentials")
)

func classify(err error) retry.Class {
	if errors.Is(err, errBadCreds) {
		return retry.Auth
	}
	return retry.Transient
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 2,
		Delay:       time.Millisecond,
		Classify:    classify,
	}
}

// fakeSearcher serves canned candidates; keys absent from results yield no
// candidates, keys in errs always fail.
type fakeSearcher struct {
	calls   int
	results map[models.LookupKey]*models.CatalogTrack
	errs    map[models.LookupKey]error
}

func (f *fakeSearcher) SearchTrack(_ context.Context, artist, track string) (*models.CatalogTrack, error) {
	f.calls++
	key := models.LookupKey{Artist: artist, Track: track}
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.results[key], nil
}

func catalogTrack(id, artist, name string) *models.CatalogTrack {
	return &models.CatalogTrack{ID: id, Name: name, ArtistID: "artist-" + id, ArtistName: artist}
}

func keyOf(artist, track string) models.LookupKey {
	return models.LookupKey{Artist: artist, Track: track}
}

func TestMain(m *testing.M) {
	logging.SetLogger(zerolog.Nop())
	m.Run()
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("searches each key exactly once", func(t *testing.T) {
		k1 := keyOf("Nina Simone", "Sinnerman")
		k2 := keyOf("Portishead", "Glory Box")
		searcher := &fakeSearcher{results: map[models.LookupKey]*models.CatalogTrack{
			k1: catalogTrack("id1", "Nina Simone", "Sinnerman"),
			k2: catalogTrack("id2", "Portishead", "Glory Box"),
		}}
		store := ledger.NewMemory()

		out, stats, err := New(searcher, store, testPolicy()).Resolve(ctx, "p1", []models.LookupKey{k1, k2})
		require.NoError(t, err)

		assert.Equal(t, 2, searcher.calls)
		assert.Equal(t, 2, stats.Searched)
		assert.Equal(t, 2, stats.Found)
		assert.Equal(t, 2, store.Appends)

		require.Contains(t, out, k1)
		m := out[k1]
		assert.Equal(t, "id1", m.TrackID)
		assert.Equal(t, models.StatusFound, m.Status)
		assert.InDelta(t, 1.0, m.Confidence, 0.0001, "identical naming scores full confidence")
	})

	t.Run("reuses ledger entries without searching", func(t *testing.T) {
		k1 := keyOf("Nina Simone", "Sinnerman")
		k2 := keyOf("Portishead", "Glory Box")
		store := ledger.NewMemory()
		require.NoError(t, store.Append(ctx, "p1", models.ResolvedMatch{
			Key: k1, TrackID: "id1", Status: models.StatusFound,
		}))
		require.NoError(t, store.Append(ctx, "p1", models.ResolvedMatch{
			Key: k2, Status: models.StatusMissing,
		}))
		searcher := &fakeSearcher{}

		out, stats, err := New(searcher, store, testPolicy()).Resolve(ctx, "p1", []models.LookupKey{k1, k2})
		require.NoError(t, err)

		assert.Equal(t, 0, searcher.calls)
		assert.Equal(t, 2, stats.Reused)
		assert.Equal(t, 0, stats.Searched)
		assert.Equal(t, "id1", out[k1].TrackID)
		assert.Equal(t, models.StatusMissing, out[k2].Status)
	})

	t.Run("another person's ledger rows are not reused", func(t *testing.T) {
		k := keyOf("Nina Simone", "Sinnerman")
		store := ledger.NewMemory()
		require.NoError(t, store.Append(ctx, "p1", models.ResolvedMatch{
			Key: k, TrackID: "id1", Status: models.StatusFound,
		}))
		searcher := &fakeSearcher{results: map[models.LookupKey]*models.CatalogTrack{
			k: catalogTrack("id1", "Nina Simone", "Sinnerman"),
		}}

		_, stats, err := New(searcher, store, testPolicy()).Resolve(ctx, "p2", []models.LookupKey{k})
		require.NoError(t, err)

		assert.Equal(t, 1, searcher.calls)
		assert.Equal(t, 1, stats.Searched)
	})

	t.Run("no candidates records a missing match", func(t *testing.T) {
		k := keyOf("Obscure Artist", "Bootleg Session")
		searcher := &fakeSearcher{}
		store := ledger.NewMemory()

		out, stats, err := New(searcher, store, testPolicy()).Resolve(ctx, "p1", []models.LookupKey{k})
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Missing)
		assert.Equal(t, models.StatusMissing, out[k].Status)
		assert.Empty(t, out[k].TrackID)

		// The miss lands in the ledger too, so it is never searched again.
		known, err := store.Load(ctx, "p1")
		require.NoError(t, err)
		assert.Contains(t, known, k)
	})

	t.Run("exhausted retries degrade the key and the run continues", func(t *testing.T) {
		bad := keyOf("Flaky", "Upstream")
		good := keyOf("Nina Simone", "Sinnerman")
		searcher := &fakeSearcher{
			results: map[models.LookupKey]*models.CatalogTrack{
				good: catalogTrack("id1", "Nina Simone", "Sinnerman"),
			},
			errs: map[models.LookupKey]error{bad: errUpstream},
		}
		store := ledger.NewMemory()

		out, stats, err := New(searcher, store, testPolicy()).Resolve(ctx, "p1", []models.LookupKey{bad, good})
		require.NoError(t, err)

		// Two attempts for the failing key, one for the good one.
		assert.Equal(t, 3, searcher.calls)
		assert.Equal(t, 1, stats.Failed)
		assert.Equal(t, 1, stats.Found)
		assert.Equal(t, models.StatusFailed, out[bad].Status)
		assert.Equal(t, "id1", out[good].TrackID)
	})

	t.Run("auth failure aborts instead of degrading", func(t *testing.T) {
		bad := keyOf("Any", "Track")
		never := keyOf("Never", "Reached")
		searcher := &fakeSearcher{errs: map[models.LookupKey]error{bad: errBadCreds}}
		store := ledger.NewMemory()

		_, _, err := New(searcher, store, testPolicy()).Resolve(ctx, "p1", []models.LookupKey{bad, never})

		require.ErrorIs(t, err, errBadCreds)
		assert.Equal(t, 1, searcher.calls)
		assert.Equal(t, 0, store.Appends, "aborted keys must not be recorded")
	})

	t.Run("cancelled context stops before searching", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		searcher := &fakeSearcher{}

		_, _, err := New(searcher, ledger.NewMemory(), testPolicy()).
			Resolve(cancelled, "p1", []models.LookupKey{keyOf("A", "1")})

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, searcher.calls)
	})

	t.Run("rerun over a shared ledger only searches new keys", func(t *testing.T) {
		k1 := keyOf("Nina Simone", "Sinnerman")
		k2 := keyOf("Portishead", "Glory Box")
		k3 := keyOf("Mount Kimbie", "Made To Stray")
		store := ledger.NewMemory()

		first := &fakeSearcher{results: map[models.LookupKey]*models.CatalogTrack{
			k1: catalogTrack("id1", "Nina Simone", "Sinnerman"),
			k2: catalogTrack("id2", "Portishead", "Glory Box"),
		}}
		firstOut, _, err := New(first, store, testPolicy()).Resolve(ctx, "p1", []models.LookupKey{k1, k2})
		require.NoError(t, err)

		second := &fakeSearcher{results: map[models.LookupKey]*models.CatalogTrack{
			k3: catalogTrack("id3", "Mount Kimbie", "Made To Stray"),
		}}
		secondOut, stats, err := New(second, store, testPolicy()).Resolve(ctx, "p1", []models.LookupKey{k1, k2, k3})
		require.NoError(t, err)

		assert.Equal(t, 1, second.calls, "only the key the first run never saw")
		assert.Equal(t, 2, stats.Reused)
		assert.Equal(t, firstOut[k1], secondOut[k1])
		assert.Equal(t, firstOut[k2], secondOut[k2])
		assert.Equal(t, "id3", secondOut[k3].TrackID)
	})

	t.Run("match keeps the catalog's naming alongside the export's", func(t *testing.T) {
		k := keyOf("nina simone", "sinnerman - live")
		searcher := &fakeSearcher{results: map[models.LookupKey]*models.CatalogTrack{
			k: catalogTrack("id1", "Nina Simone", "Sinnerman"),
		}}

		out, _, err := New(searcher, ledger.NewMemory(), testPolicy()).Resolve(ctx, "p1", []models.LookupKey{k})
		require.NoError(t, err)

		m := out[k]
		assert.Equal(t, "Nina Simone", m.MatchedArtist)
		assert.Equal(t, "Sinnerman", m.MatchedTrack)
		assert.Greater(t, m.Confidence, 0.5)
		assert.Less(t, m.Confidence, 1.0)
	})
}

func TestConfidence(t *testing.T) {
	t.Run("identical naming ignoring case scores one", func(t *testing.T) {
		score := confidence(
			keyOf("Nina Simone", "Sinnerman"),
			catalogTrack("id", "NINA SIMONE", "SINNERMAN"),
		)
		assert.InDelta(t, 1.0, score, 0.0001)
	})

	t.Run("diverging naming scores below one", func(t *testing.T) {
		score := confidence(
			keyOf("Nina Simone", "Sinnerman - Live at Montreux"),
			catalogTrack("id", "Nina Simone", "Sinnerman"),
		)
		assert.Less(t, score, 1.0)
		assert.Greater(t, score, 0.0)
	})
}
