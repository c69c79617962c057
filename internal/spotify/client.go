// Package spotify wraps the Web API client with the pipeline's global rate
// limiting and its error classification.
package spotify

import (
	"context"
	"fmt"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/models"
)

// Credentials for the client-credentials grant. No user login is involved;
// the pipeline only reads public catalog data.
type Credentials struct {
	ID     string
	Secret string
}

// Client is the catalog client. One instance serves the whole run, so its
// limiter paces every API call across all persons.
type Client struct {
	api     *spotify.Client
	limiter *rate.Limiter
	market  string
}

// New authenticates with the client-credentials flow and returns a Client
// that issues at most one API call per `every`.
func New(ctx context.Context, creds Credentials, market string, every time.Duration) (*Client, error) {
	if creds.ID == "" || creds.Secret == "" {
		return nil, fmt.Errorf("spotify credentials missing")
	}

	conf := &clientcredentials.Config{
		ClientID:     creds.ID,
		ClientSecret: creds.Secret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := conf.Client(ctx)
	httpClient.Timeout = 30 * time.Second

	return &Client{
		// WithRetry makes the underlying client honor Retry-After on 429s.
		api:     spotify.New(httpClient, spotify.WithRetry(true)),
		limiter: rate.NewLimiter(rate.Every(every), 1),
		market:  market,
	}, nil
}

// SearchTrack runs one fielded track search, constrained to the client's
// market, and returns the first candidate. A nil result with a nil error
// means the catalog offered no candidates.
func (c *Client) SearchTrack(ctx context.Context, artist, track string) (*models.CatalogTrack, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("artist:%s track:%s", artist, track)
	res, err := c.api.Search(ctx, query, spotify.SearchTypeTrack, spotify.Market(c.market), spotify.Limit(1))
	if err != nil {
		return nil, fmt.Errorf("search track: %w", err)
	}
	if res.Tracks == nil || len(res.Tracks.Tracks) == 0 {
		return nil, nil
	}
	return catalogTrack(res.Tracks.Tracks[0]), nil
}

// GetTracks fetches full tracks for up to 50 IDs in one request. IDs the
// catalog does not know come back as nil entries.
func (c *Client) GetTracks(ctx context.Context, ids []string) ([]*models.CatalogTrack, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	full, err := c.api.GetTracks(ctx, spotifyIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("get tracks: %w", err)
	}

	out := make([]*models.CatalogTrack, 0, len(full))
	for _, ft := range full {
		if ft == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, catalogTrack(*ft))
	}
	return out, nil
}

// GetAudioFeatures fetches the audio-features summary for up to 100 IDs in
// one request. Tracks without an analysis come back as nil entries.
func (c *Client) GetAudioFeatures(ctx context.Context, ids []string) ([]*models.AudioFeatures, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feats, err := c.api.GetAudioFeatures(ctx, spotifyIDs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get audio features: %w", err)
	}

	out := make([]*models.AudioFeatures, 0, len(feats))
	for _, f := range feats {
		if f == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, &models.AudioFeatures{
			ID:               string(f.ID),
			Danceability:     float64(f.Danceability),
			Energy:           float64(f.Energy),
			Key:              int(f.Key),
			Loudness:         float64(f.Loudness),
			Mode:             int(f.Mode),
			Speechiness:      float64(f.Speechiness),
			Acousticness:     float64(f.Acousticness),
			Instrumentalness: float64(f.Instrumentalness),
			Liveness:         float64(f.Liveness),
			Valence:          float64(f.Valence),
			Tempo:            float64(f.Tempo),
			DurationMs:       int(f.Duration),
			TimeSignature:    int(f.TimeSignature),
		})
	}
	return out, nil
}

// GetArtists fetches up to 50 artists in one request. Unknown IDs come back
// as nil entries.
func (c *Client) GetArtists(ctx context.Context, ids []string) ([]*models.ArtistInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	artists, err := c.api.GetArtists(ctx, spotifyIDs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get artists: %w", err)
	}

	out := make([]*models.ArtistInfo, 0, len(artists))
	for _, a := range artists {
		if a == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, &models.ArtistInfo{
			ID:         string(a.ID),
			Name:       a.Name,
			Genres:     a.Genres,
			Popularity: int(a.Popularity),
		})
	}
	return out, nil
}

func catalogTrack(ft spotify.FullTrack) *models.CatalogTrack {
	t := &models.CatalogTrack{ID: string(ft.ID), Name: ft.Name}
	if len(ft.Artists) > 0 {
		t.ArtistID = string(ft.Artists[0].ID)
		t.ArtistName = ft.Artists[0].Name
	}
	return t
}

func spotifyIDs(ids []string) []spotify.ID {
	out := make([]spotify.ID, len(ids))
	for i, id := range ids {
		out[i] = spotify.ID(id)
	}
	return out
}
