// Package models holds the data types shared across the pipeline stages.
package models

import "time"

// EndTimeLayout is the timestamp format used by streaming-history exports.
const EndTimeLayout = "2006-01-02 15:04"

// ListeningEvent is one play taken from a streaming-history export file.
type ListeningEvent struct {
	EndTime    time.Time
	ArtistName string
	TrackName  string
	MsPlayed   int64

	// Person is the owner of the file the event came from, derived from
	// the filename prefix. Empty for the unlabelled group.
	Person string
}

// LookupKey identifies a track the way the export names it. Comparison is
// exact: keys differing in case or whitespace are distinct keys.
type LookupKey struct {
	Artist string
	Track  string
}

// Key returns the event's LookupKey.
func (e ListeningEvent) Key() LookupKey {
	return LookupKey{Artist: e.ArtistName, Track: e.TrackName}
}

// MatchStatus records how a resolution ended.
type MatchStatus string

const (
	StatusFound   MatchStatus = "found"
	StatusMissing MatchStatus = "missing" // search returned no candidates
	StatusFailed  MatchStatus = "failed"  // retries exhausted, degraded to no match
)

// ResolvedMatch is the catalog resolution for one LookupKey. TrackID is
// empty when the status is missing or failed.
type ResolvedMatch struct {
	Key           LookupKey
	TrackID       string
	MatchedArtist string
	MatchedTrack  string
	Confidence    float64
	Status        MatchStatus
}

// Matched reports whether the resolution produced a usable track ID.
func (m ResolvedMatch) Matched() bool {
	return m.Status == StatusFound && m.TrackID != ""
}

// CatalogTrack is the slice of a catalog track the pipeline needs: the
// track's identity plus its first-listed artist.
type CatalogTrack struct {
	ID         string
	Name       string
	ArtistID   string
	ArtistName string
}

// AudioFeatures mirrors the catalog's audio analysis summary for one track.
type AudioFeatures struct {
	ID               string
	Danceability     float64
	Energy           float64
	Key              int
	Loudness         float64
	Mode             int
	Speechiness      float64
	Acousticness     float64
	Instrumentalness float64
	Liveness         float64
	Valence          float64
	Tempo            float64
	DurationMs       int
	TimeSignature    int
}

// ArtistInfo carries the genre and popularity data for an artist.
type ArtistInfo struct {
	ID         string
	Name       string
	Genres     []string
	Popularity int
}

// TrackMetadata joins the optional per-track fetch results. Nil fields mean
// the catalog had no entry, or the pass was not requested.
type TrackMetadata struct {
	Features *AudioFeatures
	Artist   *ArtistInfo
}

// UniqueKeys returns the distinct LookupKeys of events in first-seen order.
func UniqueKeys(events []ListeningEvent) []LookupKey {
	seen := make(map[LookupKey]struct{}, len(events))
	keys := make([]LookupKey, 0, len(events))
	for _, e := range events {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
