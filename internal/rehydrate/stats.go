package rehydrate

import (
	"time"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/resolver"
)

// RunStats aggregates what one pipeline run did, across all persons.
type RunStats struct {
	PersonsCompleted int
	PersonsSkipped   int
	PersonsFailed    int

	Events    int
	KeysTotal int

	KeysReused     int
	KeysSearched   int
	MatchesFound   int
	MatchesMissing int
	MatchesFailed  int

	StartTime time.Time
	EndTime   time.Time
}

// Duration returns how long the run took, or the elapsed time so far when
// the run is still going.
func (s *RunStats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

func (s *RunStats) addResolve(r resolver.Stats) {
	s.KeysReused += r.Reused
	s.KeysSearched += r.Searched
	s.MatchesFound += r.Found
	s.MatchesMissing += r.Missing
	s.MatchesFailed += r.Failed
}
