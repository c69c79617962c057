// Package rehydrate drives the pipeline: load streaming-history events,
// resolve track identifiers, fetch metadata and write one TSV per person.
package rehydrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/fetcher"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/history"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/logging"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/models"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/resolver"
)

// Options switches the optional metadata passes.
type Options struct {
	// Features adds the audio-features columns.
	Features bool
	// Artist adds the lead artist's genre and popularity columns.
	Artist bool
}

type Rehydrator struct {
	resolver *resolver.Resolver
	fetcher  *fetcher.Fetcher
	output   OutputStore
	opts     Options
}

func New(res *resolver.Resolver, fet *fetcher.Fetcher, out OutputStore, opts Options) *Rehydrator {
	return &Rehydrator{resolver: res, fetcher: fet, output: out, opts: opts}
}

// Run processes every person found in inputDir, one at a time. Persons
// whose output already exists are skipped untouched. Malformed input fails
// that person and the run moves on to the next; authentication errors and
// cancellation abort the whole run.
func (r *Rehydrator) Run(ctx context.Context, inputDir string) (*RunStats, error) {
	stats := &RunStats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	persons, err := history.Scan(inputDir)
	if err != nil {
		return stats, err
	}
	if len(persons) == 0 {
		logging.Info().Str("dir", inputDir).Msg("No streaming-history files found")
		return stats, nil
	}
	logging.Info().Int("persons", len(persons)).Msg("Found streaming histories")

	var failed []string
	for _, person := range persons {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		err := r.runPerson(ctx, person, stats)
		if err == nil {
			continue
		}
		var malformed *history.MalformedInputError
		if errors.As(err, &malformed) {
			logging.Error().Err(err).Str("person", person.Label()).Msg("Skipping person, input could not be parsed")
			stats.PersonsFailed++
			failed = append(failed, person.Label())
			continue
		}
		return stats, fmt.Errorf("person %s: %w", person.Label(), err)
	}

	r.logSummary(stats)
	if len(failed) > 0 {
		return stats, fmt.Errorf("%d of %d persons failed: %s", len(failed), len(persons), strings.Join(failed, ", "))
	}
	return stats, nil
}

func (r *Rehydrator) runPerson(ctx context.Context, person history.Person, stats *RunStats) error {
	plog := logging.With().Str("person", person.Label()).Logger()

	done, err := r.output.Exists(person.ID)
	if err != nil {
		return fmt.Errorf("check existing output: %w", err)
	}
	if done {
		plog.Info().Msg("Output already present, skipping")
		stats.PersonsSkipped++
		return nil
	}

	events, err := history.Load(person)
	if err != nil {
		return err
	}
	keys := models.UniqueKeys(events)
	plog.Info().
		Int("files", len(person.Files)).
		Int("events", len(events)).
		Int("unique_tracks", len(keys)).
		Msg("Loaded streaming history")

	matches, rstats, err := r.resolver.Resolve(ctx, person.ID, keys)
	if err != nil {
		return err
	}
	stats.addResolve(rstats)

	meta, err := r.fetcher.Metadata(ctx, matchedTrackIDs(events, matches), r.opts.Features, r.opts.Artist)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := writeTSV(&buf, events, matches, meta, person.ID != "", r.opts); err != nil {
		return fmt.Errorf("assemble output: %w", err)
	}
	if err := r.output.Write(person.ID, buf.Bytes()); err != nil {
		return err
	}

	matched := 0
	for _, m := range matches {
		if m.Matched() {
			matched++
		}
	}
	plog.Info().
		Int("rows", len(events)).
		Int("matched", matched).
		Int("unmatched", len(matches)-matched).
		Msg("Wrote hydrated output")

	stats.PersonsCompleted++
	stats.Events += len(events)
	stats.KeysTotal += len(keys)
	return nil
}

// matchedTrackIDs lists the distinct matched IDs in first-seen event order.
func matchedTrackIDs(events []models.ListeningEvent, matches map[models.LookupKey]models.ResolvedMatch) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range events {
		m, ok := matches[e.Key()]
		if !ok || !m.Matched() {
			continue
		}
		if _, dup := seen[m.TrackID]; dup {
			continue
		}
		seen[m.TrackID] = struct{}{}
		ids = append(ids, m.TrackID)
	}
	return ids
}

func (r *Rehydrator) logSummary(s *RunStats) {
	logging.Info().
		Int("persons_completed", s.PersonsCompleted).
		Int("persons_skipped", s.PersonsSkipped).
		Int("persons_failed", s.PersonsFailed).
		Int("events", s.Events).
		Int("unique_tracks", s.KeysTotal).
		Int("ledger_reused", s.KeysReused).
		Int("searched", s.KeysSearched).
		Int("found", s.MatchesFound).
		Int("missing", s.MatchesMissing).
		Int("failed", s.MatchesFailed).
		Dur("duration", s.Duration()).
		Msg("Rehydration finished")
}
