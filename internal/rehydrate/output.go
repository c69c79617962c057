package rehydrate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/models"
)

// naValue renders a null field in the TSV output.
const naValue = "NA"

// OutputStore abstracts where finished TSVs live, so tests run in memory.
// Existence is the completion marker: a person whose output exists is
// skipped on the next run, and the pipeline never replaces an output.
type OutputStore interface {
	Exists(person string) (bool, error)
	// Write stores the person's finished output in one shot.
	Write(person string, data []byte) error
}

// outputName returns the TSV filename for a person.
func outputName(person string) string {
	if person == "" {
		return "hydrated.tsv"
	}
	return person + "_hydrated.tsv"
}

// DirStore keeps outputs as files in a directory.
type DirStore struct {
	Dir string
}

var _ OutputStore = (*DirStore)(nil)

func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &DirStore{Dir: dir}, nil
}

func (s *DirStore) Exists(person string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.Dir, outputName(person)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("check output: %w", err)
}

// Write lands the data under a temporary name and renames it into place, so
// the completion marker never points at a half-written file.
func (s *DirStore) Write(person string, data []byte) error {
	final := filepath.Join(s.Dir, outputName(person))
	tmp, err := os.CreateTemp(s.Dir, "."+outputName(person)+".*")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish output: %w", err)
	}
	return nil
}

// MemStore is an in-memory OutputStore for tests.
type MemStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

var _ OutputStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{files: make(map[string][]byte)}
}

func (s *MemStore) Exists(person string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[outputName(person)]
	return ok, nil
}

func (s *MemStore) Write(person string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[outputName(person)] = append([]byte(nil), data...)
	return nil
}

// Content returns the stored output for a person, or "" when absent.
func (s *MemStore) Content(person string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.files[outputName(person)])
}

// Seed marks a person complete without going through the pipeline.
func (s *MemStore) Seed(person string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[outputName(person)] = data
}

// writeTSV renders one row per event, in event order, with a header. Null
// fields render as NA.
func writeTSV(w io.Writer, events []models.ListeningEvent, matches map[models.LookupKey]models.ResolvedMatch, meta map[string]models.TrackMetadata, labelled bool, opts Options) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	if err := cw.Write(headerRow(labelled, opts)); err != nil {
		return err
	}
	for _, e := range events {
		m := matches[e.Key()]
		if err := cw.Write(eventRow(e, m, meta[m.TrackID], labelled, opts)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func headerRow(labelled bool, opts Options) []string {
	cols := []string{"endTime", "artistName", "trackName", "msPlayed"}
	if labelled {
		cols = append(cols, "personID")
	}
	cols = append(cols, "trackID", "returned_artist", "returned_track", "match_confidence")
	if opts.Features {
		cols = append(cols,
			"danceability", "energy", "key", "loudness", "mode",
			"speechiness", "acousticness", "instrumentalness", "liveness",
			"valence", "tempo", "duration_ms", "time_signature")
	}
	if opts.Artist {
		cols = append(cols, "artist_genres", "artist_pop")
	}
	return cols
}

func eventRow(e models.ListeningEvent, m models.ResolvedMatch, md models.TrackMetadata, labelled bool, opts Options) []string {
	row := []string{
		e.EndTime.Format(models.EndTimeLayout),
		e.ArtistName,
		e.TrackName,
		strconv.FormatInt(e.MsPlayed, 10),
	}
	if labelled {
		row = append(row, e.Person)
	}
	if m.Matched() {
		row = append(row,
			m.TrackID,
			orNA(m.MatchedArtist),
			orNA(m.MatchedTrack),
			strconv.FormatFloat(m.Confidence, 'f', 4, 64))
	} else {
		row = append(row, naValue, naValue, naValue, naValue)
	}
	if opts.Features {
		row = append(row, featureCols(md.Features)...)
	}
	if opts.Artist {
		row = append(row, artistCols(md.Artist)...)
	}
	return row
}

func featureCols(f *models.AudioFeatures) []string {
	if f == nil {
		cols := make([]string, 13)
		for i := range cols {
			cols[i] = naValue
		}
		return cols
	}
	return []string{
		formatFeature(f.Danceability),
		formatFeature(f.Energy),
		strconv.Itoa(f.Key),
		formatFeature(f.Loudness),
		strconv.Itoa(f.Mode),
		formatFeature(f.Speechiness),
		formatFeature(f.Acousticness),
		formatFeature(f.Instrumentalness),
		formatFeature(f.Liveness),
		formatFeature(f.Valence),
		formatFeature(f.Tempo),
		strconv.Itoa(f.DurationMs),
		strconv.Itoa(f.TimeSignature),
	}
}

func artistCols(a *models.ArtistInfo) []string {
	if a == nil {
		return []string{naValue, naValue}
	}
	genres := naValue
	if len(a.Genres) > 0 {
		genres = strings.Join(a.Genres, "; ")
	}
	return []string{genres, strconv.Itoa(a.Popularity)}
}

// formatFeature prints catalog floats at their native single precision, so
// 0.646 stays 0.646 instead of growing conversion noise.
func formatFeature(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 32)
}

func orNA(s string) string {
	if s == "" {
		return naValue
	}
	return s
}
