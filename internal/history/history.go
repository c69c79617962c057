// Package history reads Spotify streaming-history exports from disk.
//
// An export directory holds files named StreamingHistory<N>.json, optionally
// prefixed with the owner's identifier: person1_StreamingHistory0.json.
// Files sharing a prefix belong to one person; files without a prefix form a
// single unlabelled group.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/logging"
	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/models"
)

// historyFilePattern matches StreamingHistory3.json and
// person1_StreamingHistory3.json, capturing the person prefix and the file
// index. The prefix runs up to the first underscore, so it cannot contain
// one itself.
var historyFilePattern = regexp.MustCompile(`^(?:([^_]+)_)?StreamingHistory(\d+)\.json$`)

// File is one export file on disk, assigned to its person.
type File struct {
	Path   string
	Person string
	Index  int
}

// Person groups the export files belonging to one output. An empty ID is
// the unlabelled group.
type Person struct {
	ID    string
	Files []File
}

// Label returns the ID in a form usable in log messages.
func (p Person) Label() string {
	if p.ID == "" {
		return "unlabelled"
	}
	return p.ID
}

// MalformedInputError reports an export file that could not be parsed. The
// whole file is rejected: either every event in it loads or none do.
type MalformedInputError struct {
	File string
	Err  error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input file %s: %v", e.File, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Scan lists the persons found in dir. Only file names are touched, no file
// contents, so persons that are later skipped cost zero reads. Persons come
// back sorted by ID with the unlabelled group last.
func Scan(dir string) ([]Person, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan input dir: %w", err)
	}

	groups := make(map[string][]File)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := historyFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			logging.Debug().Str("file", entry.Name()).Msg("Ignoring non-history file")
			continue
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			logging.Debug().Str("file", entry.Name()).Msg("Ignoring history file with out-of-range index")
			continue
		}
		person := m[1]
		groups[person] = append(groups[person], File{
			Path:   filepath.Join(dir, entry.Name()),
			Person: person,
			Index:  idx,
		})
	}

	persons := make([]Person, 0, len(groups))
	for id, files := range groups {
		// Numeric order, not lexicographic: index 10 follows 9.
		sort.Slice(files, func(i, j int) bool { return files[i].Index < files[j].Index })
		persons = append(persons, Person{ID: id, Files: files})
	}
	sort.Slice(persons, func(i, j int) bool {
		if (persons[i].ID == "") != (persons[j].ID == "") {
			return persons[j].ID == ""
		}
		return persons[i].ID < persons[j].ID
	})
	return persons, nil
}

// rawEvent mirrors the JSON schema of an export entry. Pointer fields let a
// missing key be told apart from a zero value.
type rawEvent struct {
	EndTime    *string `json:"endTime"`
	ArtistName *string `json:"artistName"`
	TrackName  *string `json:"trackName"`
	MsPlayed   *int64  `json:"msPlayed"`
}

// Load reads and validates every file of the person, concatenated in file
// index order. Any malformed file fails the whole load with a
// *MalformedInputError.
func Load(p Person) ([]models.ListeningEvent, error) {
	var events []models.ListeningEvent
	for _, f := range p.Files {
		fileEvents, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		events = append(events, fileEvents...)
	}
	return events, nil
}

func loadFile(f File) ([]models.ListeningEvent, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &MalformedInputError{File: f.Path, Err: err}
	}

	var raw []rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedInputError{File: f.Path, Err: err}
	}

	events := make([]models.ListeningEvent, 0, len(raw))
	for i, r := range raw {
		ev, err := r.toEvent(f.Person)
		if err != nil {
			return nil, &MalformedInputError{File: f.Path, Err: fmt.Errorf("event %d: %w", i, err)}
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r rawEvent) toEvent(person string) (models.ListeningEvent, error) {
	switch {
	case r.EndTime == nil:
		return models.ListeningEvent{}, fmt.Errorf("missing endTime")
	case r.ArtistName == nil:
		return models.ListeningEvent{}, fmt.Errorf("missing artistName")
	case r.TrackName == nil:
		return models.ListeningEvent{}, fmt.Errorf("missing trackName")
	case r.MsPlayed == nil:
		return models.ListeningEvent{}, fmt.Errorf("missing msPlayed")
	case *r.MsPlayed < 0:
		return models.ListeningEvent{}, fmt.Errorf("negative msPlayed %d", *r.MsPlayed)
	}

	end, err := time.Parse(models.EndTimeLayout, *r.EndTime)
	if err != nil {
		return models.ListeningEvent{}, fmt.Errorf("bad endTime %q: %w", *r.EndTime, err)
	}

	return models.ListeningEvent{
		EndTime:    end,
		ArtistName: *r.ArtistName,
		TrackName:  *r.TrackName,
		MsPlayed:   *r.MsPlayed,
		Person:     person,
	}, nil
}
