package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/models"
)

//go:embed schema.sql
var schema string

// SQLite keeps the ledger in a single database file shared by every person;
// rows are scoped by person ID.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens the ledger database at path, creating the file and its
// directory if needed, and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// WAL so the append in the resolve loop survives a hard kill with the
	// row intact.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA cache_size=-2000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, person string) (map[models.LookupKey]models.ResolvedMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artist_name, track_name, track_id, matched_artist, matched_track, confidence, status
		FROM resolutions
		WHERE person_id = ?`, person)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[models.LookupKey]models.ResolvedMatch)
	for rows.Next() {
		var (
			m                                    models.ResolvedMatch
			trackID, matchedArtist, matchedTrack sql.NullString
			status                               string
		)
		if err := rows.Scan(&m.Key.Artist, &m.Key.Track, &trackID, &matchedArtist, &matchedTrack, &m.Confidence, &status); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		m.TrackID = trackID.String
		m.MatchedArtist = matchedArtist.String
		m.MatchedTrack = matchedTrack.String
		m.Status = models.MatchStatus(status)
		out[m.Key] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger rows: %w", err)
	}
	return out, nil
}

func (s *SQLite) Append(ctx context.Context, person string, match models.ResolvedMatch) error {
	// INSERT OR IGNORE keeps the ledger append-only: the first write for a
	// key wins and later runs cannot rewrite it.
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO resolutions
			(person_id, artist_name, track_name, track_id, matched_artist, matched_track, confidence, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		person, match.Key.Artist, match.Key.Track,
		nullable(match.TrackID), nullable(match.MatchedArtist), nullable(match.MatchedTrack),
		match.Confidence, string(match.Status))
	if err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
