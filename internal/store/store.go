// Package store handles SQLite persistence of the level-up journal.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/verte-zerg/rolens/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps SQLite access for level-up history.
type Store struct {
	db *sql.DB
}

// NewSessionID returns a sortable identifier for a monitoring session.
func NewSessionID() string {
	return ulid.Make().String()
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// Several monitors may share the file.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS level_ups (
			id INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL,
			character TEXT NOT NULL,
			track TEXT NOT NULL,
			level INTEGER NOT NULL,
			xp_required INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_level_ups_at ON level_ups(at);`,
		`CREATE INDEX IF NOT EXISTS idx_level_ups_character ON level_ups(character);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertLevelUp appends a level-up to the journal.
func (s *Store) InsertLevelUp(ctx context.Context, up model.LevelUp) (int64, error) {
	if up.SessionID == "" {
		return 0, errors.New("level-up without session id")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO level_ups (session_id, character, track, level, xp_required, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		up.SessionID,
		up.Character,
		string(up.Track),
		int64(up.Level),
		int64(up.XPRequired),
		up.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert level-up: %w", err)
	}
	return res.LastInsertId()
}

// ListLevelUps returns journal rows matching filter, oldest first. With filter.Last set only the
// most recent rows are returned.
func (s *Store) ListLevelUps(ctx context.Context, filter model.LevelUpFilter) ([]model.LevelUp, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.Character != "" {
		clauses = append(clauses, "character = ?")
		args = append(args, filter.Character)
	}
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Since != nil {
		clauses = append(clauses, "at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	query := fmt.Sprintf(`SELECT session_id, character, track, level, xp_required, at
		FROM level_ups
		WHERE %s
		ORDER BY at DESC, id DESC`, strings.Join(clauses, " AND "))
	if filter.Last > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Last)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query level-ups: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.LevelUp
	for rows.Next() {
		var (
			up         model.LevelUp
			track, at  string
			level, req int64
		)
		if err := rows.Scan(&up.SessionID, &up.Character, &track, &level, &req, &at); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", at, err)
		}
		up.Track = model.Track(track)
		up.Level = uint16(level)
		up.XPRequired = uint64(req)
		up.At = parsed
		result = append(result, up)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Rows were read newest first so LIMIT keeps the latest ones.
	slices.Reverse(result)
	return result, nil
}
