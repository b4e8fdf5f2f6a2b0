package progression

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/verte-zerg/rolens/internal/filelock"
	"github.com/verte-zerg/rolens/internal/model"
)

// DefaultLockTimeout bounds how long a write waits for the shared lock.
const DefaultLockTimeout = 5 * time.Second

// ErrLockTimeout is returned when a write could not take the shared lock in time.
// The in-memory table keeps the change and the next write retries it.
var ErrLockTimeout = filelock.ErrTimeout

// Table is the in-memory view of the shared progression file.
// It is safe for concurrent use.
type Table struct {
	path     string
	lockPath string
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	doc     Document
	loadErr error
}

// Option customizes a Table.
type Option func(*Table)

// WithLockTimeout sets how long writes wait for the lock file.
func WithLockTimeout(d time.Duration) Option {
	return func(t *Table) {
		t.timeout = d
	}
}

// WithLogger sets the logger used for persistence events.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Open loads the table stored at path. A missing file is an empty table. An unreadable file is
// logged and also yields an empty table; LoadErr reports it and Sync keeps failing until the file
// is fixed, so the damaged file is never overwritten.
func Open(path string, opts ...Option) (*Table, error) {
	if path == "" {
		return nil, fmt.Errorf("table path is empty")
	}
	t := &Table{
		path:     path,
		lockPath: path + ".lock",
		timeout:  DefaultLockTimeout,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		doc:      Document{},
	}
	for _, opt := range opts {
		opt(t)
	}
	doc, err := readDocument(path)
	if err != nil {
		t.logger.Error("progression table unreadable, starting empty", "path", path, "err", err)
		t.loadErr = err
		return t, nil
	}
	t.doc = doc
	return t, nil
}

// LoadErr returns the error that made Open start from an empty table, if any.
func (t *Table) LoadErr() error {
	return t.loadErr
}

// Path returns the backing file path.
func (t *Table) Path() string {
	return t.path
}

// Observe joins an observation for level into memory only and reports whether it changed
// anything. Callers persist with Sync.
func (t *Table) Observe(track model.Track, level uint16, xp uint64, confirmed bool) bool {
	obs := Entry{XP: xp, Confirmed: confirmed}

	t.mu.Lock()
	levels := t.levelsLocked(track)
	cur, ok := levels[level]
	next := obs
	if ok {
		next = Merge(cur, obs)
	}
	if ok && next == cur {
		t.mu.Unlock()
		return false
	}
	levels[level] = next
	t.mu.Unlock()

	t.logger.Debug("progression observation",
		"track", track,
		"level", level,
		"xp", next.XP,
		"confirmed", next.Confirmed)
	return true
}

// Record joins an observation for level into the table and persists it when it changed
// anything. The in-memory table is updated even when persisting fails.
func (t *Table) Record(ctx context.Context, track model.Track, level uint16, xp uint64, confirmed bool) (bool, error) {
	if !t.Observe(track, level, xp, confirmed) {
		return false, nil
	}
	if err := t.Sync(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Sync persists the table: under the lock it re-reads the file, joins it with memory, writes
// the result back and keeps the joined state in memory.
func (t *Table) Sync(ctx context.Context) error {
	lock, err := filelock.Acquire(ctx, t.lockPath, t.timeout)
	if err != nil {
		return fmt.Errorf("persist progression table: %w", err)
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			t.logger.Warn("failed to release table lock", "path", t.lockPath, "error", rerr)
		}
	}()

	disk, err := readDocument(t.path)
	if err != nil {
		return fmt.Errorf("persist progression table: %w", err)
	}

	t.mu.Lock()
	t.mergeLocked(disk)
	merged := t.doc.clone()
	t.mu.Unlock()

	if err := writeDocument(t.path, merged); err != nil {
		return fmt.Errorf("persist progression table: %w", err)
	}
	t.logger.Debug("progression table written", "path", t.path)
	return nil
}

// Reload joins the current file contents into memory without taking the lock.
// Writes are atomic renames, so an unlocked read sees either the old or the new file.
func (t *Table) Reload() (bool, error) {
	disk, err := readDocument(t.path)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mergeLocked(disk), nil
}

// Merge joins doc into memory and persists the result.
func (t *Table) Merge(ctx context.Context, doc Document) error {
	t.mu.Lock()
	t.mergeLocked(doc)
	t.mu.Unlock()
	return t.Sync(ctx)
}

// Entry returns the stored entry for a level.
func (t *Table) Entry(track model.Track, level uint16) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.doc[track][level]
	return entry, ok
}

// Len returns the number of stored levels across all tracks.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, levels := range t.doc {
		n += len(levels)
	}
	return n
}

// Row is one level of a track, for listing.
type Row struct {
	Level uint16
	Entry
}

// Rows returns every entry of track in level order.
func (t *Table) Rows(track model.Track) []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	levels := t.doc[track]
	rows := make([]Row, 0, len(levels))
	for level, entry := range levels {
		rows = append(rows, Row{Level: level, Entry: entry})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Level < rows[j].Level
	})
	return rows
}

// Query reports progress through level. A manual estimate wins over stored data; otherwise only
// a confirmed entry is used. Unconfirmed observations are never reported as progress.
func (t *Table) Query(track model.Track, level uint16, currentXP uint64, manual *uint64) model.Progress {
	if manual != nil {
		p := progressFor(*manual, currentXP)
		p.ManualEstimate = true
		return p
	}
	entry, ok := t.Entry(track, level)
	if !ok || !entry.Confirmed {
		return model.Progress{}
	}
	p := progressFor(entry.XP, currentXP)
	p.Confirmed = true
	return p
}

func progressFor(required, current uint64) model.Progress {
	p := model.Progress{Known: true, XPRequired: required}
	if required > current {
		p.XPRemaining = required - current
	}
	if required > 0 {
		p.Percentage = float64(current) / float64(required) * 100
	}
	if p.Percentage > 100 {
		p.Percentage = 100
	}
	if p.Percentage < 0 {
		p.Percentage = 0
	}
	return p
}

func (t *Table) levelsLocked(track model.Track) Levels {
	levels, ok := t.doc[track]
	if !ok {
		levels = Levels{}
		t.doc[track] = levels
	}
	return levels
}

func (t *Table) mergeLocked(doc Document) bool {
	changed := false
	for track, levels := range doc {
		if mergeInto(t.levelsLocked(track), levels) {
			changed = true
		}
	}
	return changed
}

func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("read table: %w", err)
	}
	doc, err := Decode(data, false)
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", path, err)
	}
	return doc, nil
}

func writeDocument(path string, doc Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "progression-*.json")
	if err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp table: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp table: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace table: %w", err)
	}
	return nil
}
