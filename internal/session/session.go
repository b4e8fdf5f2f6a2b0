// Package session wires the probe, the stats engine and the progression table into the small
// command surface the presentation layer drives.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/verte-zerg/rolens/internal/model"
	"github.com/verte-zerg/rolens/internal/probe"
	"github.com/verte-zerg/rolens/internal/progression"
	"github.com/verte-zerg/rolens/internal/stats"
	"github.com/verte-zerg/rolens/internal/store"
)

// ErrNotStarted is returned by polling before a process is selected, or after a probe failure
// stopped the session.
var ErrNotStarted = errors.New("no process selected")

// Journal receives confirmed level-ups.
type Journal interface {
	InsertLevelUp(ctx context.Context, up model.LevelUp) (int64, error)
}

// Session is one monitoring session. Its methods are safe to call from multiple goroutines.
type Session struct {
	probe   *probe.Probe
	engine  *stats.Engine
	table   *progression.Table
	remote  progression.Source
	journal Journal
	logger  *slog.Logger

	// pollMu serializes polls end to end. mu guards the fields below and the engine and is never
	// held across a progression table write, which may wait for the shared lock file.
	pollMu    sync.Mutex
	mu        sync.Mutex
	pid       uint32
	started   bool
	sessionID string
}

// New builds a session. remote and journal may be nil; logger defaults to a discarding logger.
func New(p *probe.Probe, engine *stats.Engine, table *progression.Table, remote progression.Source, journal Journal, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		probe:   p,
		engine:  engine,
		table:   table,
		remote:  remote,
		journal: journal,
		logger:  logger,
	}
}

// ListCandidateProcesses lists running game clients.
func (s *Session) ListCandidateProcesses() ([]model.Process, error) {
	return s.probe.ListProcesses()
}

// Start selects pid. The process is read once up front so access problems surface here; on
// success the engine starts a fresh session seeded with that snapshot.
func (s *Session) Start(ctx context.Context, pid uint32) error {
	snap, err := s.probe.ReadSnapshot(pid)
	if err != nil {
		return fmt.Errorf("failed to attach to pid %d: %w", pid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid = pid
	s.started = true
	s.sessionID = store.NewSessionID()
	s.engine.Reset()
	s.engine.Update(snap)
	s.logger.Info("monitoring started", "pid", pid, "character", snap.Name, "session", s.sessionID,
		"base_level", snap.BaseLevel, "job_level", snap.JobLevel)
	return nil
}

// Stop deselects the process.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
}

// PID returns the selected process and whether a session is running.
func (s *Session) PID() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid, s.started
}

// ID returns the current session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// PollOnce reads one snapshot and folds it into the statistics. A probe error stops the session
// and is returned as is; progression table failures are logged and polling goes on.
// The table is persisted after the session state is released, so Reset and manual estimates do
// not wait behind a busy lock file.
func (s *Session) PollOnce(ctx context.Context) (model.StatsView, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	tick, view, sessionID, err := s.observe()
	if err != nil {
		return model.StatsView{}, err
	}
	if tick.TableChanged {
		if err := s.table.Sync(ctx); err != nil {
			s.logTableError(err)
		}
	}
	if tick.LevelUp != nil {
		up := *tick.LevelUp
		up.SessionID = sessionID
		s.recordLevelUp(ctx, up)
	}
	return view, nil
}

func (s *Session) observe() (stats.Tick, model.StatsView, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return stats.Tick{}, model.StatsView{}, "", ErrNotStarted
	}

	snap, err := s.probe.ReadSnapshot(s.pid)
	if err != nil {
		s.started = false
		s.logger.Error("probe failed, stopping", "pid", s.pid, "err", err)
		return stats.Tick{}, model.StatsView{}, "", err
	}

	tick := s.engine.Update(snap)
	view, _ := s.engine.View()
	return tick, view, s.sessionID, nil
}

func (s *Session) recordLevelUp(ctx context.Context, up model.LevelUp) {
	s.logger.Info("level up", "character", up.Character, "track", up.Track, "level", up.Level,
		"xp_required", up.XPRequired)
	if s.journal == nil {
		return
	}
	if _, err := s.journal.InsertLevelUp(ctx, up); err != nil {
		s.logger.Warn("failed to journal level-up", "err", err)
	}
}

func (s *Session) logTableError(err error) {
	if errors.Is(err, progression.ErrLockTimeout) {
		s.logger.Warn("progression table busy, write deferred", "err", err)
		return
	}
	s.logger.Error("progression table write failed", "err", err)
}

// View returns the latest statistics without polling.
func (s *Session) View() (model.StatsView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.View()
}

// RecentGains returns the recent base XP gains, oldest first.
func (s *Session) RecentGains() []stats.XPGain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.XPGains()
}

// Reset starts new statistics for the selected process. The next poll seeds the engine.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Reset()
	s.sessionID = store.NewSessionID()
	s.logger.Info("session reset", "session", s.sessionID)
}

// SetManualPercentage sets a manual estimate from the percentage shown in game.
func (s *Session) SetManualPercentage(track model.Track, percentage float64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	estimate, err := s.engine.SetEstimateFromPercentage(track, percentage)
	if err != nil {
		return 0, err
	}
	s.logger.Info("manual estimate set", "track", track, "percentage", percentage, "xp_required", estimate)
	return estimate, nil
}

// RefreshTable merges the remote baseline into the progression table and reports success.
// Failures leave the local table as it was.
func (s *Session) RefreshTable(ctx context.Context) bool {
	if s.remote == nil {
		s.logger.Warn("no remote progression source configured")
		return false
	}
	if err := s.table.Bootstrap(ctx, s.remote); err != nil {
		s.logger.Warn("progression table refresh failed", "err", err)
		return false
	}
	return true
}

// Run polls every interval until ctx is done or the probe fails. fn, if set, sees every result.
// A poll always completes before the next one starts.
func (s *Session) Run(ctx context.Context, every time.Duration, fn func(model.StatsView, error)) error {
	if every <= 0 {
		return fmt.Errorf("invalid poll interval %s", every)
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		view, err := s.PollOnce(ctx)
		if fn != nil {
			fn(view, err)
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
