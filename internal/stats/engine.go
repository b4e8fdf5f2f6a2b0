// Package stats derives session statistics from successive snapshots.
package stats

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/verte-zerg/rolens/internal/model"
)

// HistorySize is the capacity of the recent-event rings.
const HistorySize = 60

var (
	// ErrNoSnapshot is returned by operations that need a current snapshot before the first update.
	ErrNoSnapshot = errors.New("no snapshot received yet")
	// ErrPercentageRange is returned for manual percentages outside (0, 100).
	ErrPercentageRange = errors.New("percentage must be greater than 0 and less than 100")
)

// Progressions is the part of the progression table the engine needs. Observe joins into memory
// only; persisting is left to the caller so an update never waits on the shared file.
type Progressions interface {
	Observe(track model.Track, level uint16, xp uint64, confirmed bool) bool
	Query(track model.Track, level uint16, currentXP uint64, manual *uint64) model.Progress
}

// XPGain is one positive base XP change, with the job XP change seen on the same tick.
type XPGain struct {
	At   time.Time
	Base uint64
	Job  int64
}

// Damage is one HP drop.
type Damage struct {
	At     time.Time
	Amount uint64
}

// Tick summarizes what a single update detected.
type Tick struct {
	// Initialized is set when the snapshot only seeded the engine.
	Initialized bool
	BaseGain    uint64
	JobGain     uint64
	Damage      uint64
	LevelUp     *model.LevelUp
	// TableChanged is set when an observation changed the progression table and it needs a Sync.
	TableChanged bool
}

// Engine accumulates session statistics. It is driven from a single goroutine.
type Engine struct {
	table Progressions
	now   func() time.Time

	startedAt  time.Time
	hasCurrent bool
	prev       model.Snapshot
	cur        model.Snapshot

	monstersKilled uint64
	totalBaseXP    uint64
	totalJobXP     uint64
	totalDamage    uint64

	xpGains *Ring[XPGain]
	damage  *Ring[Damage]

	manual map[model.Track]map[uint8]uint64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine returns an engine that records observations into table.
func NewEngine(table Progressions, opts ...Option) *Engine {
	e := &Engine{
		table:   table,
		now:     time.Now,
		xpGains: NewRing[XPGain](HistorySize),
		damage:  NewRing[Damage](HistorySize),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Reset()
	return e
}

// Update folds a new snapshot into the session. The first snapshot after construction or Reset
// only seeds the engine.
func (e *Engine) Update(snap model.Snapshot) Tick {
	if !e.hasCurrent {
		e.prev = snap
		e.cur = snap
		e.hasCurrent = true
		return Tick{Initialized: true}
	}
	e.prev = e.cur
	e.cur = snap
	p, n := e.prev, e.cur

	// A different character on the same client: rebase without inferring anything. Manual
	// estimates are keyed by level alone and belonged to the previous character.
	if p.Name != "" && n.Name != "" && p.Name != n.Name {
		e.clearManual()
		return Tick{Initialized: true}
	}

	var (
		tick    Tick
		now     = e.now()
		baseDif = int64(n.BaseXP) - int64(p.BaseXP)
		jobDiff = int64(n.JobXP) - int64(p.JobXP)
	)

	if n.BaseLevel > p.BaseLevel {
		// The XP right before the transition is the full requirement of the level left.
		if e.table.Observe(model.TrackBase, uint16(p.BaseLevel), uint64(p.BaseXP), true) {
			tick.TableChanged = true
		}
		delete(e.manual[model.TrackBase], p.BaseLevel)
		tick.LevelUp = &model.LevelUp{
			Character:  n.Name,
			Track:      model.TrackBase,
			Level:      uint16(p.BaseLevel),
			XPRequired: uint64(p.BaseXP),
			At:         now,
		}
		// XP resets on level up; the raw diff is meaningless.
		baseDif = 0
	} else if baseDif != 0 {
		if e.table.Observe(model.TrackBase, uint16(n.BaseLevel), uint64(n.BaseXP), false) {
			tick.TableChanged = true
		}
	}
	if n.JobLevel > p.JobLevel {
		delete(e.manual[model.TrackJob], p.JobLevel)
	}

	if baseDif > 0 {
		tick.BaseGain = uint64(baseDif)
		e.monstersKilled++
		e.totalBaseXP += tick.BaseGain
		e.xpGains.Push(XPGain{At: now, Base: tick.BaseGain, Job: jobDiff})
	}
	if jobDiff > 0 {
		tick.JobGain = uint64(jobDiff)
		e.totalJobXP += tick.JobGain
	}

	if hpDiff := int64(p.HP) - int64(n.HP); hpDiff > 0 {
		tick.Damage = uint64(hpDiff)
		e.totalDamage += tick.Damage
		e.damage.Push(Damage{At: now, Amount: tick.Damage})
	}

	return tick
}

// View computes the derived statistics. It reports false before the first snapshot.
// Rates come from session-cumulative totals.
func (e *Engine) View() (model.StatsView, bool) {
	if !e.hasCurrent {
		return model.StatsView{}, false
	}
	elapsed := e.now().Sub(e.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	hours := elapsed.Hours()
	minutes := elapsed.Minutes()

	view := model.StatsView{
		SessionTime:      elapsed,
		MonstersKilled:   e.monstersKilled,
		TotalBaseXP:      e.totalBaseXP,
		TotalJobXP:       e.totalJobXP,
		TotalDamageTaken: e.totalDamage,
		BaseXPPerHour:    rate(e.totalBaseXP, hours),
		JobXPPerHour:     rate(e.totalJobXP, hours),
		DamagePerMinute:  rate(e.totalDamage, minutes),
		Current:          e.cur,
	}
	if e.monstersKilled > 0 {
		view.AvgBaseXPPerMob = e.totalBaseXP / e.monstersKilled
		view.AvgJobXPPerMob = e.totalJobXP / e.monstersKilled
	}
	view.BaseProgress = e.progress(model.TrackBase)
	view.JobProgress = e.progress(model.TrackJob)
	return view, true
}

func (e *Engine) progress(track model.Track) model.Progress {
	level := e.cur.Level(track)
	var manual *uint64
	if est, ok := e.manual[track][level]; ok {
		manual = &est
	}
	return e.table.Query(track, uint16(level), uint64(e.cur.XP(track)), manual)
}

func rate(total uint64, units float64) uint64 {
	if units <= 0 {
		return 0
	}
	return uint64(float64(total) / units)
}

// SetEstimateFromPercentage derives the current level's total requirement from the percentage the
// game shows and keeps it as a manual estimate until the level changes or the session resets.
// The estimate is never written to the progression table.
func (e *Engine) SetEstimateFromPercentage(track model.Track, percentage float64) (uint64, error) {
	if !e.hasCurrent {
		return 0, ErrNoSnapshot
	}
	if math.IsNaN(percentage) || percentage <= 0 || percentage >= 100 {
		return 0, fmt.Errorf("%v: %w", percentage, ErrPercentageRange)
	}
	estimate := uint64(math.Floor(float64(e.cur.XP(track)) / (percentage / 100)))
	level := e.cur.Level(track)
	if e.manual[track] == nil {
		e.manual[track] = map[uint8]uint64{}
	}
	e.manual[track][level] = estimate
	return estimate, nil
}

// ManualEstimate returns the manual estimate for a level, if any.
func (e *Engine) ManualEstimate(track model.Track, level uint8) (uint64, bool) {
	est, ok := e.manual[track][level]
	return est, ok
}

// Current returns the latest snapshot.
func (e *Engine) Current() (model.Snapshot, bool) {
	return e.cur, e.hasCurrent
}

// XPGains returns recent base XP gains, oldest first.
func (e *Engine) XPGains() []XPGain {
	return e.xpGains.Items()
}

// DamageEvents returns recent HP drops, oldest first.
func (e *Engine) DamageEvents() []Damage {
	return e.damage.Items()
}

// Reset starts a new session. The progression table is left alone.
func (e *Engine) Reset() {
	e.startedAt = e.now()
	e.hasCurrent = false
	e.prev = model.Snapshot{}
	e.cur = model.Snapshot{}
	e.monstersKilled = 0
	e.totalBaseXP = 0
	e.totalJobXP = 0
	e.totalDamage = 0
	e.xpGains.Reset()
	e.damage.Reset()
	e.clearManual()
}

func (e *Engine) clearManual() {
	e.manual = map[model.Track]map[uint8]uint64{
		model.TrackBase: {},
		model.TrackJob:  {},
	}
}
