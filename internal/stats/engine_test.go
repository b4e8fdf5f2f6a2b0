package stats

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/rolens/internal/model"
	"github.com/verte-zerg/rolens/internal/progression"
)

type recordCall struct {
	track     model.Track
	level     uint16
	xp        uint64
	confirmed bool
}

type fakeTable struct {
	calls     []recordCall
	unchanged bool
}

func (f *fakeTable) Observe(track model.Track, level uint16, xp uint64, confirmed bool) bool {
	f.calls = append(f.calls, recordCall{track, level, xp, confirmed})
	return !f.unchanged
}

func (f *fakeTable) Query(model.Track, uint16, uint64, *uint64) model.Progress {
	return model.Progress{}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func mustUpdate(t *testing.T, e *Engine, snap model.Snapshot) Tick {
	t.Helper()
	return e.Update(snap)
}

func TestFirstUpdateOnlySeeds(t *testing.T) {
	table := &fakeTable{}
	e := NewEngine(table)

	_, ok := e.View()
	assert.False(t, ok)

	tick := mustUpdate(t, e, model.Snapshot{BaseLevel: 5, BaseXP: 1000, HP: 100})
	assert.True(t, tick.Initialized)
	assert.Empty(t, table.calls)

	view, ok := e.View()
	require.True(t, ok)
	assert.Zero(t, view.MonstersKilled)
	assert.Zero(t, view.TotalBaseXP)
	assert.Equal(t, uint32(1000), view.Current.BaseXP)
}

func TestLevelUpRecordsConfirmedRequirement(t *testing.T) {
	table := &fakeTable{}
	e := NewEngine(table)
	mustUpdate(t, e, model.Snapshot{BaseLevel: 10, BaseXP: 9800, Name: "Poring"})

	tick := mustUpdate(t, e, model.Snapshot{BaseLevel: 11, BaseXP: 0, Name: "Poring"})

	assert.Equal(t, []recordCall{{model.TrackBase, 10, 9800, true}}, table.calls)
	assert.Zero(t, tick.BaseGain)
	require.NotNil(t, tick.LevelUp)
	assert.Equal(t, uint16(10), tick.LevelUp.Level)
	assert.Equal(t, uint64(9800), tick.LevelUp.XPRequired)
	assert.Equal(t, "Poring", tick.LevelUp.Character)

	view, _ := e.View()
	assert.Zero(t, view.MonstersKilled)
	assert.Zero(t, view.TotalBaseXP)
}

func TestXPGainRecordsObservation(t *testing.T) {
	table := &fakeTable{}
	e := NewEngine(table)
	mustUpdate(t, e, model.Snapshot{BaseLevel: 5, BaseXP: 1000, JobXP: 50})

	tick := mustUpdate(t, e, model.Snapshot{BaseLevel: 5, BaseXP: 1500, JobXP: 80})

	assert.Equal(t, []recordCall{{model.TrackBase, 5, 1500, false}}, table.calls)
	assert.Equal(t, uint64(500), tick.BaseGain)
	assert.Equal(t, uint64(30), tick.JobGain)

	gains := e.XPGains()
	require.Len(t, gains, 1)
	assert.Equal(t, uint64(500), gains[0].Base)
	assert.Equal(t, int64(30), gains[0].Job)

	view, _ := e.View()
	assert.Equal(t, uint64(1), view.MonstersKilled)
	assert.Equal(t, uint64(500), view.AvgBaseXPPerMob)
	assert.Equal(t, uint64(30), view.AvgJobXPPerMob)
}

func TestXPDropIsRecordedButNotCounted(t *testing.T) {
	table := &fakeTable{}
	e := NewEngine(table)
	mustUpdate(t, e, model.Snapshot{BaseLevel: 5, BaseXP: 1000})

	tick := mustUpdate(t, e, model.Snapshot{BaseLevel: 5, BaseXP: 900})

	assert.Equal(t, []recordCall{{model.TrackBase, 5, 900, false}}, table.calls)
	assert.Zero(t, tick.BaseGain)
	view, _ := e.View()
	assert.Zero(t, view.MonstersKilled)
}

func TestUnchangedXPDoesNotRecord(t *testing.T) {
	table := &fakeTable{}
	e := NewEngine(table)
	mustUpdate(t, e, model.Snapshot{BaseLevel: 5, BaseXP: 1000, JobXP: 10})
	mustUpdate(t, e, model.Snapshot{BaseLevel: 5, BaseXP: 1000, JobXP: 20})

	assert.Empty(t, table.calls)
	view, _ := e.View()
	assert.Zero(t, view.MonstersKilled)
	assert.Equal(t, uint64(10), view.TotalJobXP)
}

func TestCharacterSwitchDoesNotInferLevelUp(t *testing.T) {
	table := &fakeTable{}
	e := NewEngine(table)
	mustUpdate(t, e, model.Snapshot{BaseLevel: 10, BaseXP: 500, Name: "Alice", HP: 900})

	tick := mustUpdate(t, e, model.Snapshot{BaseLevel: 50, BaseXP: 40000, Name: "Bob", HP: 100})

	assert.True(t, tick.Initialized)
	assert.Nil(t, tick.LevelUp)
	assert.False(t, tick.TableChanged)
	assert.Empty(t, table.calls)
	view, _ := e.View()
	assert.Zero(t, view.TotalDamageTaken)
	assert.Equal(t, "Bob", view.Current.Name)
}

func TestCharacterSwitchDropsManualEstimates(t *testing.T) {
	table := openTable(t)
	_, err := table.Record(context.Background(), model.TrackBase, 20, 9000, true)
	require.NoError(t, err)

	e := NewEngine(table)
	mustUpdate(t, e, model.Snapshot{BaseLevel: 20, BaseXP: 4500, JobLevel: 7, JobXP: 300, Name: "Alice"})
	_, err = e.SetEstimateFromPercentage(model.TrackBase, 45)
	require.NoError(t, err)
	_, err = e.SetEstimateFromPercentage(model.TrackJob, 25)
	require.NoError(t, err)

	mustUpdate(t, e, model.Snapshot{BaseLevel: 20, BaseXP: 100, JobLevel: 7, JobXP: 30, Name: "Bob"})

	_, ok := e.ManualEstimate(model.TrackBase, 20)
	assert.False(t, ok)
	_, ok = e.ManualEstimate(model.TrackJob, 7)
	assert.False(t, ok)

	view, _ := e.View()
	assert.False(t, view.BaseProgress.ManualEstimate)
	assert.True(t, view.BaseProgress.Confirmed)
	assert.Equal(t, uint64(9000), view.BaseProgress.XPRequired)
	assert.False(t, view.JobProgress.Known)
}

func TestDamageCountsOnlyDrops(t *testing.T) {
	e := NewEngine(&fakeTable{})
	mustUpdate(t, e, model.Snapshot{HP: 500})
	assert.Equal(t, uint64(120), mustUpdate(t, e, model.Snapshot{HP: 380}).Damage)
	assert.Zero(t, mustUpdate(t, e, model.Snapshot{HP: 450}).Damage)
	assert.Equal(t, uint64(50), mustUpdate(t, e, model.Snapshot{HP: 400}).Damage)

	view, _ := e.View()
	assert.Equal(t, uint64(170), view.TotalDamageTaken)
	assert.Len(t, e.DamageEvents(), 2)
}

func TestRatesUseSessionTotals(t *testing.T) {
	clock := newClock()
	e := NewEngine(&fakeTable{}, WithClock(clock.Now))
	mustUpdate(t, e, model.Snapshot{BaseLevel: 1, HP: 500})

	clock.Advance(30 * time.Minute)
	mustUpdate(t, e, model.Snapshot{BaseLevel: 1, BaseXP: 1000, JobXP: 200, HP: 440})

	view, ok := e.View()
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, view.SessionTime)
	assert.Equal(t, uint64(2000), view.BaseXPPerHour)
	assert.Equal(t, uint64(400), view.JobXPPerHour)
	assert.Equal(t, uint64(2), view.DamagePerMinute)
}

func TestRatesAreZeroWithoutElapsedTime(t *testing.T) {
	clock := newClock()
	e := NewEngine(&fakeTable{}, WithClock(clock.Now))
	mustUpdate(t, e, model.Snapshot{BaseXP: 0})
	mustUpdate(t, e, model.Snapshot{BaseXP: 100})

	view, _ := e.View()
	assert.Zero(t, view.BaseXPPerHour)
	assert.Zero(t, view.DamagePerMinute)
}

func TestResetStartsNewSession(t *testing.T) {
	clock := newClock()
	table := &fakeTable{}
	e := NewEngine(table, WithClock(clock.Now))
	mustUpdate(t, e, model.Snapshot{BaseLevel: 3, BaseXP: 10, HP: 100})
	mustUpdate(t, e, model.Snapshot{BaseLevel: 3, BaseXP: 60, HP: 90})
	_, err := e.SetEstimateFromPercentage(model.TrackBase, 50)
	require.NoError(t, err)
	calls := len(table.calls)

	clock.Advance(time.Hour)
	e.Reset()

	_, ok := e.View()
	assert.False(t, ok)
	assert.Empty(t, e.XPGains())
	assert.Empty(t, e.DamageEvents())
	_, ok = e.ManualEstimate(model.TrackBase, 3)
	assert.False(t, ok)

	tick := mustUpdate(t, e, model.Snapshot{BaseLevel: 3, BaseXP: 500, HP: 10})
	assert.True(t, tick.Initialized)
	assert.Len(t, table.calls, calls)

	view, _ := e.View()
	assert.Zero(t, view.SessionTime)
	assert.Zero(t, view.TotalBaseXP)
	assert.Zero(t, view.TotalDamageTaken)
}

func TestTickReportsTableChanges(t *testing.T) {
	table := &fakeTable{}
	e := NewEngine(table)
	mustUpdate(t, e, model.Snapshot{BaseLevel: 2, BaseXP: 10})

	tick := mustUpdate(t, e, model.Snapshot{BaseLevel: 2, BaseXP: 40})
	assert.True(t, tick.TableChanged)
	assert.Equal(t, uint64(30), tick.BaseGain)

	// A join that changes nothing needs no write, but the tick still counts.
	table.unchanged = true
	tick = mustUpdate(t, e, model.Snapshot{BaseLevel: 2, BaseXP: 35})
	assert.False(t, tick.TableChanged)
	tick = mustUpdate(t, e, model.Snapshot{BaseLevel: 2, BaseXP: 60})
	assert.False(t, tick.TableChanged)
	assert.Equal(t, uint64(25), tick.BaseGain)

	view, _ := e.View()
	assert.Equal(t, uint64(2), view.MonstersKilled)
}

func TestSetEstimateFromPercentage(t *testing.T) {
	e := NewEngine(&fakeTable{})

	_, err := e.SetEstimateFromPercentage(model.TrackBase, 45)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	mustUpdate(t, e, model.Snapshot{BaseLevel: 20, BaseXP: 4500, JobLevel: 7, JobXP: 300})

	for _, pct := range []float64{0, -5, 100, 120, math.NaN()} {
		_, err := e.SetEstimateFromPercentage(model.TrackBase, pct)
		assert.ErrorIs(t, err, ErrPercentageRange, "pct %v", pct)
	}

	est, err := e.SetEstimateFromPercentage(model.TrackBase, 45)
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), est)

	est, err = e.SetEstimateFromPercentage(model.TrackJob, 25)
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), est)

	got, ok := e.ManualEstimate(model.TrackBase, 20)
	require.True(t, ok)
	assert.Equal(t, uint64(10000), got)
}

func TestLevelUpClearsEstimateOfPreviousLevel(t *testing.T) {
	e := NewEngine(&fakeTable{})
	mustUpdate(t, e, model.Snapshot{BaseLevel: 20, BaseXP: 4500, JobLevel: 7, JobXP: 300})
	_, err := e.SetEstimateFromPercentage(model.TrackBase, 45)
	require.NoError(t, err)
	_, err = e.SetEstimateFromPercentage(model.TrackJob, 25)
	require.NoError(t, err)

	mustUpdate(t, e, model.Snapshot{BaseLevel: 21, BaseXP: 0, JobLevel: 8, JobXP: 0})

	_, ok := e.ManualEstimate(model.TrackBase, 20)
	assert.False(t, ok)
	_, ok = e.ManualEstimate(model.TrackJob, 7)
	assert.False(t, ok)
}

func openTable(t *testing.T) *progression.Table {
	t.Helper()
	table, err := progression.Open(filepath.Join(t.TempDir(), "xp_table.json"))
	require.NoError(t, err)
	return table
}

func TestManualEstimateOverridesConfirmedEntry(t *testing.T) {
	ctx := context.Background()
	table := openTable(t)
	_, err := table.Record(ctx, model.TrackBase, 20, 9000, true)
	require.NoError(t, err)

	e := NewEngine(table)
	mustUpdate(t, e, model.Snapshot{BaseLevel: 20, BaseXP: 4500})

	view, _ := e.View()
	assert.True(t, view.BaseProgress.Confirmed)
	assert.Equal(t, uint64(9000), view.BaseProgress.XPRequired)
	assert.Equal(t, 50.0, view.BaseProgress.Percentage)

	_, err = e.SetEstimateFromPercentage(model.TrackBase, 45)
	require.NoError(t, err)

	view, _ = e.View()
	assert.True(t, view.BaseProgress.ManualEstimate)
	assert.Equal(t, uint64(10000), view.BaseProgress.XPRequired)
	assert.Equal(t, uint64(5500), view.BaseProgress.XPRemaining)
	assert.Equal(t, 45.0, view.BaseProgress.Percentage)

	// The estimate stays out of the table.
	entry, _ := table.Entry(model.TrackBase, 20)
	assert.Equal(t, progression.Entry{XP: 9000, Confirmed: true}, entry)
}

func TestLevelUpLearnsRequirementEndToEnd(t *testing.T) {
	table := openTable(t)
	e := NewEngine(table)

	mustUpdate(t, e, model.Snapshot{BaseLevel: 5, BaseXP: 1000})
	view, _ := e.View()
	assert.False(t, view.BaseProgress.Known)

	mustUpdate(t, e, model.Snapshot{BaseLevel: 5, BaseXP: 1500})
	entry, ok := table.Entry(model.TrackBase, 5)
	require.True(t, ok)
	assert.Equal(t, progression.Entry{XP: 1500}, entry)

	mustUpdate(t, e, model.Snapshot{BaseLevel: 6, BaseXP: 0})
	entry, _ = table.Entry(model.TrackBase, 5)
	assert.Equal(t, progression.Entry{XP: 1500, Confirmed: true}, entry)

	view, _ = e.View()
	assert.Equal(t, uint64(1), view.MonstersKilled)
	assert.Equal(t, uint64(500), view.TotalBaseXP)
	assert.False(t, view.BaseProgress.Known)

	// Coming back to level 5 on another character now shows progress.
	e.Reset()
	mustUpdate(t, e, model.Snapshot{BaseLevel: 5, BaseXP: 750})
	view, _ = e.View()
	assert.True(t, view.BaseProgress.Known)
	assert.Equal(t, 50.0, view.BaseProgress.Percentage)
}
