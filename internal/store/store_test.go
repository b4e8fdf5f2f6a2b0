package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/rolens/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "nested", "rolens.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func seed(t *testing.T, st *Store) time.Time {
	t.Helper()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ups := []model.LevelUp{
		{SessionID: "s1", Character: "Alice", Track: model.TrackBase, Level: 10, XPRequired: 9800, At: base},
		{SessionID: "s1", Character: "Alice", Track: model.TrackBase, Level: 11, XPRequired: 12000, At: base.Add(500 * time.Millisecond)},
		{SessionID: "s2", Character: "Bob", Track: model.TrackBase, Level: 50, XPRequired: 400000, At: base.Add(time.Second)},
		{SessionID: "s2", Character: "Alice", Track: model.TrackBase, Level: 12, XPRequired: 15000, At: base.Add(time.Hour)},
	}
	for _, up := range ups {
		_, err := st.InsertLevelUp(context.Background(), up)
		require.NoError(t, err)
	}
	return base
}

func levels(ups []model.LevelUp) []uint16 {
	out := make([]uint16, 0, len(ups))
	for _, up := range ups {
		out = append(out, up.Level)
	}
	return out
}

func TestInsertAndListLevelUps(t *testing.T) {
	st := openTestStore(t)
	base := seed(t, st)

	ups, err := st.ListLevelUps(context.Background(), model.LevelUpFilter{})
	require.NoError(t, err)
	assert.Equal(t, []uint16{10, 11, 50, 12}, levels(ups))

	first := ups[0]
	assert.Equal(t, "s1", first.SessionID)
	assert.Equal(t, "Alice", first.Character)
	assert.Equal(t, model.TrackBase, first.Track)
	assert.Equal(t, uint64(9800), first.XPRequired)
	assert.True(t, base.Equal(first.At))
}

func TestListLevelUpsFilters(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	base := seed(t, st)

	ups, err := st.ListLevelUps(ctx, model.LevelUpFilter{Character: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, []uint16{10, 11, 12}, levels(ups))

	ups, err = st.ListLevelUps(ctx, model.LevelUpFilter{SessionID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, []uint16{50, 12}, levels(ups))

	since := base.Add(time.Second)
	ups, err = st.ListLevelUps(ctx, model.LevelUpFilter{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, []uint16{50, 12}, levels(ups))

	ups, err = st.ListLevelUps(ctx, model.LevelUpFilter{Last: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint16{50, 12}, levels(ups))

	ups, err = st.ListLevelUps(ctx, model.LevelUpFilter{Character: "Alice", Last: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint16{11, 12}, levels(ups))
}

func TestInsertRequiresSessionID(t *testing.T) {
	st := openTestStore(t)
	_, err := st.InsertLevelUp(context.Background(), model.LevelUp{Character: "Alice", Level: 1, At: time.Now()})
	assert.Error(t, err)
}

func TestJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolens.db")
	st, err := Open(path)
	require.NoError(t, err)
	_, err = st.InsertLevelUp(context.Background(), model.LevelUp{
		SessionID: NewSessionID(), Character: "Alice", Track: model.TrackBase, Level: 3, XPRequired: 40, At: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	ups, err := st.ListLevelUps(context.Background(), model.LevelUpFilter{})
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.Len(t, ups[0].SessionID, 26)
}

func TestNewSessionIDIsUniqueAndSortable(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
}
