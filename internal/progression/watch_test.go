package progression

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/rolens/internal/model"
)

func TestWatchReloadsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xp_table.json")
	watched := openTestTable(t, path)
	other := openTestTable(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watched.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before the write.
	time.Sleep(50 * time.Millisecond)
	_, err := other.Record(context.Background(), model.TrackBase, 30, 123456, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entry, ok := watched.Entry(model.TrackBase, 30)
		return ok && entry.Confirmed && entry.XP == 123456
	}, 2*time.Second, 10*time.Millisecond)
}
