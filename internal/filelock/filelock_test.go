package filelock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "table.json.lock")

	lock, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)
	assert.Equal(t, path, lock.Path())
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	again, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.json.lock")
	held, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = held.Release()
	})

	start := time.Now()
	_, err = AcquireWithInterval(context.Background(), path, 100*time.Millisecond, 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAcquireSucceedsAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.json.lock")
	held, err := Acquire(context.Background(), path, time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Release()
	}()

	lock, err := AcquireWithInterval(context.Background(), path, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}
