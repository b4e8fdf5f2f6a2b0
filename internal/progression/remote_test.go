package progression

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/rolens/internal/model"
)

func serveTable(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestBootstrapNeverLowersLocalData(t *testing.T) {
	ctx := context.Background()
	srv, _ := serveTable(t, http.StatusOK, `{"base": {
		"10": {"xp": 9000, "confirmed": false},
		"11": {"xp": 11000, "confirmed": true},
		"12": 5
	}}`)
	path := filepath.Join(t.TempDir(), "xp_table.json")
	table := openTestTable(t, path)
	_, err := table.Record(ctx, model.TrackBase, 10, 9800, true)
	require.NoError(t, err)
	_, err = table.Record(ctx, model.TrackBase, 11, 12000, false)
	require.NoError(t, err)

	require.NoError(t, table.Bootstrap(ctx, NewRemote(srv.URL, srv.Client())))

	reopened := openTestTable(t, path)
	assert.Equal(t, []Row{
		{Level: 10, Entry: Entry{XP: 9800, Confirmed: true}},
		{Level: 11, Entry: Entry{XP: 12000, Confirmed: true}},
		{Level: 12, Entry: Entry{XP: 5}},
	}, reopened.Rows(model.TrackBase))
}

func TestBootstrapMissingBaseIsFormatError(t *testing.T) {
	srv, _ := serveTable(t, http.StatusOK, `{"levels": {}}`)
	table := openTestTable(t, filepath.Join(t.TempDir(), "xp_table.json"))

	err := table.Bootstrap(context.Background(), NewRemote(srv.URL, srv.Client()))
	assert.ErrorIs(t, err, ErrFormat)
	assert.Empty(t, table.Rows(model.TrackBase))
}

func TestFetchHTTPErrorIsNetworkError(t *testing.T) {
	srv, _ := serveTable(t, http.StatusNotFound, `missing`)

	_, err := NewRemote(srv.URL, srv.Client()).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestFetchUnreachableIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewRemote(url, &http.Client{Timeout: time.Second}).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestFetchCollapsesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"base": {"1": 10}}`))
	}))
	t.Cleanup(srv.Close)
	remote := NewRemote(srv.URL, srv.Client())

	var wg, started sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			doc, err := remote.Fetch(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, Entry{XP: 10}, doc[model.TrackBase][1])
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewRemoteDefaults(t *testing.T) {
	remote := NewRemote("", nil)
	assert.Equal(t, DefaultRemoteURL, remote.URL())
}
