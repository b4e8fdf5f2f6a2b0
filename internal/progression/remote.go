package progression

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/verte-zerg/rolens/internal/model"
)

// DefaultRemoteURL serves the community-maintained baseline table.
const DefaultRemoteURL = "https://raw.githubusercontent.com/dev-edilsonmelo/ROLens/main/xp_table.json"

const (
	defaultRemoteTimeout = 10 * time.Second
	maxRemoteBytes       = 1 << 20
)

// ErrNetwork wraps transport failures and unexpected HTTP statuses.
var ErrNetwork = errors.New("progression table download failed")

// Source provides a table document to bootstrap from.
type Source interface {
	Fetch(ctx context.Context) (Document, error)
}

// Remote fetches the baseline table over HTTP. Concurrent fetches share one request.
type Remote struct {
	url    string
	client *http.Client
	group  singleflight.Group
}

// NewRemote returns a Remote for url. A nil client gets a 10s timeout client.
func NewRemote(url string, client *http.Client) *Remote {
	if url == "" {
		url = DefaultRemoteURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultRemoteTimeout}
	}
	return &Remote{url: url, client: client}
}

// URL returns the source address.
func (r *Remote) URL() string {
	return r.url
}

// Fetch downloads and decodes the remote document. The document must carry a "base" key.
func (r *Remote) Fetch(ctx context.Context) (Document, error) {
	v, err, _ := r.group.Do(r.url, func() (any, error) {
		return r.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Document).clone(), nil
}

func (r *Remote) fetch(ctx context.Context) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrNetwork, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	doc, err := Decode(data, true)
	if err != nil {
		return nil, fmt.Errorf("remote table: %w", err)
	}
	return doc, nil
}

// Bootstrap joins the source's document into the table and persists it. Locally confirmed or
// larger values are never lowered. A failed fetch leaves the table untouched.
func (t *Table) Bootstrap(ctx context.Context, src Source) error {
	doc, err := src.Fetch(ctx)
	if err != nil {
		return err
	}
	if err := t.Merge(ctx, doc); err != nil {
		return err
	}
	t.logger.Info("progression table bootstrapped", "levels", len(doc[model.TrackBase]))
	return nil
}
