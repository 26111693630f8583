package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"taskfeed/internal/ics"
	appLog "taskfeed/internal/log"
	"taskfeed/internal/model"
)

// DefaultTTL is how long a parsed shift/event feed is served before the next
// request triggers a refetch.
const DefaultTTL = 900 * time.Second

// Fetcher retrieves the raw body of a feed. *ics.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchError is returned when a feed could not be refreshed and there is no
// earlier snapshot to fall back on.
type FetchError struct {
	Kind model.FeedKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed %s: no cached data and refresh failed: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Snapshot is an immutable view of the last successful refresh. Items and
// Skipped are shared between callers and must not be modified.
type Snapshot struct {
	Items     []model.Event
	Skipped   []ics.Skipped
	FetchedAt time.Time
	// Stale is set when the snapshot is served because a due refresh failed.
	Stale bool
}

// Source identifies the feed a Cache is responsible for.
type Source struct {
	Kind model.FeedKind
	URL  string
}

// Cache holds the most recent successfully parsed events of one feed.
//
// The snapshot pointer is swapped under mu, so readers never observe items
// from one refresh paired with the timestamp of another. Concurrent
// refreshes are coalesced into a single fetch.
type Cache struct {
	src   Source
	fetch Fetcher
	ttl   time.Duration
	now   func() time.Time

	mu   sync.RWMutex
	snap *Snapshot

	group singleflight.Group
}

// NewCache creates an empty cache for src. A non-positive ttl selects
// DefaultTTL.
func NewCache(src Source, fetch Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		src:   src,
		fetch: fetch,
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock replaces the cache's time source.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// GetOrRefresh returns the cached snapshot, refreshing it first when it is
// absent or older than the TTL. If the refresh fails the previous snapshot
// is returned with Stale set; only when there is nothing cached does the
// error surface, as a *FetchError.
func (c *Cache) GetOrRefresh(ctx context.Context) (Snapshot, error) {
	if snap, ok := c.fresh(); ok {
		return snap, nil
	}

	// The shared refresh must not die with whichever request started it;
	// the fetcher's own timeout still bounds it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresh(shared)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// peek returns the current snapshot without refreshing.
func (c *Cache) peek() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return Snapshot{}, false
	}
	return *c.snap, true
}

// Invalidate drops the snapshot so the next call refetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

func (c *Cache) fresh() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil || c.now().Sub(c.snap.FetchedAt) > c.ttl {
		return Snapshot{}, false
	}
	return *c.snap, true
}

func (c *Cache) refresh(ctx context.Context) (Snapshot, error) {
	// A flight that finished just before this one may already have
	// refreshed the snapshot.
	if snap, ok := c.fresh(); ok {
		return snap, nil
	}

	body, err := c.fetch.Fetch(ctx, c.src.URL)
	if err != nil {
		c.mu.RLock()
		prev := c.snap
		c.mu.RUnlock()
		if prev != nil {
			appLog.Error("feed refresh failed, serving stale cache", err,
				"kind", c.src.Kind,
				"url", ics.RedactURL(c.src.URL),
				"fetched_at", prev.FetchedAt.Format(time.RFC3339),
			)
			stale := *prev
			stale.Stale = true
			return stale, nil
		}
		return Snapshot{}, &FetchError{Kind: c.src.Kind, Err: err}
	}

	res := ics.Parse(body)
	if len(res.Skipped) > 0 {
		appLog.Warn("feed contained malformed events",
			"kind", c.src.Kind,
			"skipped", len(res.Skipped),
		)
	}

	snap := &Snapshot{
		Items:     res.Events,
		Skipped:   res.Skipped,
		FetchedAt: c.now(),
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	appLog.Info("feed refreshed",
		"kind", c.src.Kind,
		"events", len(res.Events),
		"skipped", len(res.Skipped),
	)
	return *snap, nil
}
