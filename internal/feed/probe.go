package feed

import (
	"bytes"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"taskfeed/internal/ics"
	appLog "taskfeed/internal/log"
	"taskfeed/internal/model"
)

// DefaultStatusTTL bounds how often the integration status hits upstream.
const DefaultStatusTTL = 300 * time.Second

const (
	ReasonNotConfigured = "not configured"
	ReasonInvalid       = "feed does not look valid"
	ReasonEmpty         = "feed parsed but contains no events"
)

var (
	markerCalendar = []byte("BEGIN:VCALENDAR")
	markerEvent    = []byte("BEGIN:VEVENT")
)

// Prober performs a cheap reachability and shape check of a feed.
type Prober struct {
	fetch Fetcher
}

func NewProber(fetch Fetcher) *Prober {
	return &Prober{fetch: fetch}
}

// Probe fetches url and sniffs it for calendar markers. It does not parse
// events. The returned reason is empty when ok is true.
func (p *Prober) Probe(ctx context.Context, url string) (ok bool, reason string) {
	if url == "" {
		return false, ReasonNotConfigured
	}
	body, err := p.fetch.Fetch(ctx, url)
	if err != nil {
		return false, err.Error()
	}
	// Markers are matched without regard to case, as the parser does.
	upper := bytes.ToUpper(body)
	if !bytes.Contains(upper, markerCalendar) && !bytes.Contains(upper, markerEvent) {
		return false, ReasonInvalid
	}
	return true, ""
}

// Verification is the result of a full fetch and parse of a feed.
type Verification struct {
	Kind    model.FeedKind `json:"kind"`
	OK      bool           `json:"ok"`
	Reason  string         `json:"reason,omitempty"`
	Events  int            `json:"events"`
	Skipped []ics.Skipped  `json:"skipped,omitempty"`
}

// Verify fetches and fully parses a feed. Unlike Probe it is not cached and
// is meant for on-demand diagnostics; it distinguishes a feed that parses to
// zero events from one that cannot be fetched.
func (p *Prober) Verify(ctx context.Context, src Source) Verification {
	v := Verification{Kind: src.Kind}
	if src.URL == "" {
		v.Reason = ReasonNotConfigured
		return v
	}
	body, err := p.fetch.Fetch(ctx, src.URL)
	if err != nil {
		v.Reason = err.Error()
		return v
	}
	res := ics.Parse(body)
	v.Events = len(res.Events)
	v.Skipped = res.Skipped
	if res.Empty() {
		v.Reason = ReasonEmpty
		return v
	}
	v.OK = true
	return v
}

// FeedStatus is the probe outcome for one feed kind.
type FeedStatus struct {
	Kind    model.FeedKind `json:"kind"`
	HasFeed bool           `json:"has_feed"`
	Reason  string         `json:"reason,omitempty"`
}

// Status is the combined integration status of every feed kind.
type Status struct {
	Feeds    []FeedStatus `json:"feeds"`
	CachedAt time.Time    `json:"cached_at"`
}

// Feed returns the entry for kind.
func (s Status) Feed(kind model.FeedKind) (FeedStatus, bool) {
	for _, f := range s.Feeds {
		if f.Kind == kind {
			return f, true
		}
	}
	return FeedStatus{}, false
}

// StatusCache holds a single process-wide integration status entry. It is
// shared by every caller and keyed only by the configured feeds.
type StatusCache struct {
	prober  *Prober
	sources []Source
	ttl     time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	cached *Status

	group singleflight.Group
}

// NewStatusCache creates a status cache probing sources in order.
func NewStatusCache(prober *Prober, sources []Source, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusCache{
		prober:  prober,
		sources: sources,
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the cache's time source.
func (s *StatusCache) SetClock(now func() time.Time) { s.now = now }

// Get returns the cached status, probing every feed again once the TTL has
// elapsed.
func (s *StatusCache) Get(ctx context.Context) Status {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil && s.now().Sub(cached.CachedAt) <= s.ttl {
		return *cached
	}

	shared := context.WithoutCancel(ctx)
	v, _, _ := s.group.Do("probe", func() (any, error) {
		return s.probeAll(shared), nil
	})
	return v.(Status)
}

// Invalidate forces the next Get to probe.
func (s *StatusCache) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *StatusCache) probeAll(ctx context.Context) Status {
	st := Status{Feeds: make([]FeedStatus, 0, len(s.sources))}
	for _, src := range s.sources {
		ok, reason := s.prober.Probe(ctx, src.URL)
		if !ok && src.URL != "" {
			appLog.Warn("feed probe failed", "kind", src.Kind, "url", ics.RedactURL(src.URL), "reason", reason)
		}
		st.Feeds = append(st.Feeds, FeedStatus{Kind: src.Kind, HasFeed: ok, Reason: reason})
	}
	st.CachedAt = s.now()

	s.mu.Lock()
	s.cached = &st
	s.mu.Unlock()
	return st
}
