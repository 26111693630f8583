package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"taskfeed/internal/config"
	"taskfeed/internal/feed"
	"taskfeed/internal/ics"
	appLog "taskfeed/internal/log"
	"taskfeed/internal/model"
	"taskfeed/internal/reconcile"
	"taskfeed/internal/task"
)

// ErrUnknownFeed is returned for a feed kind that is not known.
var ErrUnknownFeed = errors.New("unknown feed kind")

// ConfigurationError reports that a feed was requested but has no URL.
// It is a client-correctable condition, never retried.
type ConfigurationError struct {
	Kind model.FeedKind
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("feed %s is not configured", e.Kind)
}

// EventsPage is the result of ListEvents.
type EventsPage struct {
	Kind     model.FeedKind `json:"kind"`
	Items    []model.Event  `json:"items"`
	CachedAt time.Time      `json:"cached_at"`
	Stale    bool           `json:"stale"`
	// Skipped counts feed blocks dropped by the parser.
	Skipped int `json:"skipped"`
}

// Options overrides the collaborators New would otherwise build from the
// configuration. Zero values select the defaults.
type Options struct {
	ContentFetcher feed.Fetcher
	ProbeFetcher   feed.Fetcher
	Now            func() time.Time
}

// Service is the reporting surface consumed by the HTTP and CLI layers.
type Service struct {
	cfg    *config.Config
	now    func() time.Time
	caches map[model.FeedKind]*feed.Cache
	prober *feed.Prober
	status *feed.StatusCache
	rec    *reconcile.Reconciler
	tasks  *task.Service
	coll   task.Collection
}

// New wires a Service for cfg on top of the given task collection.
func New(cfg *config.Config, coll task.Collection, opts Options) *Service {
	if opts.ContentFetcher == nil {
		opts.ContentFetcher = ics.NewFetcher(cfg.FetchTimeout, cfg.MaxBodyBytes)
	}
	if opts.ProbeFetcher == nil {
		opts.ProbeFetcher = ics.NewFetcher(cfg.ProbeTimeout, cfg.MaxBodyBytes)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		cfg:    cfg,
		now:    opts.Now,
		caches: make(map[model.FeedKind]*feed.Cache, len(model.AllFeedKinds)),
		prober: feed.NewProber(opts.ProbeFetcher),
		rec:    reconcile.New(coll),
		tasks:  task.NewService(coll),
		coll:   coll,
	}

	sources := make([]feed.Source, 0, len(model.AllFeedKinds))
	for _, kind := range model.AllFeedKinds {
		fc, _ := cfg.Feed(kind)
		src := feed.Source{Kind: kind, URL: fc.URL}
		sources = append(sources, src)

		c := feed.NewCache(src, opts.ContentFetcher, cfg.FeedTTL)
		c.SetClock(opts.Now)
		s.caches[kind] = c
	}
	s.status = feed.NewStatusCache(s.prober, sources, cfg.StatusTTL)
	s.status.SetClock(opts.Now)
	s.rec.SetClock(opts.Now)
	return s
}

// Tasks exposes the task CRUD service backed by the same collection that
// sync writes into.
func (s *Service) Tasks() *task.Service { return s.tasks }

// ConfiguredKinds returns the feed kinds that have a URL.
func (s *Service) ConfiguredKinds() []model.FeedKind {
	var out []model.FeedKind
	for _, kind := range model.AllFeedKinds {
		if fc, _ := s.cfg.Feed(kind); fc.URL != "" {
			out = append(out, kind)
		}
	}
	return out
}

// feedFor resolves kind to its config entry and cache, failing with
// ErrUnknownFeed or *ConfigurationError.
func (s *Service) feedFor(kind model.FeedKind) (config.FeedConfig, *feed.Cache, error) {
	fc, ok := s.cfg.Feed(kind)
	if !ok {
		return config.FeedConfig{}, nil, fmt.Errorf("%w: %q", ErrUnknownFeed, kind)
	}
	if fc.URL == "" {
		return fc, nil, &ConfigurationError{Kind: kind}
	}
	return fc, s.caches[kind], nil
}

// ListEvents returns the cached events of kind. A positive windowDays keeps
// only events starting before now+windowDays; upcomingOnly drops events that
// have already ended. Events with an unparsed start survive the window and
// are ordered after every resolved one.
func (s *Service) ListEvents(ctx context.Context, kind model.FeedKind, windowDays int, upcomingOnly bool) (EventsPage, error) {
	_, c, err := s.feedFor(kind)
	if err != nil {
		return EventsPage{}, err
	}
	snap, err := c.GetOrRefresh(ctx)
	if err != nil {
		return EventsPage{}, err
	}

	now := s.now().UTC()
	var horizon time.Time
	if windowDays > 0 {
		horizon = now.AddDate(0, 0, windowDays)
	}

	items := make([]model.Event, 0, len(snap.Items))
	for _, ev := range snap.Items {
		if !horizon.IsZero() {
			if start, ok := ev.Start.Instant(); ok && !start.Before(horizon) {
				continue
			}
		}
		if upcomingOnly && ev.End.Before(now) {
			continue
		}
		items = append(items, ev)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return startsBefore(items[i].Start, items[j].Start)
	})

	return EventsPage{
		Kind:     kind,
		Items:    items,
		CachedAt: snap.FetchedAt,
		Stale:    snap.Stale,
		Skipped:  len(snap.Skipped),
	}, nil
}

func startsBefore(a, b model.EventTime) bool {
	at, aok := a.Instant()
	bt, bok := b.Instant()
	switch {
	case aok && bok:
		return at.Before(bt)
	case aok:
		return true
	default:
		return false
	}
}

// Sync reconciles the current events of kind into the task collection.
func (s *Service) Sync(ctx context.Context, kind model.FeedKind) (reconcile.Result, error) {
	fc, c, err := s.feedFor(kind)
	if err != nil {
		return reconcile.Result{}, err
	}
	snap, err := c.GetOrRefresh(ctx)
	if err != nil {
		return reconcile.Result{}, err
	}
	return s.rec.Sync(ctx, snap.Items, reconcile.Source{
		Tag:      fc.Source,
		Label:    fc.Label,
		SkipPast: fc.HidesPast(),
	})
}

// SyncConfigured syncs every configured kind, continuing past failures.
// The returned error joins every per-kind failure.
func (s *Service) SyncConfigured(ctx context.Context) (map[model.FeedKind]reconcile.Result, error) {
	results := make(map[model.FeedKind]reconcile.Result)
	var errs []error
	for _, kind := range s.ConfiguredKinds() {
		res, err := s.Sync(ctx, kind)
		if err != nil {
			appLog.Error("feed sync failed", err, "kind", kind)
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		results[kind] = res
	}
	return results, errors.Join(errs...)
}

// Status reports the integration status of the requested kinds, or of
// every kind when none are given. Unconfigured feeds are reported, not
// treated as errors.
func (s *Service) Status(ctx context.Context, kinds ...model.FeedKind) (feed.Status, error) {
	for _, kind := range kinds {
		if _, ok := s.cfg.Feed(kind); !ok {
			return feed.Status{}, fmt.Errorf("%w: %q", ErrUnknownFeed, kind)
		}
	}

	st := s.status.Get(ctx)
	if len(kinds) == 0 {
		return st, nil
	}
	out := feed.Status{CachedAt: st.CachedAt, Feeds: make([]feed.FeedStatus, 0, len(kinds))}
	for _, kind := range kinds {
		if f, ok := st.Feed(kind); ok {
			out.Feeds = append(out.Feeds, f)
		}
	}
	return out, nil
}

// Verify fully fetches and parses kind, bypassing every cache. A passing
// verification drops the cached events of kind and the cached status.
func (s *Service) Verify(ctx context.Context, kind model.FeedKind) (feed.Verification, error) {
	fc, cache, err := s.feedFor(kind)
	if err != nil {
		return feed.Verification{}, err
	}
	v := s.prober.Verify(ctx, feed.Source{Kind: kind, URL: fc.URL})
	if v.OK {
		// The feed is reachable right now, so later reads should see what
		// was just verified rather than an older snapshot or status.
		cache.Invalidate()
		s.status.Invalidate()
	}
	return v, nil
}

// ExportICS renders synced tasks as an ICS calendar. A non-empty source
// keeps only tasks carrying that source tag.
func (s *Service) ExportICS(ctx context.Context, source string) ([]byte, error) {
	all, err := s.coll.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]model.Task, 0, len(all))
	for _, t := range all {
		if t.ExternalID == "" {
			continue
		}
		if source != "" && t.Source != source {
			continue
		}
		tasks = append(tasks, t)
	}

	name := "taskfeed"
	if source != "" {
		name += " (" + source + ")"
	}
	return ics.ExportTasks(name, tasks, s.now().UTC()), nil
}
