package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "taskfeed/internal/log"
	"taskfeed/internal/model"
	"taskfeed/internal/reconcile"
)

// Syncer syncs every configured feed. *app.Service satisfies it.
type Syncer interface {
	SyncConfigured(ctx context.Context) (map[model.FeedKind]reconcile.Result, error)
}

// Scheduler runs feed syncs on a cron schedule. Runs never overlap; a tick
// that fires while the previous sync is still going is skipped.
type Scheduler struct {
	spec   string
	syncer Syncer
	cron   *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates spec (standard 5-field cron or a descriptor such as
// "@every 30m") and prepares a scheduler. Nothing runs until Start.
func New(spec string, syncer Syncer) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}

	logger := cronLogger{}
	s := &Scheduler{
		spec:   spec,
		syncer: syncer,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx: context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("schedule sync: %w", err)
	}
	return s, nil
}

// Start begins ticking. Syncs run under a context derived from ctx, and the
// scheduler stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	s.cron.Start()
	appLog.Info("scheduled sync started", "schedule", s.spec)

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

// Stop halts the schedule and returns a context that is done once any
// running sync has finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return s.cron.Stop()
}

// Next reports when the next sync is due. It is zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce performs a single sync outside the schedule.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	results, err := s.syncer.SyncConfigured(ctx)
	for kind, res := range results {
		appLog.Info("scheduled sync finished",
			"kind", kind,
			"created", res.Created,
			"updated", res.Updated,
			"skipped", res.Skipped,
		)
	}
	return err
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.RunOnce(ctx); err != nil {
		appLog.Error("scheduled sync failed", err)
	}
}

// cronLogger routes cron's own diagnostics into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
