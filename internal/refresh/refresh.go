// Package refresh imports every configured feed into the event store, once
// on demand or on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"shipcal/internal/config"
	"shipcal/internal/ics"
	appLog "shipcal/internal/log"
	"shipcal/internal/model"
)

// Sink is where imported events go. *store.Store implements it.
type Sink interface {
	PersistEvent(ctx context.Context, ev model.ShippingEvent) error
	PruneSource(ctx context.Context, source string, keep []string) (int64, error)
}

// Fetcher downloads feed payloads. *ics.Fetcher implements it.
type Fetcher interface {
	FetchAll(ctx context.Context, feeds []ics.Feed) ([]ics.FetchResult, []error)
}

// Summary describes one refresh run.
type Summary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Feeds     int `json:"feeds"`
	FromCache int `json:"from_cache"`
	Imported  int `json:"imported"`
	Persisted int `json:"persisted"`
	Pruned    int `json:"pruned"`

	Errors []error `json:"-"`
}

// Failed reports whether any feed or event failed during the run.
func (s Summary) Failed() bool {
	return len(s.Errors) > 0
}

// Runner runs refreshes. Runs never overlap: a manual RunOnce waits for a
// scheduled one and vice versa.
type Runner struct {
	feeds    []ics.Feed
	schedule string
	loc      *time.Location

	horizonDays  int
	backfillDays int

	fetcher Fetcher
	sink    Sink
	now     func() time.Time

	runMu sync.Mutex
	bg    sync.WaitGroup

	mu      sync.Mutex
	last    *Summary
	cron    *cron.Cron
	stopped bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithNow sets the clock used as the recurrence expansion anchor.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New builds a Runner for the feeds and schedule in cfg.
func New(cfg *config.Config, fetcher Fetcher, sink Sink, opts ...Option) *Runner {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}

	r := &Runner{
		feeds:        Feeds(cfg),
		schedule:     cfg.RefreshCron,
		loc:          loc,
		horizonDays:  cfg.HorizonDays,
		backfillDays: cfg.BackfillDays,
		fetcher:      fetcher,
		sink:         sink,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feeds converts the configured feeds, skipping entries without URL.
func Feeds(cfg *config.Config) []ics.Feed {
	feeds := make([]ics.Feed, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		if f.URL == "" {
			continue
		}
		feeds = append(feeds, ics.Feed{ID: f.ID, URL: f.URL, Account: f.Account})
	}
	return feeds
}

// RunOnce fetches, imports and persists every feed. A failing feed is
// logged and skipped; the others are still imported.
func (r *Runner) RunOnce(ctx context.Context) Summary {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	sum := Summary{StartedAt: r.now(), Feeds: len(r.feeds)}
	appLog.Info("refresh start", "feed_count", len(r.feeds))

	results, fetchErrs := r.fetcher.FetchAll(ctx, r.feeds)
	sum.Errors = append(sum.Errors, fetchErrs...)

	opts := ics.ExpandOptions{
		Now:          r.now().In(r.loc),
		HorizonDays:  r.horizonDays,
		BackfillDays: r.backfillDays,
	}

	for _, res := range results {
		if res.FromCache {
			sum.FromCache++
		}

		events, err := ics.ImportFeed(res.Feed, res.Body, opts)
		if err != nil {
			appLog.Error("feed import failed", err, "id", res.Feed.ID)
			sum.Errors = append(sum.Errors, err)
			continue
		}
		sum.Imported += len(events)

		keep := make([]string, 0, len(events))
		for _, ev := range events {
			keep = append(keep, ev.ID)
			if err := r.sink.PersistEvent(ctx, ev); err != nil {
				appLog.Error("persist failed", err, "feed", res.Feed.ID, "event", ev.ID)
				sum.Errors = append(sum.Errors, err)
				continue
			}
			sum.Persisted++
		}

		pruned, err := r.sink.PruneSource(ctx, res.Feed.ID, keep)
		if err != nil {
			appLog.Error("prune failed", err, "feed", res.Feed.ID)
			sum.Errors = append(sum.Errors, &ics.FeedError{FeedID: res.Feed.ID, Err: err})
			continue
		}
		sum.Pruned += int(pruned)
	}

	sum.FinishedAt = r.now()
	r.mu.Lock()
	r.last = &sum
	r.mu.Unlock()

	if sum.Failed() {
		appLog.Error("refresh finished with errors", errors.Join(sum.Errors...),
			"error_count", len(sum.Errors), "persisted", sum.Persisted)
	} else {
		appLog.Info("refresh done", "imported", sum.Imported, "persisted", sum.Persisted, "pruned", sum.Pruned)
	}
	return sum
}

// Last returns the most recent run, if any.
func (r *Runner) Last() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

// Start schedules RunOnce on the configured cron spec. ctx is passed to
// every scheduled run.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("refresh: already started")
	}

	l := cronLogger{}
	c := cron.New(
		cron.WithLocation(r.loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("refresh: invalid schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.stopped = false

	appLog.Info("refresh scheduled", "schedule", r.schedule, "timezone", r.loc.String())
	return nil
}

// Go runs RunOnce in the background. Stop waits for it; after Stop, Go
// does nothing.
func (r *Runner) Go(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		r.RunOnce(ctx)
	}()
}

// Stop stops the scheduler and waits until no refresh is running (scheduled,
// started with Go, or called directly) or ctx expires.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if c != nil {
			<-c.Stop().Done()
		}
		r.bg.Wait()
		r.runMu.Lock()
		r.runMu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		appLog.Warn("refresh stop timed out", "reason", ctx.Err())
	}
}

// ValidateSchedule checks a five-field cron spec.
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("refresh: invalid schedule %q: %w", spec, err)
	}
	return nil
}

// cronLogger routes the scheduler's own messages to the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
