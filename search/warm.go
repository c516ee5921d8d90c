package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hazyhaar/medifind/quote"
)

// Warmer periodically refreshes popular queries so that user searches hit
// the cache. Terms are the configured list plus, when a search log is
// available, the most searched terms of the last day.
type Warmer struct {
	svc     *Service
	cron    *cron.Cron
	spec    string
	queries []string
	popular int
	jobs    []job
	logger  *slog.Logger
}

type job struct {
	spec string
	name string
	fn   func(context.Context) error
}

// WarmerOption configures a Warmer.
type WarmerOption func(*Warmer)

// WithPopular adds up to n of the most searched terms of the last day.
func WithPopular(n int) WarmerOption {
	return func(w *Warmer) { w.popular = n }
}

// WithJob schedules an extra maintenance job on the same cron.
func WithJob(spec, name string, fn func(context.Context) error) WarmerOption {
	return func(w *Warmer) { w.jobs = append(w.jobs, job{spec: spec, name: name, fn: fn}) }
}

// NewWarmer creates a Warmer for svc. An empty cfg.Schedule disables warming
// but extra jobs still run.
func NewWarmer(svc *Service, cfg WarmConfig, opts ...WarmerOption) *Warmer {
	logger := svc.logger
	cronLog := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	w := &Warmer{
		svc:     svc,
		spec:    cfg.Schedule,
		queries: cfg.Queries,
		logger:  logger,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start registers the jobs and starts the cron. Jobs stop receiving new
// runs when ctx is cancelled or Stop is called.
func (w *Warmer) Start(ctx context.Context) error {
	if w.spec != "" {
		if _, err := w.cron.AddFunc(w.spec, func() { w.RunOnce(ctx) }); err != nil {
			return fmt.Errorf("search: warm schedule %q: %w", w.spec, err)
		}
	}
	for _, j := range w.jobs {
		_, err := w.cron.AddFunc(j.spec, func() {
			if err := j.fn(ctx); err != nil {
				w.logger.WarnContext(ctx, "search: job failed", "job", j.name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("search: job %s schedule %q: %w", j.name, j.spec, err)
		}
	}
	w.cron.Start()
	w.logger.InfoContext(ctx, "search: warmer started", "schedule", w.spec, "jobs", len(w.jobs))
	return nil
}

// Stop stops the cron and waits for running jobs.
func (w *Warmer) Stop() {
	<-w.cron.Stop().Done()
}

// RunOnce refreshes every warm term sequentially and returns how many
// refreshes produced at least one item.
func (w *Warmer) RunOnce(ctx context.Context) int {
	terms := w.terms(ctx)
	warmed := 0
	for _, term := range terms {
		if ctx.Err() != nil {
			break
		}
		resp, err := w.svc.Refresh(ctx, term)
		if err != nil {
			w.logger.WarnContext(ctx, "search: warm refresh failed", "term", term, "error", err)
			continue
		}
		if !resp.NoResults {
			warmed++
		}
	}
	w.logger.InfoContext(ctx, "search: warm cycle done", "terms", len(terms), "warmed", warmed)
	return warmed
}

func (w *Warmer) terms(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		q, err := quote.NewQuery(t, 0)
		if err != nil || seen[q.Term] {
			return
		}
		seen[q.Term] = true
		out = append(out, q.Term)
	}
	for _, q := range w.queries {
		add(q)
	}
	if w.popular > 0 && w.svc.searchLog != nil {
		popular, err := w.svc.searchLog.Popular(ctx, w.svc.now().Add(-24*time.Hour), w.popular)
		if err != nil {
			w.logger.WarnContext(ctx, "search: popular terms", "error", err)
		}
		for _, t := range popular {
			add(t)
		}
	}
	return out
}
