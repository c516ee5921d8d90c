// Package scheduler fans a query out to every registered source adapter.
//
// Lightweight adapters share a concurrency limit; heavyweight adapters each
// hold one slot of a small pool for their whole invocation. Every adapter
// runs under its own timeout and the whole fan-out under an overall
// deadline. Whatever has not answered when the deadline fires is reported as
// timed out. An abandoned heavyweight call keeps its slot until it actually
// returns; its context is cancelled so it can stop early.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/medifind/connectivity"
	"github.com/hazyhaar/medifind/quote"
	"github.com/hazyhaar/medifind/search/internal/metrics"
	"github.com/hazyhaar/medifind/source"
)

// ErrCircuitOpen marks a source skipped because its breaker is open.
var ErrCircuitOpen = connectivity.ErrCircuitOpen

// ErrDeadline marks a source still pending when the overall deadline fired.
var ErrDeadline = errors.New("scheduler: overall deadline reached")

const (
	// DefaultLightConcurrency is the number of lightweight fetches run at once.
	DefaultLightConcurrency = 4
	// DefaultHeavyPool is the number of browser pages open at once.
	DefaultHeavyPool = 3
)

// Config bounds a Scheduler.
type Config struct {
	LightConcurrency int
	HeavyPool        int
	// Deadline is the overall budget per Run. Zero means the largest
	// per-source timeout among the registrations being run.
	Deadline time.Duration
}

// Scheduler runs adapters. Safe for concurrent use; the pools are shared
// by every Run.
type Scheduler struct {
	light    *semaphore.Weighted
	heavy    *semaphore.Weighted
	deadline time.Duration
	breakers *connectivity.Breakers
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics records per-source outcomes and pool usage.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = c }
}

// WithBreakers enables per-source circuit breaking.
func WithBreakers(b *connectivity.Breakers) Option {
	return func(s *Scheduler) { s.breakers = b }
}

// New creates a Scheduler.
func New(cfg Config, opts ...Option) *Scheduler {
	if cfg.LightConcurrency <= 0 {
		cfg.LightConcurrency = DefaultLightConcurrency
	}
	if cfg.HeavyPool <= 0 {
		cfg.HeavyPool = DefaultHeavyPool
	}
	s := &Scheduler{
		light:    semaphore.NewWeighted(int64(cfg.LightConcurrency)),
		heavy:    semaphore.NewWeighted(int64(cfg.HeavyPool)),
		deadline: cfg.Deadline,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type indexed struct {
	i int
	r quote.SourceResult
}

// Run invokes every registration for q and returns one SourceResult per
// registration, in registration order. It returns when all sources have
// answered or the overall deadline elapses, whichever comes first. Run
// never fails: problems are reported per source.
func (s *Scheduler) Run(ctx context.Context, q quote.Query, regs []source.Registration) []quote.SourceResult {
	start := time.Now()
	results := make([]quote.SourceResult, len(regs))
	if len(regs) == 0 {
		return results
	}

	runCtx, cancel := context.WithTimeout(ctx, s.deadlineFor(regs))
	defer cancel()

	ch := make(chan indexed, len(regs))
	for i, reg := range regs {
		go func() {
			ch <- indexed{i: i, r: s.runOne(runCtx, q, reg)}
		}()
	}

	done := make([]bool, len(regs))
	pending := len(regs)
wait:
	for pending > 0 {
		select {
		case in := <-ch:
			results[in.i], done[in.i] = in.r, true
			pending--
		case <-runCtx.Done():
			break wait
		}
	}
	// Pick up results that landed together with the deadline.
drain:
	for pending > 0 {
		select {
		case in := <-ch:
			results[in.i], done[in.i] = in.r, true
			pending--
		default:
			break drain
		}
	}

	for i, reg := range regs {
		if !done[i] {
			results[i] = quote.SourceResult{
				Source:   reg.ID,
				Status:   quote.StatusTimedOut,
				Err:      fmt.Errorf("%w: %w", quote.ErrAdapterTimeout, ErrDeadline),
				Duration: time.Since(start),
			}
		}
		s.report(ctx, q, results[i])
	}
	return results
}

func (s *Scheduler) deadlineFor(regs []source.Registration) time.Duration {
	if s.deadline > 0 {
		return s.deadline
	}
	var d time.Duration
	for _, reg := range regs {
		if reg.Timeout > d {
			d = reg.Timeout
		}
	}
	return d
}

type outcome struct {
	items []quote.RawItem
	err   error
}

// runOne acquires a slot, runs the adapter under its own timeout and
// normalises its items.
func (s *Scheduler) runOne(ctx context.Context, q quote.Query, reg source.Registration) quote.SourceResult {
	start := time.Now()
	res := quote.SourceResult{Source: reg.ID}
	finish := func() quote.SourceResult {
		res.Duration = time.Since(start)
		return res
	}

	var br *connectivity.CircuitBreaker
	if s.breakers != nil {
		br = s.breakers.For(string(reg.ID))
		if !br.Allow() {
			res.Status = quote.StatusFailed
			res.Err = fmt.Errorf("%w: %w: %s", quote.ErrAdapterFailure, ErrCircuitOpen, reg.ID)
			return finish()
		}
	}

	heavy := reg.Class == source.Heavyweight
	sem := s.light
	if heavy {
		sem = s.heavy
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		if br != nil {
			br.Cancel()
		}
		res.Status = quote.StatusTimedOut
		res.Err = fmt.Errorf("%w: waiting for %s slot: %w", quote.ErrAdapterTimeout, reg.Class, err)
		return finish()
	}
	if heavy {
		s.metrics.HeavySlotAcquired()
	}
	release := func() {
		if heavy {
			s.metrics.HeavySlotReleased()
		}
		sem.Release(1)
	}

	callCtx, cancel := context.WithTimeout(ctx, reg.Timeout)
	defer cancel()

	doneCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				doneCh <- outcome{err: fmt.Errorf("adapter panic: %v", p)}
			}
		}()
		items, err := reg.Adapter.Fetch(callCtx, q)
		doneCh <- outcome{items: items, err: err}
	}()

	var out outcome
	select {
	case out = <-doneCh:
		release()
	case <-callCtx.Done():
		// Stop waiting; the slot comes back when the call really ends.
		go func() {
			<-doneCh
			release()
		}()
		out.err = callCtx.Err()
	}

	switch {
	case out.err == nil:
		res.Status = quote.StatusOK
		res.Quotes, res.Rejected = s.normalize(ctx, reg, out.items)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		res.Status = quote.StatusTimedOut
		if ctx.Err() != nil {
			res.Err = fmt.Errorf("%w: %w", quote.ErrAdapterTimeout, ErrDeadline)
		} else {
			res.Err = fmt.Errorf("%w: after %s", quote.ErrAdapterTimeout, reg.Timeout)
		}
	default:
		res.Status = quote.StatusFailed
		res.Err = fmt.Errorf("%w: %w", quote.ErrAdapterFailure, out.err)
	}

	if br != nil {
		br.Record(res.OK())
	}
	return finish()
}

func (s *Scheduler) normalize(ctx context.Context, reg source.Registration, raw []quote.RawItem) ([]quote.PriceQuote, int) {
	quotes := make([]quote.PriceQuote, 0, len(raw))
	rejected := 0
	for _, item := range raw {
		item.Source = reg.ID
		pq, err := quote.Normalize(item, reg.DeliveryFee)
		if err != nil {
			rejected++
			s.logger.DebugContext(ctx, "scheduler: item rejected",
				"source", reg.ID, "name", item.Name, "price", item.PriceText, "error", err)
			continue
		}
		quotes = append(quotes, pq)
	}
	return quotes, rejected
}

func (s *Scheduler) report(ctx context.Context, q quote.Query, r quote.SourceResult) {
	s.metrics.RecordSource(string(r.Source), r.Status.String(), r.Duration)
	if r.OK() {
		s.logger.DebugContext(ctx, "scheduler: source ok",
			"source", r.Source, "query", q.Key(), "quotes", len(r.Quotes),
			"rejected", r.Rejected, "duration", r.Duration)
		return
	}
	s.logger.WarnContext(ctx, "scheduler: source "+r.Status.String(),
		"source", r.Source, "query", q.Key(), "error", r.Err, "duration", r.Duration)
}

// Breakers returns the breaker set, or nil when circuit breaking is off.
func (s *Scheduler) Breakers() *connectivity.Breakers { return s.breakers }
