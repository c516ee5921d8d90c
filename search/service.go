// Package search is medifind's query pipeline: cache lookup, fan-out to
// every registered pharmacy, normalisation, aggregation and cache store.
// It is exposed over HTTP (Handler) and MCP (RegisterMCP), and kept warm
// by a cron Warmer.
package search

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/medifind/connectivity"
	"github.com/hazyhaar/medifind/idgen"
	"github.com/hazyhaar/medifind/kit"
	"github.com/hazyhaar/medifind/observability"
	"github.com/hazyhaar/medifind/quote"
	"github.com/hazyhaar/medifind/search/internal/aggregate"
	"github.com/hazyhaar/medifind/search/internal/cache"
	"github.com/hazyhaar/medifind/search/internal/metrics"
	"github.com/hazyhaar/medifind/search/internal/scheduler"
	"github.com/hazyhaar/medifind/source"
)

// SearchLog persists served searches. *observability.SearchLog implements it.
type SearchLog interface {
	LogSearch(ctx context.Context, ev observability.SearchEvent)
	Recent(ctx context.Context, limit int) ([]observability.SearchEvent, error)
	Popular(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// Request is one inbound search.
type Request struct {
	Query    string `json:"query"`
	Quantity int    `json:"quantity,omitempty"`
}

// Response is what callers receive. Items are sorted by total price.
type Response struct {
	RequestID  string             `json:"request_id"`
	Query      string             `json:"query"`
	Quantity   int                `json:"quantity,omitempty"`
	Items      []quote.PriceQuote `json:"items"`
	Partial    bool               `json:"partial"`
	NoResults  bool               `json:"no_results"`
	Cached     bool               `json:"cached"`
	ProducedAt time.Time          `json:"produced_at"`
	Sources    []SourceOutcome    `json:"sources,omitempty"`
}

// SourceOutcome reports one source's part in a fresh (uncached) search.
type SourceOutcome struct {
	Source     quote.SourceID `json:"source"`
	Status     quote.Status   `json:"status"`
	Quotes     int            `json:"quotes"`
	Rejected   int            `json:"rejected,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Service runs searches. Create one per process.
type Service struct {
	registry  *source.Registry
	sched     *scheduler.Scheduler
	agg       *aggregate.Aggregator
	cache     *cache.Cache
	breakers  *connectivity.Breakers
	metrics   *metrics.Collector
	searchLog SearchLog
	newID     idgen.Generator
	flights   singleflight.Group
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithSearchLog persists every served search.
func WithSearchLog(l SearchLog) Option {
	return func(s *Service) { s.searchLog = l }
}

// WithIDGenerator sets the request ID generator for calls that arrive
// without one in their context.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Service) { s.newID = gen }
}

// WithClock injects the time source used by the cache and aggregator.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// NewMetrics returns a collector for WithMetrics.
func NewMetrics() *metrics.Collector { return metrics.NewCollector() }

// New builds a Service over the adapters in reg.
func New(cfg *Config, reg *source.Registry, opts ...Option) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Service{
		registry: reg,
		newID:    idgen.RequestID(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	s.breakers = connectivity.NewBreakers(
		connectivity.WithBreakerThreshold(cfg.Scheduler.BreakerThreshold),
		connectivity.WithBreakerResetTimeout(cfg.Scheduler.BreakerReset),
		connectivity.WithBreakerClock(s.now),
	)
	s.sched = scheduler.New(scheduler.Config{
		LightConcurrency: cfg.Scheduler.LightConcurrency,
		HeavyPool:        cfg.Scheduler.HeavyPool,
		Deadline:         cfg.Scheduler.Deadline,
	},
		scheduler.WithLogger(s.logger),
		scheduler.WithMetrics(s.metrics),
		scheduler.WithBreakers(s.breakers),
	)
	s.agg = aggregate.New(cfg.Results.Max)
	s.agg.Now = s.now
	s.cache = cache.New(
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithClock(s.now),
	)
	return s
}

type flight struct {
	result  quote.AggregateResult
	sources []quote.SourceResult
}

// Search answers req from the cache or by querying every source. The only
// error is ErrInvalidQuery; source failures show up as Partial and in
// Sources, and a search where nothing was found sets NoResults.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	q, err := quote.NewQuery(req.Query, req.Quantity)
	if err != nil {
		return nil, err
	}
	id := s.requestID(ctx)

	if res, ok := s.cache.Get(q); ok {
		s.metrics.RecordCacheLookup(true)
		resp := newResponse(id, res, true, nil)
		s.finish(ctx, resp, start)
		return resp, nil
	}
	s.metrics.RecordCacheLookup(false)

	f := s.fetch(ctx, q, false)
	resp := newResponse(id, f.result.Clone(), false, f.sources)
	s.finish(ctx, resp, start)
	return resp, nil
}

// Refresh re-queries every source for term and replaces the cached entry,
// whether or not one exists.
func (s *Service) Refresh(ctx context.Context, term string) (*Response, error) {
	start := time.Now()
	q, err := quote.NewQuery(term, 0)
	if err != nil {
		return nil, err
	}
	f := s.fetch(ctx, q, true)
	resp := newResponse(s.requestID(ctx), f.result.Clone(), false, f.sources)
	s.finish(ctx, resp, start)
	return resp, nil
}

// flightKey encodes q unambiguously; Query.Key is for display only.
func flightKey(q quote.Query) string {
	return strconv.Quote(q.Term) + "|" + strconv.Itoa(q.Quantity)
}

// fetch runs one fan-out per key at a time; concurrent callers for the same
// query share it. The fan-out is detached from the caller's cancellation so
// that one caller leaving does not fail the others; the scheduler deadline
// still bounds it.
func (s *Service) fetch(ctx context.Context, q quote.Query, refresh bool) *flight {
	v, _, _ := s.flights.Do(flightKey(q), func() (any, error) {
		if !refresh {
			if res, ok := s.cache.Get(q); ok {
				return &flight{result: res}, nil
			}
		}
		runCtx := context.WithoutCancel(ctx)
		results := s.sched.Run(runCtx, q, s.registry.All())
		agg := s.agg.Aggregate(q, results)

		if anyOK(results) {
			s.cache.Put(q, agg)
		} else if len(results) > 0 {
			s.logger.WarnContext(ctx, "search: all sources failed", "query", q.Key(), "sources", len(results))
		}
		return &flight{result: agg, sources: results}, nil
	})
	return v.(*flight)
}

func anyOK(results []quote.SourceResult) bool {
	for _, r := range results {
		if r.OK() {
			return true
		}
	}
	return false
}

func (s *Service) requestID(ctx context.Context) string {
	if id := kit.GetRequestID(ctx); id != "" {
		return id
	}
	return s.newID()
}

func newResponse(id string, res quote.AggregateResult, cached bool, sources []quote.SourceResult) *Response {
	resp := &Response{
		RequestID:  id,
		Query:      res.Query.Term,
		Quantity:   res.Query.Quantity,
		Items:      res.Items,
		Partial:    res.Partial,
		NoResults:  len(res.Items) == 0,
		Cached:     cached,
		ProducedAt: res.ProducedAt,
	}
	if resp.Items == nil {
		resp.Items = []quote.PriceQuote{}
	}
	for _, r := range sources {
		so := SourceOutcome{
			Source:     r.Source,
			Status:     r.Status,
			Quotes:     len(r.Quotes),
			Rejected:   r.Rejected,
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			so.Error = r.Err.Error()
		}
		resp.Sources = append(resp.Sources, so)
	}
	return resp
}

func (s *Service) finish(ctx context.Context, resp *Response, start time.Time) {
	elapsed := time.Since(start)
	s.metrics.RecordSearch(elapsed, resp.Cached)
	s.logger.InfoContext(ctx, "search: served",
		"request_id", resp.RequestID, "query", resp.Query, "items", len(resp.Items),
		"partial", resp.Partial, "cached", resp.Cached, "duration", elapsed)

	if s.searchLog == nil {
		return
	}
	ev := observability.SearchEvent{
		RequestID: resp.RequestID,
		Term:      resp.Query,
		Quantity:  resp.Quantity,
		Cached:    resp.Cached,
		Partial:   resp.Partial,
		ItemCount: len(resp.Items),
		Duration:  elapsed,
		CreatedAt: s.now(),
	}
	if len(resp.Items) > 0 {
		ev.BestTotal = resp.Items[0].Total().StringFixed(2)
		ev.BestSource = string(resp.Items[0].Source)
	}
	for _, so := range resp.Sources {
		ev.Sources = append(ev.Sources, observability.SourceOutcome{
			Source:   string(so.Source),
			Status:   so.Status.String(),
			Quotes:   so.Quotes,
			Rejected: so.Rejected,
			Error:    so.Error,
			Duration: time.Duration(so.DurationMS) * time.Millisecond,
		})
	}
	s.searchLog.LogSearch(context.WithoutCancel(ctx), ev)
}

// Health is a snapshot for /healthz.
type Health struct {
	Sources      []quote.SourceID  `json:"sources"`
	Breakers     map[string]string `json:"breakers"`
	CacheEntries int               `json:"cache_entries"`
}

// Health reports registered sources, breaker states and cache size.
func (s *Service) Health() Health {
	h := Health{
		Sources:      s.registry.IDs(),
		Breakers:     make(map[string]string),
		CacheEntries: s.cache.Len(),
	}
	for name, st := range s.breakers.States() {
		h.Breakers[name] = st.String()
	}
	return h
}

// PurgeCache drops every cached result.
func (s *Service) PurgeCache() { s.cache.Purge() }
