// Package fetcher implements the plain HTTP acquisition path used by
// lightweight pharmacy adapters: one GET per search page, paced per host,
// retried on transient failures, read with a size cap.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/medifind/connectivity"
	"github.com/hazyhaar/medifind/horosafe"
)

// ErrStatus is wrapped by Fetch for non-2xx responses.
var ErrStatus = errors.New("fetcher: unexpected status")

// DefaultUserAgents is the rotation used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
}

// Fetcher performs paced HTTP GETs. Safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	uas      []string
	next     atomic.Uint64
	limit    rate.Limit
	burst    int
	retries  int
	backoff  time.Duration
	maxBytes int64
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client. Its Jar is replaced only when nil.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgents sets the User-Agent rotation.
func WithUserAgents(uas ...string) Option {
	return func(f *Fetcher) {
		if len(uas) > 0 {
			f.uas = uas
		}
	}
}

// WithRate paces requests to each host. perSecond <= 0 disables pacing.
func WithRate(perSecond float64, burst int) Option {
	return func(f *Fetcher) {
		if perSecond <= 0 {
			f.limit = rate.Inf
		} else {
			f.limit = rate.Limit(perSecond)
		}
		if burst > 0 {
			f.burst = burst
		}
	}
}

// WithRetry sets the retry count and the first backoff for transport
// errors, 429 and 5xx responses.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(f *Fetcher) {
		if retries >= 0 {
			f.retries = retries
		}
		if backoff > 0 {
			f.backoff = backoff
		}
	}
}

// WithMaxBytes caps the body size.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher. Cookies set by a provider are kept for later
// requests to the same registrable domain.
func New(opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		uas:      DefaultUserAgents,
		limit:    rate.Limit(2),
		burst:    1,
		retries:  2,
		backoff:  250 * time.Millisecond,
		maxBytes: horosafe.MaxResponseBody,
		logger:   slog.Default(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(f)
	}
	if f.client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("fetcher: cookie jar: %w", err)
		}
		c := *f.client
		c.Jar = jar
		f.client = &c
	}
	return f, nil
}

// Fetch GETs pageURL and returns the body. ctx bounds pacing, every attempt
// and every backoff wait.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := horosafe.CheckAbsoluteURL(pageURL); err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	lim := f.limiter(req.URL.Hostname())

	var body []byte
	err = connectivity.Retry(ctx, f.retries, f.backoff, f.logger, func(ctx context.Context) error {
		if err := lim.Wait(ctx); err != nil {
			return connectivity.Permanent(fmt.Errorf("fetcher: pace: %w", err))
		}
		b, err := f.do(req.Clone(ctx))
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) do(req *http.Request) ([]byte, error) {
	ua := f.userAgent()
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-IN,en;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, req.URL.Host)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, connectivity.Permanent(err)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.maxBytes)
	if err != nil {
		if errors.Is(err, horosafe.ErrResponseTooLarge) {
			return nil, connectivity.Permanent(fmt.Errorf("fetcher: %w", err))
		}
		return nil, fmt.Errorf("fetcher: read body: %w", err)
	}

	f.logger.Debug("fetcher: fetched",
		"url", req.URL.String(), "status", resp.StatusCode,
		"size", len(body), "duration_ms", time.Since(start).Milliseconds())
	return body, nil
}

func (f *Fetcher) userAgent() string {
	n := f.next.Add(1) - 1
	return f.uas[n%uint64(len(f.uas))]
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.limit, f.burst)
		f.limiters[host] = lim
	}
	return lim
}
