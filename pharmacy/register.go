package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/medifind/horosafe"
	"github.com/hazyhaar/medifind/pharmacy/internal/browser"
	"github.com/hazyhaar/medifind/pharmacy/internal/fetcher"
	"github.com/hazyhaar/medifind/quote"
	"github.com/hazyhaar/medifind/search"
	"github.com/hazyhaar/medifind/source"
)

// ErrUnknownPharmacy is returned by Register for a source id with no adapter.
var ErrUnknownPharmacy = errors.New("pharmacy: unknown pharmacy")

var sites = map[quote.SourceID]site{
	apollo.id:    apollo,
	pharmeasy.id: pharmeasy,
	onemg.id:     onemg,
	truemeds.id:  truemeds,
}

// Backends are the acquisition paths shared by every adapter.
type Backends struct {
	HTTP    Getter
	Browser Renderer
	close   func() error
}

// NewBackends builds the HTTP fetcher and the browser manager from cfg.
// Chrome is only started by the first heavyweight fetch.
func NewBackends(cfg *search.Config, logger *slog.Logger) (*Backends, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := fetcher.New(
		fetcher.WithClient(&http.Client{Timeout: cfg.HTTP.Timeout}),
		fetcher.WithUserAgents(cfg.HTTP.UserAgents...),
		fetcher.WithRate(cfg.HTTP.RatePerSecond, cfg.HTTP.Burst),
		fetcher.WithRetry(cfg.HTTP.Retries, cfg.HTTP.RetryBackoff),
		fetcher.WithMaxBytes(cfg.HTTP.MaxBytes),
		fetcher.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	headless := cfg.Browser.Headless == nil || *cfg.Browser.Headless
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headless:         headless,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		NavigateTimeout:  cfg.Browser.NavigateTimeout,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           logger,
	})

	return &Backends{HTTP: f, Browser: mgr, close: mgr.Close}, nil
}

// Close releases the browser.
func (b *Backends) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// Register adds an adapter for every enabled source in cfg. Lightweight
// sources load pages through b.HTTP, heavyweight ones through b.Browser.
func Register(reg *source.Registry, cfg *search.Config, b *Backends, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, sc := range cfg.EnabledSources() {
		r, err := newRegistration(sc, b, logger)
		if err != nil {
			return err
		}
		if err := reg.Register(r); err != nil {
			return err
		}
		logger.Info("pharmacy: registered",
			"source", r.ID, "class", r.Class, "timeout", r.Timeout, "delivery_fee", r.DeliveryFee.StringFixed(2))
	}
	return nil
}

func newRegistration(sc search.SourceConfig, b *Backends, logger *slog.Logger) (source.Registration, error) {
	s, ok := sites[quote.SourceID(sc.ID)]
	if !ok {
		return source.Registration{}, fmt.Errorf("%w: %q", ErrUnknownPharmacy, sc.ID)
	}
	class, err := source.ParseClass(sc.Class)
	if err != nil {
		return source.Registration{}, err
	}

	rawBase := s.baseURL
	if sc.BaseURL != "" {
		rawBase = sc.BaseURL
	}
	if err := horosafe.CheckAbsoluteURL(rawBase); err != nil {
		return source.Registration{}, fmt.Errorf("pharmacy: %s: base url: %w", s.id, err)
	}
	base, err := url.Parse(rawBase)
	if err != nil {
		return source.Registration{}, fmt.Errorf("pharmacy: %s: base url: %w", s.id, err)
	}

	limit := sc.MaxItems
	if limit <= 0 {
		limit = 5
	}

	var load loadFunc
	switch class {
	case source.Heavyweight:
		if b == nil || b.Browser == nil {
			return source.Registration{}, fmt.Errorf("pharmacy: %s: heavyweight source without a browser", s.id)
		}
		r := b.Browser
		load = func(ctx context.Context, pageURL string) ([]byte, error) {
			html, err := r.Render(ctx, pageURL, s.waitAny...)
			return []byte(html), err
		}
	default:
		if b == nil || b.HTTP == nil {
			return source.Registration{}, fmt.Errorf("pharmacy: %s: lightweight source without an http client", s.id)
		}
		load = b.HTTP.Fetch
	}

	return source.Registration{
		ID:          s.id,
		Class:       class,
		Timeout:     sc.Timeout,
		DeliveryFee: decimal.NewFromFloat(sc.DeliveryFee),
		Adapter: &pageAdapter{
			site:   s,
			base:   base,
			limit:  limit,
			load:   load,
			logger: logger,
		},
	}, nil
}
