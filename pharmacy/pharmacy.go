// Package pharmacy provides the source adapters for the supported online
// pharmacies. Lightweight adapters GET the search page over HTTP;
// heavyweight adapters render it in Chrome. Both parse the resulting HTML
// with goquery and return at most MaxItems raw items.
package pharmacy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/medifind/quote"
)

// ErrNoCards is returned when a page has none of the expected product cards.
var ErrNoCards = errors.New("pharmacy: no product cards found")

// Getter fetches a page over plain HTTP.
type Getter interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// Renderer renders a page in a browser and returns its HTML. It waits for
// any of waitAny to appear.
type Renderer interface {
	Render(ctx context.Context, pageURL string, waitAny ...string) (string, error)
}

// loadFunc returns the HTML of pageURL.
type loadFunc func(ctx context.Context, pageURL string) ([]byte, error)

// site describes how to query and parse one pharmacy.
type site struct {
	id      quote.SourceID
	baseURL string
	// searchURL builds the search page URL for a normalised term.
	searchURL func(base *url.URL, term string) string
	// waitAny lists selectors a rendered page must show before parsing.
	waitAny []string
	parse   func(doc *goquery.Document, base *url.URL, limit int) ([]quote.RawItem, error)
}

// pageAdapter is a source.Adapter that loads a search page and parses it.
type pageAdapter struct {
	site   site
	base   *url.URL
	limit  int
	load   loadFunc
	logger *slog.Logger
}

// Fetch implements source.Adapter.
func (a *pageAdapter) Fetch(ctx context.Context, q quote.Query) ([]quote.RawItem, error) {
	pageURL := a.site.searchURL(a.base, q.Term)

	html, err := a.load(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("pharmacy: %s: %w", a.site.id, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("pharmacy: %s: parse html: %w", a.site.id, err)
	}

	items, err := a.site.parse(doc, a.base, a.limit)
	if err != nil {
		return nil, fmt.Errorf("pharmacy: %s: %s: %w", a.site.id, pageURL, err)
	}
	for i := range items {
		items[i].Source = a.site.id
	}

	a.logger.DebugContext(ctx, "pharmacy: parsed",
		"source", a.site.id, "url", pageURL, "items", len(items))
	return items, nil
}

// findCards returns the first non-empty match among selectors.
func findCards(doc *goquery.Document, selectors ...string) (*goquery.Selection, error) {
	for _, sel := range selectors {
		if cards := doc.Find(sel); cards.Length() > 0 {
			return cards, nil
		}
	}
	return nil, ErrNoCards
}

// firstText returns the trimmed text of the first selector that matches
// with non-empty text.
func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(s.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

var priceRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// firstPrice extracts the first amount from a price block that may also
// hold the struck MRP and a discount ("₹30.25 ₹33.61 10% off").
func firstPrice(text string) string {
	return priceRe.FindString(text)
}

// eachCard calls fn for at most limit cards.
func eachCard(cards *goquery.Selection, limit int, fn func(card *goquery.Selection)) {
	cards.EachWithBreak(func(i int, card *goquery.Selection) bool {
		if i >= limit {
			return false
		}
		fn(card)
		return true
	})
}

func escapeTerm(term, space string) string {
	return url.PathEscape(strings.ReplaceAll(term, " ", space))
}
