// Package aggregate merges per-source results into one deduplicated list
// sorted by total price.
package aggregate

import (
	"sort"
	"time"

	"github.com/hazyhaar/medifind/quote"
)

// DefaultMaxResults caps the merged list when no limit is given.
const DefaultMaxResults = 50

// Aggregator merges SourceResults.
type Aggregator struct {
	MaxResults int
	Now        func() time.Time
}

// New returns an Aggregator capped at limit results (DefaultMaxResults when <= 0).
func New(limit int) *Aggregator {
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	return &Aggregator{MaxResults: limit, Now: time.Now}
}

type dedupKey struct {
	source quote.SourceID
	link   string
}

// Aggregate flattens the OK results in the order given, drops repeated
// (source, link) pairs keeping the first, sorts by total price then source
// then name, and caps the list. Partial is set when any source did not
// succeed.
func (a *Aggregator) Aggregate(q quote.Query, results []quote.SourceResult) quote.AggregateResult {
	out := quote.AggregateResult{Query: q, Items: []quote.PriceQuote{}}

	seen := make(map[dedupKey]bool)
	for _, r := range results {
		if !r.OK() {
			out.Partial = true
			continue
		}
		for _, pq := range r.Quotes {
			k := dedupKey{source: pq.Source, link: pq.Link}
			if seen[k] {
				continue
			}
			seen[k] = true
			out.Items = append(out.Items, pq)
		}
	}

	Sort(out.Items)

	if limit := a.maxResults(); len(out.Items) > limit {
		out.Items = out.Items[:limit]
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	out.ProducedAt = now()
	return out
}

func (a *Aggregator) maxResults() int {
	if a.MaxResults <= 0 {
		return DefaultMaxResults
	}
	return a.MaxResults
}

// Sort orders quotes by total price ascending, then source, then name.
// Equal keys keep their input order.
func Sort(items []quote.PriceQuote) {
	sort.SliceStable(items, func(i, j int) bool {
		if c := items[i].Total().Cmp(items[j].Total()); c != 0 {
			return c < 0
		}
		if items[i].Source != items[j].Source {
			return items[i].Source < items[j].Source
		}
		return items[i].Name < items[j].Name
	})
}
