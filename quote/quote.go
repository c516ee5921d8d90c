// Package quote holds the canonical price records shared by every medifind
// component: the normalised Query, per-source RawItem records, the
// PriceQuote produced by Normalize, and the per-source and aggregated
// results built from them.
package quote

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SourceID names a provider. IDs are stable and lower-case ("apollo", "1mg").
type SourceID string

// RawItem is one record scraped from a provider page before normalisation.
type RawItem struct {
	Name      string
	PriceText string // provider formatted, e.g. "₹1,234.50"
	Link      string
	// DeliveryFee is set when the page states a fee. When invalid the
	// registration's fixed fee applies.
	DeliveryFee decimal.NullDecimal
	Source      SourceID
}

// PriceQuote is a normalised price record. The total is derived from its
// two components on every read and never stored.
type PriceQuote struct {
	Name        string
	UnitPrice   decimal.Decimal
	DeliveryFee decimal.Decimal
	Source      SourceID
	Link        string
}

// Total returns UnitPrice + DeliveryFee.
func (p PriceQuote) Total() decimal.Decimal {
	return p.UnitPrice.Add(p.DeliveryFee)
}

type quoteJSON struct {
	Name        string      `json:"name"`
	UnitPrice   json.Number `json:"unit_price"`
	DeliveryFee json.Number `json:"delivery_fee"`
	TotalPrice  json.Number `json:"total_price"`
	Source      SourceID    `json:"source"`
	Link        string      `json:"link"`
}

// MarshalJSON encodes money as numbers with two decimal places.
func (p PriceQuote) MarshalJSON() ([]byte, error) {
	return json.Marshal(quoteJSON{
		Name:        p.Name,
		UnitPrice:   json.Number(p.UnitPrice.StringFixed(2)),
		DeliveryFee: json.Number(p.DeliveryFee.StringFixed(2)),
		TotalPrice:  json.Number(p.Total().StringFixed(2)),
		Source:      p.Source,
		Link:        p.Link,
	})
}

// UnmarshalJSON accepts the MarshalJSON form. total_price is ignored and
// recomputed from its components.
func (p *PriceQuote) UnmarshalJSON(data []byte) error {
	var q quoteJSON
	if err := json.Unmarshal(data, &q); err != nil {
		return err
	}
	unit, err := decimal.NewFromString(q.UnitPrice.String())
	if err != nil {
		return err
	}
	fee, err := decimal.NewFromString(q.DeliveryFee.String())
	if err != nil {
		return err
	}
	*p = PriceQuote{Name: q.Name, UnitPrice: unit, DeliveryFee: fee, Source: q.Source, Link: q.Link}
	return nil
}

// Status is the outcome of one adapter invocation.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MarshalText lets Status appear as a string in JSON.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// SourceResult is what one source contributed to a search. Quotes is only
// meaningful when Status is StatusOK; a failed or timed out source
// contributes nothing.
type SourceResult struct {
	Source   SourceID
	Status   Status
	Quotes   []PriceQuote
	Rejected int // raw items dropped by Normalize
	Err      error
	Duration time.Duration
}

// OK reports whether the source produced a (possibly empty) list.
func (r SourceResult) OK() bool { return r.Status == StatusOK }

// AggregateResult is the merged, sorted answer for one Query.
type AggregateResult struct {
	Items      []PriceQuote
	Partial    bool
	Query      Query
	ProducedAt time.Time
}

// Clone returns a copy whose Items slice does not alias r's.
func (r AggregateResult) Clone() AggregateResult {
	out := r
	if r.Items != nil {
		out.Items = make([]PriceQuote, len(r.Items))
		copy(out.Items, r.Items)
	}
	return out
}
