package quote

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/hazyhaar/medifind/horosafe"
)

var namePolicy = bluemonday.StrictPolicy()

// Normalize turns a raw item into a PriceQuote. fixedFee is the source's
// delivery fee, used when the item carries none. The returned error wraps
// ErrMalformedItem when the name or link is empty, the link is not an
// absolute http(s) URL, or the price has no non-negative numeric value.
func Normalize(raw RawItem, fixedFee decimal.Decimal) (PriceQuote, error) {
	name := cleanName(raw.Name)
	if name == "" {
		return PriceQuote{}, fmt.Errorf("%w: empty name", ErrMalformedItem)
	}

	link := strings.TrimSpace(raw.Link)
	if link == "" {
		return PriceQuote{}, fmt.Errorf("%w: empty link", ErrMalformedItem)
	}
	if err := horosafe.CheckAbsoluteURL(link); err != nil {
		return PriceQuote{}, fmt.Errorf("%w: link: %v", ErrMalformedItem, err)
	}

	unit, err := ParsePrice(raw.PriceText)
	if err != nil {
		return PriceQuote{}, err
	}

	fee := fixedFee
	if raw.DeliveryFee.Valid {
		fee = raw.DeliveryFee.Decimal
	}
	if fee.IsNegative() {
		return PriceQuote{}, fmt.Errorf("%w: negative delivery fee %s", ErrMalformedItem, fee)
	}

	return PriceQuote{
		Name:        name,
		UnitPrice:   unit,
		DeliveryFee: fee,
		Source:      raw.Source,
		Link:        link,
	}, nil
}

// ParsePrice keeps only digits and '.' from text and parses the rest as a
// decimal. "₹1,234.50" gives 1234.50; "N/A" is rejected.
func ParsePrice(text string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: no numeric content in price %q", ErrMalformedItem, text)
	}
	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: price %q: %v", ErrMalformedItem, text, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: negative price %q", ErrMalformedItem, text)
	}
	return d, nil
}

// cleanName strips markup, decodes entities and collapses whitespace.
func cleanName(s string) string {
	s = html.UnescapeString(namePolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}
