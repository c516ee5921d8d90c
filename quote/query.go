package quote

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxTermLength bounds the search term in runes.
const MaxTermLength = 120

// Query is a normalised search term plus an optional quantity hint.
// The zero Quantity means "unspecified". Query values are comparable and
// are used directly as cache keys.
type Query struct {
	Term     string
	Quantity int
}

// NewQuery trims, case-folds and collapses inner whitespace of term.
// It returns ErrInvalidQuery for empty, oversized or control-character terms,
// and for negative quantities.
func NewQuery(term string, quantity int) (Query, error) {
	if !utf8.ValidString(term) {
		return Query{}, fmt.Errorf("%w: term is not valid UTF-8", ErrInvalidQuery)
	}
	folded := strings.Join(strings.Fields(strings.ToLower(term)), " ")
	if folded == "" {
		return Query{}, fmt.Errorf("%w: empty term", ErrInvalidQuery)
	}
	if utf8.RuneCountInString(folded) > MaxTermLength {
		return Query{}, fmt.Errorf("%w: term longer than %d characters", ErrInvalidQuery, MaxTermLength)
	}
	for _, r := range folded {
		if r < 0x20 || r == 0x7f {
			return Query{}, fmt.Errorf("%w: control character in term", ErrInvalidQuery)
		}
	}
	if quantity < 0 {
		return Query{}, fmt.Errorf("%w: negative quantity %d", ErrInvalidQuery, quantity)
	}
	return Query{Term: folded, Quantity: quantity}, nil
}

// Key returns the string form of the query used in logs and metrics labels.
func (q Query) Key() string {
	if q.Quantity == 0 {
		return q.Term
	}
	return q.Term + "|" + strconv.Itoa(q.Quantity)
}

func (q Query) String() string { return q.Key() }
