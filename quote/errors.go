package quote

import "errors"

// ErrInvalidQuery is returned when a search term is empty after normalisation.
var ErrInvalidQuery = errors.New("quote: invalid query")

// ErrMalformedItem is returned by Normalize when a raw item cannot become a quote.
var ErrMalformedItem = errors.New("quote: malformed item")

// ErrAdapterFailure marks a source that could not produce data for a query.
var ErrAdapterFailure = errors.New("quote: adapter failure")

// ErrAdapterTimeout marks a source that did not answer within its budget.
var ErrAdapterTimeout = errors.New("quote: adapter timeout")
