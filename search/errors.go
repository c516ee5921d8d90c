package search

import (
	"github.com/hazyhaar/medifind/quote"
	"github.com/hazyhaar/medifind/search/internal/scheduler"
)

// ErrInvalidQuery is returned by Search before any source is contacted.
var ErrInvalidQuery = quote.ErrInvalidQuery

// Per-source causes, found with errors.Is on SourceOutcome errors.
var (
	ErrAdapterFailure = quote.ErrAdapterFailure
	ErrAdapterTimeout = quote.ErrAdapterTimeout
	ErrCircuitOpen    = scheduler.ErrCircuitOpen
	ErrDeadline       = scheduler.ErrDeadline
)
