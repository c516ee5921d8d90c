// Package source defines the contract between medifind and the per-provider
// adapters that scrape prices: an Adapter returns raw items for a Query, and
// a Registration declares how the scheduler must run it.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/medifind/quote"
)

// ErrDuplicateSource is returned when an ID is registered twice.
var ErrDuplicateSource = errors.New("source: duplicate source id")

// ErrUnknownSource is returned by Registry.Get for an unregistered ID.
var ErrUnknownSource = errors.New("source: unknown source id")

// Adapter scrapes one provider. Implementations keep no state visible to
// callers between calls and must return an error, not panic, when the page
// does not have the expected structure. ctx carries the per-call timeout.
type Adapter interface {
	Fetch(ctx context.Context, q quote.Query) ([]quote.RawItem, error)
}

// AdapterFunc adapts a plain function to Adapter.
type AdapterFunc func(ctx context.Context, q quote.Query) ([]quote.RawItem, error)

// Fetch calls f.
func (f AdapterFunc) Fetch(ctx context.Context, q quote.Query) ([]quote.RawItem, error) {
	return f(ctx, q)
}

// Class is the execution class of an adapter.
type Class int

const (
	// Lightweight adapters only wait on network I/O and run many at once.
	Lightweight Class = iota
	// Heavyweight adapters hold a browser slot for their whole invocation.
	Heavyweight
)

func (c Class) String() string {
	if c == Heavyweight {
		return "heavyweight"
	}
	return "lightweight"
}

// ParseClass maps "light"/"lightweight"/"http" and "heavy"/"heavyweight"/"browser".
func ParseClass(s string) (Class, error) {
	switch s {
	case "light", "lightweight", "http", "":
		return Lightweight, nil
	case "heavy", "heavyweight", "browser":
		return Heavyweight, nil
	}
	return 0, fmt.Errorf("source: unknown class %q", s)
}

// Registration binds an adapter to its stable ID and scheduling parameters.
type Registration struct {
	ID          quote.SourceID
	Class       Class
	DeliveryFee decimal.Decimal // fixed fee applied when items carry none
	Adapter     Adapter

	// Timeout bounds one Fetch. It starts once the scheduler grants the
	// source a slot; time queued for a slot counts only against the overall
	// deadline.
	Timeout time.Duration
}

// Registry holds the configured adapters. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	regs  map[quote.SourceID]Registration
	order []quote.SourceID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[quote.SourceID]Registration)}
}

// Register adds reg. IDs must be unique; Adapter must be non-nil and
// Timeout positive.
func (r *Registry) Register(reg Registration) error {
	if reg.ID == "" {
		return fmt.Errorf("source: empty id")
	}
	if reg.Adapter == nil {
		return fmt.Errorf("source: %s: nil adapter", reg.ID)
	}
	if reg.Timeout <= 0 {
		return fmt.Errorf("source: %s: timeout must be positive", reg.ID)
	}
	if reg.DeliveryFee.IsNegative() {
		return fmt.Errorf("source: %s: negative delivery fee", reg.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regs[reg.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, reg.ID)
	}
	r.regs[reg.ID] = reg
	r.order = append(r.order, reg.ID)
	return nil
}

// Get returns the registration for id.
func (r *Registry) Get(id quote.SourceID) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[id]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return reg, nil
}

// All returns registrations in registration order.
func (r *Registry) All() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.regs[id])
	}
	return out
}

// IDs returns the registered IDs sorted alphabetically.
func (r *Registry) IDs() []quote.SourceID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]quote.SourceID, 0, len(r.order))
	ids = append(ids, r.order...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MaxTimeout returns the largest per-source timeout, or 0 when empty.
func (r *Registry) MaxTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var longest time.Duration
	for _, reg := range r.regs {
		if reg.Timeout > longest {
			longest = reg.Timeout
		}
	}
	return longest
}
