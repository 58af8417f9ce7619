package worker

import "sync"

// Reservation is the result of asking the budget for a page slot.
type Reservation int

// Reservation outcomes.
const (
	// Reserved grants a slot that must later be committed or cancelled.
	Reserved Reservation = iota + 1
	// Saturated means every remaining slot is reserved by in-flight work;
	// one may free up if that work fails.
	Saturated
	// Exhausted means the page limit has been reached.
	Exhausted
)

// Budget caps the number of pages a crawl persists. Slots are reserved
// before a fetch and committed only once the page is stored, so concurrent
// workers never overshoot the limit.
type Budget struct {
	mu        sync.Mutex
	limit     int64
	committed int64
	reserved  int64
}

// NewBudget returns a budget of limit pages. A non-positive limit is unbounded.
func NewBudget(limit int) *Budget {
	return &Budget{limit: int64(limit)}
}

// Reserve claims a slot if one is free.
func (b *Budget) Reserve() Reservation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		b.reserved++
		return Reserved
	}
	if b.committed >= b.limit {
		return Exhausted
	}
	if b.committed+b.reserved >= b.limit {
		return Saturated
	}
	b.reserved++
	return Reserved
}

// Commit turns a reservation into a counted page.
func (b *Budget) Commit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reserved > 0 {
		b.reserved--
	}
	b.committed++
}

// Cancel returns a reservation unused.
func (b *Budget) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reserved > 0 {
		b.reserved--
	}
}

// Exhausted reports whether the limit has been reached.
func (b *Budget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit > 0 && b.committed >= b.limit
}

// Committed returns the number of committed pages.
func (b *Budget) Committed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}
