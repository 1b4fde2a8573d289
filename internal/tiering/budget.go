package tiering

import (
	"math"
	"sync"
)

// Budget bounds quality-driven escalations across all units of a run.
// Workers Reserve a slot before calling a stronger tier, then Commit on
// success or Refund on failure, so concurrent units never overspend it.
type Budget struct {
	mu        sync.Mutex
	initial   int
	committed int
	reserved  int
}

// NewBudget sizes the budget as min(floor(units*fraction), absolute).
func NewBudget(units int, fraction float64, absolute int) *Budget {
	n := int(math.Floor(float64(units) * fraction))
	if absolute < n {
		n = absolute
	}
	return NewFixedBudget(n)
}

// NewFixedBudget creates a budget of exactly n escalations.
func NewFixedBudget(n int) *Budget {
	if n < 0 {
		n = 0
	}
	return &Budget{initial: n}
}

// Reserve claims one escalation if any is left.
func (b *Budget) Reserve() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.committed+b.reserved >= b.initial {
		return false
	}
	b.reserved++
	return true
}

// Commit consumes a reservation after the stronger tier succeeded.
func (b *Budget) Commit() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.reserved > 0 {
		b.reserved--
		b.committed++
	}
}

// Refund returns a reservation whose escalation failed.
func (b *Budget) Refund() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.reserved > 0 {
		b.reserved--
	}
}

// Remaining is the number of escalations not yet committed. It never grows.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initial - b.committed
}

// Initial is the size the budget was created with.
func (b *Budget) Initial() int {
	return b.initial
}

// BudgetPolicy sizes a run's Budget from its unit count.
type BudgetPolicy struct {
	MaxFraction float64
	MaxAbsolute int
}

// DefaultBudgetPolicy allows a quarter of the units, at most 25.
func DefaultBudgetPolicy() BudgetPolicy {
	return BudgetPolicy{MaxFraction: 0.25, MaxAbsolute: 25}
}

// For creates the budget for a run over units units.
func (p BudgetPolicy) For(units int) *Budget {
	return NewBudget(units, p.MaxFraction, p.MaxAbsolute)
}
