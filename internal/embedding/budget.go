package embedding

import "sync/atomic"

// Budget caps provider calls and spend for one batch run. All counters are
// atomic so workers can share a single budget without locking.
type Budget struct {
	maxCalls    int64
	maxItems    int64
	costPerCall float64

	calls     atomic.Int64
	items     atomic.Int64
	exhausted atomic.Bool
}

func NewBudget(maxCalls, maxItems int, costPerCall float64) *Budget {
	return &Budget{
		maxCalls:    int64(maxCalls),
		maxItems:    int64(maxItems),
		costPerCall: costPerCall,
	}
}

// TryAcquire reserves one provider call. It returns false once the call budget
// is spent, and every later call also returns false.
func (b *Budget) TryAcquire() bool {
	n := b.calls.Add(1)
	if n > b.maxCalls {
		b.calls.Add(-1)
		b.exhausted.Store(true)
		return false
	}
	return true
}

// Release returns a reserved call that was never made.
func (b *Budget) Release() {
	b.calls.Add(-1)
}

// TryItem reserves one item slot against the per-run item ceiling.
func (b *Budget) TryItem() bool {
	if b.maxItems <= 0 {
		return true
	}
	n := b.items.Add(1)
	if n > b.maxItems {
		b.items.Add(-1)
		b.exhausted.Store(true)
		return false
	}
	return true
}

func (b *Budget) Exhausted() bool {
	return b.exhausted.Load()
}

func (b *Budget) Calls() int {
	return int(b.calls.Load())
}

func (b *Budget) Cost() float64 {
	return float64(b.calls.Load()) * b.costPerCall
}
