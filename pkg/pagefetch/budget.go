package pagefetch

import "sync/atomic"

// RenderBudget is the per-pass quota of browser renders, shared by every concurrent fetch in the pass
type RenderBudget struct {
	remaining atomic.Int64
}

// NewRenderBudget creates a budget allowing n renders. n <= 0 allows none.
func NewRenderBudget(n int) *RenderBudget {
	b := &RenderBudget{}
	if n > 0 {
		b.remaining.Store(int64(n))
	}
	return b
}

// TryAcquire takes one render from the budget, reporting false when it is spent
func (b *RenderBudget) TryAcquire() bool {
	if b == nil {
		return false
	}
	for {
		n := b.remaining.Load()
		if n <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Remaining is the number of renders left
func (b *RenderBudget) Remaining() int {
	if b == nil {
		return 0
	}
	return int(b.remaining.Load())
}
