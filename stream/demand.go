package stream

import (
	"sync/atomic"
)

// addCap adds two non-negative demands, saturating at Unbounded.
func addCap(a, b int64) int64 {
	r := a + b
	if r < 0 {
		return Unbounded
	}
	return r
}

// requestAdd atomically adds n to p and returns the previous value.
func requestAdd(p *atomic.Int64, n int64) int64 {
	for {
		cur := p.Load()
		if cur == Unbounded {
			return cur
		}
		if p.CompareAndSwap(cur, addCap(cur, n)) {
			return cur
		}
	}
}

// produced atomically subtracts n delivered values from p and returns the
// remaining demand. Unbounded demand is never reduced.
func produced(p *atomic.Int64, n int64) int64 {
	for {
		cur := p.Load()
		if cur == Unbounded {
			return cur
		}
		next := cur - n
		if next < 0 {
			next = 0
		}
		if p.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// wip is a work-in-progress counter guarding a drain loop: only the goroutine
// that moves it from zero drains, and it keeps draining until every missed
// entry has been observed.
type wip struct {
	n atomic.Int32
}

func (w *wip) enter() bool { return w.n.Add(1) == 1 }

func (w *wip) leave(missed int32) int32 { return w.n.Add(-missed) }

// mulCap multiplies two non-negative demands, saturating at Unbounded.
func mulCap(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > Unbounded/b {
		return Unbounded
	}
	return a * b
}
