package stream

import (
	"sync"
	"sync/atomic"
)

// arbiter is a subscription whose upstream can be replaced, as when a stage
// moves to the next source or resubscribes. Outstanding demand is carried
// over: the new upstream is asked for what was requested and not yet
// produced. State is owned by whichever goroutine holds the wip counter;
// other goroutines leave their changes in the missed fields.
//
// A non-positive request is sticky: it is forwarded to the current upstream
// and to every upstream attached later, so the protocol error is reported
// even when the current upstream has already terminated.
type arbiter struct {
	requested int64
	current   Subscription
	unbounded atomic.Bool
	// gen counts the upstreams attached; badGen is the last one that was
	// sent the bad request.
	gen    uint64
	badGen uint64

	mu        sync.Mutex
	missedSub Subscription

	missedRequested atomic.Int64
	missedProduced  atomic.Int64
	badRequest      atomic.Pointer[int64]
	cancelled       atomic.Bool
	wip             wip
}

// request adds demand and forwards it to the current upstream. A
// non-positive n is forwarded as is, so that the upstream reports it.
func (a *arbiter) request(n int64) {
	if n <= 0 {
		if a.badRequest.CompareAndSwap(nil, &n) {
			a.drain()
		}
		return
	}
	if a.unbounded.Load() {
		return
	}
	if a.wip.enter() {
		r := a.requested
		if r != Unbounded {
			r = addCap(r, n)
			a.requested = r
			if r == Unbounded {
				a.unbounded.Store(true)
			}
		}
		cur := a.current
		if a.wip.leave(1) != 0 {
			a.drainLoop()
		}
		if cur != nil {
			cur.Request(n)
		}
		return
	}
	requestAdd(&a.missedRequested, n)
	a.drain()
}

// produced records n values delivered by the current upstream.
func (a *arbiter) produced(n int64) {
	if a.unbounded.Load() || n == 0 {
		return
	}
	if a.wip.enter() {
		if r := a.requested; r != Unbounded {
			a.requested = max(r-n, 0)
		}
		if a.wip.leave(1) != 0 {
			a.drainLoop()
		}
		return
	}
	a.missedProduced.Add(n)
	a.drain()
}

// setSubscription replaces the upstream and requests the outstanding demand
// from it. The previous upstream is not cancelled.
func (a *arbiter) setSubscription(s Subscription) {
	if a.cancelled.Load() {
		s.Cancel()
		return
	}
	if a.wip.enter() {
		a.current = s
		a.gen++
		r := a.requested
		bad := a.takeBadRequest()
		if a.wip.leave(1) != 0 {
			a.drainLoop()
		}
		switch {
		case bad != nil:
			s.Request(*bad)
		case r != 0:
			s.Request(r)
		}
		return
	}
	a.mu.Lock()
	prev := a.missedSub
	a.missedSub = s
	a.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
	a.drain()
}

// cancel cancels the current upstream and any later one.
func (a *arbiter) cancel() {
	if a.cancelled.CompareAndSwap(false, true) {
		a.drain()
	}
}

func (a *arbiter) isCancelled() bool { return a.cancelled.Load() }

// requestedBadly reports whether a non-positive request was made. Errors
// arriving afterwards report the protocol violation and are not recovered.
func (a *arbiter) requestedBadly() bool { return a.badRequest.Load() != nil }

// takeBadRequest returns the bad request amount if the current upstream has
// not been sent it yet. The caller must hold wip.
func (a *arbiter) takeBadRequest() *int64 {
	n := a.badRequest.Load()
	if n == nil || a.current == nil || a.badGen == a.gen {
		return nil
	}
	a.badGen = a.gen
	return n
}

func (a *arbiter) drain() {
	if a.wip.enter() {
		a.drainLoop()
	}
}

func (a *arbiter) drainLoop() {
	missed := int32(1)
	var amount int64
	var target Subscription
	var bad *int64
	var badTarget Subscription
	for {
		a.mu.Lock()
		ms := a.missedSub
		a.missedSub = nil
		a.mu.Unlock()
		mr := a.missedRequested.Swap(0)
		mp := a.missedProduced.Swap(0)
		cur := a.current

		if a.cancelled.Load() {
			if cur != nil {
				cur.Cancel()
				a.current = nil
			}
			if ms != nil {
				ms.Cancel()
			}
			amount = 0
		} else {
			r := a.requested
			if r != Unbounded {
				u := addCap(r, mr)
				if u != Unbounded {
					r = max(u-mp, 0)
				} else {
					r = u
					a.unbounded.Store(true)
				}
				a.requested = r
			}
			switch {
			case ms != nil:
				a.current = ms
				a.gen++
				amount = r
				target = ms
			case mr != 0 && cur != nil:
				amount = addCap(amount, mr)
				target = cur
			}
			if n := a.takeBadRequest(); n != nil {
				bad, badTarget = n, a.current
			}
		}

		if missed = a.wip.leave(missed); missed == 0 {
			if bad != nil {
				badTarget.Request(*bad)
			} else if amount != 0 && target != nil {
				target.Request(amount)
			}
			return
		}
	}
}

// arbiterStage is the base of subscribers that switch between upstreams.
type arbiterStage[T any] struct {
	arbiter
	actual  Subscriber[T]
	ctx     Context
	emitted int64
}

func newArbiterStage[T any](actual Subscriber[T]) arbiterStage[T] {
	return arbiterStage[T]{actual: actual, ctx: contextOf(actual)}
}

func (a *arbiterStage[T]) Context() Context { return a.ctx }
func (a *arbiterStage[T]) Request(n int64)  { a.request(n) }
func (a *arbiterStage[T]) Cancel()          { a.cancel() }

// next delivers v and counts it against the current upstream.
func (a *arbiterStage[T]) next(v T) {
	a.emitted++
	a.actual.OnNext(v)
}

// settle charges the values delivered by the finished upstream before the
// next one is attached.
func (a *arbiterStage[T]) settle() {
	if a.emitted != 0 {
		a.produced(a.emitted)
		a.emitted = 0
	}
}

// trampoline runs fn again for every call made while it is running, so that
// synchronous resubscription does not recurse.
type trampoline struct {
	w wip
}

func (t *trampoline) run(fn func()) {
	if !t.w.enter() {
		return
	}
	for {
		fn()
		if t.w.leave(1) == 0 {
			return
		}
	}
}
