package stream

import (
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
)

// cursor is a synchronous value source driven by pullSubscription.
type cursor[T any] interface {
	// next returns the next value, ok=false once exhausted, or a terminal error.
	next() (v T, ok bool, err error)
	// finished reports, without consuming a value, whether the cursor has
	// nothing left to emit and how it ended.
	finished() (bool, error)
	close()
}

func subscribeCursor[T any](actual Subscriber[T], c cursor[T]) {
	if ended, err := c.finished(); ended {
		c.close()
		if err != nil {
			errorNow(actual, err)
		} else {
			completeNow(actual)
		}
		return
	}
	actual.OnSubscribe(&pullSubscription[T]{actual: actual, cursor: c})
}

// pullSubscription emits cursor values as demand allows. Request and Cancel
// may be called from any goroutine; emission happens in a single drain loop.
type pullSubscription[T any] struct {
	actual    Subscriber[T]
	cursor    cursor[T]
	requested atomic.Int64
	cancelled atomic.Bool
	bad       atomic.Pointer[errors.Error]
	wip       wip
}

func (p *pullSubscription[T]) Request(n int64) {
	if n <= 0 {
		p.bad.CompareAndSwap(nil, errors.BadRequest(n))
		p.drain()
		return
	}
	requestAdd(&p.requested, n)
	p.drain()
}

func (p *pullSubscription[T]) Cancel() {
	p.cancelled.Store(true)
	if p.wip.enter() {
		p.cursor.close()
	}
}

func (p *pullSubscription[T]) drain() {
	if !p.wip.enter() {
		return
	}
	missed := int32(1)
	for {
		if p.cancelled.Load() {
			p.cursor.close()
			return
		}
		if err := p.bad.Load(); err != nil {
			p.terminate(err)
			return
		}
		r := p.requested.Load()
		var e int64
		for e != r {
			if p.cancelled.Load() {
				p.cursor.close()
				return
			}
			v, ok, err := p.cursor.next()
			if err != nil {
				p.terminate(err)
				return
			}
			if !ok {
				p.terminate(nil)
				return
			}
			p.actual.OnNext(v)
			e++
		}
		if p.cancelled.Load() {
			p.cursor.close()
			return
		}
		if ended, err := p.cursor.finished(); ended {
			p.terminate(err)
			return
		}
		if e != 0 {
			produced(&p.requested, e)
		}
		if missed = p.wip.leave(missed); missed == 0 {
			return
		}
	}
}

// terminate closes the cursor and sends the terminal signal. The wip counter
// is left non-zero so that no further drain runs.
func (p *pullSubscription[T]) terminate(err error) {
	p.cancelled.Store(true)
	p.cursor.close()
	if err != nil {
		p.actual.OnError(err)
		return
	}
	p.actual.OnComplete()
}

type sliceCursor[T any] struct {
	items []T
	i     int
}

func (c *sliceCursor[T]) next() (T, bool, error) {
	if c.i >= len(c.items) {
		var zero T
		return zero, false, nil
	}
	v := c.items[c.i]
	c.i++
	return v, true, nil
}

func (c *sliceCursor[T]) finished() (bool, error) { return c.i >= len(c.items), nil }
func (c *sliceCursor[T]) close()                  {}

type rangeCursor struct {
	cur, end int
}

func (c *rangeCursor) next() (int, bool, error) {
	if c.cur >= c.end {
		return 0, false, nil
	}
	v := c.cur
	c.cur++
	return v, true, nil
}

func (c *rangeCursor) finished() (bool, error) { return c.cur >= c.end, nil }
func (c *rangeCursor) close()                  {}

// lookahead adapts a pull function, reading one value ahead so that
// completion is signalled right after the last value.
type lookahead[T any] struct {
	pull    func() (T, bool, error)
	release func()

	peeked bool
	value  T
	ok     bool
	err    error
	closed bool
}

func (c *lookahead[T]) peek() {
	if c.peeked {
		return
	}
	c.peeked = true
	c.value, c.ok, c.err = c.safePull()
	if c.err != nil && errors.KindOf(c.err) == errors.KindUnknown {
		c.err = errors.Source(c.err)
	}
}

func (c *lookahead[T]) safePull() (v T, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Source(errors.Panic(r, nil))
		}
	}()
	return c.pull()
}

func (c *lookahead[T]) next() (T, bool, error) {
	c.peek()
	c.peeked = false
	v := c.value
	var zero T
	c.value = zero
	return v, c.ok, c.err
}

func (c *lookahead[T]) finished() (bool, error) {
	c.peek()
	if c.err != nil {
		return true, c.err
	}
	return !c.ok, nil
}

func (c *lookahead[T]) close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.release != nil {
		c.release()
	}
}
