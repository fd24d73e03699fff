package stream

import (
	"fmt"
	"iter"
	"strings"
)

// Context is an immutable key/value map that flows from a subscriber up to
// its sources. Put and Delete return new contexts sharing structure with the
// receiver. Keys must be comparable. The zero value is empty.
type Context struct {
	head *contextNode
	size int
}

type contextNode struct {
	key     any
	value   any
	deleted bool
	next    *contextNode
}

// EmptyContext returns the empty context.
func EmptyContext() Context { return Context{} }

// ContextOf builds a context from alternating key/value pairs.
func ContextOf(kvs ...any) Context {
	c := Context{}
	for i := 0; i+1 < len(kvs); i += 2 {
		c = c.Put(kvs[i], kvs[i+1])
	}
	return c
}

func (c Context) lookup(key any) *contextNode {
	for n := c.head; n != nil; n = n.next {
		if n.key == key {
			return n
		}
	}
	return nil
}

// Get returns the value stored under key.
func (c Context) Get(key any) (any, bool) {
	n := c.lookup(key)
	if n == nil || n.deleted {
		return nil, false
	}
	return n.value, true
}

// Has reports whether key is present.
func (c Context) Has(key any) bool {
	_, ok := c.Get(key)
	return ok
}

// Len returns the number of keys.
func (c Context) Len() int { return c.size }

// Put returns a context with key set to value.
func (c Context) Put(key, value any) Context {
	size := c.size
	if !c.Has(key) {
		size++
	}
	return Context{head: &contextNode{key: key, value: value, next: c.head}, size: size}
}

// Delete returns a context without key.
func (c Context) Delete(key any) Context {
	if !c.Has(key) {
		return c
	}
	return Context{head: &contextNode{key: key, deleted: true, next: c.head}, size: c.size - 1}
}

// PutAll returns a context with every entry of other added, other winning on
// conflicts.
func (c Context) PutAll(other Context) Context {
	entries := make([][2]any, 0, other.Len())
	other.ForEach(func(k, v any) bool {
		entries = append(entries, [2]any{k, v})
		return true
	})
	for i := len(entries) - 1; i >= 0; i-- {
		c = c.Put(entries[i][0], entries[i][1])
	}
	return c
}

// ForEach calls fn for every entry, most recently written first, until fn
// returns false.
func (c Context) ForEach(fn func(key, value any) bool) {
	seen := make(map[any]struct{}, c.size)
	for n := c.head; n != nil; n = n.next {
		if _, dup := seen[n.key]; dup {
			continue
		}
		seen[n.key] = struct{}{}
		if n.deleted {
			continue
		}
		if !fn(n.key, n.value) {
			return
		}
	}
}

// All returns an iterator over the entries.
func (c Context) All() iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		c.ForEach(yield)
	}
}

func (c Context) String() string {
	parts := make([]string, 0, c.size)
	c.ForEach(func(k, v any) bool {
		parts = append(parts, fmt.Sprintf("%v=%v", k, v))
		return true
	})
	return "Context{" + strings.Join(parts, ", ") + "}"
}

// ContextValue returns the value under key if present and of type V.
func ContextValue[V any](c Context, key any) (V, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	typed, ok := v.(V)
	return typed, ok
}

// ContextWrite gives the upstream of s a context derived by fn from the
// downstream context.
func ContextWrite[T any](s *Stream[T], fn func(Context) Context) *Stream[T] {
	return newStream("contextWrite", func(actual Subscriber[T]) {
		st := newStage(actual)
		st.ctx = fn(st.ctx)
		s.Subscribe(&contextSubscriber[T]{stage: st})
	})
}

// DeferContextual builds the stream for each subscription from the
// subscriber's context.
func DeferContextual[T any](fn func(Context) *Stream[T]) *Stream[T] {
	return newStream("deferContextual", func(actual Subscriber[T]) {
		src, err := supply(func() *Stream[T] { return fn(contextOf(actual)) })
		if err != nil {
			errorNow(actual, err)
			return
		}
		src.Subscribe(actual)
	})
}

// contextSubscriber forwards every signal, exposing a derived context upstream.
type contextSubscriber[T any] struct {
	stage[T]
}

func (c *contextSubscriber[T]) OnSubscribe(s Subscription) {
	if c.setUpstream(s) {
		c.actual.OnSubscribe(c)
	}
}

func (c *contextSubscriber[T]) OnNext(v T)        { c.actual.OnNext(v) }
func (c *contextSubscriber[T]) OnError(err error) { c.error(err) }
func (c *contextSubscriber[T]) OnComplete()       { c.complete() }

// withContext overrides the context of a terminal subscriber.
type withContext[T any] struct {
	Subscriber[T]
	ctx Context
}

func (w withContext[T]) Context() Context { return w.ctx }
