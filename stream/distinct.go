package stream

// Distinct passes each value the first time it is seen. The history is
// unbounded; use DistinctBy with maxKeys to bound it.
func Distinct[T comparable](s *Stream[T]) *Stream[T] {
	return distinct("distinct", s, func(v T) T { return v }, 0)
}

// DistinctBy passes each value whose key has not been seen. With maxKeys > 0
// at most maxKeys keys are remembered and the oldest is forgotten first. A
// key whose dynamic value is not hashable, such as a slice held in an any,
// fails that element.
func DistinctBy[T any, K comparable](s *Stream[T], key func(T) K, maxKeys int) *Stream[T] {
	return distinct("distinctBy", s, key, maxKeys)
}

func distinct[T any, K comparable](name string, s *Stream[T], key func(T) K, maxKeys int) *Stream[T] {
	return newStream(name, func(actual Subscriber[T]) {
		s.Subscribe(&distinctSubscriber[T, K]{
			stage:   newStage(actual),
			key:     key,
			maxKeys: maxKeys,
			seen:    make(map[K]struct{}),
		})
	})
}

type distinctSubscriber[T any, K comparable] struct {
	stage[T]
	key     func(T) K
	maxKeys int
	seen    map[K]struct{}
	order   []K
}

func (d *distinctSubscriber[T, K]) OnSubscribe(s Subscription) {
	if d.setUpstream(s) {
		d.actual.OnSubscribe(d)
	}
}

func (d *distinctSubscriber[T, K]) OnNext(v T) {
	if d.done {
		onNextDropped(v)
		return
	}
	dup, err := apply(d.observe, v)
	if err != nil {
		d.elementFailed(err, v)
		return
	}
	if dup {
		d.upstream.Request(1)
		return
	}
	d.actual.OnNext(v)
}

// observe reports whether the key of v was seen and remembers it if not.
func (d *distinctSubscriber[T, K]) observe(v T) (bool, error) {
	k := d.key(v)
	if _, dup := d.seen[k]; dup {
		return true, nil
	}
	d.remember(k)
	return false, nil
}

func (d *distinctSubscriber[T, K]) remember(k K) {
	d.seen[k] = struct{}{}
	if d.maxKeys <= 0 {
		return
	}
	d.order = append(d.order, k)
	if len(d.order) > d.maxKeys {
		delete(d.seen, d.order[0])
		var zero K
		d.order[0] = zero
		d.order = d.order[1:]
	}
}

func (d *distinctSubscriber[T, K]) OnError(err error) {
	d.seen = nil
	d.error(err)
}

func (d *distinctSubscriber[T, K]) OnComplete() {
	d.seen = nil
	d.complete()
}

// DistinctUntilChanged drops values equal to the one before them.
func DistinctUntilChanged[T comparable](s *Stream[T]) *Stream[T] {
	return distinctUntilChanged("distinctUntilChanged", s, func(v T) T { return v })
}

// DistinctUntilChangedBy drops values whose key equals the previous value's.
func DistinctUntilChangedBy[T any, K comparable](s *Stream[T], key func(T) K) *Stream[T] {
	return distinctUntilChanged("distinctUntilChangedBy", s, key)
}

func distinctUntilChanged[T any, K comparable](name string, s *Stream[T], key func(T) K) *Stream[T] {
	return newStream(name, func(actual Subscriber[T]) {
		s.Subscribe(&changedSubscriber[T, K]{stage: newStage(actual), key: key})
	})
}

type changedSubscriber[T any, K comparable] struct {
	stage[T]
	key     func(T) K
	last    K
	hasLast bool
}

func (c *changedSubscriber[T, K]) OnSubscribe(s Subscription) {
	if c.setUpstream(s) {
		c.actual.OnSubscribe(c)
	}
}

func (c *changedSubscriber[T, K]) OnNext(v T) {
	if c.done {
		onNextDropped(v)
		return
	}
	same, err := apply(func(v T) (bool, error) {
		k := c.key(v)
		if c.hasLast && k == c.last {
			return true, nil
		}
		c.last, c.hasLast = k, true
		return false, nil
	}, v)
	if err != nil {
		c.elementFailed(err, v)
		return
	}
	if same {
		c.upstream.Request(1)
		return
	}
	c.actual.OnNext(v)
}

func (c *changedSubscriber[T, K]) OnError(err error) { c.error(err) }
func (c *changedSubscriber[T, K]) OnComplete()       { c.complete() }
