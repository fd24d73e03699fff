package stream

import (
	"sync"
	"sync/atomic"
)

// DefaultMulticastCapacity is the per-subscriber queue size used when
// MulticastConfig.Capacity is not positive.
const DefaultMulticastCapacity = 256

// MulticastConfig configures a hot Sink.
type MulticastConfig struct {
	// Replay is the number of most recent values replayed to late subscribers.
	Replay int
	// Capacity bounds the values queued for a subscriber without demand.
	Capacity int
	// Overflow is applied to a subscriber whose queue is full.
	Overflow OverflowPolicy
	// AutoTerminate completes the sink when its last subscriber leaves.
	AutoTerminate bool
}

// SinkState is the lifecycle state of a Sink.
type SinkState int32

const (
	// SinkNotStarted is the state before the first signal.
	SinkNotStarted SinkState = iota
	// SinkRunning is the state once a value has been emitted.
	SinkRunning
	// SinkTerminated is the state after Complete or Error.
	SinkTerminated
)

func (s SinkState) String() string {
	switch s {
	case SinkNotStarted:
		return "not-started"
	case SinkRunning:
		return "running"
	default:
		return "terminated"
	}
}

// Sink is a hot source broadcasting to its current subscribers. Next, Error
// and Complete must be called serially, like the signals of a Subscriber.
// Each subscriber has its own demand and queue.
type Sink[T any] struct {
	cfg    MulticastConfig
	stream *Stream[T]

	mu     sync.Mutex
	state  SinkState
	err    error
	replay []T
	subs   map[*sinkSubscriber[T]]struct{}
}

// NewMulticast returns a Sink in the not-started state.
func NewMulticast[T any](cfg MulticastConfig) *Sink[T] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultMulticastCapacity
	}
	if cfg.Replay < 0 {
		cfg.Replay = 0
	}
	sk := &Sink[T]{cfg: cfg, subs: make(map[*sinkSubscriber[T]]struct{})}
	sk.stream = newStream("multicast", sk.subscribe)
	return sk
}

// Stream returns the stream view of the sink.
func (sk *Sink[T]) Stream() *Stream[T] { return sk.stream }

// State returns the lifecycle state.
func (sk *Sink[T]) State() SinkState {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return sk.state
}

// SubscriberCount returns the number of current subscribers.
func (sk *Sink[T]) SubscriberCount() int {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return len(sk.subs)
}

// Next broadcasts v. After termination v goes to the dropped-value hook.
func (sk *Sink[T]) Next(v T) {
	sk.mu.Lock()
	if sk.state == SinkTerminated {
		sk.mu.Unlock()
		onNextDropped(v)
		return
	}
	sk.state = SinkRunning
	if sk.cfg.Replay > 0 {
		sk.replay = append(sk.replay, v)
		if len(sk.replay) > sk.cfg.Replay {
			var zero T
			sk.replay[0] = zero
			sk.replay = sk.replay[1:]
		}
	}
	subs := sk.snapshot()
	sk.mu.Unlock()
	for _, sub := range subs {
		sub.push(v)
	}
}

// Error terminates the sink and its subscribers with err.
func (sk *Sink[T]) Error(err error) { sk.terminate(err) }

// Complete terminates the sink and completes its subscribers.
func (sk *Sink[T]) Complete() { sk.terminate(nil) }

func (sk *Sink[T]) terminate(err error) {
	sk.mu.Lock()
	if sk.state == SinkTerminated {
		sk.mu.Unlock()
		if err != nil {
			onErrorDropped(err)
		}
		return
	}
	sk.state = SinkTerminated
	sk.err = err
	subs := sk.snapshot()
	clear(sk.subs)
	sk.mu.Unlock()
	for _, sub := range subs {
		sub.end(err)
	}
}

// snapshot copies the subscriber set. The caller holds mu.
func (sk *Sink[T]) snapshot() []*sinkSubscriber[T] {
	subs := make([]*sinkSubscriber[T], 0, len(sk.subs))
	for sub := range sk.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (sk *Sink[T]) subscribe(actual Subscriber[T]) {
	core := newBufferCore(actual, BufferStrategy(max(sk.cfg.Capacity, sk.cfg.Replay), sk.cfg.Overflow))
	sub := &sinkSubscriber[T]{core: core}

	sk.mu.Lock()
	replay := append([]T(nil), sk.replay...)
	terminated, err := sk.state == SinkTerminated, sk.err
	if !terminated {
		sk.subs[sub] = struct{}{}
	}
	sk.mu.Unlock()

	core.onCancel = func() { sk.remove(sub) }
	actual.OnSubscribe(core)
	for _, v := range replay {
		core.offer(v)
	}
	if terminated {
		core.terminateWith(err)
		return
	}
	sub.goLive()
}

func (sk *Sink[T]) remove(sub *sinkSubscriber[T]) {
	sk.mu.Lock()
	if _, ok := sk.subs[sub]; !ok {
		sk.mu.Unlock()
		return
	}
	delete(sk.subs, sub)
	last := len(sk.subs) == 0 && sk.state != SinkTerminated
	sk.mu.Unlock()
	if last && sk.cfg.AutoTerminate {
		sk.Complete()
	}
}

// sinkSubscriber queues signals that arrive while its replay is delivered.
type sinkSubscriber[T any] struct {
	core *bufferCore[T]

	mu      sync.Mutex
	live    bool
	backlog []T
	ended   bool
	err     error
}

func (s *sinkSubscriber[T]) push(v T) {
	s.mu.Lock()
	if !s.live {
		s.backlog = append(s.backlog, v)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.core.offer(v)
}

func (s *sinkSubscriber[T]) end(err error) {
	s.mu.Lock()
	if !s.live {
		s.ended, s.err = true, err
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.core.terminateWith(err)
}

func (s *sinkSubscriber[T]) goLive() {
	for {
		s.mu.Lock()
		batch := s.backlog
		s.backlog = nil
		if len(batch) == 0 {
			s.live = true
			ended, err := s.ended, s.err
			s.mu.Unlock()
			if ended {
				s.core.terminateWith(err)
			}
			return
		}
		s.mu.Unlock()
		for _, v := range batch {
			s.core.offer(v)
		}
	}
}

// Share multicasts s: the first subscriber connects to s with unbounded
// demand, later subscribers join the running connection, and the last one
// leaving cancels it. A subscriber arriving after that connects again.
func Share[T any](s *Stream[T], cfg MulticastConfig) *Stream[T] {
	sh := &shared[T]{source: s, cfg: cfg}
	return newStream("share", sh.subscribe)
}

type shared[T any] struct {
	source *Stream[T]
	cfg    MulticastConfig

	mu    sync.Mutex
	sink  *Sink[T]
	conn  *shareConnection[T]
	count int
}

func (sh *shared[T]) subscribe(actual Subscriber[T]) {
	sh.mu.Lock()
	var conn *shareConnection[T]
	if sh.sink == nil || sh.sink.State() == SinkTerminated {
		cfg := sh.cfg
		cfg.AutoTerminate = false
		sh.sink = NewMulticast[T](cfg)
		conn = &shareConnection[T]{parent: sh, sink: sh.sink}
		sh.conn = conn
		sh.count = 0
	}
	sh.count++
	sk := sh.sink
	sh.mu.Unlock()

	sk.Stream().Subscribe(&shareSubscriber[T]{stage: newStage(actual), parent: sh, sink: sk})
	if conn != nil {
		sh.source.Subscribe(conn)
	}
}

func (sh *shared[T]) release(sk *Sink[T]) {
	sh.mu.Lock()
	if sh.sink != sk {
		sh.mu.Unlock()
		return
	}
	sh.count--
	if sh.count > 0 {
		sh.mu.Unlock()
		return
	}
	conn := sh.conn
	sh.sink, sh.conn = nil, nil
	sh.mu.Unlock()
	if conn != nil {
		conn.disconnect()
	}
}

// shareConnection feeds the source into the current sink.
type shareConnection[T any] struct {
	parent *shared[T]
	sink   *Sink[T]

	mu           sync.Mutex
	upstream     Subscription
	disconnected bool
}

func (c *shareConnection[T]) OnSubscribe(s Subscription) {
	c.mu.Lock()
	if c.upstream != nil || c.disconnected {
		dup := c.upstream != nil
		c.mu.Unlock()
		s.Cancel()
		if dup {
			reportDoubleSubscribe()
		}
		return
	}
	c.upstream = s
	c.mu.Unlock()
	s.Request(Unbounded)
}

func (c *shareConnection[T]) OnNext(v T)        { c.sink.Next(v) }
func (c *shareConnection[T]) OnError(err error) { c.sink.Error(err) }
func (c *shareConnection[T]) OnComplete()       { c.sink.Complete() }

func (c *shareConnection[T]) disconnect() {
	c.mu.Lock()
	c.disconnected = true
	up := c.upstream
	c.mu.Unlock()
	if up != nil {
		up.Cancel()
	}
}

type shareSubscriber[T any] struct {
	stage[T]
	parent   *shared[T]
	sink     *Sink[T]
	released atomic.Bool
}

func (s *shareSubscriber[T]) OnSubscribe(sub Subscription) {
	if s.setUpstream(sub) {
		s.actual.OnSubscribe(s)
	}
}

func (s *shareSubscriber[T]) OnNext(v T) { s.actual.OnNext(v) }

func (s *shareSubscriber[T]) OnError(err error) {
	s.release()
	s.error(err)
}

func (s *shareSubscriber[T]) OnComplete() {
	s.release()
	s.complete()
}

func (s *shareSubscriber[T]) Cancel() {
	s.upstream.Cancel()
	s.release()
}

func (s *shareSubscriber[T]) release() {
	if s.released.CompareAndSwap(false, true) {
		s.parent.release(s.sink)
	}
}
