// Package stream is a reactive-stream execution engine: asynchronous
// sequences of values with demand-driven flow control.
//
// A Stream produces zero or more values and then completes or fails; a Single
// produces at most one. Nothing happens until a Subscriber attaches and
// requests demand through its Subscription. Values never flow beyond the
// outstanding demand, signals to one subscriber are serial, and a terminal
// signal is final.
//
// Operators are package functions that wrap a stream in a new one:
//
//	evens := stream.Filter(stream.Just(1, 2, 3, 4, 5), func(v int) bool { return v%2 == 0 })
//	values, err := stream.Collect(ctx, evens) // [2 4]
//
// Time-based operators and thread hand-offs take an explicit
// scheduler.Scheduler. Errors are classified by errors.Kind and can be
// recovered with the OnError* and Retry* combinators.
//
// # Sources
//
// Just and FromSlice capture their values when the stream is built; every other
// source (Range, FromSeq, FromIterator, Defer, Create, Interval, ...) is lazy and
// runs again for each subscription. Multicast and Share are hot: subscribers
// see only the values emitted after they attach.
package stream
