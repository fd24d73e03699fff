// Package streamtest provides a recording subscriber for testing streams.
//
// TestSubscriber records every signal, lets the test drive demand by hand and
// flags protocol violations: values beyond the requested demand, signals after
// a terminal signal, a second OnSubscribe and overlapping (concurrent) signal
// delivery.
//
// # Quick Start
//
//	func TestMyStream(t *testing.T) {
//	    ts := streamtest.New[int](0)
//	    stream.Range(1, 10).Subscribe(ts)
//
//	    ts.Request(3)
//	    if got := ts.Values(); len(got) != 3 {
//	        t.Fatalf("got %v, want 3 values", got)
//	    }
//	    ts.Cancel()
//	    ts.AssertNoViolations(t)
//	}
//
// Asynchronous streams are awaited with a timeout:
//
//	ts := streamtest.New[int64](stream.Unbounded)
//	stream.Take(stream.Interval(time.Millisecond, sched), 3).Subscribe(ts)
//	if !ts.Await(time.Second) {
//	    t.Fatal("stream did not terminate")
//	}
package streamtest
