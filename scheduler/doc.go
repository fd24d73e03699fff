// Package scheduler provides the execution contexts used by the stream
// package for time-based operators and thread hand-offs.
//
// Implementations:
//   - Immediate: runs tasks on the calling goroutine, delays on timer goroutines
//   - NewSingle: one dedicated worker, FIFO order
//   - NewBounded: lazily grown worker pool with a bounded queue and idle TTL
//   - NewParallel: a fixed set of single workers, round-robin
//   - NewVirtual: deterministic time for tests, tasks run on the advancing goroutine
//
// Every scheduler reports Pending tasks (queued, delayed, periodic and running)
// and must be disposed explicitly. Task panics are recovered, logged through the
// "scheduler" component logger and counted.
package scheduler
