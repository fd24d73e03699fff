package component

import (
	"context"
	"sync"
)

// Func adapts plain functions to the Component interface. Nil functions are
// no-ops; a stopped Func reports itself unhealthy.
type Func struct {
	name    string
	startFn func(ctx context.Context) error
	stopFn  func(ctx context.Context) error

	mu      sync.RWMutex
	running bool
	lastErr error
}

// NewFunc creates a component from start and stop functions.
func NewFunc(name string, start, stop func(ctx context.Context) error) *Func {
	return &Func{name: name, startFn: start, stopFn: stop}
}

// Name returns the component name.
func (f *Func) Name() string { return f.name }

// Start runs the start function once.
func (f *Func) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return nil
	}
	if f.startFn != nil {
		if err := f.startFn(ctx); err != nil {
			f.lastErr = err
			return err
		}
	}
	f.running = true
	f.lastErr = nil
	return nil
}

// Stop runs the stop function if the component is running.
func (f *Func) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return nil
	}
	f.running = false
	if f.stopFn != nil {
		f.lastErr = f.stopFn(ctx)
	}
	return f.lastErr
}

// Health reports healthy while running.
func (f *Func) Health(_ context.Context) Health {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h := Health{Name: f.name, Status: StatusHealthy}
	if !f.running {
		h.Status = StatusUnhealthy
		h.Message = "not running"
	}
	if f.lastErr != nil {
		h.Message = f.lastErr.Error()
	}
	return h
}
