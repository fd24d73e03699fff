package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kbukum/flowkit/component"
	"github.com/kbukum/flowkit/logger"
)

// Registry owns a set of named schedulers and disposes them on Stop.
// It implements component.Component.
type Registry struct {
	mu     sync.RWMutex
	order  []Scheduler
	byName map[string]Scheduler
	log    *logger.Logger
}

var _ component.Component = (*Registry)(nil)

// NewRegistry creates an empty scheduler registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Scheduler),
		log:    logger.Get("scheduler"),
	}
}

// Register adds s under its name.
func (r *Registry) Register(s Scheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[s.Name()]; exists {
		return fmt.Errorf("scheduler %s already registered", s.Name())
	}
	r.order = append(r.order, s)
	r.byName[s.Name()] = s
	return nil
}

// Get returns the scheduler registered under name.
func (r *Registry) Get(name string) (Scheduler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// MustGet returns the scheduler registered under name or panics.
func (r *Registry) MustGet(name string) Scheduler {
	s, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("scheduler %s is not registered", name))
	}
	return s
}

// Name implements component.Component.
func (r *Registry) Name() string { return "schedulers" }

// Start implements component.Component. Schedulers start lazily.
func (r *Registry) Start(_ context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.log.Info("Schedulers ready", logger.Fields("count", len(r.order)))
	return nil
}

// Stop disposes every scheduler in reverse registration order.
func (r *Registry) Stop(_ context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		s := r.order[i]
		pending := s.Pending()
		s.Dispose()
		r.log.Debug("Scheduler stopped", logger.Fields(logger.FieldScheduler, s.Name(), "cancelled", pending))
	}
	return nil
}

// Health reports unhealthy once any scheduler is disposed, listing pending
// task counts otherwise.
func (r *Registry) Health(_ context.Context) component.Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := component.Health{Name: r.Name(), Status: component.StatusHealthy}
	parts := make([]string, 0, len(r.order))
	for _, s := range r.order {
		if s.IsDisposed() {
			h.Status = component.StatusUnhealthy
			parts = append(parts, s.Name()+"=disposed")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d", s.Name(), s.Pending()))
	}
	h.Message = strings.Join(parts, " ")
	return h
}
