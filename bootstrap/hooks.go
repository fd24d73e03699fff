package bootstrap

import (
	"context"
	"fmt"
)

// Hook is a lifecycle callback that runs during engine startup or shutdown.
type Hook func(ctx context.Context) error

// OnStart registers hooks that run after all components are started but
// before the ready check.
func (e *Engine) OnStart(hooks ...Hook) {
	e.onStart = append(e.onStart, hooks...)
}

// OnReady registers hooks that run once the ready check has passed.
func (e *Engine) OnReady(hooks ...Hook) {
	e.onReady = append(e.onReady, hooks...)
}

// OnStop registers hooks that run during shutdown before components are
// stopped, while the schedulers still accept work.
func (e *Engine) OnStop(hooks ...Hook) {
	e.onStop = append(e.onStop, hooks...)
}

// runHooks executes hooks sequentially, returning the first error.
func runHooks(ctx context.Context, hooks []Hook) error {
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			return fmt.Errorf("hook %d failed: %w", i, err)
		}
	}
	return nil
}
