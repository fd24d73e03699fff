package stream

import (
	"fmt"
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

// Hooks are global last-resort callbacks for signals that cannot be
// delivered. Nil fields fall back to logging through the "stream" component
// logger.
type Hooks struct {
	// OnErrorDropped receives errors raised after a subscription terminated
	// or was cancelled, protocol violations and panicking error callbacks.
	OnErrorDropped func(err error)
	// OnNextDropped receives values discarded by backpressure strategies or
	// emitted after termination.
	OnNextDropped func(v any)
	// OnRetryExhausted receives the RETRY_EXHAUSTED error of a retry operator
	// before it is propagated.
	OnRetryExhausted func(err error)
}

var hooks atomic.Pointer[Hooks]

// SetHooks installs h globally.
func SetHooks(h Hooks) {
	hooks.Store(&h)
}

// ResetHooks restores the logging defaults.
func ResetHooks() {
	hooks.Store(nil)
}

func currentHooks() Hooks {
	if h := hooks.Load(); h != nil {
		return *h
	}
	return Hooks{}
}

func streamLog() *logger.Logger { return logger.Get("stream") }

func onErrorDropped(err error) {
	if fn := currentHooks().OnErrorDropped; fn != nil {
		fn(err)
		return
	}
	streamLog().Warn("Error dropped", logger.Fields(
		logger.FieldError, err.Error(),
		logger.FieldKind, string(errors.KindOf(err)),
	))
}

func onNextDropped(v any) {
	if fn := currentHooks().OnNextDropped; fn != nil {
		fn(v)
		return
	}
	streamLog().Debug("Value dropped", logger.Fields(logger.FieldValue, fmt.Sprint(v)))
}

func onRetryExhausted(err error) {
	if fn := currentHooks().OnRetryExhausted; fn != nil {
		fn(err)
		return
	}
	streamLog().Warn("Retries exhausted", logger.Fields(logger.FieldError, err.Error()))
}

func reportDoubleSubscribe() {
	onErrorDropped(errors.Protocol("subscription already set"))
}
