// Package guard runs worker callbacks so that a panic in one of them is
// turned into an error instead of taking down the goroutine that serves
// every other task.
package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// ErrPanic is wrapped by the error returned from Run when fn panicked.
var ErrPanic = errors.New("guard: recovered panic")

// flushTimeout bounds how long a recovered panic may block while being
// delivered to sentry.
const flushTimeout = time.Second * 2

// Run calls fn and returns its error. If fn panics, the panic is logged,
// reported to the current sentry hub and returned as an error wrapping
// ErrPanic. attrs are appended to the log record.
func Run(log *slog.Logger, name string, fn func() error, attrs ...any) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err = fmt.Errorf("%w: %s: %v", ErrPanic, name, r)
		if log != nil {
			log.Error(name+": panic", append([]any{"error", fmt.Sprint(r)}, attrs...)...)
		}
		hub := sentry.CurrentHub().Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("task", name)
		})
		hub.Recover(r)
		hub.Flush(flushTimeout)
	}()
	return fn()
}
