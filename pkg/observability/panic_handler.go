package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack trace. It
// must be deferred directly. Background jobs use it so one failing run does
// not take the process down.
//
//	defer observability.RecoverPanic(logger, "invitation cleanup")
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", where).
			Error("PANIC recovered")
	}
}
