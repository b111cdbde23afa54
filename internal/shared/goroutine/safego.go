// Package goroutine wraps goroutine launches with panic recovery so a
// misbehaving background task cannot take down the process.
package goroutine

import (
	"runtime/debug"

	"liaison/internal/shared/logger"
)

// SafeGo runs fn on a new goroutine. A panic inside fn is recovered and
// logged together with the task name and stack trace.
func SafeGo(log logger.Interface, name string, fn func()) {
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Errorw("background task panicked",
				"task", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}()
		fn()
	}()
}
