// Package goroutine runs background work without letting a panic take the
// process down.
package goroutine

import (
	"fmt"
	"runtime/debug"

	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// SafeGo runs fn on a new goroutine. A panic is logged with its stack.
func SafeGo(log logger.Interface, name string, fn func()) {
	go func() {
		defer Recover(log, name)
		fn()
	}()
}

// Recover must be deferred directly. It swallows a panic after logging it.
func Recover(log logger.Interface, name string) {
	r := recover()
	if r == nil {
		return
	}
	log.Errorw("goroutine panicked",
		"goroutine", name,
		"panic", fmt.Sprint(r),
		"stack", string(debug.Stack()),
	)
}
