// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn on a new goroutine. A panic inside fn is recovered and logged
// with the task name and stack instead of taking the process down. Use it for
// every fire-and-forget goroutine, such as audit shipping.
func Go(task string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine",
					"task", task,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
