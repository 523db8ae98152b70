package util

import (
	"log/slog"
	"time"
)

// Trace logs how long the enclosing call took: defer util.Trace("remove")()
func Trace(msg string) func() {
	start := time.Now()
	return func() {
		slog.Debug(msg, "elapsed", time.Since(start))
	}
}
