// Package perf provides lightweight span instrumentation for the public
// operations of the connection core. Each entry point records its name,
// parameters and outcome via structured debug logging.
package perf

import (
	"time"

	log "github.com/charmbracelet/log"
)

// Track records a span for the named operation. Call at entry and invoke the
// returned func on exit, typically via defer:
//
//	defer perf.Track("auth.Manager.UseConnection", "id", id)()
func Track(name string, kv ...any) func() {
	start := time.Now()
	return func() {
		args := append([]any{"op", name, "elapsed", time.Since(start)}, kv...)
		log.Debug("span", args...)
	}
}

// TrackErr is like Track but additionally records the operation outcome. The
// error is captured by pointer so the deferred call observes the final value.
func TrackErr(name string, err *error, kv ...any) func() {
	start := time.Now()
	return func() {
		args := append([]any{"op", name, "elapsed", time.Since(start)}, kv...)
		if err != nil && *err != nil {
			args = append(args, "error", *err)
		}
		log.Debug("span", args...)
	}
}
