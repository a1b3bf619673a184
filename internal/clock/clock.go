// Package clock provides a monotonic time source for ordering decisions
// across the presentation pipeline. Wall-clock time (time.Now) is reserved
// for human-facing timestamps attached to events; every internal comparison
// (timeouts, hysteresis windows, EWMA deltas) goes through Now/Since here so
// that a system clock step never perturbs ordering.
package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

// Now returns the current monotonic time in nanoseconds since an arbitrary
// fixed point. Only deltas between two calls to Now are meaningful.
func Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always available on Linux; a failure here means
		// something is badly wrong with the runtime, not a recoverable
		// condition worth plumbing through every caller.
		return time.Now().UnixNano()
	}
	return ts.Sec*int64(time.Second) + int64(ts.Nsec)
}

// Since returns the elapsed duration since a value previously returned by Now.
func Since(t int64) time.Duration {
	return time.Duration(Now() - t)
}

// WallClock returns the current wall-clock time for display on event payloads.
// It must never be used for ordering or deadline arithmetic.
func WallClock() time.Time {
	return time.Now()
}
