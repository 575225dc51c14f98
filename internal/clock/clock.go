// Package clock is the process monotonic clock. Wall time is never used for
// ordering or latency.
package clock

import "time"

var start = time.Now()

// Nanotime returns monotonic nanoseconds since process start.
func Nanotime() int64 {
	return int64(time.Since(start))
}

// Since returns the elapsed time from a Nanotime stamp.
func Since(ns int64) time.Duration {
	return time.Duration(Nanotime() - ns)
}
