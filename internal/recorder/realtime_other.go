//go:build !linux

package recorder

import "time"

// bootClockMs falls back to the wall clock where no boot clock is exposed.
func bootClockMs() int64 {
	return time.Now().UnixMilli()
}
