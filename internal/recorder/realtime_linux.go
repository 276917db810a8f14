//go:build linux

package recorder

import (
	"time"

	"golang.org/x/sys/unix"
)

// bootClockMs reads CLOCK_BOOTTIME, which keeps counting through suspend and
// is never stepped by NTP. It restarts from zero on reboot.
func bootClockMs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return time.Now().UnixMilli()
	}
	return ts.Nano() / int64(time.Millisecond)
}
