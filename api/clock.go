package api

import (
	"sync/atomic"
	"time"
)

// commandClock stamps accepted commands with unix nanoseconds. Stamps
// strictly increase across the process, so a batch keeps its order even
// when the wall clock stalls or steps back.
type commandClock struct {
	last atomic.Int64
}

func (c *commandClock) stamp(now time.Time) int64 {
	n := now.UnixNano()
	for {
		last := c.last.Load()
		next := max(n, last+1)
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

var serverClock commandClock

func nextTimestamp() int64 { return serverClock.stamp(time.Now()) }
