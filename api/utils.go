package api

import (
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// nextTimestamp returns strictly increasing nanosecond timestamps within
// this process, so two commands accepted back to back never share a
// timestamp. Cross-instance ordering is carried by the event version, not by
// this clock.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// commandTime is the timestamp assigned to an event at command acceptance.
func commandTime() time.Time {
	return time.Unix(0, nextTimestamp()).UTC()
}
