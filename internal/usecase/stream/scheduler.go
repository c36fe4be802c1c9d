package stream

import "time"

// DefaultFlushInterval bounds how often coalesced streaming updates are
// delivered to subscribers.
const DefaultFlushInterval = 50 * time.Millisecond

// flushScheduler coalesces bursts of streaming deltas into at most one
// flush per interval. It is pure bookkeeping over an injected clock; the
// owner arms a real timer with the wait it returns and calls Fire when
// that timer expires.
type flushScheduler struct {
	interval time.Duration
	last     time.Time
	armed    bool
	pending  bool
}

func newFlushScheduler(interval time.Duration) *flushScheduler {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &flushScheduler{interval: interval}
}

// Mark records that state changed. It returns flush=true when the change
// should be delivered immediately, or a positive wait when a timer should
// be armed for the remainder of the interval. A zero wait with flush=false
// means a timer is already pending and nothing needs doing.
func (f *flushScheduler) Mark(now time.Time) (flush bool, wait time.Duration) {
	if f.armed {
		f.pending = true
		return false, 0
	}
	since := now.Sub(f.last)
	if since >= f.interval {
		f.last = now
		return true, 0
	}
	f.armed = true
	f.pending = true
	return false, f.interval - since
}

// Fire is called when the armed timer expires. It reports whether a flush
// is actually due.
func (f *flushScheduler) Fire(now time.Time) bool {
	f.armed = false
	if !f.pending {
		return false
	}
	f.pending = false
	f.last = now
	return true
}

// Force flushes unconditionally, resetting any armed state. Used on
// structural changes where latency matters more than coalescing.
func (f *flushScheduler) Force(now time.Time) {
	f.pending = false
	f.last = now
}
