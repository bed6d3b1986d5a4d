package board

import (
	"sync/atomic"
	"time"
)

// idClock hands out millisecond timestamps that never repeat, even when
// several tasks are created within the same millisecond.
type idClock struct {
	last int64
	now  func() time.Time
}

func (c *idClock) next() int64 {
	for {
		now := c.now().UnixMilli()
		last := atomic.LoadInt64(&c.last)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&c.last, last, now) {
			return now
		}
	}
}

// observe raises the floor so ids loaded from storage are never reissued.
func (c *idClock) observe(id int64) {
	for {
		last := atomic.LoadInt64(&c.last)
		if id <= last || atomic.CompareAndSwapInt64(&c.last, last, id) {
			return
		}
	}
}
