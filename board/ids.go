package board

import (
	"strconv"
	"sync/atomic"
	"time"
)

var lastItemID int64

// nextItemID returns a millisecond-timestamp item id, bumped past the previous
// value under contention so ids stay unique and generation-ordered within a
// process.
func nextItemID() string {
	for {
		now := time.Now().UnixMilli()
		last := atomic.LoadInt64(&lastItemID)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastItemID, last, now) {
			return "item_" + strconv.FormatInt(now, 10)
		}
	}
}
