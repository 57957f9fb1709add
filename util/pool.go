package util

import "sync"

// DefaultLineSize is the largest chunk a single read hands to the
// dispatcher; longer lines arrive as several relays.
const DefaultLineSize = 2048

// linePool holds *[]byte buffers of DefaultLineSize for connection
// handlers, so a burst of short-lived clients does not churn the heap.
var linePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultLineSize)
		return &buf
	},
}

// GetBuf returns a buffer of at least size bytes.  Buffers of the default
// size come from the pool; callers must hand them back with [PutBuf].
func GetBuf(size int) *[]byte {
	if size <= 0 || size > DefaultLineSize {
		if size <= 0 {
			size = DefaultLineSize
		}
		buf := make([]byte, size)
		return &buf
	}
	buf := linePool.Get().(*[]byte)
	*buf = (*buf)[:size]
	return buf
}

// PutBuf returns a buffer to the pool.  Buffers not allocated by the pool
// are dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) != DefaultLineSize {
		return
	}
	*buf = (*buf)[:DefaultLineSize]
	linePool.Put(buf)
}
