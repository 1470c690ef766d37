package go_cdp

import (
	"sync"
	"sync/atomic"
)

// streamPool recycles the byte slices backing pooled Streams through
// size-classed sync.Pools. The classes track the frames the session
// core actually produces: control bodies fit in 512 bytes, handshake
// frames in 1K, encrypted replies in 4K and full-size session fragments
// in 16K (the default fragment size).
//
// Pooling is opt-in; until EnableStreamPooling is called the helpers
// fall back to plain allocation so callers never have to care.
type streamPool struct {
	classes [4]sync.Pool
	enabled atomic.Bool

	hits      [4]uint64
	oversized uint64
}

var streamPoolClassSizes = [4]int{512, 1024, 4096, 16384}

var globalStreamPool = func() *streamPool {
	sp := &streamPool{}
	for i, size := range streamPoolClassSizes {
		size := size
		sp.classes[i].New = func() interface{} {
			buf := make([]byte, 0, size)
			return &buf
		}
	}
	return sp
}()

// EnableStreamPooling turns on buffer reuse for NewStreamPooled and
// ReleaseStream.
func EnableStreamPooling() {
	globalStreamPool.enabled.Store(true)
}

// DisableStreamPooling reverts NewStreamPooled to plain allocation.
// Buffers already handed out are simply dropped on release.
func DisableStreamPooling() {
	globalStreamPool.enabled.Store(false)
}

// classIndex returns the smallest size class holding size bytes, or -1
// when size exceeds the largest class.
func classIndex(size int) int {
	for i, classSize := range streamPoolClassSizes {
		if size <= classSize {
			return i
		}
	}
	return -1
}

func (sp *streamPool) get(size int) []byte {
	if !sp.enabled.Load() {
		return make([]byte, 0, size)
	}
	i := classIndex(size)
	if i < 0 {
		atomic.AddUint64(&sp.oversized, 1)
		return make([]byte, 0, size)
	}
	atomic.AddUint64(&sp.hits[i], 1)
	bufPtr := sp.classes[i].Get().(*[]byte)
	return (*bufPtr)[:0]
}

func (sp *streamPool) put(buf []byte) {
	if !sp.enabled.Load() || buf == nil {
		return
	}
	// Only capacities that exactly match a class go back; anything that
	// grew past its class is left to the GC.
	for i, classSize := range streamPoolClassSizes {
		if cap(buf) == classSize {
			buf = buf[:0]
			sp.classes[i].Put(&buf)
			return
		}
	}
}

// NewStreamPooled creates a Stream backed by a pooled buffer of at
// least size bytes capacity. Pair with ReleaseStream when done. With
// pooling disabled it behaves exactly like NewStream.
func NewStreamPooled(size int) *Stream {
	return NewStream(globalStreamPool.get(size))
}

// ReleaseStream returns a pooled Stream's buffer for reuse. The Stream
// must not be used afterwards.
func ReleaseStream(s *Stream) {
	if s == nil || s.Buffer == nil {
		return
	}
	globalStreamPool.put(s.Bytes())
}

// StreamPoolStats reports per-class pool activity.
type StreamPoolStats struct {
	Hits      [4]uint64
	Oversized uint64
}

// GetStreamPoolStats returns a snapshot of pool usage, or nil when
// pooling is disabled.
func GetStreamPoolStats() *StreamPoolStats {
	if !globalStreamPool.enabled.Load() {
		return nil
	}
	stats := &StreamPoolStats{
		Oversized: atomic.LoadUint64(&globalStreamPool.oversized),
	}
	for i := range stats.Hits {
		stats.Hits[i] = atomic.LoadUint64(&globalStreamPool.hits[i])
	}
	return stats
}
