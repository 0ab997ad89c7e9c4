// Package ring provides the lock-free single-producer single-consumer
// byte queues that sit between the transport and the loader loop, the
// same arrangement the CDC interrupt bottom half uses on the device:
// the head index is written only by the producer, the tail only by the
// consumer, and each side reads the other's index with acquire
// semantics.
package ring

import "sync/atomic"

// Ring is a fixed-capacity SPSC byte queue. Exactly one goroutine may
// call Put and exactly one may call Get.
type Ring struct {
	buf  []byte
	mask uint32
	head atomic.Uint32 // producer-owned
	tail atomic.Uint32 // consumer-owned
}

// New returns a ring holding up to size bytes. size must be a power of
// two; New panics otherwise, since ring sizes are build-time constants.
func New(size int) *Ring {
	if size <= 0 || size&(size-1) != 0 {
		panic("ring: size must be a power of two")
	}
	return &Ring{
		buf:  make([]byte, size),
		mask: uint32(size - 1),
	}
}

// Put appends one byte. It reports false when the ring is full; the
// byte is then dropped, which the protocol tolerates because the block
// CRC catches the corruption. Head and tail run free; the difference
// is the fill level.
func (r *Ring) Put(b byte) bool {
	head := r.head.Load()
	if head-r.tail.Load() == uint32(len(r.buf)) {
		return false
	}
	r.buf[head&r.mask] = b
	r.head.Store(head + 1)
	return true
}

// Get removes and returns the oldest byte, if any.
func (r *Ring) Get() (byte, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return 0, false
	}
	b := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return b, true
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Free returns the number of bytes that can be put without dropping.
func (r *Ring) Free() int {
	return len(r.buf) - r.Len()
}
