package logging

import (
	"os"
	"sync"
)

// RingBuffer keeps the most recent bytes written to it. It sits next to the
// rotating file so a fatal run can dump its last records without re-reading
// rotated logs.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	next    int
	wrapped bool
}

// NewRingBuffer creates a ring buffer holding at most size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 2 * 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer. Older bytes are overwritten once full.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	size := len(rb.buf)
	if n >= size {
		copy(rb.buf, p[n-size:])
		rb.next = 0
		rb.wrapped = true
		return n, nil
	}

	first := copy(rb.buf[rb.next:], p)
	if first < n {
		copy(rb.buf, p[first:])
		rb.next = n - first
		rb.wrapped = true
		return n, nil
	}
	rb.next += first
	if rb.next == size {
		rb.next = 0
		rb.wrapped = true
	}
	return n, nil
}

// Bytes returns the buffered data oldest-first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.wrapped {
		return append([]byte(nil), rb.buf[:rb.next]...)
	}
	out := make([]byte, 0, len(rb.buf))
	out = append(out, rb.buf[rb.next:]...)
	return append(out, rb.buf[:rb.next]...)
}

// DumpToFile writes Bytes() to path.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o600)
}
