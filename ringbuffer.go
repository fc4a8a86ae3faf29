package modem

import (
	"sync"
	"sync/atomic"

	"github.com/bassosimone/runtimex"
)

// ringBuffer is the fixed-capacity receive buffer of one modem.
//
// The channel read goroutine is the only caller of put; the polling caller
// is the only caller of the get/readLine/reset family. Both sides hold mu
// for every buffer access. lines counts the '\n' bytes currently buffered
// and is read without the lock by waiters.
type ringBuffer struct {
	mu    sync.Mutex
	buf   []byte
	head  int // next read position
	size  int
	lines atomic.Int32
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]byte, capacity)}
}

// put appends b, overwriting the oldest byte when full. It reports whether
// a byte was dropped.
func (r *ringBuffer) put(b byte) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == len(r.buf) {
		old := r.buf[r.head]
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		dropped = true
		if old == '\n' {
			r.decLines()
		}
	}
	r.buf[(r.head+r.size)%len(r.buf)] = b
	r.size++
	if b == '\n' {
		r.lines.Add(1)
	}
	return dropped
}

// getLocked pops one byte. Caller holds mu.
func (r *ringBuffer) getLocked() (byte, bool) {
	if r.size == 0 {
		return 0, false
	}
	b := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return b, true
}

// drain pops up to len(dst) bytes into dst and returns how many. Line
// terminators popped this way are discounted from the line counter.
func (r *ringBuffer) drain(dst []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for n < len(dst) {
		b, ok := r.getLocked()
		if !ok {
			break
		}
		if b == '\n' {
			r.decLines()
		}
		dst[n] = b
		n++
	}
	return n
}

// readLine appends bytes to dst up to and including the next '\n'. When the
// buffer runs dry first, the partial line is returned and the counter is
// left alone.
func (r *ringBuffer) readLine(dst []byte) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		b, ok := r.getLocked()
		if !ok {
			return dst
		}
		dst = append(dst, b)
		if b == '\n' {
			r.decLines()
			return dst
		}
	}
}

// reset discards everything buffered and zeroes the line counter. It
// returns the number of bytes discarded.
func (r *ringBuffer) reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	r.head = 0
	r.size = 0
	r.lines.Store(0)
	return n
}

func (r *ringBuffer) available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ringBuffer) completedLines() int {
	return int(r.lines.Load())
}

// decLines is called with mu held.
func (r *ringBuffer) decLines() {
	n := r.lines.Add(-1)
	runtimex.Assert(n >= 0)
}
