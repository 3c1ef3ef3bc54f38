package audio

import (
	"sync"
	"sync/atomic"
)

// PCMRing is a fixed-size ring of interleaved 16-bit samples. It is an
// io.Reader of little-endian bytes for output devices; reads past the
// buffered data are filled with silence.
type PCMRing struct {
	mu    sync.Mutex
	buf   []int16
	read  int
	count int

	dropped   atomic.Int64
	underruns atomic.Int64
}

// NewPCMRing returns a ring holding size samples.
func NewPCMRing(size int) *PCMRing {
	return &PCMRing{buf: make([]int16, size)}
}

// Free returns the number of samples that can be written.
func (r *PCMRing) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.count
}

// Len returns the number of buffered samples.
func (r *PCMRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Write appends samples. A write that does not fit is dropped whole and
// reported false.
func (r *PCMRing) Write(samples []int16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(samples) > len(r.buf)-r.count {
		r.dropped.Add(1)
		return false
	}
	w := (r.read + r.count) % len(r.buf)
	n := copy(r.buf[w:], samples)
	copy(r.buf, samples[n:])
	r.count += len(samples)
	return true
}

func (r *PCMRing) drop() { r.dropped.Add(1) }

// Read implements io.Reader. It never blocks and always fills p.
func (r *PCMRing) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := len(p) / 2
	n := min(want, r.count)
	for i := 0; i < n; i++ {
		s := r.buf[(r.read+i)%len(r.buf)]
		p[2*i] = byte(s)
		p[2*i+1] = byte(uint16(s) >> 8)
	}
	r.read = (r.read + n) % len(r.buf)
	r.count -= n
	clear(p[2*n:])
	if n < want {
		r.underruns.Add(1)
	}
	return len(p), nil
}

// Dropped returns how many writes were rejected.
func (r *PCMRing) Dropped() int64 { return r.dropped.Load() }

// Underruns returns how many reads ran out of samples.
func (r *PCMRing) Underruns() int64 { return r.underruns.Load() }
