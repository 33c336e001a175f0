package media

import (
	"math/bits"
	"sync"
)

const (
	minPoolClass = 6  // 64 bytes
	maxPoolClass = 24 // 16 MiB
)

// BufferPool hands out byte slices from power-of-two size classes. Slices
// larger than the biggest class are allocated directly and never pooled.
type BufferPool struct {
	classes [maxPoolClass - minPoolClass + 1]sync.Pool
}

// DefaultBufferPool backs frames and packets created by this package.
var DefaultBufferPool = NewBufferPool()

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	for i := range p.classes {
		size := 1 << (i + minPoolClass)
		p.classes[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

func sizeClass(n int) int {
	if n <= 1<<minPoolClass {
		return 0
	}
	c := bits.Len(uint(n-1)) - minPoolClass
	return c
}

// Get returns a zeroed slice of length n.
func (p *BufferPool) Get(n int) []byte {
	if n <= 0 {
		return nil
	}
	c := sizeClass(n)
	if c >= len(p.classes) {
		return make([]byte, n)
	}
	bp := p.classes[c].Get().(*[]byte)
	b := (*bp)[:n]
	clear(b)
	return b
}

// Put returns a slice obtained from Get. Slices whose capacity is not an
// exact size class are dropped.
func (p *BufferPool) Put(b []byte) {
	c := cap(b)
	if c < 1<<minPoolClass || c&(c-1) != 0 {
		return
	}
	idx := bits.Len(uint(c)) - 1 - minPoolClass
	if idx < 0 || idx >= len(p.classes) {
		return
	}
	b = b[:c]
	p.classes[idx].Put(&b)
}
