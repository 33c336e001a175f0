package media

import "sync"

// RingBuffer is a fixed-capacity circular byte buffer with independent read
// and write cursors. Writes and reads are partial and never block: a write
// stores what fits, a read returns what is there.
//
// The embedded mutex makes cursor arithmetic safe for one producer and one
// consumer. Callers that need larger atomic sequences must synchronize
// externally.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []byte
	readPos  int
	writePos int
	readable int
	writable int
}

// NewRingBuffer creates a buffer of capacity bytes. Capacity must be at least 2.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity < 2 {
		return nil, ErrInvalidCapacity
	}
	r := &RingBuffer{buf: make([]byte, capacity)}
	r.Clear()
	return r, nil
}

// Capacity returns the fixed buffer size.
func (r *RingBuffer) Capacity() int { return len(r.buf) }

// Clear resets both cursors. The stored bytes are left untouched.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	r.readPos, r.writePos = 0, 0
	r.readable = 0
	r.writable = len(r.buf)
	r.mu.Unlock()
}

// Available returns the number of readable bytes. The value is advisory: the
// other side may have changed it by the time the caller acts on it.
func (r *RingBuffer) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readable
}

// Writable returns the number of bytes that can be written without loss.
func (r *RingBuffer) Writable() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writable
}

// Write stores as much of p as fits and returns the count written.
func (r *RingBuffer) Write(p []byte) (int, error) {
	return r.WriteAt(p, 0, len(p))
}

// WriteAt stores up to length bytes of p starting at offset.
func (r *RingBuffer) WriteAt(p []byte, offset, length int) (int, error) {
	if offset < 0 || length < 0 || length > len(p)-offset {
		return 0, ErrRange
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := ringWrite(r.buf, &r.writePos, &r.readable, &r.writable, p[offset:offset+length])
	return n, nil
}

// Read copies up to len(p) readable bytes into p.
func (r *RingBuffer) Read(p []byte) (int, error) {
	return r.ReadAt(p, 0, len(p))
}

// ReadAt copies up to length readable bytes into p starting at offset.
func (r *RingBuffer) ReadAt(p []byte, offset, length int) (int, error) {
	if offset < 0 || length < 0 || length > len(p)-offset {
		return 0, ErrRange
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := ringRead(r.buf, &r.readPos, &r.readable, &r.writable, p[offset:offset+length])
	return n, nil
}

// ringWrite copies src into buf at *pos, splitting into at most two copies
// when the write straddles the end of buf.
func ringWrite(buf []byte, pos, readable, writable *int, src []byte) int {
	n := len(src)
	if n == 0 || *writable == 0 {
		return 0
	}
	if n > *writable {
		n = *writable
	}
	first := len(buf) - *pos
	if first > n {
		copy(buf[*pos:], src[:n])
		*pos += n
	} else {
		copy(buf[*pos:], src[:first])
		copy(buf, src[first:n])
		*pos = n - first
	}
	*readable += n
	*writable -= n
	return n
}

func ringRead(buf []byte, pos, readable, writable *int, dst []byte) int {
	n := len(dst)
	if n == 0 || *readable == 0 {
		return 0
	}
	if n > *readable {
		n = *readable
	}
	first := len(buf) - *pos
	if first > n {
		copy(dst[:n], buf[*pos:*pos+n])
		*pos += n
	} else {
		copy(dst[:first], buf[*pos:])
		copy(dst[first:n], buf[:n-first])
		*pos = n - first
	}
	*readable -= n
	*writable += n
	return n
}

// PlanarRingBuffer applies the RingBuffer algorithm independently to each
// plane of planar audio or video data. Plane 0 is the reference for
// Available.
type PlanarRingBuffer struct {
	mu       sync.Mutex
	planes   [][]byte
	readPos  []int
	writePos []int
	readable []int
	writable []int
}

// NewPlanarRingBuffer creates planes buffers of capacity bytes each.
func NewPlanarRingBuffer(capacity, planes int) (*PlanarRingBuffer, error) {
	if capacity < 2 {
		return nil, ErrInvalidCapacity
	}
	if planes < 1 {
		return nil, ErrRange
	}
	r := &PlanarRingBuffer{
		planes:   make([][]byte, planes),
		readPos:  make([]int, planes),
		writePos: make([]int, planes),
		readable: make([]int, planes),
		writable: make([]int, planes),
	}
	for i := range r.planes {
		r.planes[i] = make([]byte, capacity)
	}
	r.Clear()
	return r, nil
}

// Planes returns the number of planes.
func (r *PlanarRingBuffer) Planes() int { return len(r.planes) }

// Capacity returns the per-plane capacity.
func (r *PlanarRingBuffer) Capacity() int { return len(r.planes[0]) }

// Clear resets the cursors of every plane.
func (r *PlanarRingBuffer) Clear() {
	r.mu.Lock()
	for i := range r.planes {
		r.readPos[i], r.writePos[i] = 0, 0
		r.readable[i] = 0
		r.writable[i] = len(r.planes[i])
	}
	r.mu.Unlock()
}

// Available returns the readable bytes of plane 0.
func (r *PlanarRingBuffer) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readable[0]
}

// AvailablePlane returns the readable bytes of a specific plane.
func (r *PlanarRingBuffer) AvailablePlane(plane int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readable[plane]
}

// Write stores as much of p as fits into plane.
func (r *PlanarRingBuffer) Write(plane int, p []byte) (int, error) {
	return r.WriteAt(plane, p, 0, len(p))
}

// WriteAt stores up to length bytes of p starting at offset into plane.
func (r *PlanarRingBuffer) WriteAt(plane int, p []byte, offset, length int) (int, error) {
	if plane < 0 || plane >= len(r.planes) {
		return 0, ErrRange
	}
	if offset < 0 || length < 0 || length > len(p)-offset {
		return 0, ErrRange
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := ringWrite(r.planes[plane], &r.writePos[plane], &r.readable[plane], &r.writable[plane], p[offset:offset+length])
	return n, nil
}

// Read copies up to len(p) bytes from plane.
func (r *PlanarRingBuffer) Read(plane int, p []byte) (int, error) {
	return r.ReadAt(plane, p, 0, len(p))
}

// ReadAt copies up to length bytes from plane into p starting at offset.
func (r *PlanarRingBuffer) ReadAt(plane int, p []byte, offset, length int) (int, error) {
	if plane < 0 || plane >= len(r.planes) {
		return 0, ErrRange
	}
	if offset < 0 || length < 0 || length > len(p)-offset {
		return 0, ErrRange
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := ringRead(r.planes[plane], &r.readPos[plane], &r.readable[plane], &r.writable[plane], p[offset:offset+length])
	return n, nil
}
