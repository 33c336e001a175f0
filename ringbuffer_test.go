package media

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestNewRingBuffer_InvalidCapacity(t *testing.T) {
	for _, c := range []int{-1, 0, 1} {
		if _, err := NewRingBuffer(c); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("NewRingBuffer(%d) error = %v, want ErrInvalidCapacity", c, err)
		}
		if _, err := NewPlanarRingBuffer(c, 2); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("NewPlanarRingBuffer(%d) error = %v, want ErrInvalidCapacity", c, err)
		}
	}
}

func TestRingBuffer_PartialWrite(t *testing.T) {
	r, err := NewRingBuffer(1024)
	if err != nil {
		t.Fatal(err)
	}
	n, err := r.Write(make([]byte, 2000))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1024 {
		t.Errorf("Write returned %d, want 1024", n)
	}
	if r.Writable() != 0 || r.Available() != 1024 {
		t.Errorf("available=%d writable=%d, want 1024/0", r.Available(), r.Writable())
	}
	if n, _ := r.Write([]byte{1}); n != 0 {
		t.Errorf("Write into full buffer returned %d, want 0", n)
	}
}

func TestRingBuffer_ReadEmpty(t *testing.T) {
	r, _ := NewRingBuffer(16)
	n, err := r.Read(make([]byte, 8))
	if n != 0 || err != nil {
		t.Errorf("Read(empty) = %d, %v; want 0, nil", n, err)
	}
}

func TestRingBuffer_Range(t *testing.T) {
	r, _ := NewRingBuffer(16)
	buf := make([]byte, 8)
	tests := []struct {
		name           string
		offset, length int
	}{
		{"negative offset", -1, 2},
		{"negative length", 0, -1},
		{"past end", 4, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.WriteAt(buf, tt.offset, tt.length); !errors.Is(err, ErrRange) {
				t.Errorf("WriteAt error = %v, want ErrRange", err)
			}
			if _, err := r.ReadAt(buf, tt.offset, tt.length); !errors.Is(err, ErrRange) {
				t.Errorf("ReadAt error = %v, want ErrRange", err)
			}
		})
	}
}

// Interleaved writes and reads of random sizes must preserve byte order
// across wrap-around, and available+writable must stay equal to capacity.
func TestRingBuffer_RoundTripWrap(t *testing.T) {
	const capacity = 37
	r, _ := NewRingBuffer(capacity)
	rng := rand.New(rand.NewSource(1))

	var written, read bytes.Buffer
	next := byte(0)
	for i := 0; i < 2000; i++ {
		chunk := make([]byte, rng.Intn(capacity+10))
		for j := range chunk {
			chunk[j] = next
			next++
		}
		n, _ := r.Write(chunk)
		written.Write(chunk[:n])
		next -= byte(len(chunk) - n)

		if got := r.Available() + r.Writable(); got != capacity {
			t.Fatalf("step %d: available+writable = %d, want %d", i, got, capacity)
		}

		out := make([]byte, rng.Intn(capacity+10))
		n, _ = r.Read(out)
		read.Write(out[:n])

		if got := r.Available() + r.Writable(); got != capacity {
			t.Fatalf("step %d: available+writable = %d, want %d", i, got, capacity)
		}
	}
	rest := make([]byte, capacity)
	n, _ := r.Read(rest)
	read.Write(rest[:n])

	if !bytes.Equal(written.Bytes(), read.Bytes()) {
		t.Fatalf("read %d bytes differ from %d written", read.Len(), written.Len())
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	r, _ := NewRingBuffer(8)
	r.Write([]byte{1, 2, 3})
	r.Clear()
	if r.Available() != 0 || r.Writable() != 8 {
		t.Errorf("after Clear: available=%d writable=%d", r.Available(), r.Writable())
	}
}

func TestPlanarRingBuffer_IndependentPlanes(t *testing.T) {
	r, err := NewPlanarRingBuffer(8, 2)
	if err != nil {
		t.Fatal(err)
	}
	if r.Planes() != 2 || r.Capacity() != 8 {
		t.Fatalf("planes=%d capacity=%d", r.Planes(), r.Capacity())
	}

	r.Write(0, []byte{1, 2, 3, 4, 5, 6})
	r.Write(1, []byte{9, 8})
	if r.Available() != 6 {
		t.Errorf("Available() = %d, want plane 0 count 6", r.Available())
	}
	if r.AvailablePlane(1) != 2 {
		t.Errorf("AvailablePlane(1) = %d, want 2", r.AvailablePlane(1))
	}

	// Wrap plane 0 without touching plane 1.
	out := make([]byte, 4)
	r.Read(0, out)
	if n, _ := r.Write(0, []byte{7, 8, 9, 10, 11}); n != 5 {
		t.Fatalf("wrapping write returned %d, want 5", n)
	}
	got := make([]byte, 8)
	n, _ := r.Read(0, got)
	if want := []byte{5, 6, 7, 8, 9, 10, 11}; !bytes.Equal(got[:n], want) {
		t.Errorf("plane 0 = %v, want %v", got[:n], want)
	}
	n, _ = r.Read(1, got)
	if !bytes.Equal(got[:n], []byte{9, 8}) {
		t.Errorf("plane 1 = %v, want [9 8]", got[:n])
	}

	if _, err := r.Write(2, []byte{1}); !errors.Is(err, ErrRange) {
		t.Errorf("Write to missing plane error = %v, want ErrRange", err)
	}
}
