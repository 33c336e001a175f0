// Core frame and packet types moved between pipeline stages.
package media

// Frame is a decoded unit of audio or video. A Frame is owned by exactly one
// pipeline stage at a time; passing it on transfers ownership.
type Frame struct {
	Type MediaType

	// Planes holds sample or pixel data. Interleaved audio and packed video
	// use a single plane.
	Planes [][]byte

	// Audio
	Format  AudioFormat
	Samples int // Samples per channel

	// Video
	Picture PictureFormat
	Stride  []int
	Key     bool

	Timebase Timebase
	Pts      int64
	Dts      int64
	Duration int64

	pool *BufferPool
}

// NewAudioFrame allocates pooled planes for the given number of samples.
func NewAudioFrame(format AudioFormat, samples int) *Frame {
	f := &Frame{
		Type:     MediaTypeAudio,
		Format:   format,
		Samples:  samples,
		Timebase: format.Timebase(),
		Pts:      NoPts,
		Dts:      NoPts,
		Duration: int64(samples),
		pool:     DefaultBufferPool,
	}
	planes := format.Planes()
	size := samples * format.BytesPerPlaneSample()
	f.Planes = make([][]byte, planes)
	for i := range f.Planes {
		f.Planes[i] = f.pool.Get(size)
	}
	return f
}

// NewVideoFrame allocates pooled planes for one picture.
func NewVideoFrame(pic PictureFormat) *Frame {
	strides, sizes := pic.PlaneSizes()
	f := &Frame{
		Type:    MediaTypeVideo,
		Picture: pic,
		Stride:  strides,
		Pts:     NoPts,
		Dts:     NoPts,
		pool:    DefaultBufferPool,
	}
	f.Planes = make([][]byte, len(sizes))
	for i, s := range sizes {
		f.Planes[i] = f.pool.Get(s)
	}
	return f
}

// ByteSize returns the total number of payload bytes across all planes.
func (f *Frame) ByteSize() int {
	n := 0
	for _, p := range f.Planes {
		n += len(p)
	}
	return n
}

// Release hands pooled planes back. The frame must not be used afterwards.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	if f.pool != nil {
		for _, p := range f.Planes {
			f.pool.Put(p)
		}
	}
	f.Planes = nil
	f.pool = nil
}

// Clone creates a deep, unpooled copy of the frame.
func (f *Frame) Clone() *Frame {
	clone := *f
	clone.pool = nil
	clone.Planes = make([][]byte, len(f.Planes))
	for i, p := range f.Planes {
		if p != nil {
			clone.Planes[i] = append([]byte(nil), p...)
		}
	}
	if f.Stride != nil {
		clone.Stride = append([]int(nil), f.Stride...)
	}
	return &clone
}

// Packet is an encoded unit produced by an Encoder or a container reader.
type Packet struct {
	Type        MediaType
	Data        []byte
	Timebase    Timebase
	Pts         int64
	Dts         int64
	Duration    int64
	KeyFrame    bool
	StreamIndex int

	pool *BufferPool
}

// NewPacket returns a packet backed by a pooled buffer of n bytes.
func NewPacket(t MediaType, n int) *Packet {
	return &Packet{
		Type: t,
		Data: DefaultBufferPool.Get(n),
		Pts:  NoPts,
		Dts:  NoPts,
		pool: DefaultBufferPool,
	}
}

// Release hands the packet buffer back to its pool.
func (p *Packet) Release() {
	if p == nil {
		return
	}
	if p.pool != nil {
		p.pool.Put(p.Data)
	}
	p.Data = nil
	p.pool = nil
}

// Clone creates a deep, unpooled copy of the packet.
func (p *Packet) Clone() *Packet {
	clone := *p
	clone.pool = nil
	if p.Data != nil {
		clone.Data = append([]byte(nil), p.Data...)
	}
	return &clone
}

// RescaleTimestamps converts Pts, Dts and Duration into tb.
func (p *Packet) RescaleTimestamps(tb Timebase) {
	if p.Timebase == tb {
		return
	}
	p.Pts = Rescale(p.Pts, p.Timebase, tb)
	p.Dts = Rescale(p.Dts, p.Timebase, tb)
	if p.Duration != 0 {
		p.Duration = Rescale(p.Duration, p.Timebase, tb)
	}
	p.Timebase = tb
}
