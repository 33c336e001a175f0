package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// DefaultMixerBufferSize is the overlay ring capacity used when
// MixerConfig.BufferSize is zero.
const DefaultMixerBufferSize = 1 << 20

// MixerConfig configures an AudioMixer.
type MixerConfig struct {
	Format AudioFormat // Interleaved format of both streams
	Sink   AudioSink   // Receives the mixed primary stream

	BufferSize int // Overlay ring capacity (0 = DefaultMixerBufferSize)

	// MixThreshold is the minimum number of buffered overlay bytes before
	// overlay data is mixed into a Write. 0 = one sample frame.
	MixThreshold int

	Clock  *SyncClock   // Optional; advanced by every Write
	Logger *slog.Logger // nil = slog.Default()
}

// MixerStats provides mixer counters.
type MixerStats struct {
	BytesWritten  uint64 // Bytes committed to the sink
	BytesMixed    uint64 // Overlay bytes folded into the primary stream
	BytesBuffered uint64 // Overlay bytes accepted by AddFrame
	BytesDropped  uint64 // Overlay bytes dropped because the ring was full
}

// AudioMixer folds a live overlay stream into a primary stream that is
// being committed to a sink. Overlay data is buffered in a ring and mixed
// sample by sample with saturation.
type AudioMixer struct {
	config MixerConfig
	lc     *Lifecycle
	log    *slog.Logger

	ring     *RingBuffer
	mixing   atomic.Bool
	sinkOpen bool

	writeMu sync.Mutex // Guards sink writes and the scratch buffer
	scratch []byte
	pos     int64 // Sample frames written to the sink

	// Run parks on cond while Suspended.
	condMu sync.Mutex
	cond   *sync.Cond

	stats   MixerStats
	statsMu sync.Mutex
}

// NewAudioMixer creates a mixer in StateStopped.
func NewAudioMixer(config MixerConfig) (*AudioMixer, error) {
	if !config.Format.Valid() {
		return nil, fmt.Errorf("invalid mixer format %s", config.Format)
	}
	if config.Format.Encoding.Planar() {
		return nil, fmt.Errorf("%w: mixer requires interleaved audio, got %s", ErrNotSupported, config.Format.Encoding)
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.BufferSize == 0 {
		config.BufferSize = DefaultMixerBufferSize
	}
	if config.MixThreshold <= 0 {
		config.MixThreshold = config.Format.BytesPerFrame()
	}

	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &AudioMixer{
		config: config,
		log:    log.With("component", "mixer"),
	}
	m.cond = sync.NewCond(&m.condMu)
	m.lc = NewLifecycle(mixerSteps{m}, LifecycleConfig{Name: "mixer", Logger: config.Logger})
	m.lc.AddListener(func(_, _ State) {
		m.condMu.Lock()
		m.cond.Broadcast()
		m.condMu.Unlock()
	})
	m.mixing.Store(true)
	return m, nil
}

// Lifecycle exposes the mixer's state machine for listeners and state queries.
func (m *AudioMixer) Lifecycle() *Lifecycle { return m.lc }

// Init allocates the overlay ring.
func (m *AudioMixer) Init() error { return m.lc.Init() }

// Start opens the sink, or resumes after Suspend without touching buffered data.
func (m *AudioMixer) Start() error { return m.lc.Start() }

// Suspend parks the consumer loop. Buffered overlay data is kept.
func (m *AudioMixer) Suspend() error { return m.lc.Suspend() }

// Stop clears the ring and closes the sink.
func (m *AudioMixer) Stop() error { return m.lc.Stop() }

// Destroy releases the ring permanently.
func (m *AudioMixer) Destroy() error { return m.lc.Destroy() }

// State returns the lifecycle state.
func (m *AudioMixer) State() State { return m.lc.State() }

// Format returns the negotiated format.
func (m *AudioMixer) Format() AudioFormat { return m.config.Format }

// SetMixing enables or disables overlay mixing. While disabled, Write
// passes data straight through and AddFrame is a no-op.
func (m *AudioMixer) SetMixing(enabled bool) { m.mixing.Store(enabled) }

// Mixing reports whether overlay mixing is enabled.
func (m *AudioMixer) Mixing() bool { return m.mixing.Load() }

// Available returns the buffered overlay byte count.
func (m *AudioMixer) Available() int {
	if m.ring == nil {
		return 0
	}
	return m.ring.Available()
}

// Stats returns mixer counters.
func (m *AudioMixer) Stats() MixerStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// AddFrame buffers an overlay frame and returns the number of bytes stored.
// It is a no-op unless the mixer is Started with mixing enabled. When the
// ring is full the excess is dropped; the producer never blocks.
func (m *AudioMixer) AddFrame(frame *Frame) (int, error) {
	if frame == nil || frame.Type != MediaTypeAudio {
		return 0, fmt.Errorf("%w: overlay frame must be audio", ErrNotSupported)
	}
	if frame.Format.Channels != m.config.Format.Channels ||
		frame.Format.Encoding.Packed() != m.config.Format.Encoding {
		return 0, fmt.Errorf("%w: overlay format %s does not match %s", ErrNotSupported, frame.Format, m.config.Format)
	}

	var data []byte
	if frame.Format.Encoding.Planar() {
		data = interleave(frame)
	} else if len(frame.Planes) > 0 {
		data = frame.Planes[0]
		if n := frame.Samples * frame.Format.BytesPerFrame(); n < len(data) {
			data = data[:n]
		}
	}
	return m.AddBytes(data), nil
}

// AddBytes buffers interleaved overlay bytes under the same rules as AddFrame.
func (m *AudioMixer) AddBytes(p []byte) int {
	if !m.lc.Started() || !m.mixing.Load() || m.ring == nil {
		return 0
	}
	// Keep the ring aligned to whole sample frames.
	frameBytes := m.config.Format.BytesPerFrame()
	accept := p
	if w := m.ring.Writable(); len(accept) > w {
		accept = accept[:w-w%frameBytes]
	}
	n, _ := m.ring.Write(accept)

	m.statsMu.Lock()
	m.stats.BytesBuffered += uint64(n)
	m.stats.BytesDropped += uint64(len(p) - n)
	m.statsMu.Unlock()
	return n
}

// Write commits length bytes of data starting at offset to the sink, mixing
// buffered overlay data on top when mixing is enabled and at least
// MixThreshold bytes are buffered.
func (m *AudioMixer) Write(data []byte, offset, length int) (int, error) {
	if offset < 0 || length < 0 || length > len(data)-offset {
		return 0, ErrRange
	}
	if st := m.lc.State(); st != StateStarted {
		return 0, fmt.Errorf("%w: write in state %s", ErrMixer, st)
	}
	if length == 0 {
		return 0, nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	src := data[offset : offset+length]
	out := src
	if m.mixing.Load() {
		if cap(m.scratch) < length {
			m.scratch = make([]byte, length)
		}
		out = m.scratch[:length]
		copy(out, src)

		if m.ring.Available() >= m.config.MixThreshold {
			frameBytes := m.config.Format.BytesPerFrame()
			want := length - length%frameBytes
			overlay := DefaultBufferPool.Get(want)
			n, _ := m.ring.Read(overlay)
			MixSamples(out[:n], overlay[:n], m.config.Format.Encoding)
			DefaultBufferPool.Put(overlay)

			m.statsMu.Lock()
			m.stats.BytesMixed += uint64(n)
			m.statsMu.Unlock()
		}
	}

	n, err := m.config.Sink.Write(out)

	m.statsMu.Lock()
	m.stats.BytesWritten += uint64(n)
	m.statsMu.Unlock()

	m.pos += int64(n / m.config.Format.BytesPerFrame())
	if m.config.Clock != nil {
		m.config.Clock.SetPts(m.pos, m.config.Format.Timebase())
	}
	if err != nil {
		return n, &MixerError{Op: "write", Err: err}
	}
	return n, nil
}

// Run pulls overlay audio from dev until ctx is cancelled, the device
// reports ErrEndOfStream, or the mixer leaves the Started/Suspended
// states. While Suspended the loop parks without reading. The device must
// already be opened and started.
func (m *AudioMixer) Run(ctx context.Context, dev AudioInputDevice, chunkFrames int) error {
	if chunkFrames <= 0 {
		chunkFrames = m.config.Format.SampleRate / 50 // 20ms
	}
	buf := make([]byte, chunkFrames*m.config.Format.BytesPerFrame())

	stopWake := context.AfterFunc(ctx, func() {
		m.condMu.Lock()
		m.cond.Broadcast()
		m.condMu.Unlock()
	})
	defer stopWake()

	for {
		if !m.waitStarted(ctx) {
			return ctx.Err()
		}

		n, err := dev.Read(buf)
		if n > 0 {
			if added := m.AddBytes(buf[:n]); added < n {
				m.log.Debug("overlay ring full", "dropped", n-added)
			}
		}
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				return nil
			}
			return fmt.Errorf("read %s: %w", dev.Name(), err)
		}
	}
}

// waitStarted blocks while the mixer is suspended or still starting. It
// returns false when the loop should exit.
func (m *AudioMixer) waitStarted(ctx context.Context) bool {
	m.condMu.Lock()
	defer m.condMu.Unlock()
	for {
		if ctx.Err() != nil {
			return false
		}
		switch m.lc.State() {
		case StateStarted:
			return true
		case StateSuspending, StateSuspended, StateStarting:
			m.cond.Wait()
		default:
			return false
		}
	}
}

// mixerSteps adapts AudioMixer to the Component capability without
// exporting the lifecycle hooks on the mixer itself.
type mixerSteps struct{ m *AudioMixer }

func (s mixerSteps) InitInternal() error {
	ring, err := NewRingBuffer(s.m.config.BufferSize)
	if err != nil {
		return err
	}
	s.m.ring = ring
	return nil
}

func (s mixerSteps) StartInternal() error {
	m := s.m
	if m.lc.PreviousState() == StateSuspended && m.sinkOpen {
		m.log.Debug("resuming", "buffered", m.ring.Available())
		return nil
	}
	if err := m.config.Sink.Open(m.config.Format); err != nil {
		return &MixerError{Op: "open sink", Err: err}
	}
	m.sinkOpen = true
	m.resetPosition()
	return nil
}

func (s mixerSteps) SuspendInternal() error { return nil }

func (s mixerSteps) StopInternal() error {
	m := s.m
	if m.ring != nil {
		m.ring.Clear()
	}
	m.resetPosition()
	if !m.sinkOpen {
		return nil
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.config.Sink.Close(); err != nil {
		return &MixerError{Op: "close sink", Err: err}
	}
	m.sinkOpen = false
	return nil
}

// resetPosition rewinds the written position and the shared clock.
func (m *AudioMixer) resetPosition() {
	m.writeMu.Lock()
	m.pos = 0
	m.writeMu.Unlock()
	if m.config.Clock != nil {
		m.config.Clock.Reset()
	}
}

func (s mixerSteps) DestroyInternal() error {
	s.m.ring = nil
	s.m.scratch = nil
	return nil
}

// MixSamples adds src into dst sample by sample, clamping to the
// representable range of enc. Integer encodings never pass through floating
// point. Trailing bytes that do not form a whole sample are left unchanged.
func MixSamples(dst, src []byte, enc SampleEncoding) {
	n := min(len(dst), len(src))
	size := enc.BytesPerSample()
	if size == 0 {
		return
	}
	n -= n % size

	switch enc {
	case SampleU8, SampleU8P:
		for i := 0; i < n; i++ {
			v := int(dst[i]) + int(src[i]) - 128
			dst[i] = byte(clampInt(v, 0, 255))
		}
	case SampleS16LE, SampleS16P:
		for i := 0; i < n; i += 2 {
			a := int32(int16(binary.LittleEndian.Uint16(dst[i:])))
			b := int32(int16(binary.LittleEndian.Uint16(src[i:])))
			binary.LittleEndian.PutUint16(dst[i:], uint16(int16(clampInt32(a+b, math.MinInt16, math.MaxInt16))))
		}
	case SampleS16BE:
		for i := 0; i < n; i += 2 {
			a := int32(int16(binary.BigEndian.Uint16(dst[i:])))
			b := int32(int16(binary.BigEndian.Uint16(src[i:])))
			binary.BigEndian.PutUint16(dst[i:], uint16(int16(clampInt32(a+b, math.MinInt16, math.MaxInt16))))
		}
	case SampleS24LE:
		const lo, hi = -1 << 23, 1<<23 - 1
		for i := 0; i < n; i += 3 {
			a := int32(decodeIntSample(dst[i:], enc))
			b := int32(decodeIntSample(src[i:], enc))
			encodeIntSample(dst[i:], enc, int(clampInt32(a+b, lo, hi)))
		}
	case SampleS32LE, SampleS32P:
		for i := 0; i < n; i += 4 {
			a := int64(int32(binary.LittleEndian.Uint32(dst[i:])))
			b := int64(int32(binary.LittleEndian.Uint32(src[i:])))
			s := min(max(a+b, math.MinInt32), math.MaxInt32)
			binary.LittleEndian.PutUint32(dst[i:], uint32(int32(s)))
		}
	case SampleF32LE, SampleF32P:
		for i := 0; i < n; i += 4 {
			a := math.Float32frombits(binary.LittleEndian.Uint32(dst[i:]))
			b := math.Float32frombits(binary.LittleEndian.Uint32(src[i:]))
			s := min(max(a+b, -1), 1)
			binary.LittleEndian.PutUint32(dst[i:], math.Float32bits(s))
		}
	case SampleF64LE, SampleF64P:
		for i := 0; i < n; i += 8 {
			a := math.Float64frombits(binary.LittleEndian.Uint64(dst[i:]))
			b := math.Float64frombits(binary.LittleEndian.Uint64(src[i:]))
			s := min(max(a+b, -1), 1)
			binary.LittleEndian.PutUint64(dst[i:], math.Float64bits(s))
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// interleave packs the planes of a planar audio frame into one buffer.
func interleave(f *Frame) []byte {
	size := f.Format.Encoding.BytesPerSample()
	ch := f.Format.Channels
	out := make([]byte, f.Samples*size*ch)
	for c := 0; c < ch && c < len(f.Planes); c++ {
		plane := f.Planes[c]
		for i := 0; i < f.Samples && (i+1)*size <= len(plane); i++ {
			copy(out[(i*ch+c)*size:], plane[i*size:(i+1)*size])
		}
	}
	return out
}
