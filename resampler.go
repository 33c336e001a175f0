package media

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AudioResampler converts audio between formats: sample encoding, channel
// count and sample rate. Converted samples are buffered per output channel
// in a PlanarRingBuffer so that frames of exactly FrameSize samples can be
// emitted; the remainder is kept for the next call.
type AudioResampler struct {
	in, out   AudioFormat
	frameSize int

	ring   *PlanarRingBuffer
	outBps int

	// Rate conversion position in input and output samples since start.
	inCount  int64
	outCount int64
	prev     []float64 // Last input sample per output channel
	chans    [][]float64

	basePts int64 // Pts of the first output sample, in 1/out.SampleRate
	emitted int64 // Samples handed out as frames
	flushed bool
}

// NewAudioResampler creates a resampler from in to out. frameSize is the
// number of samples per output frame; 0 emits whatever is available.
func NewAudioResampler(in, out AudioFormat, frameSize int) (*AudioResampler, error) {
	if !in.Valid() || !out.Valid() {
		return nil, fmt.Errorf("invalid resample %s -> %s", in, out)
	}
	if frameSize < 0 {
		return nil, ErrRange
	}
	outBps := out.Encoding.BytesPerSample()
	capacity := (max(frameSize, out.SampleRate/10) + 1) * outBps * 2
	ring, err := NewPlanarRingBuffer(capacity, out.Channels)
	if err != nil {
		return nil, err
	}
	return &AudioResampler{
		in:        in,
		out:       out,
		frameSize: frameSize,
		ring:      ring,
		outBps:    outBps,
		prev:      make([]float64, out.Channels),
		chans:     make([][]float64, out.Channels),
		basePts:   NoPts,
	}, nil
}

// Identity reports whether frames pass through untouched: formats match
// and no reframing is requested.
func (r *AudioResampler) Identity() bool { return r.in == r.out && r.frameSize == 0 }

// Input returns the source format.
func (r *AudioResampler) Input() AudioFormat { return r.in }

// Output returns the target format.
func (r *AudioResampler) Output() AudioFormat { return r.out }

// FrameSize returns the samples per emitted frame.
func (r *AudioResampler) FrameSize() int { return r.frameSize }

// Buffered returns the number of converted samples per channel waiting for
// the next frame.
func (r *AudioResampler) Buffered() int { return r.ring.Available() / r.outBps }

// Resample converts f and returns zero or more full output frames. f is
// consumed: in identity mode it is returned as the single output, otherwise
// it is released.
func (r *AudioResampler) Resample(f *Frame) ([]*Frame, error) {
	if r.flushed {
		return nil, fmt.Errorf("resample after flush: %w", ErrEndOfStream)
	}
	if f.Type != MediaTypeAudio || f.Format != r.in {
		return nil, fmt.Errorf("resampler expects %s, got %s", r.in, f.Format)
	}
	if r.Identity() {
		return []*Frame{f}, nil
	}

	if r.basePts == NoPts {
		r.basePts = 0
		if f.Pts != NoPts && f.Timebase.Valid() {
			r.basePts = Rescale(f.Pts, f.Timebase, r.out.Timebase())
		}
	}

	r.decode(f)
	n := f.Samples
	f.Release()
	r.convert(n, false)
	return r.emit(false), nil
}

// Flush converts the tail of the input and emits every buffered sample,
// the last frame possibly short. Further calls return nothing.
func (r *AudioResampler) Flush() []*Frame {
	if r.flushed || r.Identity() {
		r.flushed = true
		return nil
	}
	r.flushed = true
	if r.inCount > 0 {
		for c := range r.chans {
			r.chans[c] = r.chans[c][:0]
		}
		r.convert(0, true)
	}
	return r.emit(true)
}

// decode unpacks f into per-output-channel float samples in r.chans.
func (r *AudioResampler) decode(f *Frame) {
	inCh, outCh := r.in.Channels, r.out.Channels
	bps := r.in.Encoding.BytesPerSample()
	planar := r.in.Encoding.Planar()

	for c := range r.chans {
		if cap(r.chans[c]) < f.Samples {
			r.chans[c] = make([]float64, f.Samples)
		}
		r.chans[c] = r.chans[c][:f.Samples]
	}

	sample := func(i, c int) float64 {
		if planar {
			return sampleToFloat(f.Planes[c][i*bps:], r.in.Encoding)
		}
		return sampleToFloat(f.Planes[0][(i*inCh+c)*bps:], r.in.Encoding)
	}

	for i := 0; i < f.Samples; i++ {
		switch {
		case outCh == 1 && inCh > 1:
			var sum float64
			for c := 0; c < inCh; c++ {
				sum += sample(i, c)
			}
			r.chans[0][i] = sum / float64(inCh)
		default:
			for c := 0; c < outCh; c++ {
				r.chans[c][i] = sample(i, c%inCh)
			}
		}
	}
}

// convert runs linear interpolation over the n newest input samples in
// r.chans and writes the results into the ring. With final set, outputs up
// to the end of the input are produced by holding the last sample.
func (r *AudioResampler) convert(n int, final bool) {
	inRate, outRate := int64(r.in.SampleRate), int64(r.out.SampleRate)
	before := r.inCount
	r.inCount += int64(n)
	last := r.inCount - 1

	get := func(c int, i int64) float64 {
		if i < before {
			return r.prev[c]
		}
		return r.chans[c][i-before]
	}

	buf := make([]byte, r.outBps)
	for {
		num := r.outCount * inRate
		i0 := num / outRate
		rem := num % outRate

		var ok bool
		switch {
		case final:
			ok = i0 <= last
		case rem == 0:
			ok = i0 <= last
		default:
			ok = i0+1 <= last
		}
		if !ok {
			break
		}

		r.ensure(r.outBps)
		for c := 0; c < r.out.Channels; c++ {
			v := get(c, i0)
			if rem != 0 && i0+1 <= last {
				frac := float64(rem) / float64(outRate)
				v += frac * (get(c, i0+1) - v)
			}
			floatToSample(buf, r.out.Encoding, v)
			r.ring.Write(c, buf)
		}
		r.outCount++
	}

	if n > 0 {
		for c := range r.prev {
			r.prev[c] = r.chans[c][n-1]
		}
	}
}

// ensure grows the ring so that n more bytes fit in every plane.
func (r *AudioResampler) ensure(n int) {
	if r.ring.Capacity()-r.ring.Available() >= n {
		return
	}
	bigger, _ := NewPlanarRingBuffer(r.ring.Capacity()*2+n, r.out.Channels)
	tmp := make([]byte, r.ring.Capacity())
	for c := 0; c < r.out.Channels; c++ {
		k, _ := r.ring.Read(c, tmp)
		bigger.Write(c, tmp[:k])
	}
	r.ring = bigger
}

// emit packs buffered samples into frames.
func (r *AudioResampler) emit(final bool) []*Frame {
	var frames []*Frame
	for {
		avail := r.ring.Available() / r.outBps
		n := r.frameSize
		if n == 0 || (final && avail < n) {
			n = avail
		}
		if n == 0 || avail < n {
			return frames
		}

		f := NewAudioFrame(r.out, n)
		if r.out.Encoding.Planar() {
			for c := 0; c < r.out.Channels; c++ {
				r.ring.Read(c, f.Planes[c][:n*r.outBps])
			}
		} else {
			plane := make([]byte, n*r.outBps)
			ch := r.out.Channels
			for c := 0; c < ch; c++ {
				r.ring.Read(c, plane)
				for i := 0; i < n; i++ {
					copy(f.Planes[0][(i*ch+c)*r.outBps:], plane[i*r.outBps:(i+1)*r.outBps])
				}
			}
		}
		f.Pts = r.basePts + r.emitted
		f.Dts = f.Pts
		r.emitted += int64(n)
		frames = append(frames, f)
	}
}

// sampleToFloat reads one sample and scales it to [-1, 1).
func sampleToFloat(b []byte, enc SampleEncoding) float64 {
	switch enc {
	case SampleU8, SampleU8P:
		return (float64(b[0]) - 128) / 128
	case SampleS16LE, SampleS16P, SampleS16BE:
		return float64(decodeIntSample(b, enc)) / 32768
	case SampleS24LE:
		return float64(decodeIntSample(b, enc)) / 8388608
	case SampleS32LE, SampleS32P:
		return float64(decodeIntSample(b, enc)) / 2147483648
	case SampleF32LE, SampleF32P:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case SampleF64LE, SampleF64P:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return 0
	}
}

// floatToSample writes v in enc, clamping to the representable range.
func floatToSample(b []byte, enc SampleEncoding, v float64) {
	scale := func(full float64, lo, hi int) int {
		return clampInt(int(math.Round(v*full)), lo, hi)
	}
	switch enc {
	case SampleU8, SampleU8P:
		b[0] = byte(scale(128, -128, 127) + 128)
	case SampleS16LE, SampleS16P, SampleS16BE:
		encodeIntSample(b, enc, scale(32768, math.MinInt16, math.MaxInt16))
	case SampleS24LE:
		encodeIntSample(b, enc, scale(8388608, -1<<23, 1<<23-1))
	case SampleS32LE, SampleS32P:
		encodeIntSample(b, enc, scale(2147483648, math.MinInt32, math.MaxInt32))
	case SampleF32LE, SampleF32P:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case SampleF64LE, SampleF64P:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}
