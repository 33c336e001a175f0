package media

import (
	"fmt"
	"log/slog"
	"sync"
)

// chunkEncoder turns a run of interleaved samples into one packet payload.
type chunkEncoder func(pcm []byte, samples int) ([]byte, error)

// chunkDecoder turns one packet payload into interleaved samples.
type chunkDecoder func(payload []byte) (pcm []byte, samples int, err error)

// sampleAccumulator gathers interleaved samples until a full codec frame is
// available.
type sampleAccumulator struct {
	frameBytes int // Bytes per sample frame
	chunk      int // Samples per codec frame (0 = whatever arrives)
	buf        []byte
	bufPts     int64
	clock      audioClock
}

func (a *sampleAccumulator) add(f *Frame, data []byte, tb Timebase) {
	pts := a.clock.stamp(f, tb)
	if len(a.buf) == 0 {
		a.bufPts = pts
	}
	a.buf = append(a.buf, data...)
}

// take removes the next codec frame. With final set, a short remainder is
// returned as well.
func (a *sampleAccumulator) take(final bool) (data []byte, pts int64, samples int, ok bool) {
	avail := len(a.buf) / a.frameBytes
	if avail == 0 {
		return nil, 0, 0, false
	}
	n := avail
	if a.chunk > 0 {
		if avail < a.chunk && !final {
			return nil, 0, 0, false
		}
		n = min(avail, a.chunk)
	}
	size := n * a.frameBytes
	data = make([]byte, size)
	copy(data, a.buf[:size])
	a.buf = a.buf[:copy(a.buf, a.buf[size:])]
	pts = a.bufPts
	a.bufPts += int64(n)
	return data, pts, n, true
}

// audioEncoder implements Encoder for frame-at-a-time audio codecs.
type audioEncoder struct {
	config   EncoderConfig
	log      *slog.Logger
	encode   chunkEncoder
	padFinal bool // Pad the last short chunk with silence
	closer   func() error

	acc   sampleAccumulator
	queue packetQueue

	stats   EncoderStats
	statsMu sync.Mutex
	mu      sync.Mutex
}

func newAudioEncoder(config EncoderConfig, encode chunkEncoder, padFinal bool, closer func() error) *audioEncoder {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &audioEncoder{
		config:   config,
		log:      log,
		encode:   encode,
		padFinal: padFinal,
		closer:   closer,
		acc: sampleAccumulator{
			frameBytes: config.Format.BytesPerFrame(),
			chunk:      config.FrameSize,
		},
	}
}

func (e *audioEncoder) Codec() CodecID        { return e.config.Codec }
func (e *audioEncoder) Provider() Provider    { return e.config.Provider }
func (e *audioEncoder) Config() EncoderConfig { return e.config }
func (e *audioEncoder) Timebase() Timebase    { return e.config.Format.Timebase() }

func (e *audioEncoder) Stats() EncoderStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *audioEncoder) Encode(frame *Frame) (*Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if frame == nil {
		if !e.queue.draining {
			e.queue.draining = true
			if err := e.emit(true); err != nil {
				return nil, err
			}
		}
		return e.queue.next()
	}
	if e.queue.draining {
		return nil, fmt.Errorf("%s encoder: frame after end of stream: %w", e.config.Codec, ErrEndOfStream)
	}
	if frame.Type != MediaTypeAudio || frame.Format != e.config.Format {
		e.countError()
		return nil, fmt.Errorf("%s encoder expects %s, got %s", e.config.Codec, e.config.Format, frame.Format)
	}
	if len(frame.Planes) == 0 {
		e.countError()
		return nil, fmt.Errorf("%s encoder: frame has no data", e.config.Codec)
	}

	data := frame.Planes[0]
	if n := frame.Samples * e.acc.frameBytes; n < len(data) {
		data = data[:n]
	}
	e.acc.add(frame, data, e.Timebase())

	e.statsMu.Lock()
	e.stats.FramesIn++
	e.statsMu.Unlock()

	if err := e.emit(false); err != nil {
		return nil, err
	}
	return e.queue.next()
}

func (e *audioEncoder) emit(final bool) error {
	for {
		pcm, pts, samples, ok := e.acc.take(final)
		if !ok {
			return nil
		}
		if final && e.padFinal && e.acc.chunk > 0 && samples < e.acc.chunk {
			padded := make([]byte, e.acc.chunk*e.acc.frameBytes)
			copy(padded, pcm)
			pcm = padded
		}
		payload, err := e.encode(pcm, len(pcm)/e.acc.frameBytes)
		if err != nil {
			e.countError()
			return fmt.Errorf("%s encode: %w", e.config.Codec, err)
		}

		pkt := &Packet{
			Type:     MediaTypeAudio,
			Data:     payload,
			Timebase: e.Timebase(),
			Pts:      pts,
			Dts:      pts,
			Duration: int64(samples),
			KeyFrame: true,
		}
		e.queue.push(pkt)

		e.statsMu.Lock()
		e.stats.PacketsOut++
		e.stats.Keyframes++
		e.stats.BytesOut += uint64(len(payload))
		e.statsMu.Unlock()
	}
}

func (e *audioEncoder) countError() {
	e.statsMu.Lock()
	e.stats.Errors++
	e.statsMu.Unlock()
}

func (e *audioEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue.release()
	if e.closer != nil {
		err := e.closer()
		e.closer = nil
		return err
	}
	return nil
}

// audioDecoder implements Decoder for codecs where every packet decodes to
// exactly one run of samples.
type audioDecoder struct {
	config DecoderConfig
	format AudioFormat // Output format
	decode chunkDecoder
	closer func() error

	clock audioClock
	queue frameQueue

	stats   DecoderStats
	statsMu sync.Mutex
	mu      sync.Mutex
}

func newAudioDecoder(config DecoderConfig, out AudioFormat, decode chunkDecoder, closer func() error) *audioDecoder {
	return &audioDecoder{config: config, format: out, decode: decode, closer: closer}
}

func (d *audioDecoder) Codec() CodecID        { return d.config.Codec }
func (d *audioDecoder) Provider() Provider    { return d.config.Provider }
func (d *audioDecoder) Config() DecoderConfig { return d.config }

func (d *audioDecoder) Stats() DecoderStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *audioDecoder) Decode(pkt *Packet) (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pkt == nil {
		d.queue.draining = true
		return d.queue.next()
	}
	if d.queue.draining {
		return nil, fmt.Errorf("%s decoder: packet after end of stream: %w", d.config.Codec, ErrEndOfStream)
	}

	d.statsMu.Lock()
	d.stats.PacketsIn++
	d.stats.BytesIn += uint64(len(pkt.Data))
	d.statsMu.Unlock()

	pcm, samples, err := d.decode(pkt.Data)
	if err != nil {
		d.statsMu.Lock()
		d.stats.Errors++
		d.statsMu.Unlock()
		return nil, fmt.Errorf("%s decode: %w", d.config.Codec, err)
	}
	if samples == 0 {
		return d.queue.next()
	}

	f := NewAudioFrame(d.format, samples)
	copy(f.Planes[0], pcm)

	tb := d.format.Timebase()
	stamp := &Frame{Pts: pkt.Pts, Timebase: pkt.Timebase, Samples: samples}
	f.Pts = d.clock.stamp(stamp, tb)
	f.Dts = f.Pts
	d.queue.push(f)

	d.statsMu.Lock()
	d.stats.FramesOut++
	d.statsMu.Unlock()
	return d.queue.next()
}

func (d *audioDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue.release()
	if d.closer != nil {
		err := d.closer()
		d.closer = nil
		return err
	}
	return nil
}

func pcmPassthrough(pcm []byte, _ int) ([]byte, error) {
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return out, nil
}

func pcmDecodeFunc(format AudioFormat) chunkDecoder {
	frameBytes := format.BytesPerFrame()
	return func(payload []byte) ([]byte, int, error) {
		if len(payload)%frameBytes != 0 {
			return nil, 0, fmt.Errorf("payload of %d bytes is not a whole number of %s frames", len(payload), format)
		}
		return payload, len(payload) / frameBytes, nil
	}
}

func init() {
	pcm := []struct {
		codec CodecID
		enc   SampleEncoding
	}{
		{CodecPCMS16LE, SampleS16LE},
		{CodecPCMF32LE, SampleF32LE},
	}
	for _, c := range pcm {
		c := c
		RegisterEncoder(c.codec, ProviderNative, AudioCapabilities{Encodings: []SampleEncoding{c.enc}},
			func(config EncoderConfig) (Encoder, error) {
				if !config.Format.Valid() {
					return nil, fmt.Errorf("invalid format %s", config.Format)
				}
				return newAudioEncoder(config, pcmPassthrough, false, nil), nil
			})
		RegisterDecoder(c.codec, ProviderNative, func(config DecoderConfig) (Decoder, error) {
			out := config.Format
			out.Encoding = c.enc
			if !out.Valid() {
				return nil, fmt.Errorf("invalid format %s", out)
			}
			return newAudioDecoder(config, out, pcmDecodeFunc(out), nil), nil
		})
	}
}
