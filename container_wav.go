package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavPacketSamples is the number of sample frames per demuxed WAV packet.
const wavPacketSamples = 1024

type wavReader struct {
	dec    *wav.Decoder
	params CodecParameters
	depth  int
	buf    *audio.IntBuffer
	pos    int64
}

func newWavReader(s RandomAccessStream) (ContainerReader, error) {
	dec := wav.NewDecoder(s)
	// IsValidFile rejects files with an empty data chunk, which a stopped
	// recording legitimately produces, so only the header is checked.
	dec.ReadInfo()
	if err := dec.Err(); err != nil || dec.NumChans < 1 || dec.BitDepth < 8 {
		return nil, fmt.Errorf("%w: invalid wave file", ErrUnknownFormat)
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: wave format tag %d", ErrNotSupported, dec.WavAudioFormat)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("seek wave data: %w", err)
	}

	rate, chans, depth := int(dec.SampleRate), int(dec.NumChans), int(dec.BitDepth)
	if rate <= 0 || chans <= 0 || depth <= 0 {
		return nil, fmt.Errorf("%w: wave header %d Hz %d ch %d bit", ErrNotSupported, rate, chans, depth)
	}

	// 16-bit data is forwarded untouched; other depths are widened to float.
	codec, enc := CodecPCMF32LE, SampleF32LE
	if depth == 16 {
		codec, enc = CodecPCMS16LE, SampleS16LE
	}
	format := NewAudioFormat(enc, rate, chans)
	params := CodecParameters{
		Codec:    codec,
		Type:     MediaTypeAudio,
		Timebase: format.Timebase(),
		Format:   format,
	}
	if frameBytes := int64(depth / 8 * chans); frameBytes > 0 {
		params.Duration = dec.PCMLen() / frameBytes
	}

	return &wavReader{
		dec:    dec,
		params: params,
		depth:  depth,
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: chans, SampleRate: rate},
			Data:   make([]int, wavPacketSamples*chans),
		},
	}, nil
}

func (r *wavReader) Streams() []CodecParameters { return []CodecParameters{r.params} }

func (r *wavReader) ReadPacket() (*Packet, error) {
	r.buf.Data = r.buf.Data[:cap(r.buf.Data)]
	n, err := r.dec.PCMBuffer(r.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read wave samples: %w", err)
	}
	chans := r.params.Format.Channels
	samples := n / chans
	if samples == 0 {
		return nil, io.EOF
	}

	bps := r.params.Format.Encoding.BytesPerSample()
	pkt := NewPacket(MediaTypeAudio, samples*chans*bps)
	for i, v := range r.buf.Data[:samples*chans] {
		b := pkt.Data[i*bps:]
		if r.depth == 16 {
			binary.LittleEndian.PutUint16(b, uint16(int16(v)))
			continue
		}
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(r.widen(v))))
	}
	pkt.Timebase = r.params.Timebase
	pkt.Pts = r.pos
	pkt.Dts = r.pos
	pkt.Duration = int64(samples)
	pkt.KeyFrame = true
	r.pos += int64(samples)
	return pkt, nil
}

// widen scales an integer sample of the file's bit depth to [-1, 1).
func (r *wavReader) widen(v int) float64 {
	if r.depth == 8 {
		return float64(v-128) / 128
	}
	return float64(v) / float64(int64(1)<<(r.depth-1))
}

func (r *wavReader) Close() error { return nil }

// wavWriter stores a single pcm_s16le stream.
type wavWriter struct {
	ws     io.WriteSeeker
	stream *OutputStream
	pcm    *wavPCMWriter
}

func newWavWriter(ws io.WriteSeeker) (ContainerWriter, error) {
	return &wavWriter{ws: ws}, nil
}

func (w *wavWriter) AddStream(p CodecParameters) (OutputStream, error) {
	if w.stream != nil {
		return OutputStream{}, fmt.Errorf("%w: wav holds a single audio stream", ErrNotSupported)
	}
	if p.Codec != CodecPCMS16LE {
		return OutputStream{}, fmt.Errorf("%w: wav cannot store %s", ErrCodecNotSupported, p.Codec)
	}
	s := OutputStream{Index: 0, Params: p, Timebase: p.Format.Timebase()}
	w.stream = &s
	return s, nil
}

func (w *wavWriter) WriteHeader() error {
	if w.stream == nil {
		return fmt.Errorf("wav: no stream added")
	}
	w.pcm = newWavPCMWriter(w.ws, w.stream.Params.Format)
	return nil
}

func (w *wavWriter) WritePacket(pkt *Packet) error {
	if w.pcm == nil {
		return fmt.Errorf("wav: header not written")
	}
	return w.pcm.write(pkt.Data)
}

func (w *wavWriter) WriteTrailer() error {
	if w.pcm == nil {
		return nil
	}
	err := w.pcm.close()
	w.pcm = nil
	return err
}

func init() {
	RegisterContainer(ContainerFormat{
		Name:       "wav",
		Extensions: []string{".wav", ".wave"},
		Probe: func(h []byte) bool {
			return hasMagic(h, 0, "RIFF") && hasMagic(h, 8, "WAVE")
		},
		NewReader: newWavReader,
		NewWriter: newWavWriter,
	})
}
