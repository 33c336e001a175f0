package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hashicorp/go-multierror"
)

// AudioSink receives raw PCM bytes in a negotiated format.
type AudioSink interface {
	Open(format AudioFormat) error
	Write(p []byte) (int, error)
	Close() error
}

// AudioInputDevice is a capture endpoint. How devices are enumerated or
// hot-plugged is outside this package.
type AudioInputDevice interface {
	Name() string
	Open(format AudioFormat) error
	Start() error
	Stop() error
	// Read fills p with interleaved samples in the opened format.
	Read(p []byte) (int, error)
	Close() error
}

// AudioOutputDevice is a playback endpoint.
type AudioOutputDevice interface {
	Name() string
	Open(format AudioFormat) error
	Start() error
	Stop() error
	Write(p []byte) (int, error)
	Close() error
}

// WavSink writes PCM little-endian audio into a RIFF/WAVE file. The header
// reflects the format passed to Open and is finalized on Close.
type WavSink struct {
	path string

	mu      sync.Mutex
	file    *os.File
	pcm     *wavPCMWriter
	written int64
}

// NewWavSink creates a sink that will create path on Open.
func NewWavSink(path string) *WavSink {
	return &WavSink{path: path}
}

// Path returns the output file path.
func (s *WavSink) Path() string { return s.path }

// BytesWritten returns the PCM payload size accepted so far.
func (s *WavSink) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Open creates the file and prepares the WAVE header.
func (s *WavSink) Open(format AudioFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return fmt.Errorf("wav sink %s already open", s.path)
	}
	if !format.Valid() || !wavSupported(format.Encoding) {
		return fmt.Errorf("%w: wav sink cannot store %s", ErrNotSupported, format)
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	s.file = f
	s.pcm = newWavPCMWriter(f, format)
	s.written = 0
	return nil
}

// Write appends interleaved PCM bytes. Incomplete trailing samples are held
// until the next call.
func (s *WavSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pcm == nil {
		return 0, ErrClosed
	}
	if err := s.pcm.write(p); err != nil {
		return 0, err
	}
	s.written += int64(len(p))
	return len(p), nil
}

// Close finalizes the header and closes the file.
func (s *WavSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	var result *multierror.Error
	if err := s.pcm.close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close wav file: %w", err))
	}
	s.file = nil
	s.pcm = nil
	return result.ErrorOrNil()
}

func wavSupported(enc SampleEncoding) bool {
	switch enc {
	case SampleU8, SampleS16LE, SampleS24LE, SampleS32LE:
		return true
	default:
		return false
	}
}

// wavPCMWriter feeds interleaved integer PCM bytes into a go-audio/wav
// encoder.
type wavPCMWriter struct {
	enc     *wav.Encoder
	format  AudioFormat
	buf     *audio.IntBuffer
	pending []byte // Partial sample frame carried to the next write
	started bool
}

func newWavPCMWriter(ws io.WriteSeeker, format AudioFormat) *wavPCMWriter {
	return &wavPCMWriter{
		enc:    wav.NewEncoder(ws, format.SampleRate, format.BitsPerSample(), format.Channels, 1),
		format: format,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: format.BitsPerSample(),
		},
	}
}

func (w *wavPCMWriter) write(p []byte) error {
	data := p
	if len(w.pending) > 0 {
		data = append(w.pending, p...)
	}
	frameBytes := w.format.BytesPerFrame()
	usable := len(data) - len(data)%frameBytes
	sampleBytes := w.format.Encoding.BytesPerSample()

	ints := w.buf.Data[:0]
	for i := 0; i < usable; i += sampleBytes {
		ints = append(ints, decodeIntSample(data[i:], w.format.Encoding))
	}
	w.buf.Data = ints

	if len(ints) > 0 {
		if err := w.enc.Write(w.buf); err != nil {
			return fmt.Errorf("write wav samples: %w", err)
		}
		w.started = true
	}
	w.pending = append(w.pending[:0], data[usable:]...)
	return nil
}

// close finalizes the header. The encoder only emits the RIFF and data
// chunk headers on its first write, so an output with no samples gets an
// empty write first.
func (w *wavPCMWriter) close() error {
	if !w.started {
		w.buf.Data = w.buf.Data[:0]
		if err := w.enc.Write(w.buf); err != nil {
			return fmt.Errorf("write wav header: %w", err)
		}
		w.started = true
	}
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("finalize wav header: %w", err)
	}
	return nil
}

// decodeIntSample reads one integer sample. 8-bit samples stay unsigned.
func decodeIntSample(b []byte, enc SampleEncoding) int {
	switch enc {
	case SampleU8, SampleU8P:
		return int(b[0])
	case SampleS16LE, SampleS16P:
		return int(int16(binary.LittleEndian.Uint16(b)))
	case SampleS16BE:
		return int(int16(binary.BigEndian.Uint16(b)))
	case SampleS24LE:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return int(v<<8) >> 8
	case SampleS32LE, SampleS32P:
		return int(int32(binary.LittleEndian.Uint32(b)))
	default:
		return 0
	}
}

// encodeIntSample is the inverse of decodeIntSample.
func encodeIntSample(b []byte, enc SampleEncoding, v int) {
	switch enc {
	case SampleU8, SampleU8P:
		b[0] = byte(v)
	case SampleS16LE, SampleS16P:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case SampleS16BE:
		binary.BigEndian.PutUint16(b, uint16(int16(v)))
	case SampleS24LE:
		b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
	case SampleS32LE, SampleS32P:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	}
}

// WriterSink adapts an io.Writer into an AudioSink. Open and Close are
// no-ops unless the writer also implements io.Closer.
type WriterSink struct {
	W      io.Writer
	Format AudioFormat // Format of the last Open
}

func (s *WriterSink) Open(format AudioFormat) error {
	s.Format = format
	return nil
}

func (s *WriterSink) Write(p []byte) (int, error) { return s.W.Write(p) }

func (s *WriterSink) Close() error {
	if c, ok := s.W.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
