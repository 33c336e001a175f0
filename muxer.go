package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// MuxerConfig configures a Muxer.
type MuxerConfig struct {
	// Format names the container; empty selects it from the output path.
	Format string
	Logger *slog.Logger
}

// MuxerStats provides muxing metrics.
type MuxerStats struct {
	AudioPackets uint64
	VideoPackets uint64
	BytesWritten uint64
}

type muxStream struct {
	enc Encoder
	out OutputStream
}

// Muxer owns one encoder per output stream and writes their packets into a
// container. Packet timestamps are rescaled from the encoder timebase to
// the stream timebase before writing.
type Muxer struct {
	config MuxerConfig
	log    *slog.Logger
	format ContainerFormat
	writer ContainerWriter
	closer io.Closer // Output owned by the muxer, if any

	video, audio *muxStream
	header       bool
	closed       bool

	stats   MuxerStats
	statsMu sync.Mutex
}

// NewMuxer writes format into w. The caller keeps ownership of w.
func NewMuxer(w io.WriteSeeker, format ContainerFormat, config MuxerConfig) (*Muxer, error) {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	if format.NewWriter == nil {
		return nil, fmt.Errorf("%w: %s is read-only", ErrNotSupported, format.Name)
	}
	writer, err := format.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("create %s writer: %w", format.Name, err)
	}
	return &Muxer{
		config: config,
		log:    log.With("container", format.Name),
		format: format,
		writer: writer,
	}, nil
}

// CreateMuxer creates path and a muxer writing into it. The container comes
// from config.Format or else from the file extension.
func CreateMuxer(path string, config MuxerConfig) (*Muxer, error) {
	var format ContainerFormat
	var err error
	if config.Format != "" {
		format, err = ContainerByName(config.Format)
	} else {
		format, err = ContainerForPath(path)
	}
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	m, err := NewMuxer(f, format, config)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	m.closer = f
	return m, nil
}

// Format returns the container name.
func (m *Muxer) Format() string { return m.format.Name }

// AddStream registers enc as the audio or video stream of the output. The
// muxer takes ownership of enc and closes it on Close.
func (m *Muxer) AddStream(enc Encoder, params CodecParameters) (OutputStream, error) {
	if m.header {
		return OutputStream{}, errors.New("muxer: stream added after header")
	}
	params.Codec = enc.Codec()
	params.Type = params.Codec.MediaType()
	params.Timebase = enc.Timebase()

	slot := &m.audio
	if params.Type == MediaTypeVideo {
		slot = &m.video
	}
	if *slot != nil {
		return OutputStream{}, fmt.Errorf("%w: second %s stream", ErrNotSupported, params.Type)
	}

	out, err := m.writer.AddStream(params)
	if err != nil {
		return OutputStream{}, err
	}
	*slot = &muxStream{enc: enc, out: out}
	m.log.Debug("stream added", "index", out.Index, "params", params.String(), "timebase", out.Timebase.String())
	return out, nil
}

// HasStream reports whether a stream of type t was added.
func (m *Muxer) HasStream(t MediaType) bool { return m.stream(t) != nil }

func (m *Muxer) stream(t MediaType) *muxStream {
	switch t {
	case MediaTypeAudio:
		return m.audio
	case MediaTypeVideo:
		return m.video
	default:
		return nil
	}
}

// WriteHeader writes the container header. Streams must be added first.
func (m *Muxer) WriteHeader() error {
	if m.header {
		return nil
	}
	if m.audio == nil && m.video == nil {
		return errors.New("muxer: no streams")
	}
	if err := m.writer.WriteHeader(); err != nil {
		return fmt.Errorf("write %s header: %w", m.format.Name, err)
	}
	m.header = true
	return nil
}

// WriteFrame encodes f with the stream's encoder and writes the resulting
// packet. The muxer takes ownership of f. Encoder failures are returned as
// *PacketError; anything else is an output failure.
func (m *Muxer) WriteFrame(f *Frame) error {
	defer f.Release()
	if m.closed {
		return ErrClosed
	}
	st := m.stream(f.Type)
	if st == nil {
		return fmt.Errorf("muxer: no %s stream", f.Type)
	}

	pkt, err := st.enc.Encode(f)
	if err != nil {
		return &PacketError{StreamIndex: st.out.Index, Type: f.Type, Err: err}
	}
	if pkt == nil {
		return nil
	}
	return m.writePacket(st, pkt)
}

// writePacket rescales pkt into the stream timebase, stamps the stream
// index and hands it to the container.
func (m *Muxer) writePacket(st *muxStream, pkt *Packet) error {
	defer pkt.Release()
	if !m.header {
		if err := m.WriteHeader(); err != nil {
			return err
		}
	}
	if !pkt.Timebase.Valid() {
		pkt.Timebase = st.enc.Timebase()
	}
	pkt.RescaleTimestamps(st.out.Timebase)
	pkt.StreamIndex = st.out.Index

	if err := m.writer.WritePacket(pkt); err != nil {
		return fmt.Errorf("write %s packet: %w", pkt.Type, err)
	}

	m.statsMu.Lock()
	if pkt.Type == MediaTypeVideo {
		m.stats.VideoPackets++
	} else {
		m.stats.AudioPackets++
	}
	m.stats.BytesWritten += uint64(len(pkt.Data))
	m.statsMu.Unlock()
	return nil
}

// Flush drains the encoder of stream type t into the container.
func (m *Muxer) Flush(t MediaType) error {
	st := m.stream(t)
	if st == nil {
		return nil
	}
	for {
		pkt, err := st.enc.Encode(nil)
		if errors.Is(err, ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return &PacketError{StreamIndex: st.out.Index, Type: t, Err: err}
		}
		if pkt == nil {
			continue
		}
		if err := m.writePacket(st, pkt); err != nil {
			return err
		}
	}
}

// Stats returns muxing metrics.
func (m *Muxer) Stats() MuxerStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Close flushes the video encoder, then the audio encoder, writes the
// trailer and releases encoders and the output. Close is idempotent.
func (m *Muxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var result *multierror.Error
	if m.header {
		for _, t := range []MediaType{MediaTypeVideo, MediaTypeAudio} {
			if err := m.Flush(t); err != nil {
				result = multierror.Append(result, fmt.Errorf("flush %s: %w", t, err))
			}
		}
		if err := m.writer.WriteTrailer(); err != nil {
			result = multierror.Append(result, fmt.Errorf("write %s trailer: %w", m.format.Name, err))
		}
	}
	for _, st := range []*muxStream{m.video, m.audio} {
		if st == nil {
			continue
		}
		if err := st.enc.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s encoder: %w", st.enc.Codec(), err))
		}
	}
	if m.closer != nil {
		if err := m.closer.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close output: %w", err))
		}
	}
	return result.ErrorOrNil()
}
