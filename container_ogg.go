package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// Opus timestamps always run at 48 kHz regardless of the coded rate.
var opusTimebase = Timebase48kHz

// OpusPacketSamples returns the duration of an Opus packet in 48 kHz
// samples, parsed from its TOC byte (RFC 6716 section 3.1).
func OpusPacketSamples(packet []byte) (int, error) {
	if len(packet) == 0 {
		return 0, errors.New("empty opus packet")
	}
	toc := packet[0]
	config := int(toc >> 3)

	var frame int
	switch {
	case config < 12: // SILK: 10, 20, 40, 60 ms
		frame = [...]int{480, 960, 1920, 2880}[config%4]
	case config < 16: // Hybrid: 10, 20 ms
		frame = [...]int{480, 960}[config%2]
	default: // CELT: 2.5, 5, 10, 20 ms
		frame = [...]int{120, 240, 480, 960}[config%4]
	}

	var count int
	switch toc & 0x03 {
	case 0:
		count = 1
	case 1, 2:
		count = 2
	default:
		if len(packet) < 2 {
			return 0, errors.New("truncated opus packet")
		}
		count = int(packet[1] & 0x3F)
	}
	return frame * count, nil
}

type oggReader struct {
	ogg    *oggreader.OggReader
	params CodecParameters
	pos    int64
}

func newOggReader(s RandomAccessStream) (ContainerReader, error) {
	ogg, header, err := oggreader.NewWith(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	chans := int(header.Channels)
	if chans <= 0 {
		chans = 2
	}
	format := NewAudioFormat(SampleS16LE, 48000, chans)
	return &oggReader{
		ogg: ogg,
		params: CodecParameters{
			Codec:    CodecOpus,
			Type:     MediaTypeAudio,
			Timebase: opusTimebase,
			Format:   format,
		},
	}, nil
}

func (r *oggReader) Streams() []CodecParameters { return []CodecParameters{r.params} }

func (r *oggReader) ReadPacket() (*Packet, error) {
	for {
		payload, _, err := r.ogg.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("read ogg page: %w", err)
		}
		if len(payload) == 0 || bytes.HasPrefix(payload, []byte("OpusTags")) {
			continue
		}

		samples, err := OpusPacketSamples(payload)
		if err != nil {
			return nil, err
		}
		pkt := NewPacket(MediaTypeAudio, len(payload))
		copy(pkt.Data, payload)
		pkt.Timebase = opusTimebase
		pkt.Pts = r.pos
		pkt.Dts = r.pos
		pkt.Duration = int64(samples)
		pkt.KeyFrame = true
		r.pos += int64(samples)
		return pkt, nil
	}
}

func (r *oggReader) Close() error { return nil }

// oggWriter stores a single Opus stream. Packets are handed to pion's
// oggwriter as RTP packets whose timestamp is the packet's 48 kHz pts.
type oggWriter struct {
	w      io.Writer
	stream *OutputStream
	ogg    *oggwriter.OggWriter
	seq    rtp.Sequencer
	ssrc   uint32
}

func newOggWriter(w io.WriteSeeker) (ContainerWriter, error) {
	return &oggWriter{w: w, seq: rtp.NewRandomSequencer(), ssrc: rand.Uint32()}, nil
}

func (w *oggWriter) AddStream(p CodecParameters) (OutputStream, error) {
	if w.stream != nil {
		return OutputStream{}, fmt.Errorf("%w: ogg holds a single opus stream", ErrNotSupported)
	}
	if p.Codec != CodecOpus {
		return OutputStream{}, fmt.Errorf("%w: ogg cannot store %s", ErrCodecNotSupported, p.Codec)
	}
	s := OutputStream{Index: 0, Params: p, Timebase: opusTimebase}
	w.stream = &s
	return s, nil
}

func (w *oggWriter) WriteHeader() error {
	if w.stream == nil {
		return fmt.Errorf("ogg: no stream added")
	}
	format := w.stream.Params.Format
	// oggwriter closes streams that implement io.Closer; the output
	// belongs to the muxer or the caller.
	ogg, err := oggwriter.NewWith(struct{ io.Writer }{w.w}, uint32(format.SampleRate), uint16(format.Channels))
	if err != nil {
		return fmt.Errorf("write ogg header: %w", err)
	}
	w.ogg = ogg
	return nil
}

func (w *oggWriter) WritePacket(pkt *Packet) error {
	if w.ogg == nil {
		return fmt.Errorf("ogg: header not written")
	}
	return w.ogg.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    CodecOpus.DefaultPayloadType(),
			SequenceNumber: w.seq.NextSequenceNumber(),
			Timestamp:      uint32(pkt.Pts),
			SSRC:           w.ssrc,
		},
		Payload: pkt.Data,
	})
}

func (w *oggWriter) WriteTrailer() error {
	if w.ogg == nil {
		return nil
	}
	err := w.ogg.Close()
	w.ogg = nil
	return err
}

func init() {
	RegisterContainer(ContainerFormat{
		Name:       "ogg",
		Extensions: []string{".ogg", ".opus", ".oga"},
		Probe: func(h []byte) bool {
			return hasMagic(h, 0, "OggS")
		},
		NewReader: newOggReader,
		NewWriter: newOggWriter,
	})
}
