package media

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
)

// rtpdump files (the rtptools format) carry RTP packets of several streams.
// The first non-RTP record holds an SDP session description naming each
// stream's codec, geometry and SSRC. Packets larger than the MTU are split
// into fragments; the marker bit flags the last fragment of a packet.
const (
	rtpdumpMagic     = "#!rtpplay1.0"
	rtpdumpFileHdr   = 16
	rtpdumpRecordHdr = 8
	rtpdumpMTU       = 1200
)

// rtpClockTimebase returns the RTP timestamp timebase of a stream.
func rtpClockTimebase(p CodecParameters) Timebase {
	if rate := p.Codec.ClockRate(); rate > 0 {
		return Timebase{Num: 1, Den: int(rate)}
	}
	return p.Format.Timebase()
}

// rtpEncodingName is the rtpmap encoding name of a codec.
func rtpEncodingName(c CodecID) string {
	_, sub, _ := strings.Cut(c.MimeType(), "/")
	return sub
}

func codecFromEncodingName(name string) CodecID {
	for c := CodecPCMS16LE; c < codecCount; c++ {
		if strings.EqualFold(rtpEncodingName(c), name) {
			return c
		}
	}
	return CodecUnknown
}

// decodedEncoding is the sample encoding a decoder for c produces.
func decodedEncoding(c CodecID) SampleEncoding {
	if c == CodecPCMF32LE {
		return SampleF32LE
	}
	return SampleS16LE
}

type rtpdumpStream struct {
	params  CodecParameters
	ssrc    uint32
	pt      uint8
	seq     rtp.Sequencer
	tsBase  uint32
	hasBase bool // tsBase came from the session description
	started bool
	pending []byte // Fragments of the packet being reassembled
}

// --- Writer ---

type rtpdumpWriter struct {
	w       *bufio.Writer
	streams []*rtpdumpStream
	header  bool
	buf     []byte
}

func newRtpdumpWriter(w io.WriteSeeker) (ContainerWriter, error) {
	return &rtpdumpWriter{w: bufio.NewWriter(w)}, nil
}

func (w *rtpdumpWriter) AddStream(p CodecParameters) (OutputStream, error) {
	if w.header {
		return OutputStream{}, errors.New("rtpdump: stream added after header")
	}
	if p.Codec.MediaType() == MediaTypeUnknown {
		return OutputStream{}, fmt.Errorf("%w: rtpdump cannot store %s", ErrCodecNotSupported, p.Codec)
	}
	s := &rtpdumpStream{
		params: p,
		ssrc:   rand.Uint32(),
		pt:     p.Codec.DefaultPayloadType(),
		seq:    rtp.NewRandomSequencer(),
		tsBase: rand.Uint32(),
	}
	s.params.Timebase = rtpClockTimebase(p)
	w.streams = append(w.streams, s)
	return OutputStream{Index: len(w.streams) - 1, Params: s.params, Timebase: s.params.Timebase}, nil
}

func (w *rtpdumpWriter) WriteHeader() error {
	if len(w.streams) == 0 {
		return errors.New("rtpdump: no stream added")
	}
	if _, err := fmt.Fprintf(w.w, "%s 0.0.0.0/0\n", rtpdumpMagic); err != nil {
		return err
	}
	// Start time, source address and port are left zero.
	if _, err := w.w.Write(make([]byte, rtpdumpFileHdr)); err != nil {
		return err
	}
	desc, err := w.sessionDescription().Marshal()
	if err != nil {
		return fmt.Errorf("marshal session description: %w", err)
	}
	if err := w.writeRecord(desc, 0, 0); err != nil {
		return err
	}
	w.header = true
	return nil
}

func (w *rtpdumpWriter) sessionDescription() *sdp.SessionDescription {
	sd := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      rand.Uint64() >> 1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName:      "lectmedia",
		TimeDescriptions: []sdp.TimeDescription{{}},
	}
	for i, s := range w.streams {
		p := s.params
		clock := uint32(p.Timebase.Den)
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:  p.Type.String(),
				Port:   sdp.RangedPort{Value: 9},
				Protos: []string{"RTP", "AVP"},
			},
		}
		var chans uint16
		if p.Type == MediaTypeAudio {
			chans = uint16(p.Format.Channels)
		}
		md = md.WithCodec(s.pt, rtpEncodingName(p.Codec), clock, chans, "")
		md = md.WithValueAttribute("mid", strconv.Itoa(i))
		md = md.WithValueAttribute("ssrc", fmt.Sprintf("%d cname:lectmedia", s.ssrc))
		md = md.WithValueAttribute("x-ts-base", strconv.FormatUint(uint64(s.tsBase), 10))
		if p.Type == MediaTypeAudio {
			md = md.WithValueAttribute("x-rate", strconv.Itoa(p.Format.SampleRate))
		}
		if p.Type == MediaTypeVideo {
			md = md.WithValueAttribute("framerate", strconv.Itoa(p.FPS))
			md = md.WithValueAttribute("x-dimensions", fmt.Sprintf("%d,%d", p.Picture.Width, p.Picture.Height))
		}
		sd = sd.WithMedia(md)
	}
	return sd
}

func (w *rtpdumpWriter) WritePacket(pkt *Packet) error {
	if !w.header {
		return errors.New("rtpdump: header not written")
	}
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(w.streams) {
		return fmt.Errorf("rtpdump: no stream %d", pkt.StreamIndex)
	}
	s := w.streams[pkt.StreamIndex]
	ts := s.tsBase + uint32(pkt.Pts)
	offsetMs := uint32(max(Rescale(pkt.Pts, s.params.Timebase, TimebaseMillis), 0))

	data := pkt.Data
	for first := true; first || len(data) > 0; first = false {
		n := min(len(data), rtpdumpMTU)
		frag := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         n == len(data),
				PayloadType:    s.pt,
				SequenceNumber: s.seq.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           s.ssrc,
			},
			Payload: data[:n],
		}
		raw, err := frag.Marshal()
		if err != nil {
			return fmt.Errorf("marshal rtp: %w", err)
		}
		if err := w.writeRecord(raw, len(raw), offsetMs); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (w *rtpdumpWriter) writeRecord(data []byte, plen int, offsetMs uint32) error {
	if len(data)+rtpdumpRecordHdr > 0xFFFF {
		return fmt.Errorf("rtpdump: record of %d bytes too large", len(data))
	}
	var hdr [rtpdumpRecordHdr]byte
	binary.BigEndian.PutUint16(hdr[0:], uint16(len(data)+rtpdumpRecordHdr))
	binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
	binary.BigEndian.PutUint32(hdr[4:], offsetMs)
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.w.Write(data)
	return err
}

func (w *rtpdumpWriter) WriteTrailer() error {
	return w.w.Flush()
}

// --- Reader ---

type rtpdumpReader struct {
	s       RandomAccessStream
	r       *bufio.Reader
	dataOff int64
	streams []*rtpdumpStream
	params  []CodecParameters
	rec     []byte
}

func newRtpdumpReader(s RandomAccessStream) (ContainerReader, error) {
	r := &rtpdumpReader{s: s, r: bufio.NewReader(s)}

	line, err := r.r.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, rtpdumpMagic) {
		return nil, fmt.Errorf("%w: missing rtpplay header", ErrUnknownFormat)
	}
	if _, err := r.r.Discard(rtpdumpFileHdr); err != nil {
		return nil, fmt.Errorf("%w: truncated rtpdump header", ErrUnknownFormat)
	}
	r.dataOff = int64(len(line) + rtpdumpFileHdr)

	// The session description, when present, is the first record.
	rec, plen, _, err := r.readRecord()
	if err == nil && plen == 0 && bytes.HasPrefix(rec, []byte("v=")) {
		if err := r.parseSession(rec); err != nil {
			return nil, err
		}
		r.dataOff += int64(len(rec) + rtpdumpRecordHdr)
	}
	if err := r.rewind(); err != nil {
		return nil, err
	}
	if err := r.scanDurations(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rtpdumpReader) parseSession(desc []byte) error {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(desc); err != nil {
		return fmt.Errorf("parse session description: %w", err)
	}
	for _, md := range sd.MediaDescriptions {
		s := &rtpdumpStream{}
		for _, a := range md.Attributes {
			switch a.Key {
			case "rtpmap":
				if err := s.parseRtpmap(a.Value); err != nil {
					return err
				}
			case "ssrc":
				id, _, _ := strings.Cut(a.Value, " ")
				v, err := strconv.ParseUint(id, 10, 32)
				if err != nil {
					return fmt.Errorf("bad ssrc attribute %q", a.Value)
				}
				s.ssrc = uint32(v)
			case "x-ts-base":
				v, err := strconv.ParseUint(a.Value, 10, 32)
				if err != nil {
					return fmt.Errorf("bad x-ts-base attribute %q", a.Value)
				}
				s.tsBase, s.hasBase = uint32(v), true
			case "x-rate":
				s.params.Format.SampleRate, _ = strconv.Atoi(a.Value)
			case "framerate":
				s.params.FPS, _ = strconv.Atoi(a.Value)
			case "x-dimensions":
				w, h, _ := strings.Cut(a.Value, ",")
				s.params.Picture.Width, _ = strconv.Atoi(w)
				s.params.Picture.Height, _ = strconv.Atoi(h)
			}
		}
		if s.params.Codec == CodecUnknown {
			continue
		}
		r.addStream(s)
	}
	return nil
}

func (s *rtpdumpStream) parseRtpmap(v string) error {
	pt, enc, ok := strings.Cut(v, " ")
	if !ok {
		return fmt.Errorf("bad rtpmap %q", v)
	}
	n, err := strconv.ParseUint(pt, 10, 8)
	if err != nil {
		return fmt.Errorf("bad rtpmap payload type %q", v)
	}
	s.pt = uint8(n)
	parts := strings.Split(enc, "/")
	s.params.Codec = codecFromEncodingName(parts[0])
	if s.params.Codec == CodecUnknown {
		s.params.Codec = CodecFromPayloadType(s.pt)
	}
	if len(parts) > 1 {
		clock, _ := strconv.Atoi(parts[1])
		s.params.Timebase = Timebase{Num: 1, Den: clock}
	}
	if len(parts) > 2 {
		s.params.Format.Channels, _ = strconv.Atoi(parts[2])
	}
	return nil
}

// addStream completes parameters the description left out.
func (r *rtpdumpReader) addStream(s *rtpdumpStream) {
	p := &s.params
	p.Type = p.Codec.MediaType()
	switch p.Type {
	case MediaTypeAudio:
		p.Format.Encoding = decodedEncoding(p.Codec)
		if p.Format.Channels <= 0 {
			p.Format.Channels = 1
			if p.Codec == CodecOpus {
				p.Format.Channels = 2
			}
		}
		if p.Format.SampleRate <= 0 {
			p.Format.SampleRate = int(p.Codec.ClockRate())
		}
	case MediaTypeVideo:
		p.Picture.Pixel = PixelFormatI420
		if p.FPS <= 0 {
			p.FPS = 30
		}
	}
	if !p.Timebase.Valid() {
		p.Timebase = rtpClockTimebase(*p)
	}
	r.streams = append(r.streams, s)
	r.params = append(r.params, *p)
}

// streamFor maps an RTP packet to its stream, creating one from the static
// payload type table when no description named it.
func (r *rtpdumpReader) streamFor(h *rtp.Header) (int, *rtpdumpStream) {
	for i, s := range r.streams {
		if s.ssrc == h.SSRC && s.ssrc != 0 {
			return i, s
		}
	}
	for i, s := range r.streams {
		if s.ssrc == 0 && s.pt == h.PayloadType {
			s.ssrc = h.SSRC
			return i, s
		}
	}
	codec := CodecFromPayloadType(h.PayloadType)
	if codec == CodecUnknown || codec == CodecRawVideo {
		return -1, nil
	}
	s := &rtpdumpStream{ssrc: h.SSRC, pt: h.PayloadType}
	s.params.Codec = codec
	r.addStream(s)
	return len(r.streams) - 1, s
}

func (r *rtpdumpReader) rewind() error {
	if _, err := r.s.Seek(r.dataOff, io.SeekStart); err != nil {
		return fmt.Errorf("seek rtpdump data: %w", err)
	}
	r.r.Reset(r.s)
	for _, s := range r.streams {
		s.started = false
		s.pending = s.pending[:0]
	}
	return nil
}

// scanDurations reads every packet once to learn each stream's duration,
// then rewinds.
func (r *rtpdumpReader) scanDurations() error {
	ends := make(map[int]int64)
	for {
		pkt, err := r.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if end := pkt.Pts + pkt.Duration; end > ends[pkt.StreamIndex] {
			ends[pkt.StreamIndex] = end
		}
		pkt.Release()
	}
	for i := range r.params {
		r.params[i].Duration = ends[i]
		r.streams[i].params.Duration = ends[i]
	}
	return r.rewind()
}

// readRecord returns the next record's payload, its packet length (0 for
// non-RTP records) and its offset from the start of the recording in ms.
func (r *rtpdumpReader) readRecord() ([]byte, int, uint32, error) {
	var hdr [rtpdumpRecordHdr]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, 0, io.EOF
		}
		return nil, 0, 0, err
	}
	length := int(binary.BigEndian.Uint16(hdr[0:]))
	plen := int(binary.BigEndian.Uint16(hdr[2:]))
	offsetMs := binary.BigEndian.Uint32(hdr[4:])
	if length < rtpdumpRecordHdr {
		return nil, 0, 0, fmt.Errorf("%w: rtpdump record length %d", ErrStreamCorrupt, length)
	}
	n := length - rtpdumpRecordHdr
	if cap(r.rec) < n {
		r.rec = make([]byte, n)
	}
	r.rec = r.rec[:n]
	if _, err := io.ReadFull(r.r, r.rec); err != nil {
		return nil, 0, 0, io.EOF
	}
	return r.rec, plen, offsetMs, nil
}

func (r *rtpdumpReader) Streams() []CodecParameters { return r.params }

func (r *rtpdumpReader) ReadPacket() (*Packet, error) {
	for {
		rec, plen, offsetMs, err := r.readRecord()
		if err != nil {
			return nil, err
		}
		if plen == 0 {
			continue
		}

		var frag rtp.Packet
		if err := frag.Unmarshal(rec); err != nil {
			return nil, fmt.Errorf("unmarshal rtp: %w", err)
		}
		idx, s := r.streamFor(&frag.Header)
		if s == nil {
			continue
		}
		// Files without an x-ts-base attribute place a stream's first
		// packet at its record offset.
		if !s.started && !s.hasBase {
			start := Rescale(int64(offsetMs), TimebaseMillis, s.params.Timebase)
			s.tsBase = frag.Timestamp - uint32(start)
		}
		s.started = true
		s.pending = append(s.pending, frag.Payload...)
		if !frag.Marker {
			continue
		}

		pkt := NewPacket(s.params.Type, len(s.pending))
		copy(pkt.Data, s.pending)
		s.pending = s.pending[:0]
		pkt.StreamIndex = idx
		pkt.Timebase = s.params.Timebase
		pkt.Pts = int64(frag.Timestamp - s.tsBase)
		pkt.Dts = pkt.Pts
		pkt.Duration = packetDuration(s.params, pkt.Data)
		pkt.KeyFrame = true
		return pkt, nil
	}
}

// packetDuration derives a packet's duration in the stream timebase from
// its payload.
func packetDuration(p CodecParameters, data []byte) int64 {
	switch p.Codec {
	case CodecOpus:
		n, err := OpusPacketSamples(data)
		if err != nil {
			return 0
		}
		return Rescale(int64(n), opusTimebase, p.Timebase)
	case CodecPCMS16LE, CodecPCMF32LE, CodecPCMMulaw, CodecPCMAlaw:
		bytesPerFrame := p.Format.Channels
		switch p.Codec {
		case CodecPCMS16LE:
			bytesPerFrame *= 2
		case CodecPCMF32LE:
			bytesPerFrame *= 4
		}
		if bytesPerFrame <= 0 || p.Format.SampleRate <= 0 {
			return 0
		}
		samples := int64(len(data) / bytesPerFrame)
		return Rescale(samples, p.Format.Timebase(), p.Timebase)
	default:
		if p.FPS <= 0 {
			return 0
		}
		return Rescale(1, Timebase{Num: 1, Den: p.FPS}, p.Timebase)
	}
}

func (r *rtpdumpReader) Close() error { return nil }

func init() {
	RegisterContainer(ContainerFormat{
		Name:       "rtpdump",
		Extensions: []string{".rtpdump", ".rtp"},
		Probe: func(h []byte) bool {
			return hasMagic(h, 0, rtpdumpMagic)
		},
		NewReader: newRtpdumpReader,
		NewWriter: newRtpdumpWriter,
	})
}
