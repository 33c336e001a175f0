package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// MaxConsecutiveFailures is the number of packets in a row a stream may
// fail to decode or encode before it is declared corrupt.
const MaxConsecutiveFailures = 3

// failureRun counts consecutive per-packet failures of one stream.
type failureRun struct {
	n    int
	last error
}

// fail records err and reports whether the stream is now corrupt.
func (r *failureRun) fail(err error) bool {
	r.n++
	r.last = err
	return r.n >= MaxConsecutiveFailures
}

func (r *failureRun) reset() { r.n, r.last = 0, nil }

// DemuxerConfig configures a Demuxer.
type DemuxerConfig struct {
	// Provider selects decoder implementations; ProviderAuto lets the
	// registry choose.
	Provider Provider
	// DisableVideo leaves video streams unselected, for audio-only readers.
	DisableVideo bool
	Logger       *slog.Logger
}

type demuxStream struct {
	index    int
	params   CodecParameters
	dec      Decoder
	failures failureRun
	drained  bool
}

// Demuxer reads a container, selects its first audio and first video
// stream and decodes their packets into frames.
type Demuxer struct {
	config DemuxerConfig
	log    *slog.Logger
	format ContainerFormat
	reader ContainerReader

	// Drain order at end of input: video first, then audio.
	video, audio *demuxStream

	eof bool

	progressMu sync.Mutex
	progress   map[int]int64 // Stream index -> sum of packet durations
}

// OpenContainer probes the first ProbeSize bytes of s, rewinds it and
// opens a reader for the detected container. No decoders are created.
func OpenContainer(s RandomAccessStream) (ContainerFormat, ContainerReader, error) {
	header := make([]byte, ProbeSize)
	n, err := io.ReadFull(s, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return ContainerFormat{}, nil, fmt.Errorf("read probe header: %w", err)
	}
	if err := s.Reset(); err != nil {
		return ContainerFormat{}, nil, fmt.Errorf("rewind input: %w", err)
	}
	format, err := ProbeContainer(header[:n])
	if err != nil {
		return ContainerFormat{}, nil, err
	}
	reader, err := format.NewReader(s)
	if err != nil {
		return ContainerFormat{}, nil, fmt.Errorf("open %s: %w", format.Name, err)
	}
	return format, reader, nil
}

// OpenDemuxer probes s, opens the matching container and one decoder per
// selected stream. The caller keeps ownership of s.
func OpenDemuxer(s RandomAccessStream, config DemuxerConfig) (*Demuxer, error) {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	format, reader, err := OpenContainer(s)
	if err != nil {
		return nil, err
	}

	d := &Demuxer{
		config:   config,
		log:      log.With("container", format.Name),
		format:   format,
		reader:   reader,
		progress: make(map[int]int64),
	}
	for i, p := range reader.Streams() {
		switch {
		case p.Type == MediaTypeAudio && d.audio == nil:
			d.audio = &demuxStream{index: i, params: p}
		case p.Type == MediaTypeVideo && d.video == nil && !config.DisableVideo:
			d.video = &demuxStream{index: i, params: p}
		}
	}
	if d.audio == nil && d.video == nil {
		reader.Close()
		return nil, fmt.Errorf("%w: %s input has no audio or video stream", ErrNotSupported, format.Name)
	}

	for _, st := range d.selected() {
		dc := DecoderConfigFor(st.params)
		dc.Provider = config.Provider
		dc.Logger = log
		dec, err := NewDecoder(dc)
		if err != nil {
			d.Close()
			return nil, &CodecOpenError{Codec: st.params.Codec, Err: err}
		}
		st.dec = dec
		d.progress[st.index] = 0
		d.log.Debug("stream selected", "index", st.index, "params", st.params.String())
	}
	return d, nil
}

func (d *Demuxer) selected() []*demuxStream {
	var out []*demuxStream
	if d.video != nil {
		out = append(out, d.video)
	}
	if d.audio != nil {
		out = append(out, d.audio)
	}
	return out
}

// Format returns the detected container name.
func (d *Demuxer) Format() string { return d.format.Name }

// Streams lists every stream of the container.
func (d *Demuxer) Streams() []CodecParameters { return d.reader.Streams() }

// AudioStream returns the selected audio stream.
func (d *Demuxer) AudioStream() (CodecParameters, bool) {
	if d.audio == nil {
		return CodecParameters{}, false
	}
	return d.audio.params, true
}

// VideoStream returns the selected video stream.
func (d *Demuxer) VideoStream() (CodecParameters, bool) {
	if d.video == nil {
		return CodecParameters{}, false
	}
	return d.video.params, true
}

// ReadFrame returns the next decoded frame of a selected stream. Packets
// that fail to decode are logged and skipped; after MaxConsecutiveFailures
// in a row the stream is ended and a *StreamCorruptError is returned once,
// while other streams keep going. At end of input the decoders are drained,
// video first, and io.EOF is returned.
func (d *Demuxer) ReadFrame() (*Frame, error) {
	for !d.eof {
		pkt, err := d.reader.ReadPacket()
		if errors.Is(err, io.EOF) {
			d.eof = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read packet: %w", err)
		}

		st := d.streamFor(pkt.StreamIndex)
		if st == nil || st.drained {
			pkt.Release()
			continue
		}
		d.progressMu.Lock()
		d.progress[st.index] += pkt.Duration
		d.progressMu.Unlock()

		f, err := st.dec.Decode(pkt)
		pkt.Release()
		if err != nil {
			if cerr := d.fail(st, err); cerr != nil {
				return nil, cerr
			}
			continue
		}
		st.failures.reset()
		if f != nil {
			return f, nil
		}
	}

	for _, st := range d.selected() {
		for !st.drained {
			f, err := st.dec.Decode(nil)
			if errors.Is(err, ErrEndOfStream) {
				st.drained = true
				break
			}
			if err != nil {
				d.log.Warn("drain decoder", "stream", st.index, "error", err)
				st.drained = true
				break
			}
			if f != nil {
				return f, nil
			}
		}
	}
	return nil, io.EOF
}

func (d *Demuxer) streamFor(index int) *demuxStream {
	for _, st := range d.selected() {
		if st.index == index {
			return st
		}
	}
	return nil
}

func (d *Demuxer) fail(st *demuxStream, err error) error {
	d.log.Warn("skipping packet", "stream", st.index, "type", st.params.Type.String(), "error", err)
	if !st.failures.fail(err) {
		return nil
	}
	st.drained = true
	return &StreamCorruptError{
		StreamIndex: st.index,
		Type:        st.params.Type,
		Failures:    st.failures.n,
		Err:         st.failures.last,
	}
}

// StreamProgress returns how much of stream i has been read, as the sum of
// packet durations over the stream duration. It is 0 for streams that are
// not selected or have no known duration.
func (d *Demuxer) StreamProgress(i int) float64 {
	st := d.streamFor(i)
	if st == nil || st.params.Duration <= 0 {
		return 0
	}
	d.progressMu.Lock()
	pos := d.progress[i]
	d.progressMu.Unlock()
	return min(float64(pos)/float64(st.params.Duration), 1)
}

// TotalProgress averages StreamProgress over the selected streams.
func (d *Demuxer) TotalProgress() float64 {
	sel := d.selected()
	var total float64
	for _, st := range sel {
		total += d.StreamProgress(st.index)
	}
	return total / float64(len(sel))
}

// Close releases decoders and the container reader.
func (d *Demuxer) Close() error {
	var result *multierror.Error
	for _, st := range d.selected() {
		if st.dec == nil {
			continue
		}
		if err := st.dec.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s decoder: %w", st.params.Codec, err))
		}
		st.dec = nil
	}
	if err := d.reader.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close %s reader: %w", d.format.Name, err))
	}
	return result.ErrorOrNil()
}
