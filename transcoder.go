package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// SessionState is the state of a transcode session.
type SessionState int32

const (
	SessionOpened SessionState = iota
	SessionRunning
	SessionFlushing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionOpened:
		return "opened"
	case SessionRunning:
		return "running"
	case SessionFlushing:
		return "flushing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AudioTarget describes the audio stream of a transcode output. Zero
// fields of Format inherit from the input stream.
type AudioTarget struct {
	Codec      CodecID
	Provider   Provider
	Format     AudioFormat
	FrameSize  int
	BitrateBps int
}

// VideoTarget describes the video stream of a transcode output. A zero
// Picture size inherits the input geometry.
type VideoTarget struct {
	Codec    CodecID
	Provider Provider
	Picture  PictureFormat
	FPS      int
	GOPSize  int
	Quality  int
	Scale    ScaleMode
}

// TranscoderConfig configures a transcode session.
type TranscoderConfig struct {
	// Input is read by the demuxer; the caller keeps ownership.
	Input RandomAccessStream
	// DecoderProvider selects decoder implementations.
	DecoderProvider Provider

	// OutputPath is created by the session. Alternatively Output with
	// Container writes into a caller-owned stream.
	OutputPath string
	Output     io.WriteSeeker
	Container  string

	// Nil targets drop the corresponding input stream.
	Audio *AudioTarget
	Video *VideoTarget

	// Clock receives the position of the last transcoded frame. A new clock
	// is created when nil.
	Clock *SyncClock

	// OnError is called for every non-fatal error: skipped packets and
	// streams ended as corrupt.
	OnError func(error)

	Logger *slog.Logger
}

// TranscodeStats provides session metrics.
type TranscodeStats struct {
	AudioFramesIn  uint64
	VideoFramesIn  uint64
	AudioFramesOut uint64
	VideoFramesOut uint64
	PacketErrors   uint64
	CorruptStreams uint64
	Muxer          MuxerStats
	Elapsed        time.Duration
}

type outputLane struct {
	typ      MediaType
	failures failureRun
	ended    bool
}

// Transcoder runs demux, decode, resample, encode and mux for one input
// and one output on its own goroutine.
type Transcoder struct {
	id     string
	config TranscoderConfig
	log    *slog.Logger
	clock  *SyncClock

	demux *Demuxer
	mux   *Muxer

	audioOut *AudioTarget
	videoOut *VideoTarget
	audioRes *AudioResampler
	videoRes *PictureResampler
	lanes    map[MediaType]*outputLane

	state   atomic.Int32
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	err     error
	started time.Time

	stats   TranscodeStats
	statsMu sync.Mutex
	mu      sync.Mutex
}

// NewTranscoder opens the input, creates every codec and the output. A
// decoder or encoder that cannot be opened yields a *CodecOpenError and no
// output is created.
func NewTranscoder(config TranscoderConfig) (*Transcoder, error) {
	if config.Input == nil {
		return nil, errors.New("transcoder: no input")
	}
	if config.OutputPath == "" && config.Output == nil {
		return nil, errors.New("transcoder: no output")
	}
	id := uuid.NewString()
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session", id)

	t := &Transcoder{
		id:     id,
		config: config,
		log:    log,
		clock:  config.Clock,
		lanes:  make(map[MediaType]*outputLane),
	}
	if t.clock == nil {
		t.clock = NewSyncClock()
	}

	demux, err := OpenDemuxer(config.Input, DemuxerConfig{Provider: config.DecoderProvider, Logger: log})
	if err != nil {
		return nil, err
	}
	t.demux = demux

	audioEnc, audioParams, err := t.openAudioEncoder()
	if err != nil {
		demux.Close()
		return nil, err
	}
	videoEnc, videoParams, err := t.openVideoEncoder()
	if err != nil {
		closeAll(audioEnc)
		demux.Close()
		return nil, err
	}
	if audioEnc == nil && videoEnc == nil {
		demux.Close()
		return nil, fmt.Errorf("%w: no output streams selected", ErrNotSupported)
	}

	if err := t.openMuxer(audioEnc, audioParams, videoEnc, videoParams); err != nil {
		demux.Close()
		return nil, err
	}

	t.state.Store(int32(SessionOpened))
	t.log.Info("session opened", "container", demux.Format(), "output", t.mux.Format())
	return t, nil
}

func closeAll(encs ...Encoder) {
	for _, e := range encs {
		if e != nil {
			e.Close()
		}
	}
}

func (t *Transcoder) openAudioEncoder() (Encoder, CodecParameters, error) {
	in, ok := t.demux.AudioStream()
	target := t.config.Audio
	if !ok || target == nil {
		return nil, CodecParameters{}, nil
	}

	format := target.Format
	if format.Encoding == SampleEncodingUnknown {
		format.Encoding = decodedEncoding(target.Codec)
	}
	if format.SampleRate <= 0 {
		format.SampleRate = in.Format.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = in.Format.Channels
	}

	enc, err := NewEncoder(EncoderConfig{
		Codec:      target.Codec,
		Provider:   target.Provider,
		Format:     format,
		FrameSize:  target.FrameSize,
		BitrateBps: target.BitrateBps,
		Logger:     t.log,
	})
	if err != nil {
		return nil, CodecParameters{}, &CodecOpenError{Codec: target.Codec, Err: err}
	}
	t.audioOut = target
	t.lanes[MediaTypeAudio] = &outputLane{typ: MediaTypeAudio}
	return enc, CodecParameters{Format: enc.Config().Format, BitrateBps: target.BitrateBps}, nil
}

func (t *Transcoder) openVideoEncoder() (Encoder, CodecParameters, error) {
	in, ok := t.demux.VideoStream()
	target := t.config.Video
	if !ok || target == nil {
		return nil, CodecParameters{}, nil
	}

	pic := target.Picture
	if pic.Width <= 0 || pic.Height <= 0 {
		pic.Width, pic.Height = in.Picture.Width, in.Picture.Height
	}
	pic.Pixel = PixelFormatI420
	fps := target.FPS
	if fps <= 0 {
		fps = in.FPS
	}
	if fps <= 0 {
		fps = 30
	}

	enc, err := NewEncoder(EncoderConfig{
		Codec:    target.Codec,
		Provider: target.Provider,
		Picture:  pic,
		FPS:      fps,
		GOPSize:  target.GOPSize,
		Quality:  target.Quality,
		Logger:   t.log,
	})
	if err != nil {
		return nil, CodecParameters{}, &CodecOpenError{Codec: target.Codec, Err: err}
	}
	t.videoOut = target
	t.lanes[MediaTypeVideo] = &outputLane{typ: MediaTypeVideo}
	return enc, CodecParameters{Picture: enc.Config().Picture, FPS: fps}, nil
}

func (t *Transcoder) openMuxer(audioEnc Encoder, audioParams CodecParameters, videoEnc Encoder, videoParams CodecParameters) error {
	mc := MuxerConfig{Format: t.config.Container, Logger: t.log}
	var mux *Muxer
	var err error
	if t.config.OutputPath != "" {
		mux, err = CreateMuxer(t.config.OutputPath, mc)
	} else {
		var format ContainerFormat
		format, err = ContainerByName(t.config.Container)
		if err == nil {
			mux, err = NewMuxer(t.config.Output, format, mc)
		}
	}
	if err != nil {
		closeAll(audioEnc, videoEnc)
		return err
	}

	fail := func(err error) error {
		mux.Close()
		if t.config.OutputPath != "" {
			os.Remove(t.config.OutputPath)
		}
		return err
	}
	// The muxer owns each encoder once added.
	if videoEnc != nil {
		if _, err := mux.AddStream(videoEnc, videoParams); err != nil {
			closeAll(audioEnc, videoEnc)
			return fail(err)
		}
	}
	if audioEnc != nil {
		if _, err := mux.AddStream(audioEnc, audioParams); err != nil {
			closeAll(audioEnc)
			return fail(err)
		}
	}
	t.mux = mux
	return nil
}

// ID returns the session identifier.
func (t *Transcoder) ID() string { return t.id }

// State returns the session state.
func (t *Transcoder) State() SessionState { return SessionState(t.state.Load()) }

// Clock returns the session clock.
func (t *Transcoder) Clock() *SyncClock { return t.clock }

// Progress returns the fraction of the input read so far.
func (t *Transcoder) Progress() float64 { return t.demux.TotalProgress() }

// Stats returns session metrics.
func (t *Transcoder) Stats() TranscodeStats {
	t.statsMu.Lock()
	s := t.stats
	if !t.started.IsZero() {
		s.Elapsed = time.Since(t.started)
	}
	t.statsMu.Unlock()
	s.Muxer = t.mux.Stats()
	return s
}

// Start runs the session on its own goroutine.
func (t *Transcoder) Start(ctx context.Context) error {
	if t.State() != SessionOpened || !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("transcoder: cannot start in state %s", t.State())
	}
	t.mu.Lock()
	ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.running.Store(false)
		err := t.run(ctx)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}()
	return nil
}

// Wait blocks until the session goroutine has exited and returns its error.
func (t *Transcoder) Wait() error {
	t.wg.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stop asks the session to finish after the in-flight frame. Buffered
// output is still flushed. Safe to call from any goroutine.
func (t *Transcoder) Stop() error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := t.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Run executes the session on the calling goroutine.
func (t *Transcoder) Run(ctx context.Context) error {
	if t.State() != SessionOpened || !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("transcoder: cannot run in state %s", t.State())
	}
	defer t.running.Store(false)
	return t.run(ctx)
}

func (t *Transcoder) run(ctx context.Context) (err error) {
	t.state.Store(int32(SessionRunning))
	t.statsMu.Lock()
	t.started = time.Now()
	t.statsMu.Unlock()

	defer func() {
		if cerr := t.close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
		t.log.Info("session closed", "progress", t.Progress(), "error", err)
	}()

	if err := t.mux.WriteHeader(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			t.log.Info("session cancelled")
			return err
		}
		f, err := t.demux.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var corrupt *StreamCorruptError
		if errors.As(err, &corrupt) {
			t.corrupt(corrupt)
			continue
		}
		if err != nil {
			return err
		}
		if err := t.process(f); err != nil {
			return err
		}
	}
}

// close flushes the resampler and the muxer, then releases the codecs.
func (t *Transcoder) close() error {
	t.state.Store(int32(SessionFlushing))
	var result *multierror.Error

	if t.audioRes != nil && !t.lanes[MediaTypeAudio].ended {
		for _, f := range t.audioRes.Flush() {
			if err := t.write(f); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := t.mux.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := t.demux.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	t.state.Store(int32(SessionClosed))
	return result.ErrorOrNil()
}

// process resamples and encodes one decoded frame. Only output failures
// are returned; per-frame encoder errors go through the lane counters.
func (t *Transcoder) process(f *Frame) error {
	lane := t.lanes[f.Type]
	if lane == nil || lane.ended {
		f.Release()
		return nil
	}
	t.count(f.Type, true)
	t.clock.SetPts(f.Pts, f.Timebase)

	switch f.Type {
	case MediaTypeAudio:
		if t.audioRes == nil {
			enc := t.mux.audio.enc.Config()
			res, err := NewAudioResampler(f.Format, enc.Format, enc.FrameSize)
			if err != nil {
				f.Release()
				return fmt.Errorf("audio resampler: %w", err)
			}
			t.audioRes = res
		}
		frames, err := t.audioRes.Resample(f)
		if err != nil {
			f.Release()
			t.packetFailed(lane, err)
			return nil
		}
		for _, out := range frames {
			if err := t.write(out); err != nil {
				return err
			}
		}
	case MediaTypeVideo:
		if t.videoRes == nil || t.videoRes.Source() != f.Picture {
			res, err := NewPictureResampler(f.Picture, t.mux.video.enc.Config().Picture, t.videoOut.Scale)
			if err != nil {
				f.Release()
				t.packetFailed(lane, err)
				return nil
			}
			t.videoRes = res
		}
		out, err := t.videoRes.Resample(f)
		if err != nil {
			f.Release()
			t.packetFailed(lane, err)
			return nil
		}
		if out != f {
			f.Release()
		}
		return t.write(out)
	default:
		f.Release()
	}
	return nil
}

// write hands a frame to the muxer, counting encoder failures per lane.
func (t *Transcoder) write(f *Frame) error {
	lane := t.lanes[f.Type]
	if lane == nil || lane.ended {
		f.Release()
		return nil
	}
	typ := f.Type
	err := t.mux.WriteFrame(f)
	var perr *PacketError
	if errors.As(err, &perr) {
		t.packetFailed(lane, perr)
		return nil
	}
	if err != nil {
		return err
	}
	lane.failures.reset()
	t.count(typ, false)
	return nil
}

func (t *Transcoder) packetFailed(lane *outputLane, err error) {
	t.statsMu.Lock()
	t.stats.PacketErrors++
	t.statsMu.Unlock()
	t.log.Warn("skipping frame", "type", lane.typ.String(), "error", err)
	t.report(err)

	if lane.failures.fail(err) {
		index := 0
		if st := t.mux.stream(lane.typ); st != nil {
			index = st.out.Index
		}
		t.corrupt(&StreamCorruptError{
			StreamIndex: index,
			Type:        lane.typ,
			Failures:    lane.failures.n,
			Err:         lane.failures.last,
		})
	}
}

// corrupt ends one stream; the session continues with the others.
func (t *Transcoder) corrupt(err *StreamCorruptError) {
	if lane := t.lanes[err.Type]; lane != nil {
		lane.ended = true
	}
	t.statsMu.Lock()
	t.stats.CorruptStreams++
	t.statsMu.Unlock()
	t.log.Error("stream ended", "type", err.Type.String(), "stream", err.StreamIndex, "error", err)
	t.report(err)
}

func (t *Transcoder) report(err error) {
	if t.config.OnError != nil {
		t.config.OnError(err)
	}
}

func (t *Transcoder) count(typ MediaType, in bool) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	switch {
	case typ == MediaTypeAudio && in:
		t.stats.AudioFramesIn++
	case typ == MediaTypeAudio:
		t.stats.AudioFramesOut++
	case in:
		t.stats.VideoFramesIn++
	default:
		t.stats.VideoFramesOut++
	}
}
