package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// PlayerConfig configures an AudioPlayer.
type PlayerConfig struct {
	Source RandomAccessStream // Recording to play; the player does not close it
	Device AudioOutputDevice  // Opened on first Init, paused on Stop, closed on Destroy

	// Format is the device format. Zero plays in the decoded format of the
	// source. Must be interleaved.
	Format AudioFormat

	// ChunkFrames is the number of sample frames per device write
	// (0 = 20ms).
	ChunkFrames int

	Clock *SyncClock // Optional; follows the playback position

	// OnProgress is called after every device write while Started.
	OnProgress func(position, duration time.Duration)

	Provider Provider     // Decoder provider
	Logger   *slog.Logger // nil = slog.Default()
}

// AudioPlayer plays the audio stream of a recording on an output device.
// Playback runs on its own goroutine between Start and Stop; Suspend parks
// it without losing the read position. At the end of the recording the
// player stops itself.
type AudioPlayer struct {
	config PlayerConfig
	lc     *Lifecycle
	log    *slog.Logger

	// Guarded by mu.
	mu       sync.Mutex
	demux    *Demuxer
	res      *AudioResampler
	first    *Frame // Decoded at Init to learn the source format
	format   AudioFormat
	duration time.Duration
	pending  []byte
	out      []byte // Chunk being written to the device
	gen      int    // Bumped on every rewind
	skip     int64 // Output samples to drop after a seek
	pos      int64 // Output samples handed to the device
	flushed  bool
	opened   bool // Device is open
	err      error

	condMu sync.Mutex
	cond   *sync.Cond
	quit   bool
	done   chan struct{}
}

// NewAudioPlayer creates a player in StateStopped.
func NewAudioPlayer(config PlayerConfig) (*AudioPlayer, error) {
	if config.Source == nil {
		return nil, errors.New("player source is required")
	}
	if config.Device == nil {
		return nil, errors.New("player device is required")
	}
	if config.Format != (AudioFormat{}) && (!config.Format.Valid() || config.Format.Encoding.Planar()) {
		return nil, fmt.Errorf("%w: player device format %s", ErrNotSupported, config.Format)
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &AudioPlayer{
		config: config,
		log:    log.With("component", "player", "device", config.Device.Name()),
	}
	p.cond = sync.NewCond(&p.condMu)
	p.lc = NewLifecycle(playerSteps{p}, LifecycleConfig{Name: "player", Logger: config.Logger})
	p.lc.AddListener(func(_, _ State) {
		p.condMu.Lock()
		p.cond.Broadcast()
		p.condMu.Unlock()
	})
	return p, nil
}

// Lifecycle exposes the player's state machine.
func (p *AudioPlayer) Lifecycle() *Lifecycle { return p.lc }

// Init opens the source and the device.
func (p *AudioPlayer) Init() error { return p.lc.Init() }

// Start begins playback, or resumes it after Suspend.
func (p *AudioPlayer) Start() error { return p.lc.Start() }

// Suspend pauses playback at the current position.
func (p *AudioPlayer) Suspend() error { return p.lc.Suspend() }

// Stop ends playback and rewinds to the beginning.
func (p *AudioPlayer) Stop() error { return p.lc.Stop() }

// Destroy closes the device.
func (p *AudioPlayer) Destroy() error { return p.lc.Destroy() }

// State returns the lifecycle state.
func (p *AudioPlayer) State() State { return p.lc.State() }

// Format returns the device format. It is known after Init.
func (p *AudioPlayer) Format() AudioFormat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

// Duration returns the length of the recording's audio stream.
func (p *AudioPlayer) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Position returns the playback position.
func (p *AudioPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position()
}

func (p *AudioPlayer) position() time.Duration {
	if p.format.SampleRate == 0 {
		return 0
	}
	return time.Duration(p.pos) * time.Second / time.Duration(p.format.SampleRate)
}

// Err returns the error that ended the last playback, if any.
func (p *AudioPlayer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Seek moves playback to position, clamped to the recording's length.
// It is legal while Initialized, Started or Suspended.
func (p *AudioPlayer) Seek(position time.Duration) error {
	switch st := p.lc.State(); st {
	case StateInitialized, StateStarted, StateSuspended:
	default:
		return &IllegalStateTransitionError{Op: "seek", State: st}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	position = max(position, 0)
	if p.duration > 0 {
		position = min(position, p.duration)
	}
	if err := p.rewind(); err != nil {
		return err
	}
	p.skip = int64(position) * int64(p.format.SampleRate) / int64(time.Second)
	p.pos = p.skip
	p.publish()
	p.log.Debug("seek", "position", position)
	return nil
}

// rewind reopens the source at its beginning. Called with mu held.
func (p *AudioPlayer) rewind() error {
	if err := p.closeSource(); err != nil {
		p.log.Warn("close source", "error", err)
	}
	if err := p.config.Source.Reset(); err != nil {
		return fmt.Errorf("rewind source: %w", err)
	}
	d, err := OpenDemuxer(p.config.Source, DemuxerConfig{
		Provider:     p.config.Provider,
		DisableVideo: true,
		Logger:       p.config.Logger,
	})
	if err != nil {
		return err
	}
	params, ok := d.AudioStream()
	if !ok {
		d.Close()
		return fmt.Errorf("%w: recording has no audio stream", ErrNotSupported)
	}
	p.demux = d
	p.duration = time.Duration(Rescale(params.Duration, params.Timebase, TimebaseMillis)) * time.Millisecond
	p.pending = p.pending[:0]
	p.gen++
	p.skip, p.pos = 0, 0
	p.flushed = false
	return nil
}

func (p *AudioPlayer) closeSource() error {
	p.first.Release()
	p.first = nil
	p.res = nil
	if p.demux == nil {
		return nil
	}
	err := p.demux.Close()
	p.demux = nil
	return err
}

// publish pushes the position to the clock. Called with mu held.
func (p *AudioPlayer) publish() {
	if p.config.Clock != nil {
		p.config.Clock.SetPts(p.pos, p.format.Timebase())
	}
}

// fill decodes until at least want bytes are pending or the recording
// ends. Called with mu held.
func (p *AudioPlayer) fill(want int) error {
	frameBytes := p.format.BytesPerFrame()
	for len(p.pending) < want && !p.flushed {
		f := p.first
		p.first = nil
		if f == nil {
			var err error
			f, err = p.demux.ReadFrame()
			if errors.Is(err, io.EOF) {
				if p.res != nil {
					p.append(p.res.Flush(), frameBytes)
				}
				p.flushed = true
				break
			}
			if err != nil {
				return err
			}
		}
		if f.Type != MediaTypeAudio {
			f.Release()
			continue
		}
		if p.res == nil {
			res, err := NewAudioResampler(f.Format, p.format, 0)
			if err != nil {
				f.Release()
				return err
			}
			p.res = res
		}
		frames, err := p.res.Resample(f)
		if err != nil {
			f.Release()
			return err
		}
		p.append(frames, frameBytes)
	}
	return nil
}

// append queues resampled frames for the device, dropping samples still
// owed to a seek.
func (p *AudioPlayer) append(frames []*Frame, frameBytes int) {
	for _, f := range frames {
		data := f.Planes[0][:f.Samples*frameBytes]
		if p.skip > 0 {
			n := min(p.skip, int64(f.Samples))
			data = data[n*int64(frameBytes):]
			p.skip -= n
		}
		p.pending = append(p.pending, data...)
		f.Release()
	}
}

// step writes one chunk to the device. It returns io.EOF once the
// recording has been played out.
func (p *AudioPlayer) step(chunk int) error {
	position, duration, err := p.writeChunk(chunk)
	if err != nil {
		return err
	}
	if p.config.OnProgress != nil && p.lc.Started() {
		p.config.OnProgress(position, duration)
	}
	return nil
}

// writeChunk hands the next chunk to the device. The device write runs
// without mu so a blocking device does not hold up Seek or Position.
func (p *AudioPlayer) writeChunk(chunk int) (time.Duration, time.Duration, error) {
	p.mu.Lock()
	if err := p.fill(chunk); err != nil {
		p.mu.Unlock()
		return 0, 0, err
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return 0, 0, io.EOF
	}
	p.out = append(p.out[:0], p.pending[:min(chunk, len(p.pending))]...)
	gen := p.gen
	p.mu.Unlock()

	w, err := p.config.Device.Write(p.out)

	p.mu.Lock()
	defer p.mu.Unlock()
	// A seek during the write already replaced pending and pos.
	if w > 0 && gen == p.gen {
		p.pending = p.pending[:copy(p.pending, p.pending[w:])]
		p.pos += int64(w / p.format.BytesPerFrame())
		p.publish()
	}
	if err != nil {
		return 0, 0, fmt.Errorf("write %s: %w", p.config.Device.Name(), err)
	}
	return p.position(), p.duration, nil
}

func (p *AudioPlayer) run(done chan struct{}) {
	chunk := p.config.ChunkFrames
	if chunk <= 0 {
		chunk = max(p.Format().SampleRate/50, 1)
	}
	chunk *= p.Format().BytesPerFrame()

	ended := false
	defer func() {
		close(done)
		if !ended {
			return
		}
		p.condMu.Lock()
		current := p.done == done && !p.quit
		p.condMu.Unlock()
		if !current {
			return
		}
		// Stop may still race a caller's Stop; the loser sees an illegal
		// transition.
		if err := p.lc.Stop(); err != nil && !errors.Is(err, ErrIllegalStateTransition) {
			p.log.Error("stop after playback", "error", err)
		}
	}()

	for p.waitStarted() {
		err := p.step(chunk)
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			p.log.Error("playback failed", "error", err)
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
		} else {
			p.log.Debug("end of recording", "position", p.Position())
		}
		ended = true
		return
	}
}

// waitStarted parks while playback is not Started. It returns false once
// the loop has been told to quit.
func (p *AudioPlayer) waitStarted() bool {
	p.condMu.Lock()
	defer p.condMu.Unlock()
	for {
		if p.quit {
			return false
		}
		if p.lc.State() == StateStarted {
			return true
		}
		p.cond.Wait()
	}
}

type playerSteps struct{ p *AudioPlayer }

func (s playerSteps) InitInternal() error {
	p := s.p
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.rewind(); err != nil {
		return err
	}
	first, err := p.demux.ReadFrame()
	if err != nil {
		p.closeSource()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: recording has no audio", ErrEndOfStream)
		}
		return err
	}
	p.first = first

	format := p.config.Format
	if format == (AudioFormat{}) {
		format = first.Format
		format.Encoding = format.Encoding.Packed()
	}
	if !p.opened {
		if err := p.config.Device.Open(format); err != nil {
			p.closeSource()
			return fmt.Errorf("open %s: %w", p.config.Device.Name(), err)
		}
		p.opened = true
	}
	if err := p.config.Device.Start(); err != nil {
		p.config.Device.Close()
		p.opened = false
		p.closeSource()
		return fmt.Errorf("start %s: %w", p.config.Device.Name(), err)
	}
	p.format = format
	p.err = nil
	p.publish()
	p.log.Info("player ready", "format", format.String(), "duration", p.duration)
	return nil
}

func (s playerSteps) StartInternal() error {
	p := s.p
	if p.lc.PreviousState() == StateSuspended {
		return nil
	}
	p.condMu.Lock()
	p.quit = false
	p.done = make(chan struct{})
	done := p.done
	p.condMu.Unlock()
	go p.run(done)
	return nil
}

func (s playerSteps) SuspendInternal() error { return nil }

func (s playerSteps) StopInternal() error {
	p := s.p
	p.condMu.Lock()
	p.quit = true
	done := p.done
	p.cond.Broadcast()
	p.condMu.Unlock()
	if done != nil {
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.config.Clock != nil {
		p.config.Clock.Reset()
	}
	if err := p.config.Device.Stop(); err != nil {
		p.log.Warn("stop device", "error", err)
	}
	return p.rewind()
}

func (s playerSteps) DestroyInternal() error {
	p := s.p
	p.mu.Lock()
	defer p.mu.Unlock()
	var result *multierror.Error
	if err := p.closeSource(); err != nil {
		result = multierror.Append(result, err)
	}
	if !p.opened {
		return result.ErrorOrNil()
	}
	if err := p.config.Device.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop %s: %w", p.config.Device.Name(), err))
	}
	if err := p.config.Device.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close %s: %w", p.config.Device.Name(), err))
	}
	p.opened = false
	return result.ErrorOrNil()
}
