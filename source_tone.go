package media

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// TonePattern selects the waveform a ToneDevice synthesizes.
type TonePattern int

const (
	ToneSilence TonePattern = iota
	ToneSine
	ToneSquare
	ToneWhiteNoise
	ToneSweep
)

func (p TonePattern) String() string {
	switch p {
	case ToneSilence:
		return "silence"
	case ToneSine:
		return "sine"
	case ToneSquare:
		return "square"
	case ToneWhiteNoise:
		return "noise"
	case ToneSweep:
		return "sweep"
	default:
		return "unknown"
	}
}

// ParseTonePattern maps a pattern name back to its value.
func ParseTonePattern(name string) (TonePattern, error) {
	for p := ToneSilence; p <= ToneSweep; p++ {
		if p.String() == name {
			return p, nil
		}
	}
	return ToneSilence, fmt.Errorf("unknown tone pattern %q", name)
}

// ToneConfig configures a ToneDevice.
type ToneConfig struct {
	Name      string
	Pattern   TonePattern
	Frequency float64 // Hz (default: 440)
	Amplitude float64 // 0.0-1.0 (default: 0.5)

	SweepStartHz  float64
	SweepEndHz    float64
	SweepDuration time.Duration

	// Realtime paces Read to the sample clock, like a capture device.
	Realtime bool
	// Limit stops the device after this many sample frames (0 = endless).
	Limit int64
}

// DefaultToneConfig returns a 440 Hz sine at half amplitude.
func DefaultToneConfig() ToneConfig {
	return ToneConfig{
		Name:          "tone",
		Pattern:       ToneSine,
		Frequency:     440.0,
		Amplitude:     0.5,
		SweepStartHz:  200,
		SweepEndHz:    2000,
		SweepDuration: 2 * time.Second,
	}
}

// ToneDevice is a synthetic AudioInputDevice producing S16LE or F32LE
// interleaved samples.
type ToneDevice struct {
	config ToneConfig

	mu       sync.Mutex
	format   AudioFormat
	opened   bool
	started  bool
	phase    float64
	produced int64
	rngState uint64
	startAt  time.Time
}

// NewToneDevice creates a tone generator.
func NewToneDevice(config ToneConfig) *ToneDevice {
	if config.Frequency <= 0 {
		config.Frequency = 440.0
	}
	if config.Amplitude <= 0 {
		config.Amplitude = 0.5
	}
	if config.Amplitude > 1.0 {
		config.Amplitude = 1.0
	}
	if config.SweepStartHz <= 0 {
		config.SweepStartHz = 200
	}
	if config.SweepEndHz <= 0 {
		config.SweepEndHz = 2000
	}
	if config.SweepDuration <= 0 {
		config.SweepDuration = 2 * time.Second
	}
	if config.Name == "" {
		config.Name = "tone:" + config.Pattern.String()
	}
	return &ToneDevice{config: config, rngState: 0x9E3779B97F4A7C15}
}

func (d *ToneDevice) Name() string { return d.config.Name }

// Open negotiates the output format.
func (d *ToneDevice) Open(format AudioFormat) error {
	if format.Encoding != SampleS16LE && format.Encoding != SampleF32LE {
		return fmt.Errorf("%w: tone device produces s16le or f32le, not %s", ErrNotSupported, format.Encoding)
	}
	if !format.Valid() {
		return fmt.Errorf("invalid format %s", format)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.format = format
	d.opened = true
	d.phase = 0
	d.produced = 0
	return nil
}

func (d *ToneDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrDeviceNotConnected
	}
	d.started = true
	d.startAt = time.Now().Add(-time.Duration(d.produced) * time.Second / time.Duration(d.format.SampleRate))
	return nil
}

func (d *ToneDevice) Stop() error {
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
	return nil
}

func (d *ToneDevice) Close() error {
	d.mu.Lock()
	d.opened = false
	d.started = false
	d.mu.Unlock()
	return nil
}

// Read synthesizes whole sample frames into p. It returns ErrEndOfStream
// once Limit frames have been produced.
func (d *ToneDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opened || !d.started {
		return 0, ErrDeviceNotConnected
	}

	frameBytes := d.format.BytesPerFrame()
	frames := len(p) / frameBytes
	if d.config.Limit > 0 {
		remaining := d.config.Limit - d.produced
		if remaining <= 0 {
			return 0, ErrEndOfStream
		}
		if int64(frames) > remaining {
			frames = int(remaining)
		}
	}
	if frames == 0 {
		return 0, nil
	}

	if d.config.Realtime {
		due := d.startAt.Add(time.Duration(d.produced+int64(frames)) * time.Second / time.Duration(d.format.SampleRate))
		if wait := time.Until(due); wait > 0 {
			d.mu.Unlock()
			time.Sleep(wait)
			d.mu.Lock()
		}
	}

	idx := 0
	for i := 0; i < frames; i++ {
		v := d.next()
		for c := 0; c < d.format.Channels; c++ {
			if d.format.Encoding == SampleF32LE {
				binary.LittleEndian.PutUint32(p[idx:], math.Float32bits(float32(v)))
				idx += 4
			} else {
				binary.LittleEndian.PutUint16(p[idx:], uint16(int16(v*32767.0)))
				idx += 2
			}
		}
		d.produced++
	}
	return idx, nil
}

// next returns the next sample in [-1, 1].
func (d *ToneDevice) next() float64 {
	rate := float64(d.format.SampleRate)
	amp := d.config.Amplitude

	switch d.config.Pattern {
	case ToneSine:
		v := amp * math.Sin(d.phase)
		d.advance(2.0 * math.Pi * d.config.Frequency / rate)
		return v
	case ToneSquare:
		v := amp
		if math.Sin(d.phase) < 0 {
			v = -amp
		}
		d.advance(2.0 * math.Pi * d.config.Frequency / rate)
		return v
	case ToneWhiteNoise:
		// xorshift64
		d.rngState ^= d.rngState << 13
		d.rngState ^= d.rngState >> 7
		d.rngState ^= d.rngState << 17
		return amp * ((float64(d.rngState)/float64(^uint64(0)))*2.0 - 1.0)
	case ToneSweep:
		sweepSamples := rate * d.config.SweepDuration.Seconds()
		progress := math.Mod(float64(d.produced), sweepSamples) / sweepSamples
		logStart := math.Log(d.config.SweepStartHz)
		logEnd := math.Log(d.config.SweepEndHz)
		freq := math.Exp(logStart + progress*(logEnd-logStart))
		v := amp * math.Sin(d.phase)
		d.advance(2.0 * math.Pi * freq / rate)
		return v
	default:
		return 0
	}
}

func (d *ToneDevice) advance(inc float64) {
	d.phase += inc
	if d.phase > 2*math.Pi {
		d.phase -= 2 * math.Pi
	}
}

// DiscardDevice is an AudioOutputDevice that drops everything it is given
// while counting bytes.
type DiscardDevice struct {
	mu      sync.Mutex
	opened  bool
	started bool
	bytes   int64
}

func (d *DiscardDevice) Name() string { return "discard" }

func (d *DiscardDevice) Open(AudioFormat) error {
	d.mu.Lock()
	d.opened = true
	d.mu.Unlock()
	return nil
}

func (d *DiscardDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrDeviceNotConnected
	}
	d.started = true
	return nil
}

func (d *DiscardDevice) Stop() error {
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
	return nil
}

func (d *DiscardDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return 0, ErrDeviceNotConnected
	}
	d.bytes += int64(len(p))
	return len(p), nil
}

func (d *DiscardDevice) Close() error {
	d.mu.Lock()
	d.opened = false
	d.started = false
	d.mu.Unlock()
	return nil
}

// Bytes returns the number of bytes written so far.
func (d *DiscardDevice) Bytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bytes
}
