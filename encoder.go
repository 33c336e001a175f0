package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// EncoderConfig configures an audio or video encoder. Unsupported audio
// parameters are replaced by the closest value the codec supports and a
// warning is logged; Config on the created encoder reports what was chosen.
type EncoderConfig struct {
	Codec    CodecID
	Provider Provider // ProviderAuto = registry chooses

	// Audio
	Format    AudioFormat // Sample format the codec consumes
	FrameSize int         // Samples per channel per packet (0 = codec default)

	// Video
	Picture PictureFormat
	FPS     int
	GOPSize int // Keyframe interval in frames (0 = every frame is a keyframe)

	BitrateBps int
	Quality    int // Codec-specific; 1-100 for MJPEG

	Logger *slog.Logger
}

// DefaultAudioEncoderConfig returns a configuration for codec at 48 kHz stereo.
func DefaultAudioEncoderConfig(codec CodecID) EncoderConfig {
	return EncoderConfig{
		Codec:      codec,
		Provider:   ProviderAuto,
		Format:     NewAudioFormat(SampleS16LE, 48000, 2),
		BitrateBps: 64000,
	}
}

// DefaultVideoEncoderConfig returns a configuration for codec at 30 fps.
func DefaultVideoEncoderConfig(codec CodecID, width, height int) EncoderConfig {
	return EncoderConfig{
		Codec:    codec,
		Provider: ProviderAuto,
		Picture:  PictureFormat{Width: width, Height: height, Pixel: PixelFormatI420},
		FPS:      30,
		GOPSize:  0,
		Quality:  75,
	}
}

// Timebase returns the timebase packets from this configuration carry:
// 1/sample-rate for audio, 1/fps for video.
func (c EncoderConfig) Timebase() Timebase {
	if c.Codec.MediaType() == MediaTypeVideo {
		fps := c.FPS
		if fps <= 0 {
			fps = 30
		}
		return Timebase{Num: 1, Den: fps}
	}
	return c.Format.Timebase()
}

// EncoderStats provides encoding metrics.
type EncoderStats struct {
	FramesIn   uint64 // Frames accepted
	PacketsOut uint64 // Packets produced
	BytesOut   uint64 // Encoded bytes produced
	Keyframes  uint64
	Errors     uint64
}

// Encoder is a stateful codec instance configured once at creation.
//
// Encode consumes one frame and returns at most one packet; a nil packet
// with a nil error means the codec is buffering. A nil frame signals end of
// input: each further call drains one trailing packet, and once drained
// every call returns ErrEndOfStream.
type Encoder interface {
	io.Closer
	Encode(frame *Frame) (*Packet, error)
	Codec() CodecID
	Provider() Provider
	Config() EncoderConfig
	Timebase() Timebase
	Stats() EncoderStats
}

// AudioCapabilities lists what an audio codec accepts. Empty lists mean any.
type AudioCapabilities struct {
	SampleRates []int
	Encodings   []SampleEncoding
	MaxChannels int
	FrameSize   int // Required samples per frame (0 = any)
}

// fallbackEncodings is the preference order when the requested sample
// encoding is unsupported.
var fallbackEncodings = []SampleEncoding{
	SampleS16LE, SampleS16P, SampleS32LE, SampleS32P,
	SampleF32LE, SampleF32P, SampleF64LE, SampleF64P,
}

// Negotiate adjusts format to the capabilities. Every substitution is
// reported through warn.
func (c AudioCapabilities) Negotiate(format AudioFormat, warn func(msg string, args ...any)) AudioFormat {
	if len(c.SampleRates) > 0 && !slices.Contains(c.SampleRates, format.SampleRate) {
		rates := slices.Clone(c.SampleRates)
		slices.Sort(rates)
		chosen := rates[len(rates)-1]
		for _, r := range rates {
			if r >= format.SampleRate {
				chosen = r
				break
			}
		}
		warn("sample rate not supported, using closest", "requested", format.SampleRate, "selected", chosen)
		format.SampleRate = chosen
	}

	if c.MaxChannels > 0 && format.Channels > c.MaxChannels {
		warn("channel count not supported", "requested", format.Channels, "selected", c.MaxChannels)
		format.Channels = c.MaxChannels
	}

	if len(c.Encodings) > 0 && !slices.Contains(c.Encodings, format.Encoding) {
		chosen := c.Encodings[0]
		for _, e := range fallbackEncodings {
			if slices.Contains(c.Encodings, e) {
				chosen = e
				break
			}
		}
		warn("sample format not supported, using default", "requested", format.Encoding, "selected", chosen)
		format.Encoding = chosen
	}
	return format
}

// --- Registry ---

// EncoderFactory creates an encoder from a negotiated configuration.
type EncoderFactory func(EncoderConfig) (Encoder, error)

type encoderEntry struct {
	factory EncoderFactory
	caps    AudioCapabilities
}

type encoderRegistry struct {
	mu sync.RWMutex

	// codec -> provider -> factory
	providers map[CodecID]map[Provider]encoderEntry
	defaults  map[CodecID]Provider
}

var globalEncoderRegistry = &encoderRegistry{
	providers: make(map[CodecID]map[Provider]encoderEntry),
	defaults:  make(map[CodecID]Provider),
}

// RegisterEncoder registers an encoder factory for a codec+provider. The
// first permissive provider registered for a codec becomes its default.
func RegisterEncoder(codec CodecID, provider Provider, caps AudioCapabilities, factory EncoderFactory) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()

	if globalEncoderRegistry.providers[codec] == nil {
		globalEncoderRegistry.providers[codec] = make(map[Provider]encoderEntry)
	}
	globalEncoderRegistry.providers[codec][provider] = encoderEntry{factory: factory, caps: caps}

	current, exists := globalEncoderRegistry.defaults[codec]
	if !exists || (provider.License().Permissive() && !current.License().Permissive()) {
		globalEncoderRegistry.defaults[codec] = provider
	}
}

// SetDefaultEncoderProvider sets the default provider for a codec.
func SetDefaultEncoderProvider(codec CodecID, provider Provider) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()
	globalEncoderRegistry.defaults[codec] = provider
}

// NewEncoder creates an encoder. Failures wrap ErrCodecNotSupported or
// ErrProviderNotFound; the transcoder reports them as *CodecOpenError.
func NewEncoder(config EncoderConfig) (Encoder, error) {
	globalEncoderRegistry.mu.RLock()
	providers := globalEncoderRegistry.providers[config.Codec]
	p := config.Provider
	if p == ProviderAuto {
		p = globalEncoderRegistry.defaults[config.Codec]
	}
	entry, ok := providers[p]
	globalEncoderRegistry.mu.RUnlock()

	if providers == nil {
		return nil, fmt.Errorf("%w: no encoders for %s", ErrCodecNotSupported, config.Codec)
	}
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, config.Codec)
	}

	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	config.Provider = p
	if config.Codec.MediaType() == MediaTypeAudio {
		warn := func(msg string, args ...any) {
			log.Warn(msg, append([]any{"codec", config.Codec}, args...)...)
		}
		config.Format = entry.caps.Negotiate(config.Format, warn)
		if entry.caps.FrameSize > 0 {
			config.FrameSize = entry.caps.FrameSize
		}
	}

	return entry.factory(config)
}

// EncoderProviders returns available providers for a codec.
func EncoderProviders(codec CodecID) []Provider {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()

	providers := globalEncoderRegistry.providers[codec]
	result := make([]Provider, 0, len(providers))
	for p := range providers {
		if p.Available() {
			result = append(result, p)
		}
	}
	slices.Sort(result)
	return result
}

// DrainEncoder signals end of input and collects every trailing packet.
func DrainEncoder(enc Encoder) ([]*Packet, error) {
	var out []*Packet
	for {
		pkt, err := enc.Encode(nil)
		if errors.Is(err, ErrEndOfStream) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if pkt != nil {
			out = append(out, pkt)
		}
	}
}

// packetQueue is the FIFO behind the one-output-per-call contract shared by
// the encoders in this package.
type packetQueue struct {
	items    []*Packet
	draining bool
}

func (q *packetQueue) push(p *Packet) { q.items = append(q.items, p) }

// next pops the oldest packet. While draining, an empty queue reports
// ErrEndOfStream.
func (q *packetQueue) next() (*Packet, error) {
	if len(q.items) == 0 {
		if q.draining {
			return nil, ErrEndOfStream
		}
		return nil, nil
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p, nil
}

func (q *packetQueue) release() {
	for _, p := range q.items {
		p.Release()
	}
	q.items = nil
}

// audioClock assigns packet timestamps from a running sample counter.
// Frames without a Pts continue where the previous frame ended.
type audioClock struct {
	next int64
}

func (c *audioClock) stamp(f *Frame, tb Timebase) int64 {
	pts := c.next
	if f.Pts != NoPts && f.Timebase.Valid() {
		pts = Rescale(f.Pts, f.Timebase, tb)
	}
	c.next = pts + int64(f.Samples)
	return pts
}
