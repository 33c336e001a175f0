package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// DecoderConfig configures a decoder from the stream's codec parameters.
type DecoderConfig struct {
	Codec    CodecID
	Provider Provider // ProviderAuto = registry chooses

	Format  AudioFormat   // Audio: rate and channels of the stream
	Picture PictureFormat // Video: geometry when known up front
	FPS     int

	Logger *slog.Logger
}

// DecoderConfigFor builds a decoder configuration from stream parameters.
func DecoderConfigFor(p CodecParameters) DecoderConfig {
	return DecoderConfig{
		Codec:    p.Codec,
		Provider: ProviderAuto,
		Format:   p.Format,
		Picture:  p.Picture,
		FPS:      p.FPS,
	}
}

// DecoderStats provides decoding metrics.
type DecoderStats struct {
	PacketsIn uint64
	FramesOut uint64
	BytesIn   uint64
	Errors    uint64
}

// Decoder is a stateful codec instance configured once at creation.
//
// Decode consumes one packet and returns at most one frame; a nil frame
// with a nil error means the codec needs more input. A nil packet signals
// end of input: each further call drains one trailing frame, and once
// drained every call returns ErrEndOfStream.
type Decoder interface {
	io.Closer
	Decode(pkt *Packet) (*Frame, error)
	Codec() CodecID
	Provider() Provider
	Config() DecoderConfig
	Stats() DecoderStats
}

// DecoderFactory creates a decoder.
type DecoderFactory func(DecoderConfig) (Decoder, error)

type decoderRegistry struct {
	mu sync.RWMutex

	// codec -> provider -> factory
	providers map[CodecID]map[Provider]DecoderFactory
	defaults  map[CodecID]Provider
}

var globalDecoderRegistry = &decoderRegistry{
	providers: make(map[CodecID]map[Provider]DecoderFactory),
	defaults:  make(map[CodecID]Provider),
}

// RegisterDecoder registers a decoder factory for a codec+provider.
func RegisterDecoder(codec CodecID, provider Provider, factory DecoderFactory) {
	globalDecoderRegistry.mu.Lock()
	defer globalDecoderRegistry.mu.Unlock()

	if globalDecoderRegistry.providers[codec] == nil {
		globalDecoderRegistry.providers[codec] = make(map[Provider]DecoderFactory)
	}
	globalDecoderRegistry.providers[codec][provider] = factory

	current, exists := globalDecoderRegistry.defaults[codec]
	if !exists || (provider.License().Permissive() && !current.License().Permissive()) {
		globalDecoderRegistry.defaults[codec] = provider
	}
}

// SetDefaultDecoderProvider sets the default provider for a codec.
func SetDefaultDecoderProvider(codec CodecID, provider Provider) {
	globalDecoderRegistry.mu.Lock()
	defer globalDecoderRegistry.mu.Unlock()
	globalDecoderRegistry.defaults[codec] = provider
}

// NewDecoder creates a decoder.
func NewDecoder(config DecoderConfig) (Decoder, error) {
	globalDecoderRegistry.mu.RLock()
	providers := globalDecoderRegistry.providers[config.Codec]
	p := config.Provider
	if p == ProviderAuto {
		p = globalDecoderRegistry.defaults[config.Codec]
	}
	factory, ok := providers[p]
	globalDecoderRegistry.mu.RUnlock()

	if providers == nil {
		return nil, fmt.Errorf("%w: no decoders for %s", ErrCodecNotSupported, config.Codec)
	}
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, config.Codec)
	}
	config.Provider = p
	return factory(config)
}

// DecoderProviders returns available providers for a codec.
func DecoderProviders(codec CodecID) []Provider {
	globalDecoderRegistry.mu.RLock()
	defer globalDecoderRegistry.mu.RUnlock()

	providers := globalDecoderRegistry.providers[codec]
	result := make([]Provider, 0, len(providers))
	for p := range providers {
		if p.Available() {
			result = append(result, p)
		}
	}
	slices.Sort(result)
	return result
}

// DrainDecoder signals end of input and collects every trailing frame.
func DrainDecoder(dec Decoder) ([]*Frame, error) {
	var out []*Frame
	for {
		f, err := dec.Decode(nil)
		if errors.Is(err, ErrEndOfStream) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if f != nil {
			out = append(out, f)
		}
	}
}

// frameQueue mirrors packetQueue for decoders.
type frameQueue struct {
	items    []*Frame
	draining bool
}

func (q *frameQueue) push(f *Frame) { q.items = append(q.items, f) }

func (q *frameQueue) next() (*Frame, error) {
	if len(q.items) == 0 {
		if q.draining {
			return nil, ErrEndOfStream
		}
		return nil, nil
	}
	f := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return f, nil
}

func (q *frameQueue) release() {
	for _, f := range q.items {
		f.Release()
	}
	q.items = nil
}
