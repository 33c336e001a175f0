package media

import (
	"fmt"

	"github.com/zaf/g711"
)

// G.711 always runs on 8 kHz signed 16-bit samples; one byte per sample on
// the wire.
var g711Capabilities = AudioCapabilities{
	SampleRates: []int{8000},
	Encodings:   []SampleEncoding{SampleS16LE},
}

func newG711Encoder(config EncoderConfig, alaw bool) (Encoder, error) {
	if !config.Format.Valid() {
		return nil, fmt.Errorf("invalid format %s", config.Format)
	}
	encode := func(pcm []byte, _ int) ([]byte, error) {
		if alaw {
			return g711.EncodeAlaw(pcm), nil
		}
		return g711.EncodeUlaw(pcm), nil
	}
	return newAudioEncoder(config, encode, false, nil), nil
}

func newG711Decoder(config DecoderConfig, alaw bool) (Decoder, error) {
	out := NewAudioFormat(SampleS16LE, 8000, config.Format.Channels)
	if out.Channels <= 0 {
		out.Channels = 1
	}
	decode := func(payload []byte) ([]byte, int, error) {
		if len(payload)%out.Channels != 0 {
			return nil, 0, fmt.Errorf("payload of %d bytes does not hold %d channels", len(payload), out.Channels)
		}
		var pcm []byte
		if alaw {
			pcm = g711.DecodeAlaw(payload)
		} else {
			pcm = g711.DecodeUlaw(payload)
		}
		return pcm, len(payload) / out.Channels, nil
	}
	return newAudioDecoder(config, out, decode, nil), nil
}

func init() {
	RegisterEncoder(CodecPCMMulaw, ProviderNative, g711Capabilities, func(c EncoderConfig) (Encoder, error) {
		return newG711Encoder(c, false)
	})
	RegisterEncoder(CodecPCMAlaw, ProviderNative, g711Capabilities, func(c EncoderConfig) (Encoder, error) {
		return newG711Encoder(c, true)
	})
	RegisterDecoder(CodecPCMMulaw, ProviderNative, func(c DecoderConfig) (Decoder, error) {
		return newG711Decoder(c, false)
	})
	RegisterDecoder(CodecPCMAlaw, ProviderNative, func(c DecoderConfig) (Decoder, error) {
		return newG711Decoder(c, true)
	})
}
