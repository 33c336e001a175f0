//go:build (darwin || linux) && !noopus

// Opus support through the system libopus, loaded at runtime with purego.

package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	opusOnce    sync.Once
	opusHandle  uintptr
	opusInitErr error
)

// libopus function pointers
var (
	opusEncoderCreate  func(fs int32, channels int32, application int32, errOut *int32) uintptr
	opusEncode         func(st uintptr, pcm *int16, frameSize int32, data *byte, maxBytes int32) int32
	opusEncoderCtl     func(st uintptr, request int32, value int32) int32
	opusEncoderDestroy func(st uintptr)

	opusDecoderCreate  func(fs int32, channels int32, errOut *int32) uintptr
	opusDecode         func(st uintptr, data *byte, length int32, pcm *int16, frameSize int32, decodeFEC int32) int32
	opusDecoderDestroy func(st uintptr)

	opusStrerror         func(code int32) uintptr
	opusGetVersionString func() uintptr
)

// Constants from opus_defines.h
const (
	opusOK                 = 0
	opusApplicationVOIP    = 2048
	opusApplicationAudio   = 2049
	opusSetBitrateRequest  = 4002
	opusMaxPacketBytes     = 4000
	opusMaxFrameSamples48k = 5760 // 120 ms
)

var opusCapabilities = AudioCapabilities{
	SampleRates: []int{8000, 12000, 16000, 24000, 48000},
	Encodings:   []SampleEncoding{SampleS16LE},
	MaxChannels: 2,
}

func loadOpus() error {
	opusOnce.Do(func() {
		opusInitErr = loadOpusLib()
	})
	return opusInitErr
}

func loadOpusLib() error {
	var lastErr error
	for _, path := range opusLibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		opusHandle = handle
		loadOpusSymbols()
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libopus: %w", lastErr)
	}
	return errors.New("libopus not found in any standard location")
}

func opusLibPaths() []string {
	var paths []string

	if env := os.Getenv("LECTMEDIA_OPUS_LIB"); env != "" {
		paths = append(paths, env)
	}

	libName := "libopus.so.0"
	if runtime.GOOS == "darwin" {
		libName = "libopus.0.dylib"
	}
	if root := findModuleRoot(); root != "" {
		paths = append(paths, filepath.Join(root, "build", libName))
	}

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			"libopus.0.dylib",
			"libopus.dylib",
			"/opt/homebrew/lib/libopus.0.dylib",
			"/usr/local/lib/libopus.0.dylib",
		)
	case "linux":
		paths = append(paths,
			"libopus.so.0",
			"libopus.so",
			"/usr/lib/x86_64-linux-gnu/libopus.so.0",
			"/usr/lib/aarch64-linux-gnu/libopus.so.0",
			"/usr/local/lib/libopus.so.0",
		)
	}
	return paths
}

func loadOpusSymbols() {
	purego.RegisterLibFunc(&opusEncoderCreate, opusHandle, "opus_encoder_create")
	purego.RegisterLibFunc(&opusEncode, opusHandle, "opus_encode")
	purego.RegisterLibFunc(&opusEncoderDestroy, opusHandle, "opus_encoder_destroy")
	purego.RegisterLibFunc(&opusDecoderCreate, opusHandle, "opus_decoder_create")
	purego.RegisterLibFunc(&opusDecode, opusHandle, "opus_decode")
	purego.RegisterLibFunc(&opusDecoderDestroy, opusHandle, "opus_decoder_destroy")
	purego.RegisterLibFunc(&opusStrerror, opusHandle, "opus_strerror")
	purego.RegisterLibFunc(&opusGetVersionString, opusHandle, "opus_get_version_string")

	// opus_encoder_ctl is variadic; darwin/arm64 passes variadic arguments on
	// the stack, which purego cannot express.
	if !(runtime.GOOS == "darwin" && runtime.GOARCH == "arm64") {
		purego.RegisterLibFunc(&opusEncoderCtl, opusHandle, "opus_encoder_ctl")
	}
}

// IsOpusAvailable reports whether libopus could be loaded.
func IsOpusAvailable() bool {
	return loadOpus() == nil
}

// OpusVersion returns the libopus version string.
func OpusVersion() string {
	if !IsOpusAvailable() {
		return ""
	}
	return goStringFromPtr(opusGetVersionString())
}

func opusError(code int32) error {
	msg := goStringFromPtr(opusStrerror(code))
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("libopus: %s (%d)", msg, code)
}

func newOpusEncoder(config EncoderConfig) (Encoder, error) {
	if err := loadOpus(); err != nil {
		return nil, fmt.Errorf("opus encoder not available: %w", err)
	}
	format := config.Format
	if config.FrameSize <= 0 {
		config.FrameSize = format.SampleRate / 50 // 20 ms
	}

	var code int32
	st := opusEncoderCreate(int32(format.SampleRate), int32(format.Channels), opusApplicationAudio, &code)
	if st == 0 || code != opusOK {
		return nil, opusError(code)
	}
	if config.BitrateBps > 0 && opusEncoderCtl != nil {
		if rc := opusEncoderCtl(st, opusSetBitrateRequest, int32(config.BitrateBps)); rc != opusOK {
			opusEncoderDestroy(st)
			return nil, opusError(rc)
		}
	}

	pcm := make([]int16, config.FrameSize*format.Channels)
	out := make([]byte, opusMaxPacketBytes)
	encode := func(data []byte, samples int) ([]byte, error) {
		n := samples * format.Channels
		for i := 0; i < n; i++ {
			pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		rc := opusEncode(st, &pcm[0], int32(samples), &out[0], int32(len(out)))
		if rc < 0 {
			return nil, opusError(rc)
		}
		payload := make([]byte, rc)
		copy(payload, out[:rc])
		return payload, nil
	}
	closer := func() error {
		opusEncoderDestroy(st)
		return nil
	}
	// The final short frame is padded: Opus only accepts fixed frame sizes.
	return newAudioEncoder(config, encode, true, closer), nil
}

func newOpusDecoder(config DecoderConfig) (Decoder, error) {
	if err := loadOpus(); err != nil {
		return nil, fmt.Errorf("opus decoder not available: %w", err)
	}
	out := NewAudioFormat(SampleS16LE, config.Format.SampleRate, config.Format.Channels)
	if out.SampleRate <= 0 {
		out.SampleRate = 48000
	}
	if out.Channels <= 0 {
		out.Channels = 2
	}
	out = opusCapabilities.Negotiate(out, func(string, ...any) {})

	var code int32
	st := opusDecoderCreate(int32(out.SampleRate), int32(out.Channels), &code)
	if st == 0 || code != opusOK {
		return nil, opusError(code)
	}

	maxSamples := opusMaxFrameSamples48k * out.SampleRate / 48000
	pcm := make([]int16, maxSamples*out.Channels)
	decode := func(payload []byte) ([]byte, int, error) {
		if len(payload) == 0 {
			return nil, 0, errors.New("empty opus packet")
		}
		rc := opusDecode(st, &payload[0], int32(len(payload)), &pcm[0], int32(maxSamples), 0)
		if rc < 0 {
			return nil, 0, opusError(rc)
		}
		n := int(rc) * out.Channels
		data := make([]byte, n*2)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(pcm[i]))
		}
		return data, int(rc), nil
	}
	closer := func() error {
		opusDecoderDestroy(st)
		return nil
	}
	return newAudioDecoder(config, out, decode, closer), nil
}

func init() {
	if !IsOpusAvailable() {
		return
	}
	setProviderAvailable(ProviderLibopus)
	RegisterEncoder(CodecOpus, ProviderLibopus, opusCapabilities, newOpusEncoder)
	RegisterDecoder(CodecOpus, ProviderLibopus, newOpusDecoder)
}
