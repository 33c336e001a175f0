package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/lecturekit/media"
)

// ErrUnresolved marks validation errors for values that cannot be clamped
// to something safe, such as unknown codec or encoding names.
var ErrUnresolved = errors.New("unresolved config value")

func unresolved(err error) error { return fmt.Errorf("%w: %w", ErrUnresolved, err) }

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validScaleModes = map[string]bool{
	"fit":     true,
	"fill":    true,
	"stretch": true,
}

// Validate checks the config and returns all errors found. Out-of-range
// numbers are clamped to safe values; names that cannot be resolved are
// reported and left for the caller to reject.
func (c *Config) Validate() []error {
	var errs []error

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	m := &c.Mixer
	if enc, err := media.ParseSampleEncoding(m.Encoding); err != nil {
		errs = append(errs, unresolved(fmt.Errorf("mixer.encoding: %w", err)))
	} else if enc.Planar() {
		errs = append(errs, unresolved(fmt.Errorf("mixer.encoding %q must be interleaved", m.Encoding)))
	}
	if m.SampleRate < 8000 || m.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("mixer.sample_rate %d outside 8000..192000, clamping", m.SampleRate))
		m.SampleRate = min(max(m.SampleRate, 8000), 192000)
	}
	if m.Channels < 1 || m.Channels > 8 {
		errs = append(errs, fmt.Errorf("mixer.channels %d outside 1..8, clamping", m.Channels))
		m.Channels = min(max(m.Channels, 1), 8)
	}
	if m.BufferSize < 2 {
		errs = append(errs, fmt.Errorf("mixer.buffer_size %d is below minimum 2, using default", m.BufferSize))
		m.BufferSize = media.DefaultMixerBufferSize
	}
	if m.MixThreshold < 0 {
		errs = append(errs, fmt.Errorf("mixer.mix_threshold %d is negative, clamping", m.MixThreshold))
		m.MixThreshold = 0
	}
	if m.ChunkFrames < 1 {
		errs = append(errs, fmt.Errorf("mixer.chunk_frames %d is below minimum 1, clamping", m.ChunkFrames))
		m.ChunkFrames = 1
	}

	if _, err := media.ParseTonePattern(c.Tone.Pattern); err != nil {
		errs = append(errs, unresolved(fmt.Errorf("tone.pattern: %w", err)))
	}
	if c.Tone.Amplitude < 0 || c.Tone.Amplitude > 1 {
		errs = append(errs, fmt.Errorf("tone.amplitude %g outside 0..1, clamping", c.Tone.Amplitude))
		c.Tone.Amplitude = min(max(c.Tone.Amplitude, 0), 1)
	}

	tc := &c.Transcode
	if tc.AudioCodec != "" {
		if codec, err := media.ParseCodecID(tc.AudioCodec); err != nil {
			errs = append(errs, unresolved(fmt.Errorf("transcode.audio_codec: %w", err)))
		} else if codec.MediaType() != media.MediaTypeAudio {
			errs = append(errs, unresolved(fmt.Errorf("transcode.audio_codec %q is not an audio codec", tc.AudioCodec)))
		}
	}
	if tc.VideoCodec != "" {
		if codec, err := media.ParseCodecID(tc.VideoCodec); err != nil {
			errs = append(errs, unresolved(fmt.Errorf("transcode.video_codec: %w", err)))
		} else if codec.MediaType() != media.MediaTypeVideo {
			errs = append(errs, unresolved(fmt.Errorf("transcode.video_codec %q is not a video codec", tc.VideoCodec)))
		}
	}
	if tc.VideoWidth%2 != 0 || tc.VideoHeight%2 != 0 {
		errs = append(errs, unresolved(fmt.Errorf("transcode video size %dx%d must be even", tc.VideoWidth, tc.VideoHeight)))
	}
	if tc.VideoQuality < 1 || tc.VideoQuality > 100 {
		errs = append(errs, fmt.Errorf("transcode.video_quality %d outside 1..100, clamping", tc.VideoQuality))
		tc.VideoQuality = min(max(tc.VideoQuality, 1), 100)
	}
	if !validScaleModes[strings.ToLower(tc.ScaleMode)] {
		errs = append(errs, fmt.Errorf("transcode.scale_mode %q is not valid (use fit, fill, stretch)", tc.ScaleMode))
	}
	if tc.DecoderProvider != "" {
		if _, ok := media.ParseProvider(tc.DecoderProvider); !ok {
			errs = append(errs, unresolved(fmt.Errorf("transcode.decoder_provider %q is unknown", tc.DecoderProvider)))
		}
	}
	if tc.Workers < 1 || tc.Workers > 64 {
		errs = append(errs, fmt.Errorf("transcode.workers %d outside 1..64, clamping", tc.Workers))
		tc.Workers = min(max(tc.Workers, 1), 64)
	}

	return errs
}

// Check validates the config, logs every problem and returns the ones
// that must stop startup. Clamped values only produce warnings.
func (c *Config) Check(log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	var result *multierror.Error
	for _, err := range c.Validate() {
		if errors.Is(err, ErrUnresolved) {
			log.Error("config validation", "error", err)
			result = multierror.Append(result, err)
			continue
		}
		log.Warn("config validation", "error", err)
	}
	return result.ErrorOrNil()
}

// ScaleModeValue resolves the configured scale mode.
func (tc TranscodeConfig) ScaleModeValue() media.ScaleMode {
	switch strings.ToLower(tc.ScaleMode) {
	case "fill":
		return media.ScaleModeFill
	case "stretch":
		return media.ScaleModeStretch
	default:
		return media.ScaleModeFit
	}
}
