package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// GenerateConfig describes a synthetic lecture recording: a tone for the
// voice and a pattern for the slides.
type GenerateConfig struct {
	Duration  time.Duration
	Container string // Empty picks the container from the path

	// Nil targets leave the stream out; at least one is required.
	Audio *AudioTarget
	Video *VideoTarget

	Tone    ToneConfig
	Pattern PatternConfig

	Logger *slog.Logger
}

// GenerateRecording writes a synthetic recording to path. On failure the
// partial file is removed.
func GenerateRecording(ctx context.Context, path string, config GenerateConfig) (MuxerStats, error) {
	if config.Audio == nil && config.Video == nil {
		return MuxerStats{}, fmt.Errorf("%w: no streams requested", ErrNotSupported)
	}
	if config.Duration <= 0 {
		return MuxerStats{}, fmt.Errorf("generate: duration %s", config.Duration)
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	mux, err := CreateMuxer(path, MuxerConfig{Format: config.Container, Logger: log})
	if err != nil {
		return MuxerStats{}, err
	}
	fail := func(err error) (MuxerStats, error) {
		mux.Close()
		os.Remove(path)
		return MuxerStats{}, err
	}

	var pattern *PatternGenerator
	if config.Video != nil {
		pc := config.Pattern
		if config.Video.Picture.Width > 0 && config.Video.Picture.Height > 0 {
			pc.Width, pc.Height = config.Video.Picture.Width, config.Video.Picture.Height
		}
		if config.Video.FPS > 0 {
			pc.FPS = config.Video.FPS
		}
		pattern = NewPatternGenerator(pc)
		enc, err := NewEncoder(EncoderConfig{
			Codec:    config.Video.Codec,
			Provider: config.Video.Provider,
			Picture:  pattern.Picture(),
			FPS:      pattern.config.FPS,
			GOPSize:  config.Video.GOPSize,
			Quality:  config.Video.Quality,
			Logger:   log,
		})
		if err != nil {
			return fail(&CodecOpenError{Codec: config.Video.Codec, Err: err})
		}
		if _, err := mux.AddStream(enc, CodecParameters{Picture: pattern.Picture(), FPS: pattern.config.FPS}); err != nil {
			enc.Close()
			return fail(err)
		}
	}

	var tone *ToneDevice
	var format AudioFormat
	if config.Audio != nil {
		format = config.Audio.Format
		if format.SampleRate <= 0 {
			format.SampleRate = 48000
		}
		if format.Channels <= 0 {
			format.Channels = 1
		}
		format.Encoding = SampleS16LE
		enc, err := NewEncoder(EncoderConfig{
			Codec:      config.Audio.Codec,
			Provider:   config.Audio.Provider,
			Format:     format,
			FrameSize:  config.Audio.FrameSize,
			BitrateBps: config.Audio.BitrateBps,
			Logger:     log,
		})
		if err != nil {
			return fail(&CodecOpenError{Codec: config.Audio.Codec, Err: err})
		}
		format = enc.Config().Format
		if _, err := mux.AddStream(enc, CodecParameters{Format: format, BitrateBps: config.Audio.BitrateBps}); err != nil {
			enc.Close()
			return fail(err)
		}
		tc := config.Tone
		tc.Realtime = false
		tc.Limit = 0
		tone = NewToneDevice(tc)
		if err := tone.Open(format); err != nil {
			return fail(err)
		}
		defer tone.Close()
		if err := tone.Start(); err != nil {
			return fail(err)
		}
	}

	if err := mux.WriteHeader(); err != nil {
		return fail(err)
	}

	// One step per video frame, or 20 ms of audio without video.
	step := 20 * time.Millisecond
	if pattern != nil {
		step = time.Second / time.Duration(pattern.config.FPS)
	}
	steps := int64(config.Duration / step)
	var samplesOut int64

	for i := int64(0); i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if pattern != nil {
			if err := mux.WriteFrame(pattern.Next()); err != nil {
				return fail(err)
			}
		}
		if tone != nil {
			// Cumulative targets keep audio aligned when step is not a
			// whole number of samples.
			target := int64(time.Duration(i+1) * step * time.Duration(format.SampleRate) / time.Second)
			n := int(target - samplesOut)
			if n <= 0 {
				continue
			}
			f := NewAudioFrame(format, n)
			if _, err := tone.Read(f.Planes[0]); err != nil {
				f.Release()
				return fail(fmt.Errorf("read tone: %w", err))
			}
			f.Pts = samplesOut
			samplesOut += int64(n)
			if err := mux.WriteFrame(f); err != nil {
				return fail(err)
			}
		}
	}

	if err := mux.Close(); err != nil {
		os.Remove(path)
		return MuxerStats{}, err
	}
	stats := mux.Stats()
	log.Info("recording generated", "path", path, "container", mux.Format(), "duration", config.Duration,
		"audio_packets", stats.AudioPackets, "video_packets", stats.VideoPackets)
	return stats, nil
}
