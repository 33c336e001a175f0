// Package config loads lectmedia settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. LECTMEDIA_LOG_LEVEL or
// LECTMEDIA_MIXER_SAMPLE_RATE.
const EnvPrefix = "LECTMEDIA"

type Config struct {
	LogFormat string `mapstructure:"log_format"`
	LogLevel  string `mapstructure:"log_level"`

	Mixer     MixerConfig     `mapstructure:"mixer"`
	Tone      ToneConfig      `mapstructure:"tone"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
}

// MixerConfig drives the recording mixer.
type MixerConfig struct {
	Encoding     string `mapstructure:"encoding"`
	SampleRate   int    `mapstructure:"sample_rate"`
	Channels     int    `mapstructure:"channels"`
	BufferSize   int    `mapstructure:"buffer_size"`
	MixThreshold int    `mapstructure:"mix_threshold"`
	ChunkFrames  int    `mapstructure:"chunk_frames"`
}

// ToneConfig drives the synthetic overlay input.
type ToneConfig struct {
	Pattern   string  `mapstructure:"pattern"`
	Frequency float64 `mapstructure:"frequency"`
	Amplitude float64 `mapstructure:"amplitude"`
}

// TranscodeConfig holds output defaults for transcode sessions.
type TranscodeConfig struct {
	AudioCodec      string `mapstructure:"audio_codec"`
	AudioSampleRate int    `mapstructure:"audio_sample_rate"`
	AudioChannels   int    `mapstructure:"audio_channels"`
	AudioBitrate    int    `mapstructure:"audio_bitrate"`
	AudioFrameSize  int    `mapstructure:"audio_frame_size"`

	VideoCodec   string `mapstructure:"video_codec"`
	VideoWidth   int    `mapstructure:"video_width"`
	VideoHeight  int    `mapstructure:"video_height"`
	VideoFPS     int    `mapstructure:"video_fps"`
	VideoGOP     int    `mapstructure:"video_gop"`
	VideoQuality int    `mapstructure:"video_quality"`
	ScaleMode    string `mapstructure:"scale_mode"`

	DecoderProvider string `mapstructure:"decoder_provider"`
	Workers         int    `mapstructure:"workers"`
}

func Default() *Config {
	return &Config{
		LogFormat: "text",
		LogLevel:  "info",
		Mixer: MixerConfig{
			Encoding:    "s16le",
			SampleRate:  48000,
			Channels:    2,
			BufferSize:  1 << 20,
			ChunkFrames: 960,
		},
		Tone: ToneConfig{
			Pattern:   "sine",
			Frequency: 440,
			Amplitude: 0.25,
		},
		Transcode: TranscodeConfig{
			AudioCodec:   "pcm_s16le",
			AudioBitrate: 64000,
			VideoCodec:   "mjpeg",
			VideoGOP:     1,
			VideoQuality: 75,
			ScaleMode:    "fit",
			Workers:      2,
		},
	}
}

// Load reads cfgFile, or lectmedia.yaml from the config directory or the
// working directory when cfgFile is empty. A missing default file is not an
// error. Environment variables override file values.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("lectmedia")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to values
// absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetDefault("mixer.encoding", cfg.Mixer.Encoding)
	v.SetDefault("mixer.sample_rate", cfg.Mixer.SampleRate)
	v.SetDefault("mixer.channels", cfg.Mixer.Channels)
	v.SetDefault("mixer.buffer_size", cfg.Mixer.BufferSize)
	v.SetDefault("mixer.mix_threshold", cfg.Mixer.MixThreshold)
	v.SetDefault("mixer.chunk_frames", cfg.Mixer.ChunkFrames)

	v.SetDefault("tone.pattern", cfg.Tone.Pattern)
	v.SetDefault("tone.frequency", cfg.Tone.Frequency)
	v.SetDefault("tone.amplitude", cfg.Tone.Amplitude)

	v.SetDefault("transcode.audio_codec", cfg.Transcode.AudioCodec)
	v.SetDefault("transcode.audio_sample_rate", cfg.Transcode.AudioSampleRate)
	v.SetDefault("transcode.audio_channels", cfg.Transcode.AudioChannels)
	v.SetDefault("transcode.audio_bitrate", cfg.Transcode.AudioBitrate)
	v.SetDefault("transcode.audio_frame_size", cfg.Transcode.AudioFrameSize)
	v.SetDefault("transcode.video_codec", cfg.Transcode.VideoCodec)
	v.SetDefault("transcode.video_width", cfg.Transcode.VideoWidth)
	v.SetDefault("transcode.video_height", cfg.Transcode.VideoHeight)
	v.SetDefault("transcode.video_fps", cfg.Transcode.VideoFPS)
	v.SetDefault("transcode.video_gop", cfg.Transcode.VideoGOP)
	v.SetDefault("transcode.video_quality", cfg.Transcode.VideoQuality)
	v.SetDefault("transcode.scale_mode", cfg.Transcode.ScaleMode)
	v.SetDefault("transcode.decoder_provider", cfg.Transcode.DecoderProvider)
	v.SetDefault("transcode.workers", cfg.Transcode.Workers)
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "lectmedia")
	}
	return "."
}
