package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lecturekit/media"
	"github.com/lecturekit/media/internal/config"
	"github.com/lecturekit/media/internal/logging"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logFormat string
	logLevel  string

	cfg *config.Config

	outPath    string
	outDir     string
	container  string
	audioCodec string
	videoCodec string
	noAudio    bool
	noVideo    bool

	mixDuration time.Duration
	overlayFreq float64

	genDuration time.Duration
	genPattern  string

	playFrom time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "lectmedia",
	Short: "Lecture recording media tools",
	Long:  `lectmedia - mix, probe and transcode lecture recordings`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and codec availability",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <file>...",
	Short: "Print the streams of media files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var errs []error
		for _, path := range args {
			if err := probeFile(path); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
			}
		}
		return errors.Join(errs...)
	},
}

var transcodeCmd = &cobra.Command{
	Use:   "transcode <input>...",
	Short: "Transcode recordings into another codec or container",
	Long: `Transcode one input to --output, or many inputs into --out-dir.
Batch transcodes run transcode.workers sessions in parallel.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTranscode(args)
	},
}

var mixCmd = &cobra.Command{
	Use:   "mix <output.wav>",
	Short: "Record a synthetic lecture with a mixed-in overlay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMix(args[0])
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <output>",
	Short: "Write a synthetic lecture recording for testing",
	Long: `Write tone audio and a slide pattern into any writable container.
Codecs come from the transcode section of the config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerate(args[0])
	},
}

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Decode a recording's audio through the player without an audio device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlay(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/lectmedia/lectmedia.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	transcodeCmd.Flags().StringVarP(&outPath, "output", "o", "", "output file for a single input")
	transcodeCmd.Flags().StringVar(&outDir, "out-dir", "", "output directory for batch transcodes")
	transcodeCmd.Flags().StringVar(&container, "container", "", "output container (default from the output extension)")
	transcodeCmd.Flags().StringVar(&audioCodec, "audio-codec", "", "audio codec (overrides transcode.audio_codec)")
	transcodeCmd.Flags().StringVar(&videoCodec, "video-codec", "", "video codec (overrides transcode.video_codec)")
	transcodeCmd.Flags().BoolVar(&noAudio, "no-audio", false, "drop the audio stream")
	transcodeCmd.Flags().BoolVar(&noVideo, "no-video", false, "drop the video stream")

	mixCmd.Flags().DurationVarP(&mixDuration, "duration", "d", 5*time.Second, "recording length")
	mixCmd.Flags().Float64Var(&overlayFreq, "overlay-freq", 660, "overlay tone frequency in Hz")

	generateCmd.Flags().DurationVarP(&genDuration, "duration", "d", 10*time.Second, "recording length")
	generateCmd.Flags().StringVar(&genPattern, "pattern", "slides", "video pattern: bars, slides, checkerboard, box")
	generateCmd.Flags().StringVar(&container, "container", "", "output container (default from the output extension)")
	generateCmd.Flags().StringVar(&audioCodec, "audio-codec", "", "audio codec (overrides transcode.audio_codec)")
	generateCmd.Flags().StringVar(&videoCodec, "video-codec", "", "video codec (overrides transcode.video_codec)")
	generateCmd.Flags().BoolVar(&noAudio, "no-audio", false, "leave out audio")
	generateCmd.Flags().BoolVar(&noVideo, "no-video", false, "leave out video")

	playCmd.Flags().DurationVar(&playFrom, "from", 0, "start position")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(transcodeCmd)
	rootCmd.AddCommand(mixCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(playCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
	if err := cfg.Check(logging.L("config")); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printVersion() {
	fmt.Printf("lectmedia v%s\n", version)
	if media.IsOpusAvailable() {
		fmt.Printf("opus: %s\n", media.OpusVersion())
	} else {
		fmt.Println("opus: not available")
	}
	fmt.Printf("containers: %s\n", strings.Join(media.ContainerFormats(), ", "))
	for c := media.CodecPCMS16LE; c <= media.CodecRawVideo; c++ {
		var enc, dec []string
		for _, p := range media.EncoderProviders(c) {
			enc = append(enc, p.String())
		}
		for _, p := range media.DecoderProviders(c) {
			dec = append(dec, p.String())
		}
		fmt.Printf("  %-10s %-6s encode=[%s] decode=[%s]\n", c, c.MediaType(), strings.Join(enc, ","), strings.Join(dec, ","))
	}
}

func probeFile(path string) error {
	in, err := media.OpenFileStream(path)
	if err != nil {
		return err
	}
	defer in.Close()

	format, reader, err := media.OpenContainer(in)
	if err != nil {
		return err
	}
	defer reader.Close()

	fmt.Printf("%s: %s\n", path, format.Name)
	for i, p := range reader.Streams() {
		line := fmt.Sprintf("  #%d %s: %s", i, p.Type, p)
		if p.Duration > 0 && p.Timebase.Valid() {
			d := time.Duration(media.Rescale(p.Duration, p.Timebase, media.TimebaseMillis)) * time.Millisecond
			line += fmt.Sprintf(" duration=%s", d)
		}
		fmt.Println(line)
	}
	return nil
}

type job struct {
	input, output string
}

func transcodeJobs(inputs []string) ([]job, error) {
	if len(inputs) == 1 && outPath != "" {
		return []job{{inputs[0], outPath}}, nil
	}
	if outDir == "" {
		return nil, errors.New("use --output for one input or --out-dir for several")
	}
	ext := ".wav"
	if container != "" {
		f, err := media.ContainerByName(container)
		if err != nil {
			return nil, err
		}
		ext = f.Extensions[0]
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	jobs := make([]job, 0, len(inputs))
	for _, in := range inputs {
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		jobs = append(jobs, job{in, filepath.Join(outDir, base+ext)})
	}
	return jobs, nil
}

func runTranscode(inputs []string) error {
	jobs, err := transcodeJobs(inputs)
	if err != nil {
		return err
	}
	log := logging.L("transcode")

	ctx, stop := signalContext()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Transcode.Workers)
	for _, j := range jobs {
		g.Go(func() error {
			if err := transcodeOne(ctx, j); err != nil {
				log.Error("transcode failed", logging.KeyInput, j.input, logging.KeyError, err)
				return fmt.Errorf("%s: %w", j.input, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// codecNames resolves the audio and video codec, with flags taking
// precedence over the config.
func codecNames() (audio, video media.CodecID, err error) {
	tc := cfg.Transcode
	aname, vname := tc.AudioCodec, tc.VideoCodec
	if audioCodec != "" {
		aname = audioCodec
	}
	if videoCodec != "" {
		vname = videoCodec
	}
	if audio, err = media.ParseCodecID(aname); err != nil {
		return
	}
	video, err = media.ParseCodecID(vname)
	return
}

func transcodeOne(ctx context.Context, j job) error {
	in, err := media.OpenFileStream(j.input)
	if err != nil {
		return err
	}
	defer in.Close()

	tc := cfg.Transcode
	tcfg := media.TranscoderConfig{
		Input:      in,
		OutputPath: j.output,
		Container:  container,
		Logger:     logging.L("transcoder"),
	}
	if p, ok := media.ParseProvider(tc.DecoderProvider); ok {
		tcfg.DecoderProvider = p
	}

	acodec, vcodec, err := codecNames()
	if err != nil {
		return err
	}
	if !noAudio {
		tcfg.Audio = &media.AudioTarget{
			Codec:      acodec,
			Format:     media.AudioFormat{SampleRate: tc.AudioSampleRate, Channels: tc.AudioChannels},
			FrameSize:  tc.AudioFrameSize,
			BitrateBps: tc.AudioBitrate,
		}
	}
	if !noVideo {
		tcfg.Video = &media.VideoTarget{
			Codec:   vcodec,
			Picture: media.PictureFormat{Width: tc.VideoWidth, Height: tc.VideoHeight},
			FPS:     tc.VideoFPS,
			GOPSize: tc.VideoGOP,
			Quality: tc.VideoQuality,
			Scale:   tc.ScaleModeValue(),
		}
	}

	var skipped int
	tcfg.OnError = func(error) { skipped++ }

	t, err := media.NewTranscoder(tcfg)
	if err != nil {
		return err
	}
	log := logging.WithSession(logging.L("transcode"), t.ID())
	log.Info("transcoding", logging.KeyInput, j.input, logging.KeyOutput, j.output)

	if err := t.Start(ctx); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- t.Wait() }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			st := t.Stats()
			log.Info("transcode finished",
				"state", t.State(),
				"elapsed", st.Elapsed.Round(time.Millisecond),
				"audio_frames", st.AudioFramesOut,
				"video_frames", st.VideoFramesOut,
				"packet_errors", st.PacketErrors,
				"corrupt_streams", st.CorruptStreams,
				"bytes", st.Muxer.BytesWritten)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-ticker.C:
			log.Info("progress", "percent", fmt.Sprintf("%.1f", t.Progress()*100), "position", t.Clock().Time())
		}
	}
}

func runMix(path string) error {
	log := logging.L("mix")
	mc := cfg.Mixer

	enc, err := media.ParseSampleEncoding(mc.Encoding)
	if err != nil {
		return err
	}
	pattern, err := media.ParseTonePattern(cfg.Tone.Pattern)
	if err != nil {
		return err
	}
	format := media.NewAudioFormat(enc, mc.SampleRate, mc.Channels)
	frames := int64(mixDuration.Seconds() * float64(format.SampleRate))

	clock := media.NewSyncClock()
	mixer, err := media.NewAudioMixer(media.MixerConfig{
		Format:       format,
		Sink:         media.NewWavSink(path),
		BufferSize:   mc.BufferSize,
		MixThreshold: mc.MixThreshold,
		Clock:        clock,
		Logger:       logging.L("mixer"),
	})
	if err != nil {
		return err
	}

	lecture := media.NewToneDevice(media.ToneConfig{
		Name:      "lecture",
		Pattern:   pattern,
		Frequency: cfg.Tone.Frequency,
		Amplitude: cfg.Tone.Amplitude,
		Limit:     frames,
	})
	overlay := media.NewToneDevice(media.ToneConfig{
		Name:      "overlay",
		Pattern:   media.ToneSine,
		Frequency: overlayFreq,
		Amplitude: cfg.Tone.Amplitude / 2,
		Realtime:  true,
	})
	for _, dev := range []*media.ToneDevice{lecture, overlay} {
		if err := dev.Open(format); err != nil {
			return err
		}
		defer dev.Close()
		if err := dev.Start(); err != nil {
			return err
		}
		defer dev.Stop()
	}

	if err := mixer.Init(); err != nil {
		return err
	}
	defer mixer.Destroy()
	if err := mixer.Start(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mixer.Run(ctx, overlay, mc.ChunkFrames)
	})
	g.Go(func() error {
		// The overlay loop only ends on cancellation.
		defer cancel()
		return recordPrimary(ctx, mixer, lecture, clock, mc.ChunkFrames)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		mixer.Stop()
		return err
	}
	if err := mixer.Stop(); err != nil {
		return err
	}

	st := mixer.Stats()
	log.Info("recording finished", logging.KeyOutput, path,
		"position", clock.Time(),
		"bytes", st.BytesWritten,
		"mixed", st.BytesMixed,
		"dropped", st.BytesDropped)
	return nil
}

// recordPrimary pushes the lecture track through the mixer at real time.
func recordPrimary(ctx context.Context, mixer *media.AudioMixer, dev media.AudioInputDevice, clock *media.SyncClock, chunkFrames int) error {
	format := mixer.Format()
	buf := make([]byte, chunkFrames*format.BytesPerFrame())
	chunk := time.Duration(chunkFrames) * time.Second / time.Duration(format.SampleRate)

	ticker := time.NewTicker(chunk)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		n, err := dev.Read(buf)
		if n > 0 {
			if _, werr := mixer.Write(buf, 0, n); werr != nil {
				return werr
			}
		}
		if errors.Is(err, media.ErrEndOfStream) {
			logging.L("mix").Debug("lecture track finished", "position", clock.Time())
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func runGenerate(path string) error {
	tc := cfg.Transcode
	acodec, vcodec, err := codecNames()
	if err != nil {
		return err
	}
	pattern, err := media.ParsePatternType(genPattern)
	if err != nil {
		return err
	}
	tone, err := media.ParseTonePattern(cfg.Tone.Pattern)
	if err != nil {
		return err
	}

	gc := media.GenerateConfig{
		Duration:  genDuration,
		Container: container,
		Tone: media.ToneConfig{
			Pattern:   tone,
			Frequency: cfg.Tone.Frequency,
			Amplitude: cfg.Tone.Amplitude,
		},
		Pattern: media.PatternConfig{Pattern: pattern},
		Logger:  logging.L("generate"),
	}
	if !noAudio {
		gc.Audio = &media.AudioTarget{
			Codec:      acodec,
			Format:     media.AudioFormat{SampleRate: tc.AudioSampleRate, Channels: tc.AudioChannels},
			FrameSize:  tc.AudioFrameSize,
			BitrateBps: tc.AudioBitrate,
		}
	}
	if !noVideo {
		gc.Video = &media.VideoTarget{
			Codec:   vcodec,
			Picture: media.PictureFormat{Width: tc.VideoWidth, Height: tc.VideoHeight},
			FPS:     tc.VideoFPS,
			GOPSize: tc.VideoGOP,
			Quality: tc.VideoQuality,
		}
	}

	ctx, stop := signalContext()
	defer stop()
	_, err = media.GenerateRecording(ctx, path, gc)
	return err
}

func runPlay(path string) error {
	log := logging.L("play")
	in, err := media.OpenFileStream(path)
	if err != nil {
		return err
	}
	defer in.Close()

	dev := &media.DiscardDevice{}
	clock := media.NewSyncClock()
	var lastSecond time.Duration = -1
	player, err := media.NewAudioPlayer(media.PlayerConfig{
		Source:      in,
		Device:      dev,
		ChunkFrames: cfg.Mixer.ChunkFrames,
		Clock:       clock,
		OnProgress: func(pos, dur time.Duration) {
			if s := pos.Truncate(time.Second); s != lastSecond {
				lastSecond = s
				log.Debug("progress", "position", pos, "duration", dur)
			}
		},
		Logger: logging.L("player"),
	})
	if err != nil {
		return err
	}
	events := player.Lifecycle().Events()

	if err := player.Init(); err != nil {
		return err
	}
	defer player.Destroy()
	if playFrom > 0 {
		if err := player.Seek(playFrom); err != nil {
			return err
		}
	}
	if err := player.Start(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	for done := false; !done; {
		select {
		case <-ctx.Done():
			if err := player.Stop(); err != nil && !errors.Is(err, media.ErrIllegalStateTransition) {
				return err
			}
			done = true
		case ev := <-events:
			done = ev.Next == media.StateStopped || ev.Next == media.StateError
		}
	}
	if err := player.Err(); err != nil {
		return err
	}

	log.Info("playback finished", logging.KeyInput, path,
		"format", player.Format().String(),
		"duration", player.Duration(),
		"bytes", dev.Bytes())
	return nil
}
