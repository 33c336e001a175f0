package media

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func readAllPackets(t *testing.T, data []byte) ([]CodecParameters, map[int][]*Packet) {
	t.Helper()
	_, reader, err := OpenContainer(NewBytesStream(data))
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	pkts := make(map[int][]*Packet)
	for {
		pkt, err := reader.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		pkts[pkt.StreamIndex] = append(pkts[pkt.StreamIndex], pkt.Clone())
		pkt.Release()
	}
	return reader.Streams(), pkts
}

func TestTranscoder_WavResample(t *testing.T) {
	in := NewAudioFormat(SampleS16LE, 48000, 2)
	input := wavBytes(t, in, sineS16(in, 48000, 440))
	outPath := filepath.Join(t.TempDir(), "out.wav")

	tr, err := NewTranscoder(TranscoderConfig{
		Input:      NewBytesStream(input),
		OutputPath: outPath,
		Audio: &AudioTarget{
			Codec:  CodecPCMS16LE,
			Format: AudioFormat{SampleRate: 16000, Channels: 1},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if tr.ID() == "" || tr.State() != SessionOpened {
		t.Fatalf("id=%q state=%s", tr.ID(), tr.State())
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tr.State() != SessionClosed {
		t.Errorf("state = %s, want closed", tr.State())
	}
	if p := tr.Progress(); p != 1 {
		t.Errorf("Progress() = %v, want 1", p)
	}
	if tr.Clock().Get() < 900 {
		t.Errorf("clock = %d ms, want close to 1000", tr.Clock().Get())
	}
	st := tr.Stats()
	if st.AudioFramesIn == 0 || st.AudioFramesOut == 0 || st.PacketErrors != 0 {
		t.Errorf("stats = %+v", st)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	streams, pkts := readAllPackets(t, data)
	want := NewAudioFormat(SampleS16LE, 16000, 1)
	if streams[0].Format != want {
		t.Errorf("output format = %s, want %s", streams[0].Format, want)
	}
	if streams[0].Duration != 16000 {
		t.Errorf("output duration = %d samples, want 16000", streams[0].Duration)
	}
	var total int64
	for _, p := range pkts[0] {
		total += p.Duration
	}
	if total != 16000 {
		t.Errorf("read %d samples, want 16000", total)
	}

	if err := tr.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestTranscoder_AudioAndVideoToRtpdump(t *testing.T) {
	audio := CodecParameters{Codec: CodecPCMS16LE, Type: MediaTypeAudio, Format: NewAudioFormat(SampleS16LE, 8000, 1)}
	video := CodecParameters{Codec: CodecRawVideo, Type: MediaTypeVideo, Picture: i420(32, 24), FPS: 10}
	var pkts []*Packet
	for i := 0; i < 10; i++ {
		f := gradientFrame(32, 24)
		raw, _ := rawEncode(f)
		f.Release()
		pkts = append(pkts,
			&Packet{Type: MediaTypeVideo, StreamIndex: 1, Pts: int64(i * 9000), Data: raw},
			&Packet{Type: MediaTypeAudio, StreamIndex: 0, Pts: int64(i * 800), Data: make([]byte, 1600)},
		)
	}
	input := rtpdumpBytes(t, []CodecParameters{audio, video}, pkts)

	var out MemWriteSeeker
	tr, err := NewTranscoder(TranscoderConfig{
		Input:     NewBytesStream(input),
		Output:    &out,
		Container: "rtpdump",
		Audio:     &AudioTarget{Codec: CodecPCMMulaw},
		Video:     &VideoTarget{Codec: CodecMJPEG, Picture: PictureFormat{Width: 16, Height: 12}, Quality: 80, GOPSize: 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	streams, got := readAllPackets(t, out.Bytes())
	if len(streams) != 2 {
		t.Fatalf("output has %d streams", len(streams))
	}
	var vi, ai int
	for i, s := range streams {
		switch s.Codec {
		case CodecMJPEG:
			vi = i
			if s.Picture != i420(16, 12) || s.FPS != 10 {
				t.Errorf("video stream = %s", s)
			}
		case CodecPCMMulaw:
			ai = i
		default:
			t.Errorf("unexpected stream %s", s)
		}
	}
	if n := len(got[vi]); n != 10 {
		t.Errorf("got %d video packets, want 10", n)
	}
	// 1 s of video at 10 fps in a 90 kHz clock.
	if last := got[vi][len(got[vi])-1]; last.Pts != 81000 {
		t.Errorf("last video pts = %d, want 81000", last.Pts)
	}
	var samples int64
	for _, p := range got[ai] {
		samples += int64(len(p.Data))
	}
	if samples != 8000 {
		t.Errorf("got %d mulaw samples, want 8000", samples)
	}
}

func TestTranscoder_CodecOpenErrorLeavesNoOutput(t *testing.T) {
	format := NewAudioFormat(SampleS16LE, 16000, 1)
	outPath := filepath.Join(t.TempDir(), "never.wav")

	_, err := NewTranscoder(TranscoderConfig{
		Input:      NewBytesStream(wavBytes(t, format, make([]int16, 1600))),
		OutputPath: outPath,
		Audio:      &AudioTarget{Codec: CodecPCMS16LE, Provider: ProviderLibopus},
	})
	var coe *CodecOpenError
	if !errors.As(err, &coe) {
		t.Fatalf("error = %v, want *CodecOpenError", err)
	}
	if coe.Codec != CodecPCMS16LE || !errors.Is(err, ErrCodecOpen) || !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("error = %v", err)
	}
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Errorf("output file exists after failed open: %v", err)
	}
}

func TestTranscoder_NoStreamsSelected(t *testing.T) {
	format := NewAudioFormat(SampleS16LE, 16000, 1)
	_, err := NewTranscoder(TranscoderConfig{
		Input:     NewBytesStream(wavBytes(t, format, make([]int16, 160))),
		Output:    &MemWriteSeeker{},
		Container: "wav",
		Video:     &VideoTarget{Codec: CodecMJPEG},
	})
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("error = %v, want ErrNotSupported", err)
	}
}

func TestTranscoder_CorruptVideoKeepsAudio(t *testing.T) {
	var mu sync.Mutex
	var reported []error

	var out MemWriteSeeker
	tr, err := NewTranscoder(TranscoderConfig{
		Input:     NewBytesStream(corruptVideoInput(t, 8)),
		Output:    &out,
		Container: "rtpdump",
		Audio:     &AudioTarget{Codec: CodecPCMS16LE},
		Video:     &VideoTarget{Codec: CodecMJPEG},
		OnError: func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tr.Wait(); err != nil {
		t.Fatalf("session failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || !errors.Is(reported[0], ErrStreamCorrupt) {
		t.Fatalf("reported = %v, want one stream corrupt error", reported)
	}
	if st := tr.Stats(); st.CorruptStreams != 1 || st.AudioFramesIn != 8 || st.VideoFramesOut != 0 {
		t.Errorf("stats = %+v", st)
	}

	streams, got := readAllPackets(t, out.Bytes())
	for i, s := range streams {
		if s.Type == MediaTypeAudio && len(got[i]) == 0 {
			t.Error("audio stream is empty")
		}
	}
}

func TestTranscoder_StopFinalizesOutput(t *testing.T) {
	in := NewAudioFormat(SampleS16LE, 48000, 2)
	input := wavBytes(t, in, make([]int16, 48000*2*20))
	outPath := filepath.Join(t.TempDir(), "stopped.wav")

	tr, err := NewTranscoder(TranscoderConfig{
		Input:      NewBytesStream(input),
		OutputPath: outPath,
		Audio:      &AudioTarget{Codec: CodecPCMS16LE},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if tr.State() != SessionClosed {
		t.Errorf("state = %s, want closed", tr.State())
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	streams, pkts := readAllPackets(t, data)
	var total int64
	for _, p := range pkts[0] {
		total += p.Duration
	}
	if total != streams[0].Duration {
		t.Errorf("header says %d samples, data holds %d", streams[0].Duration, total)
	}
}
