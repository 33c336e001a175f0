package media

import (
	"errors"
	"io"
	"math"
	"testing"
)

func TestOpenDemuxer_UnknownFormat(t *testing.T) {
	_, err := OpenDemuxer(NewBytesStream([]byte("not a container")), DemuxerConfig{})
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("error = %v, want ErrUnknownFormat", err)
	}
}

func TestDemuxer_FramesAndProgress(t *testing.T) {
	format := NewAudioFormat(SampleS16LE, 48000, 1)
	d, err := OpenDemuxer(NewBytesStream(wavBytes(t, format, make([]int16, 4096))), DemuxerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if d.Format() != "wav" {
		t.Errorf("Format() = %s", d.Format())
	}
	if _, ok := d.VideoStream(); ok {
		t.Error("wav input reported a video stream")
	}

	var pts []int64
	for {
		f, err := d.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(pts) == 0 {
			if p := d.StreamProgress(0); math.Abs(p-0.25) > 1e-9 {
				t.Errorf("progress after first frame = %v, want 0.25", p)
			}
		}
		if f.Format != format {
			t.Errorf("frame format = %s", f.Format)
		}
		pts = append(pts, f.Pts)
		f.Release()
	}
	if len(pts) != 4 || pts[3] != 3072 {
		t.Errorf("frame pts = %v, want 4 frames of 1024", pts)
	}
	if p := d.TotalProgress(); p != 1 {
		t.Errorf("TotalProgress() = %v, want 1", p)
	}
	if _, err := d.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame after end = %v, want io.EOF", err)
	}
	if d.StreamProgress(7) != 0 {
		t.Error("progress of an unknown stream should be 0")
	}
}

// corruptVideoInput holds an L16 audio stream next to an MJPEG stream whose
// packets are not JPEG images.
func corruptVideoInput(t *testing.T, packets int) []byte {
	t.Helper()
	audio := CodecParameters{Codec: CodecPCMS16LE, Type: MediaTypeAudio, Format: NewAudioFormat(SampleS16LE, 8000, 1)}
	video := CodecParameters{Codec: CodecMJPEG, Type: MediaTypeVideo, Picture: i420(32, 32), FPS: 25}
	var pkts []*Packet
	for i := 0; i < packets; i++ {
		pkts = append(pkts,
			&Packet{Type: MediaTypeVideo, StreamIndex: 1, Pts: int64(i * 3600), Data: []byte{0xde, 0xad, byte(i)}},
			&Packet{Type: MediaTypeAudio, StreamIndex: 0, Pts: int64(i * 320), Data: make([]byte, 640)},
		)
	}
	return rtpdumpBytes(t, []CodecParameters{audio, video}, pkts)
}

func TestDemuxer_CorruptStreamEndsOnlyThatStream(t *testing.T) {
	d, err := OpenDemuxer(NewBytesStream(corruptVideoInput(t, 6)), DemuxerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	audioFrames, corrupt := 0, 0
	for {
		f, err := d.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		var cerr *StreamCorruptError
		if errors.As(err, &cerr) {
			corrupt++
			if cerr.Type != MediaTypeVideo || cerr.Failures != MaxConsecutiveFailures {
				t.Errorf("corrupt error = %+v", cerr)
			}
			if !errors.Is(err, ErrStreamCorrupt) {
				t.Error("error does not match ErrStreamCorrupt")
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if f.Type != MediaTypeAudio {
			t.Fatalf("unexpected %s frame", f.Type)
		}
		audioFrames++
		f.Release()
	}
	if corrupt != 1 {
		t.Errorf("got %d corrupt errors, want 1", corrupt)
	}
	if audioFrames != 6 {
		t.Errorf("got %d audio frames, want 6", audioFrames)
	}
}

// Two bad packets followed by a good one reset the failure count.
func TestFailureRun(t *testing.T) {
	var r failureRun
	boom := errors.New("bad packet")
	if r.fail(boom) || r.fail(boom) {
		t.Fatal("stream declared corrupt too early")
	}
	r.reset()
	if r.fail(boom) || r.fail(boom) {
		t.Fatal("reset did not clear the count")
	}
	if !r.fail(boom) {
		t.Fatal("third consecutive failure should end the stream")
	}
	if r.last != boom {
		t.Error("last error not kept")
	}
}
