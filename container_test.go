package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestContainerFormats_Registered(t *testing.T) {
	got := ContainerFormats()
	want := []string{"ogg", "rtpdump", "wav"}
	if len(got) != len(want) {
		t.Fatalf("ContainerFormats() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ContainerFormats()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestProbeContainer(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   string
	}{
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), "wav"},
		{"ogg", []byte("OggS\x00\x02"), "ogg"},
		{"rtpdump", []byte("#!rtpplay1.0 0.0.0.0/0\n"), "rtpdump"},
		{"riff without wave", []byte("RIFF\x24\x00\x00\x00AVI LIST"), ""},
		{"garbage", []byte{0x00, 0x01, 0x02}, ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ProbeContainer(tt.header)
			if tt.want == "" {
				if !errors.Is(err, ErrUnknownFormat) {
					t.Errorf("error = %v, want ErrUnknownFormat", err)
				}
				return
			}
			if err != nil || f.Name != tt.want {
				t.Errorf("ProbeContainer = %s, %v; want %s", f.Name, err, tt.want)
			}
		})
	}
}

func TestContainerForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"lecture.wav", "wav"},
		{"/tmp/LECTURE.WAV", "wav"},
		{"talk.opus", "ogg"},
		{"talk.ogg", "ogg"},
		{"session.rtpdump", "rtpdump"},
		{"movie.mp4", ""},
		{"noext", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, err := ContainerForPath(tt.path)
			if tt.want == "" {
				if !errors.Is(err, ErrUnknownFormat) {
					t.Errorf("error = %v, want ErrUnknownFormat", err)
				}
				return
			}
			if err != nil || f.Name != tt.want {
				t.Errorf("ContainerForPath = %s, %v; want %s", f.Name, err, tt.want)
			}
		})
	}
	if _, err := ContainerByName("RTPDUMP"); err != nil {
		t.Errorf("ContainerByName is case sensitive: %v", err)
	}
}

func TestOpusPacketSamples(t *testing.T) {
	tests := []struct {
		name    string
		packet  []byte
		want    int
		wantErr bool
	}{
		{"silk 10ms single", []byte{0 << 3}, 480, false},
		{"silk 60ms double", []byte{3<<3 | 1}, 5760, false},
		{"hybrid 20ms", []byte{13 << 3}, 960, false},
		{"celt 2.5ms", []byte{16 << 3}, 120, false},
		{"celt 20ms cbr pair", []byte{31<<3 | 2}, 1920, false},
		{"celt 20ms code 3 x3", []byte{31<<3 | 3, 3}, 2880, false},
		{"code 3 truncated", []byte{31<<3 | 3}, 0, true},
		{"empty", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OpusPacketSamples(tt.packet)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("OpusPacketSamples = %d, want %d", got, tt.want)
			}
		})
	}
}

// wavBytes muxes interleaved S16 samples into an in-memory WAV file.
func wavBytes(t *testing.T, format AudioFormat, samples []int16) []byte {
	t.Helper()
	wavFormat, err := ContainerByName("wav")
	if err != nil {
		t.Fatal(err)
	}
	var out MemWriteSeeker
	mux, err := NewMuxer(&out, wavFormat, MuxerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	enc, err := NewEncoder(EncoderConfig{Codec: CodecPCMS16LE, Format: format, FrameSize: 1024})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mux.AddStream(enc, CodecParameters{Format: format}); err != nil {
		t.Fatal(err)
	}
	if err := mux.WriteHeader(); err != nil {
		t.Fatal(err)
	}
	if err := mux.WriteFrame(s16Frame(format, 0, samples)); err != nil {
		t.Fatal(err)
	}
	if err := mux.Close(); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func TestWav_RoundTrip(t *testing.T) {
	format := NewAudioFormat(SampleS16LE, 16000, 2)
	samples := sineS16(format, 3000, 440)
	data := wavBytes(t, format, samples)

	cf, reader, err := OpenContainer(NewBytesStream(data))
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	if cf.Name != "wav" {
		t.Fatalf("detected %s", cf.Name)
	}
	streams := reader.Streams()
	if len(streams) != 1 {
		t.Fatalf("got %d streams", len(streams))
	}
	p := streams[0]
	if p.Codec != CodecPCMS16LE || p.Format != format || p.Duration != 3000 {
		t.Fatalf("stream = %s duration %d", p, p.Duration)
	}

	var got []int16
	var next int64
	for {
		pkt, err := reader.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if pkt.Pts != next {
			t.Errorf("pts = %d, want %d", pkt.Pts, next)
		}
		next += pkt.Duration
		got = append(got, readS16(pkt.Data)...)
		pkt.Release()
	}
	if len(got) != len(samples) {
		t.Fatalf("read %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestWav_WriterRejectsOtherCodecs(t *testing.T) {
	w, _ := newWavWriter(&MemWriteSeeker{})
	if _, err := w.AddStream(CodecParameters{Codec: CodecOpus}); !errors.Is(err, ErrCodecNotSupported) {
		t.Errorf("error = %v, want ErrCodecNotSupported", err)
	}
}

// rtpdumpBytes writes packets for the given streams straight through the
// container writer. Packet pts are in each stream's RTP clock.
func rtpdumpBytes(t *testing.T, streams []CodecParameters, pkts []*Packet) []byte {
	t.Helper()
	var out MemWriteSeeker
	w, _ := newRtpdumpWriter(&out)
	for _, p := range streams {
		if _, err := w.AddStream(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.WriteHeader(); err != nil {
		t.Fatal(err)
	}
	for _, pkt := range pkts {
		if err := w.WritePacket(pkt); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.WriteTrailer(); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func TestRtpdump_RoundTripWithFragments(t *testing.T) {
	audio := CodecParameters{Codec: CodecPCMMulaw, Type: MediaTypeAudio, Format: NewAudioFormat(SampleS16LE, 8000, 1)}
	video := CodecParameters{Codec: CodecRawVideo, Type: MediaTypeVideo, Picture: i420(64, 48), FPS: 30}

	var pkts []*Packet
	for i := 0; i < 3; i++ {
		a := &Packet{Type: MediaTypeAudio, StreamIndex: 0, Pts: int64(i * 160), Data: make([]byte, 160)}
		// 4608 bytes of picture is split over several records.
		v := &Packet{Type: MediaTypeVideo, StreamIndex: 1, Pts: int64(i * 3000), Data: make([]byte, 64*48*3/2)}
		for j := range v.Data {
			v.Data[j] = byte(i + j)
		}
		pkts = append(pkts, a, v)
	}
	data := rtpdumpBytes(t, []CodecParameters{audio, video}, pkts)

	cf, reader, err := OpenContainer(NewBytesStream(data))
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	if cf.Name != "rtpdump" {
		t.Fatalf("detected %s", cf.Name)
	}

	streams := reader.Streams()
	if len(streams) != 2 {
		t.Fatalf("got %d streams", len(streams))
	}
	if s := streams[0]; s.Codec != CodecPCMMulaw || s.Timebase != (Timebase{Num: 1, Den: 8000}) || s.Duration != 480 {
		t.Errorf("audio stream = %s tb %s duration %d", s, s.Timebase, s.Duration)
	}
	if s := streams[1]; s.Codec != CodecRawVideo || s.Picture != i420(64, 48) || s.FPS != 30 || s.Duration != 9000 {
		t.Errorf("video stream = %s duration %d", s, s.Duration)
	}

	var videoSeen int
	for {
		pkt, err := reader.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if pkt.StreamIndex == 1 {
			if len(pkt.Data) != 64*48*3/2 {
				t.Fatalf("reassembled %d bytes", len(pkt.Data))
			}
			if pkt.Data[10] != byte(videoSeen+10) || pkt.Pts != int64(videoSeen*3000) {
				t.Errorf("video packet %d has wrong content or pts %d", videoSeen, pkt.Pts)
			}
			videoSeen++
		}
		pkt.Release()
	}
	if videoSeen != 3 {
		t.Errorf("read %d video packets, want 3", videoSeen)
	}
}

func TestOgg_RoundTrip(t *testing.T) {
	ogg, err := ContainerByName("ogg")
	if err != nil {
		t.Fatal(err)
	}
	var out MemWriteSeeker
	w, err := ogg.NewWriter(&out)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.AddStream(CodecParameters{Codec: CodecOpus, Format: NewAudioFormat(SampleS16LE, 48000, 2)}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteHeader(); err != nil {
		t.Fatal(err)
	}
	// CELT 20 ms frames; the payload past the TOC byte is never decoded here.
	for i := 0; i < 4; i++ {
		pkt := &Packet{Type: MediaTypeAudio, Pts: int64(i * 960), Data: []byte{31 << 3, byte(i), 0xAA}}
		if err := w.WritePacket(pkt); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.WriteTrailer(); err != nil {
		t.Fatal(err)
	}

	_, reader, err := OpenContainer(NewBytesStream(out.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	if p := reader.Streams()[0]; p.Codec != CodecOpus || p.Format.Channels != 2 || p.Timebase != Timebase48kHz {
		t.Fatalf("stream = %s", p)
	}
	for i := 0; i < 4; i++ {
		pkt, err := reader.ReadPacket()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if pkt.Pts != int64(i*960) || pkt.Duration != 960 || pkt.Data[1] != byte(i) {
			t.Errorf("packet %d pts=%d dur=%d", i, pkt.Pts, pkt.Duration)
		}
		pkt.Release()
	}
	if _, err := reader.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Errorf("error after last packet = %v, want io.EOF", err)
	}
}

func TestWav_EmptyOutputIsReadable(t *testing.T) {
	format := NewAudioFormat(SampleS16LE, 48000, 2)

	t.Run("muxer", func(t *testing.T) {
		wavFormat, _ := ContainerByName("wav")
		var out MemWriteSeeker
		mux, err := NewMuxer(&out, wavFormat, MuxerConfig{})
		if err != nil {
			t.Fatal(err)
		}
		enc, err := NewEncoder(EncoderConfig{Codec: CodecPCMS16LE, Format: format})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := mux.AddStream(enc, CodecParameters{Format: format}); err != nil {
			t.Fatal(err)
		}
		if err := mux.WriteHeader(); err != nil {
			t.Fatal(err)
		}
		if err := mux.Close(); err != nil {
			t.Fatal(err)
		}
		checkEmptyWav(t, out.Bytes(), format)
	})

	t.Run("sink", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.wav")
		sink := NewWavSink(path)
		if err := sink.Open(format); err != nil {
			t.Fatal(err)
		}
		if err := sink.Close(); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		checkEmptyWav(t, data, format)
	})
}

func checkEmptyWav(t *testing.T, data []byte, format AudioFormat) {
	t.Helper()
	if len(data) != 44 {
		t.Errorf("file is %d bytes, want a 44 byte header", len(data))
	}
	d, err := OpenDemuxer(NewBytesStream(data), DemuxerConfig{})
	if err != nil {
		t.Fatalf("OpenDemuxer: %v", err)
	}
	defer d.Close()
	p, ok := d.AudioStream()
	if !ok || p.Format != format || p.Duration != 0 {
		t.Errorf("stream = %+v, want empty %s", p, format)
	}
	if _, err := d.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame error = %v, want io.EOF", err)
	}
}

func TestRtpdump_KeepsStreamStartOffsets(t *testing.T) {
	audio := CodecParameters{Codec: CodecPCMMulaw, Type: MediaTypeAudio, Format: NewAudioFormat(SampleS16LE, 8000, 1)}
	video := CodecParameters{Codec: CodecMJPEG, Type: MediaTypeVideo, Picture: i420(16, 16), FPS: 30}

	pkts := []*Packet{
		{Type: MediaTypeAudio, StreamIndex: 0, Pts: 0, Data: make([]byte, 160)},
		{Type: MediaTypeVideo, StreamIndex: 1, Pts: 90000, Data: []byte{1, 2, 3}},
		{Type: MediaTypeAudio, StreamIndex: 0, Pts: 160, Data: make([]byte, 160)},
		{Type: MediaTypeVideo, StreamIndex: 1, Pts: 93000, Data: []byte{4, 5, 6}},
	}
	data := rtpdumpBytes(t, []CodecParameters{audio, video}, pkts)

	streams, got := readAllPackets(t, data)
	if len(got[0]) != 2 || len(got[1]) != 2 {
		t.Fatalf("read %d audio and %d video packets", len(got[0]), len(got[1]))
	}
	if got[0][0].Pts != 0 || got[1][0].Pts != 90000 || got[1][1].Pts != 93000 {
		t.Errorf("pts = audio %d video %d,%d; want 0 and 90000,93000", got[0][0].Pts, got[1][0].Pts, got[1][1].Pts)
	}
	if streams[1].Duration != 96000 {
		t.Errorf("video duration = %d, want 96000", streams[1].Duration)
	}
}

func TestRtpdump_WithoutDescriptionUsesRecordOffset(t *testing.T) {
	audio := CodecParameters{Codec: CodecPCMMulaw, Type: MediaTypeAudio, Format: NewAudioFormat(SampleS16LE, 8000, 1)}
	pkts := []*Packet{
		{Type: MediaTypeAudio, StreamIndex: 0, Pts: 8000, Data: make([]byte, 160)},
		{Type: MediaTypeAudio, StreamIndex: 0, Pts: 8160, Data: make([]byte, 160)},
	}
	data := rtpdumpBytes(t, []CodecParameters{audio}, pkts)

	// Drop the session description record that follows the file header.
	off := bytes.IndexByte(data, '\n') + 1 + rtpdumpFileHdr
	recLen := int(binary.BigEndian.Uint16(data[off:]))
	bare := append(append([]byte(nil), data[:off]...), data[off+recLen:]...)

	streams, got := readAllPackets(t, bare)
	if len(streams) != 1 || streams[0].Codec != CodecPCMMulaw {
		t.Fatalf("streams = %v", streams)
	}
	if len(got[0]) != 2 || got[0][0].Pts != 8000 || got[0][1].Pts != 8160 {
		t.Errorf("pts = %v, want 8000 then 8160", packetPts(got[0]))
	}
}

func packetPts(pkts []*Packet) []int64 {
	out := make([]int64, len(pkts))
	for i, p := range pkts {
		out[i] = p.Pts
	}
	return out
}
