package media

import (
	"errors"
	"math"
	"testing"
)

func TestCodecID_Names(t *testing.T) {
	tests := []struct {
		codec CodecID
		name  string
		typ   MediaType
		mime  string
	}{
		{CodecPCMS16LE, "pcm_s16le", MediaTypeAudio, "audio/L16"},
		{CodecPCMF32LE, "pcm_f32le", MediaTypeAudio, "audio/x-f32le"},
		{CodecPCMMulaw, "pcm_mulaw", MediaTypeAudio, "audio/PCMU"},
		{CodecPCMAlaw, "pcm_alaw", MediaTypeAudio, "audio/PCMA"},
		{CodecOpus, "opus", MediaTypeAudio, "audio/opus"},
		{CodecMJPEG, "mjpeg", MediaTypeVideo, "video/JPEG"},
		{CodecRawVideo, "rawvideo", MediaTypeVideo, "video/raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.codec.String(); got != tt.name {
				t.Errorf("String() = %v, want %v", got, tt.name)
			}
			if got := tt.codec.MediaType(); got != tt.typ {
				t.Errorf("MediaType() = %v, want %v", got, tt.typ)
			}
			if got := tt.codec.MimeType(); got != tt.mime {
				t.Errorf("MimeType() = %v, want %v", got, tt.mime)
			}
			parsed, err := ParseCodecID(tt.name)
			if err != nil || parsed != tt.codec {
				t.Errorf("ParseCodecID(%q) = %v, %v", tt.name, parsed, err)
			}
			if got := CodecFromPayloadType(tt.codec.DefaultPayloadType()); got != tt.codec {
				t.Errorf("payload type %d maps back to %v", tt.codec.DefaultPayloadType(), got)
			}
		})
	}

	if _, err := ParseCodecID("h264"); !errors.Is(err, ErrCodecNotSupported) {
		t.Errorf("ParseCodecID(h264) error = %v", err)
	}
	if CodecID(99).String() != "unknown" {
		t.Error("out of range codec should be unknown")
	}
}

func TestCodecID_ClockRate(t *testing.T) {
	tests := []struct {
		codec CodecID
		want  uint32
	}{
		{CodecOpus, 48000},
		{CodecPCMMulaw, 8000},
		{CodecPCMAlaw, 8000},
		{CodecMJPEG, 90000},
		{CodecRawVideo, 90000},
		{CodecPCMS16LE, 0},
	}
	for _, tt := range tests {
		t.Run(tt.codec.String(), func(t *testing.T) {
			if got := tt.codec.ClockRate(); got != tt.want {
				t.Errorf("ClockRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProvider(t *testing.T) {
	if !ProviderNative.Available() {
		t.Fatal("native provider must always be available")
	}
	if p, ok := ParseProvider("libopus"); !ok || p != ProviderLibopus {
		t.Errorf("ParseProvider(libopus) = %v, %v", p, ok)
	}
	if _, ok := ParseProvider("x264"); ok {
		t.Error("ParseProvider accepted an unknown name")
	}
	if !ProviderLibopus.Features().Has(FeatureLookahead) {
		t.Error("libopus should report lookahead")
	}
	if Provider(200).String() != "unknown" {
		t.Error("out of range provider should be unknown")
	}
}

func TestAudioCapabilities_Negotiate(t *testing.T) {
	caps := AudioCapabilities{
		SampleRates: []int{8000, 16000, 48000},
		Encodings:   []SampleEncoding{SampleS16LE},
		MaxChannels: 2,
	}
	tests := []struct {
		name  string
		in    AudioFormat
		want  AudioFormat
		warns int
	}{
		{"supported", NewAudioFormat(SampleS16LE, 16000, 1), NewAudioFormat(SampleS16LE, 16000, 1), 0},
		{"rate rounds up", NewAudioFormat(SampleS16LE, 44100, 2), NewAudioFormat(SampleS16LE, 48000, 2), 1},
		{"rate above max", NewAudioFormat(SampleS16LE, 96000, 2), NewAudioFormat(SampleS16LE, 48000, 2), 1},
		{"channels clamp", NewAudioFormat(SampleS16LE, 8000, 6), NewAudioFormat(SampleS16LE, 8000, 2), 1},
		{"encoding falls back", NewAudioFormat(SampleF32P, 48000, 2), NewAudioFormat(SampleS16LE, 48000, 2), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warns := 0
			got := caps.Negotiate(tt.in, func(string, ...any) { warns++ })
			if got != tt.want {
				t.Errorf("Negotiate(%s) = %s, want %s", tt.in, got, tt.want)
			}
			if warns != tt.warns {
				t.Errorf("warnings = %d, want %d", warns, tt.warns)
			}
		})
	}
}

func TestNewEncoder_Errors(t *testing.T) {
	if _, err := NewEncoder(EncoderConfig{Codec: CodecUnknown}); !errors.Is(err, ErrCodecNotSupported) {
		t.Errorf("unknown codec error = %v, want ErrCodecNotSupported", err)
	}
	_, err := NewEncoder(EncoderConfig{Codec: CodecPCMS16LE, Provider: ProviderLibopus, Format: NewAudioFormat(SampleS16LE, 48000, 2)})
	if !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("wrong provider error = %v, want ErrProviderNotFound", err)
	}
	if _, err := NewDecoder(DecoderConfig{Codec: CodecRawVideo}); err == nil {
		t.Error("rawvideo decoder without a picture size should fail")
	}
}

func TestPCMEncoder_FramesAndPts(t *testing.T) {
	format := NewAudioFormat(SampleS16LE, 48000, 2)
	enc, err := NewEncoder(EncoderConfig{Codec: CodecPCMS16LE, Format: format, FrameSize: 960})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	var pkts []*Packet
	for i := 0; i < 3; i++ {
		f := NewAudioFrame(format, 700)
		f.Pts = int64(i * 700)
		pkt, err := enc.Encode(f)
		f.Release()
		if err != nil {
			t.Fatal(err)
		}
		if pkt != nil {
			pkts = append(pkts, pkt)
		}
	}
	tail, err := DrainEncoder(enc)
	if err != nil {
		t.Fatal(err)
	}
	pkts = append(pkts, tail...)

	// 2100 samples: two full packets of 960 and a final 180.
	wantDur := []int64{960, 960, 180}
	if len(pkts) != len(wantDur) {
		t.Fatalf("got %d packets, want %d", len(pkts), len(wantDur))
	}
	pts := int64(0)
	for i, p := range pkts {
		if p.Pts != pts || p.Duration != wantDur[i] {
			t.Errorf("packet %d pts=%d dur=%d, want %d/%d", i, p.Pts, p.Duration, pts, wantDur[i])
		}
		if len(p.Data) != int(wantDur[i])*4 {
			t.Errorf("packet %d size = %d", i, len(p.Data))
		}
		if p.Timebase != format.Timebase() {
			t.Errorf("packet %d timebase = %s", i, p.Timebase)
		}
		pts += p.Duration
	}
}

// Flushing twice yields nothing the second time, and input after the flush
// is refused.
func TestEncoder_FlushIdempotent(t *testing.T) {
	format := NewAudioFormat(SampleS16LE, 8000, 1)
	enc, err := NewEncoder(EncoderConfig{Codec: CodecPCMMulaw, Format: format})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	f := NewAudioFrame(format, 160)
	if _, err := enc.Encode(f); err != nil {
		t.Fatal(err)
	}
	f.Release()

	first, err := DrainEncoder(enc)
	if err != nil {
		t.Fatal(err)
	}
	second, err := DrainEncoder(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("second drain returned %d packets (first returned %d)", len(second), len(first))
	}
	if _, err := enc.Encode(NewAudioFrame(format, 10)); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Encode after drain error = %v, want ErrEndOfStream", err)
	}
}

func TestEncoder_NegotiatesG711Format(t *testing.T) {
	enc, err := NewEncoder(EncoderConfig{Codec: CodecPCMAlaw, Format: NewAudioFormat(SampleF32LE, 48000, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	if got, want := enc.Config().Format, NewAudioFormat(SampleS16LE, 8000, 1); got != want {
		t.Errorf("negotiated format = %s, want %s", got, want)
	}
}

func TestG711_RoundTrip(t *testing.T) {
	for _, codec := range []CodecID{CodecPCMMulaw, CodecPCMAlaw} {
		t.Run(codec.String(), func(t *testing.T) {
			format := NewAudioFormat(SampleS16LE, 8000, 1)
			enc, err := NewEncoder(EncoderConfig{Codec: codec, Format: format})
			if err != nil {
				t.Fatal(err)
			}
			defer enc.Close()
			dec, err := NewDecoder(DecoderConfig{Codec: codec, Format: format})
			if err != nil {
				t.Fatal(err)
			}
			defer dec.Close()

			samples := make([]int16, 160)
			for i := range samples {
				samples[i] = int16(8000 * math.Sin(2*math.Pi*float64(i)/40))
			}
			in := s16Frame(format, 0, samples)
			pkt, err := enc.Encode(in)
			in.Release()
			if err != nil || pkt == nil {
				t.Fatalf("Encode = %v, %v", pkt, err)
			}
			if len(pkt.Data) != 160 {
				t.Errorf("payload = %d bytes, want one byte per sample", len(pkt.Data))
			}

			out, err := dec.Decode(pkt)
			if err != nil || out == nil {
				t.Fatalf("Decode = %v, %v", out, err)
			}
			defer out.Release()
			got := readS16(out.Planes[0])
			for i, want := range samples {
				// Companding keeps roughly 8 bits of precision.
				if d := math.Abs(float64(got[i]) - float64(want)); d > 300 {
					t.Fatalf("sample %d = %d, want %d", i, got[i], want)
				}
			}
		})
	}
}

func TestMJPEG_RoundTrip(t *testing.T) {
	pic := i420(64, 48)
	enc, err := NewEncoder(EncoderConfig{Codec: CodecMJPEG, Picture: pic, FPS: 25, Quality: 90, GOPSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	dec, err := NewDecoder(DecoderConfig{Codec: CodecMJPEG})
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	var pkts []*Packet
	for i := 0; i < 3; i++ {
		f := gradientFrame(64, 48)
		pkt, err := enc.Encode(f)
		f.Release()
		if err != nil {
			t.Fatal(err)
		}
		pkts = append(pkts, pkt)
	}
	for i, p := range pkts {
		if p.Pts != int64(i) || p.Duration != 1 || !p.KeyFrame {
			t.Errorf("packet %d pts=%d dur=%d key=%v", i, p.Pts, p.Duration, p.KeyFrame)
		}
		if p.Timebase != (Timebase{Num: 1, Den: 25}) {
			t.Errorf("packet %d timebase = %s", i, p.Timebase)
		}
	}

	out, err := dec.Decode(pkts[1])
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()
	if out.Picture != pic || out.Pts != 1 {
		t.Fatalf("decoded %s pts=%d", out.Picture, out.Pts)
	}
	ref := gradientFrame(64, 48)
	defer ref.Release()
	for x := 0; x < 64; x += 8 {
		a, b := int(out.Planes[0][24*64+x]), int(ref.Planes[0][24*64+x])
		if a-b > 12 || b-a > 12 {
			t.Errorf("luma at x=%d = %d, want about %d", x, a, b)
		}
	}

	if _, err := dec.Decode(&Packet{Type: MediaTypeVideo, Data: []byte{0xFF, 0xD8, 0x00}}); err == nil {
		t.Error("expected error for truncated JPEG")
	}
}

func TestRawVideo_RoundTripAndGOP(t *testing.T) {
	pic := i420(16, 16)
	enc, err := NewEncoder(EncoderConfig{Codec: CodecRawVideo, Picture: pic, FPS: 30, GOPSize: 3})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	dec, err := NewDecoder(DecoderConfig{Codec: CodecRawVideo, Picture: pic})
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	for i := 0; i < 6; i++ {
		f := gradientFrame(16, 16)
		pkt, err := enc.Encode(f)
		if err != nil {
			t.Fatal(err)
		}
		if want := i%3 == 0; pkt.KeyFrame != want {
			t.Errorf("frame %d key = %v, want %v", i, pkt.KeyFrame, want)
		}
		out, err := dec.Decode(pkt)
		if err != nil {
			t.Fatal(err)
		}
		for p := range f.Planes {
			for j := range f.Planes[p] {
				if f.Planes[p][j] != out.Planes[p][j] {
					t.Fatalf("frame %d plane %d differs at %d", i, p, j)
				}
			}
		}
		f.Release()
		out.Release()
	}

	if _, err := enc.Encode(gradientFrame(8, 8)); err == nil {
		t.Error("expected error for wrong picture size")
	}
	if enc.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", enc.Stats().Errors)
	}
}

func TestDecoder_DrainAfterEnd(t *testing.T) {
	format := NewAudioFormat(SampleS16LE, 48000, 1)
	dec, err := NewDecoder(DecoderConfig{Codec: CodecPCMS16LE, Format: format})
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	if _, err := dec.Decode(&Packet{Type: MediaTypeAudio, Data: []byte{1}}); err == nil {
		t.Error("expected error for odd-sized s16 payload")
	}
	frames, err := DrainDecoder(dec)
	if err != nil || len(frames) != 0 {
		t.Errorf("drain = %d frames, %v", len(frames), err)
	}
	if _, err := dec.Decode(&Packet{Data: []byte{0, 0}}); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("Decode after drain error = %v, want ErrEndOfStream", err)
	}
}
