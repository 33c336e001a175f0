package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func s16(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func readS16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func newTestMixer(t *testing.T, bufSize int) (*AudioMixer, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	m, err := NewAudioMixer(MixerConfig{
		Format:     NewAudioFormat(SampleS16LE, 48000, 2),
		Sink:       &WriterSink{W: &out},
		BufferSize: bufSize,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	return m, &out
}

func TestMixSamples_S16Saturation(t *testing.T) {
	tests := []struct {
		name string
		a, b int16
		want int16
	}{
		{"sum", 1000, 2000, 3000},
		{"negative", -1000, 250, -750},
		{"clip high", 30000, 10000, math.MaxInt16},
		{"clip low", -30000, -10000, math.MinInt16},
		{"silence", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := s16(tt.a)
			MixSamples(dst, s16(tt.b), SampleS16LE)
			if got := readS16(dst)[0]; got != tt.want {
				t.Errorf("mix(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMixSamples_FloatClamp(t *testing.T) {
	dst := make([]byte, 8)
	src := make([]byte, 8)
	binary.LittleEndian.PutUint32(dst, math.Float32bits(0.75))
	binary.LittleEndian.PutUint32(src, math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(-0.25))
	binary.LittleEndian.PutUint32(src[4:], math.Float32bits(0.5))
	MixSamples(dst, src, SampleF32LE)

	if got := math.Float32frombits(binary.LittleEndian.Uint32(dst)); got != 1 {
		t.Errorf("clamped sum = %v, want 1", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(dst[4:])); got != 0.25 {
		t.Errorf("sum = %v, want 0.25", got)
	}
}

func TestAudioMixer_WriteMixesOverlay(t *testing.T) {
	m, out := newTestMixer(t, 1024)
	defer m.Destroy()
	defer m.Stop()

	overlay := s16(100, 200, 300, 400)
	if n := m.AddBytes(overlay); n != len(overlay) {
		t.Fatalf("AddBytes = %d, want %d", n, len(overlay))
	}

	primary := s16(1, 2, 3, 4, 5, 6)
	if n, err := m.Write(primary, 0, len(primary)); err != nil || n != len(primary) {
		t.Fatalf("Write = %d, %v", n, err)
	}

	got := readS16(out.Bytes())
	want := []int16{101, 202, 303, 404, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("output = %v, want %v", got, want)
		}
	}
	// The caller's buffer is never modified.
	if readS16(primary)[0] != 1 {
		t.Error("Write modified the input buffer")
	}
	if m.Available() != 0 {
		t.Errorf("overlay left in ring: %d", m.Available())
	}
	if st := m.Stats(); st.BytesMixed != 8 || st.BytesWritten != 12 {
		t.Errorf("stats = %+v", st)
	}
}

func TestAudioMixer_OverflowDrops(t *testing.T) {
	m, _ := newTestMixer(t, 1024)
	defer m.Destroy()
	defer m.Stop()

	// 500 stereo S16 sample frames are 2000 bytes.
	frame := NewAudioFrame(m.Format(), 500)
	n, err := m.AddFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1024 {
		t.Fatalf("AddFrame(2000 bytes) = %d, want 1024", n)
	}
	if m.Available() != 1024 {
		t.Errorf("Available() = %d, want 1024", m.Available())
	}
	if n := m.AddBytes(make([]byte, 4)); n != 0 {
		t.Errorf("AddBytes into full ring = %d, want 0", n)
	}
	if st := m.Stats(); st.BytesDropped != 976+4 {
		t.Errorf("BytesDropped = %d, want 980", st.BytesDropped)
	}
	frame.Release()
}

func TestAudioMixer_MixingDisabledPassesThrough(t *testing.T) {
	m, out := newTestMixer(t, 1024)
	defer m.Destroy()
	defer m.Stop()

	m.AddBytes(s16(500, 500))
	m.SetMixing(false)
	if n := m.AddBytes(s16(1, 1)); n != 0 {
		t.Errorf("AddBytes with mixing disabled = %d, want 0", n)
	}
	m.Write(s16(7, 7), 0, 4)
	if got := readS16(out.Bytes()); got[0] != 7 || got[1] != 7 {
		t.Errorf("output = %v, want passthrough [7 7]", got)
	}
}

func TestAudioMixer_SuspendKeepsBufferedOverlay(t *testing.T) {
	m, out := newTestMixer(t, 1024)
	defer m.Destroy()

	m.AddBytes(s16(10, 20))
	if err := m.Suspend(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Write(s16(1, 1), 0, 4); !errors.Is(err, ErrMixer) {
		t.Errorf("Write while suspended error = %v, want ErrMixer", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if m.Available() != 4 {
		t.Fatalf("buffered after resume = %d, want 4", m.Available())
	}
	m.Write(s16(1, 1), 0, 4)
	if got := readS16(out.Bytes()); got[0] != 11 || got[1] != 21 {
		t.Errorf("output = %v, want [11 21]", got)
	}

	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if m.Available() != 0 {
		t.Error("Stop did not clear the overlay ring")
	}
}

func TestAudioMixer_WriteRange(t *testing.T) {
	m, _ := newTestMixer(t, 64)
	defer m.Destroy()
	defer m.Stop()

	if _, err := m.Write(make([]byte, 4), 2, 4); !errors.Is(err, ErrRange) {
		t.Errorf("error = %v, want ErrRange", err)
	}
}

func TestAudioMixer_ClockFollowsWrites(t *testing.T) {
	clock := NewSyncClock()
	m, err := NewAudioMixer(MixerConfig{
		Format: NewAudioFormat(SampleS16LE, 8000, 1),
		Sink:   &WriterSink{W: &bytes.Buffer{}},
		Clock:  clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	m.Init()
	m.Start()
	defer m.Destroy()
	defer m.Stop()

	// 4000 mono S16 samples at 8 kHz is 500 ms.
	m.Write(make([]byte, 8000), 0, 8000)
	if clock.Get() != 500 {
		t.Errorf("clock = %d ms, want 500", clock.Get())
	}
}

func TestAudioMixer_StopResetsClock(t *testing.T) {
	clock := NewSyncClock()
	m, err := NewAudioMixer(MixerConfig{
		Format: NewAudioFormat(SampleS16LE, 8000, 1),
		Sink:   &WriterSink{W: &bytes.Buffer{}},
		Clock:  clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	m.Init()
	defer m.Destroy()
	m.Start()
	m.Write(make([]byte, 1600), 0, 1600)
	if clock.Get() != 100 {
		t.Fatalf("clock = %d ms, want 100", clock.Get())
	}

	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if clock.Get() != 0 {
		t.Errorf("clock after Stop = %d ms, want 0", clock.Get())
	}

	// A fresh start publishes from zero even if someone else moved the clock.
	clock.Set(5000)
	m.Init()
	m.Start()
	defer m.Stop()
	if clock.Get() != 0 {
		t.Errorf("clock after restart = %d ms, want 0", clock.Get())
	}
	m.Write(make([]byte, 160), 0, 160)
	if clock.Get() != 10 {
		t.Errorf("clock = %d ms, want 10", clock.Get())
	}
}

func TestAudioMixer_StopWithoutWritesLeavesValidWav(t *testing.T) {
	format := NewAudioFormat(SampleS16LE, 48000, 2)
	path := filepath.Join(t.TempDir(), "silent.wav")
	m, err := NewAudioMixer(MixerConfig{Format: format, Sink: NewWavSink(path)})
	if err != nil {
		t.Fatal(err)
	}
	m.Init()
	m.Start()
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	m.Destroy()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	checkEmptyWav(t, data, format)
}

func TestAudioMixer_RunFeedsOverlay(t *testing.T) {
	format := NewAudioFormat(SampleS16LE, 48000, 1)
	path := filepath.Join(t.TempDir(), "mix.wav")
	sink := NewWavSink(path)
	m, err := NewAudioMixer(MixerConfig{Format: format, Sink: sink, BufferSize: 1 << 16})
	if err != nil {
		t.Fatal(err)
	}
	m.Init()
	m.Start()

	dev := NewToneDevice(ToneConfig{Pattern: ToneSine, Limit: 4800})
	dev.Open(format)
	dev.Start()
	defer dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Run(ctx, dev, 960); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := m.Available(); got != 4800*2 {
		t.Fatalf("buffered = %d, want %d", got, 4800*2)
	}

	m.Write(make([]byte, 4800*2), 0, 4800*2)
	m.Stop()
	m.Destroy()

	if sink.BytesWritten() != 4800*2 {
		t.Errorf("sink wrote %d bytes, want %d", sink.BytesWritten(), 4800*2)
	}
}

func TestNewAudioMixer_RejectsPlanar(t *testing.T) {
	_, err := NewAudioMixer(MixerConfig{
		Format: NewAudioFormat(SampleS16P, 48000, 2),
		Sink:   &WriterSink{W: &bytes.Buffer{}},
	})
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("error = %v, want ErrNotSupported", err)
	}
}
