// Format and timebase value types shared across the media package.
package media

import (
	"fmt"
	"math"
	"math/big"
)

// MediaType distinguishes audio from video streams, frames and packets.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeAudio
	MediaTypeVideo
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	default:
		return "unknown"
	}
}

// SampleEncoding describes how a single audio sample is laid out in memory.
// Planar encodings store each channel in its own plane.
type SampleEncoding int

const (
	SampleEncodingUnknown SampleEncoding = iota
	SampleU8                             // Unsigned 8-bit
	SampleS16LE                          // Signed 16-bit little-endian
	SampleS16BE                          // Signed 16-bit big-endian
	SampleS24LE                          // Signed 24-bit little-endian, packed in 3 bytes
	SampleS32LE                          // Signed 32-bit little-endian
	SampleF32LE                          // 32-bit float little-endian
	SampleF64LE                          // 64-bit float little-endian
	SampleU8P                            // Planar variants
	SampleS16P
	SampleS32P
	SampleF32P
	SampleF64P
)

var sampleEncodingNames = map[SampleEncoding]string{
	SampleU8:    "u8",
	SampleS16LE: "s16le",
	SampleS16BE: "s16be",
	SampleS24LE: "s24le",
	SampleS32LE: "s32le",
	SampleF32LE: "f32le",
	SampleF64LE: "f64le",
	SampleU8P:   "u8p",
	SampleS16P:  "s16p",
	SampleS32P:  "s32p",
	SampleF32P:  "f32p",
	SampleF64P:  "f64p",
}

func (e SampleEncoding) String() string {
	if name, ok := sampleEncodingNames[e]; ok {
		return name
	}
	return "unknown"
}

// ParseSampleEncoding maps a name such as "s16le" back to its encoding.
func ParseSampleEncoding(name string) (SampleEncoding, error) {
	for enc, n := range sampleEncodingNames {
		if n == name {
			return enc, nil
		}
	}
	return SampleEncodingUnknown, fmt.Errorf("unknown sample encoding %q", name)
}

// BitsPerSample is derived purely from the encoding.
func (e SampleEncoding) BitsPerSample() int {
	switch e {
	case SampleU8, SampleU8P:
		return 8
	case SampleS16LE, SampleS16BE, SampleS16P:
		return 16
	case SampleS24LE:
		return 24
	case SampleS32LE, SampleS32P, SampleF32LE, SampleF32P:
		return 32
	case SampleF64LE, SampleF64P:
		return 64
	default:
		return 0
	}
}

// BytesPerSample returns the size of one sample of one channel.
func (e SampleEncoding) BytesPerSample() int {
	return e.BitsPerSample() / 8
}

// Planar reports whether channels are stored in separate planes.
func (e SampleEncoding) Planar() bool {
	switch e {
	case SampleU8P, SampleS16P, SampleS32P, SampleF32P, SampleF64P:
		return true
	default:
		return false
	}
}

// Float reports whether samples are IEEE floating point.
func (e SampleEncoding) Float() bool {
	switch e {
	case SampleF32LE, SampleF32P, SampleF64LE, SampleF64P:
		return true
	default:
		return false
	}
}

// Packed returns the interleaved counterpart of a planar encoding.
func (e SampleEncoding) Packed() SampleEncoding {
	switch e {
	case SampleU8P:
		return SampleU8
	case SampleS16P:
		return SampleS16LE
	case SampleS32P:
		return SampleS32LE
	case SampleF32P:
		return SampleF32LE
	case SampleF64P:
		return SampleF64LE
	default:
		return e
	}
}

// PlanarOf returns the planar counterpart of an interleaved encoding, or the
// encoding itself when no planar layout exists.
func (e SampleEncoding) PlanarOf() SampleEncoding {
	switch e {
	case SampleU8:
		return SampleU8P
	case SampleS16LE:
		return SampleS16P
	case SampleS32LE:
		return SampleS32P
	case SampleF32LE:
		return SampleF32P
	case SampleF64LE:
		return SampleF64P
	default:
		return e
	}
}

// AudioFormat is an immutable description of PCM audio. Two formats are
// equal when all fields are equal.
type AudioFormat struct {
	Encoding   SampleEncoding
	SampleRate int
	Channels   int
}

// NewAudioFormat is a convenience constructor.
func NewAudioFormat(enc SampleEncoding, sampleRate, channels int) AudioFormat {
	return AudioFormat{Encoding: enc, SampleRate: sampleRate, Channels: channels}
}

func (f AudioFormat) String() string {
	return fmt.Sprintf("%s/%dHz/%dch", f.Encoding, f.SampleRate, f.Channels)
}

// BitsPerSample returns the sample width of the encoding.
func (f AudioFormat) BitsPerSample() int { return f.Encoding.BitsPerSample() }

// BytesPerFrame returns the size of one sample frame (one sample of every channel).
func (f AudioFormat) BytesPerFrame() int {
	return f.Encoding.BytesPerSample() * f.Channels
}

// Planes returns the number of data planes for this format.
func (f AudioFormat) Planes() int {
	if f.Encoding.Planar() {
		return f.Channels
	}
	return 1
}

// BytesPerPlaneSample returns the number of bytes one sample index occupies
// in a single plane.
func (f AudioFormat) BytesPerPlaneSample() int {
	if f.Encoding.Planar() {
		return f.Encoding.BytesPerSample()
	}
	return f.BytesPerFrame()
}

// Valid reports whether the format can describe real audio.
func (f AudioFormat) Valid() bool {
	return f.Encoding.BitsPerSample() > 0 && f.SampleRate > 0 && f.Channels > 0
}

// Timebase returns the natural 1/sampleRate timebase of the format.
func (f AudioFormat) Timebase() Timebase {
	return Timebase{Num: 1, Den: f.SampleRate}
}

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420   PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                      // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGB24                     // Packed RGB, 3 bytes per pixel
	PixelFormatRGBA32                    // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32                    // Packed BGRA, 4 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGB24:
		return "RGB24"
	case PixelFormatRGBA32:
		return "RGBA32"
	case PixelFormatBGRA32:
		return "BGRA32"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatRGB24, PixelFormatRGBA32, PixelFormatBGRA32:
		return 1 // Packed
	default:
		return 0
	}
}

// BytesPerPixel returns the pixel size of packed formats, 0 for YUV formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatRGB24:
		return 3
	case PixelFormatRGBA32, PixelFormatBGRA32:
		return 4
	default:
		return 0
	}
}

// PictureFormat describes the geometry and layout of raw video.
// Comparing two PictureFormats decides whether resampling is required.
type PictureFormat struct {
	Width  int
	Height int
	Pixel  PixelFormat
}

func (p PictureFormat) String() string {
	return fmt.Sprintf("%dx%d/%s", p.Width, p.Height, p.Pixel)
}

// PlaneSizes returns stride and byte size of every plane.
func (p PictureFormat) PlaneSizes() (strides []int, sizes []int) {
	w, h := p.Width, p.Height
	cw, ch := (w+1)/2, (h+1)/2
	switch p.Pixel {
	case PixelFormatI420:
		return []int{w, cw, cw}, []int{w * h, cw * ch, cw * ch}
	case PixelFormatNV12:
		return []int{w, cw * 2}, []int{w * h, cw * 2 * ch}
	default:
		bpp := p.Pixel.BytesPerPixel()
		return []int{w * bpp}, []int{w * bpp * h}
	}
}

// Size returns the total number of bytes of one picture.
func (p PictureFormat) Size() int {
	_, sizes := p.PlaneSizes()
	n := 0
	for _, s := range sizes {
		n += s
	}
	return n
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	return PictureFormat{Width: width, Height: height, Pixel: PixelFormatI420}.Size()
}

// Timebase is a rational number of seconds per tick.
type Timebase struct {
	Num int
	Den int
}

// Common timebases.
var (
	TimebaseMillis = Timebase{Num: 1, Den: 1000}
	Timebase90kHz  = Timebase{Num: 1, Den: 90000}
	Timebase48kHz  = Timebase{Num: 1, Den: 48000}
)

func (tb Timebase) String() string {
	return fmt.Sprintf("%d/%d", tb.Num, tb.Den)
}

// Valid reports whether both terms are positive.
func (tb Timebase) Valid() bool { return tb.Num > 0 && tb.Den > 0 }

// Float64 returns the seconds-per-tick value.
func (tb Timebase) Float64() float64 {
	if tb.Den == 0 {
		return 0
	}
	return float64(tb.Num) / float64(tb.Den)
}

// Invert returns Den/Num.
func (tb Timebase) Invert() Timebase { return Timebase{Num: tb.Den, Den: tb.Num} }

// NoPts marks an absent timestamp.
const NoPts = math.MinInt64

// Rescale converts v ticks of from into ticks of to:
//
//	v * from.Num * to.Den / (from.Den * to.Num)
//
// rounding half away from zero. NoPts is passed through unchanged.
func Rescale(v int64, from, to Timebase) int64 {
	if v == NoPts {
		return NoPts
	}
	if from == to {
		return v
	}
	b := int64(from.Num) * int64(to.Den)
	c := int64(from.Den) * int64(to.Num)
	if c == 0 {
		return NoPts
	}
	// Fast path when the product cannot overflow.
	if absInt64(v) < math.MaxInt32 && b < math.MaxInt32 && c < math.MaxInt32 {
		return roundDiv(v*b, c)
	}
	num := new(big.Int).Mul(big.NewInt(v), big.NewInt(b))
	den := big.NewInt(c)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	r2 := new(big.Int).Mul(new(big.Int).Abs(r), big.NewInt(2))
	if r2.Cmp(new(big.Int).Abs(den)) >= 0 {
		if num.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q.Int64()
}

func roundDiv(n, d int64) int64 {
	q := n / d
	r := n % d
	if 2*absInt64(r) >= absInt64(d) {
		if (n < 0) != (d < 0) {
			q--
		} else {
			q++
		}
	}
	return q
}

func absInt64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
