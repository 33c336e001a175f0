package media

import (
	"fmt"
	"math"
)

// PatternType selects the picture a PatternGenerator draws.
type PatternType int

const (
	PatternColorBars    PatternType = iota // 8-bar color bars
	PatternSlides                          // Text-like lines that change every slide
	PatternCheckerboard                    // Static checkerboard
	PatternMovingBox                       // Box orbiting the center
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "bars"
	case PatternSlides:
		return "slides"
	case PatternCheckerboard:
		return "checkerboard"
	case PatternMovingBox:
		return "box"
	default:
		return "unknown"
	}
}

// ParsePatternType maps a pattern name back to its value.
func ParsePatternType(name string) (PatternType, error) {
	for p := PatternColorBars; p <= PatternMovingBox; p++ {
		if p.String() == name {
			return p, nil
		}
	}
	return PatternColorBars, fmt.Errorf("unknown video pattern %q", name)
}

// PatternConfig configures a PatternGenerator.
type PatternConfig struct {
	Width   int // default: 640
	Height  int // default: 360
	FPS     int // default: 10
	Pattern PatternType

	SlideFrames int // Frames per slide for PatternSlides (default: 5 s worth)
	CheckerSize int // default: 32
}

// PatternGenerator produces synthetic I420 frames stamped in a 1/FPS
// timebase. It stands in for a screen or camera capture.
type PatternGenerator struct {
	config PatternConfig
	pic    PictureFormat
	frame  int64
}

// NewPatternGenerator creates a generator, filling in defaults.
func NewPatternGenerator(config PatternConfig) *PatternGenerator {
	if config.Width <= 0 {
		config.Width = 640
	}
	if config.Height <= 0 {
		config.Height = 360
	}
	if config.FPS <= 0 {
		config.FPS = 10
	}
	if config.SlideFrames <= 0 {
		config.SlideFrames = 5 * config.FPS
	}
	if config.CheckerSize <= 0 {
		config.CheckerSize = 32
	}
	return &PatternGenerator{
		config: config,
		pic:    PictureFormat{Width: config.Width, Height: config.Height, Pixel: PixelFormatI420},
	}
}

// Picture returns the generated picture format.
func (g *PatternGenerator) Picture() PictureFormat { return g.pic }

// Timebase returns the timebase of generated frames.
func (g *PatternGenerator) Timebase() Timebase { return Timebase{Num: 1, Den: g.config.FPS} }

// Next draws the next frame. The caller owns it.
func (g *PatternGenerator) Next() *Frame {
	f := NewVideoFrame(g.pic)
	f.Timebase = g.Timebase()
	f.Pts = g.frame
	f.Duration = 1
	f.Key = true

	switch g.config.Pattern {
	case PatternSlides:
		g.drawSlide(f, int(g.frame)/g.config.SlideFrames)
	case PatternCheckerboard:
		g.drawCheckerboard(f)
	case PatternMovingBox:
		g.drawMovingBox(f)
	default:
		g.drawColorBars(f)
	}
	g.frame++
	return f
}

// 75% bars, left to right.
var colorBarsRGB = [8][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
	{16, 16, 16},
}

func (g *PatternGenerator) drawColorBars(f *Frame) {
	barWidth := max(g.pic.Width/8, 1)
	g.paint(f, func(x, _ int) (uint8, uint8, uint8) {
		rgb := colorBarsRGB[min(x/barWidth, 7)]
		return rgbToYUV(rgb[0], rgb[1], rgb[2])
	})
}

// drawSlide renders a pale page with dark "text" lines whose lengths vary
// per slide, and a colored title bar.
func (g *PatternGenerator) drawSlide(f *Frame, slide int) {
	w, h := g.pic.Width, g.pic.Height
	title := colorBarsRGB[1+slide%6]
	ty, tu, tv := rgbToYUV(title[0], title[1], title[2])
	lineH := max(h/24, 2)
	margin := w / 12

	g.paint(f, func(x, y int) (uint8, uint8, uint8) {
		if y < h/8 {
			return ty, tu, tv
		}
		row := (y - h/8) / lineH
		if row%2 == 1 && x >= margin {
			// Pseudo-random line length, stable within a slide.
			seed := uint32(slide*131 + row*17)
			seed ^= seed << 13
			seed ^= seed >> 17
			length := w/3 + int(seed%uint32(max(w/2, 1)))
			if x < margin+length {
				return 40, 128, 128
			}
		}
		return 230, 128, 128
	})
}

func (g *PatternGenerator) drawCheckerboard(f *Frame) {
	size := g.config.CheckerSize
	g.paint(f, func(x, y int) (uint8, uint8, uint8) {
		if ((x/size)+(y/size))%2 == 0 {
			return 235, 128, 128
		}
		return 16, 128, 128
	})
}

func (g *PatternGenerator) drawMovingBox(f *Frame) {
	w, h := g.pic.Width, g.pic.Height
	box := max(min(w, h)/6, 2)
	radius := float64(min(w, h)) / 4
	angle := float64(g.frame) * 0.05
	bx := w/2 + int(radius*math.Cos(angle)) - box/2
	by := h/2 + int(radius*math.Sin(angle)) - box/2

	g.paint(f, func(x, y int) (uint8, uint8, uint8) {
		if x >= bx && x < bx+box && y >= by && y < by+box {
			return 235, 128, 128
		}
		return 16, 128, 128
	})
}

// paint fills every luma sample and the top-left chroma sample of each
// 2x2 block from color.
func (g *PatternGenerator) paint(f *Frame, color func(x, y int) (uint8, uint8, uint8)) {
	for y := 0; y < g.pic.Height; y++ {
		for x := 0; x < g.pic.Width; x++ {
			yv, u, v := color(x, y)
			f.Planes[0][y*f.Stride[0]+x] = yv
			if x%2 == 0 && y%2 == 0 {
				f.Planes[1][(y/2)*f.Stride[1]+x/2] = u
				f.Planes[2][(y/2)*f.Stride[2]+x/2] = v
			}
		}
	}
}

// rgbToYUV converts studio-range RGB to BT.601 YCbCr.
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0
	return uint8(math.Max(16, math.Min(yf, 235))), uint8(math.Max(16, math.Min(uf, 240))), uint8(math.Max(16, math.Min(vf, 240)))
}
