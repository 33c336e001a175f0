package media

import (
	"testing"
)

func gradientFrame(width, height int) *Frame {
	f := NewVideoFrame(PictureFormat{Width: width, Height: height, Pixel: PixelFormatI420})
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			f.Planes[0][y*f.Stride[0]+x] = byte(x * 255 / width)
		}
	}
	for i := range f.Planes[1] {
		f.Planes[1][i] = 128
		f.Planes[2][i] = 128
	}
	f.Pts = 42
	f.Timebase = Timebase{Num: 1, Den: 25}
	return f
}

func i420(w, h int) PictureFormat {
	return PictureFormat{Width: w, Height: h, Pixel: PixelFormatI420}
}

func TestPictureResampler_Identity(t *testing.T) {
	r, err := NewPictureResampler(i420(640, 480), i420(640, 480), ScaleModeStretch)
	if err != nil {
		t.Fatal(err)
	}
	frame := gradientFrame(640, 480)
	defer frame.Release()

	out, err := r.Resample(frame)
	if err != nil {
		t.Fatal(err)
	}
	if out != frame {
		t.Error("expected same frame when no resampling is needed")
	}
}

func TestPictureResampler_Scale(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		dstW, dstH int
		mode       ScaleMode
	}{
		{"downscale", 1280, 720, 640, 360, ScaleModeStretch},
		{"upscale", 320, 240, 640, 480, ScaleModeStretch},
		{"fill crops", 1920, 1080, 640, 480, ScaleModeFill},
		{"fit letterboxes", 1920, 1080, 640, 480, ScaleModeFit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewPictureResampler(i420(tt.srcW, tt.srcH), i420(tt.dstW, tt.dstH), tt.mode)
			if err != nil {
				t.Fatal(err)
			}
			frame := gradientFrame(tt.srcW, tt.srcH)
			out, err := r.Resample(frame)
			frame.Release()
			if err != nil {
				t.Fatal(err)
			}
			defer out.Release()

			if out.Picture != i420(tt.dstW, tt.dstH) {
				t.Errorf("picture = %s, want %dx%d", out.Picture, tt.dstW, tt.dstH)
			}
			if len(out.Planes[0]) != tt.dstW*tt.dstH {
				t.Errorf("Y plane size = %d, want %d", len(out.Planes[0]), tt.dstW*tt.dstH)
			}
			if out.Pts != 42 || out.Timebase != (Timebase{Num: 1, Den: 25}) {
				t.Errorf("timestamps not carried: pts=%d tb=%s", out.Pts, out.Timebase)
			}
		})
	}
}

func TestPictureResampler_FitBarsAreBlack(t *testing.T) {
	// 16:9 into 4:3 leaves 60-pixel bars above and below a 640x360 picture.
	r, _ := NewPictureResampler(i420(1280, 720), i420(640, 480), ScaleModeFit)
	frame := gradientFrame(1280, 720)
	for i := range frame.Planes[0] {
		frame.Planes[0][i] = 200
	}
	out, err := r.Resample(frame)
	frame.Release()
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()

	if got := out.Planes[0][10*out.Stride[0]+320]; got != 0 {
		t.Errorf("bar luma = %d, want 0", got)
	}
	if got := out.Planes[0][240*out.Stride[0]+320]; got != 200 {
		t.Errorf("picture luma = %d, want 200", got)
	}
	if got := out.Planes[1][5*out.Stride[1]+160]; got != 128 {
		t.Errorf("bar chroma = %d, want 128", got)
	}
}

func TestPictureResampler_PixelConversion(t *testing.T) {
	src := PictureFormat{Width: 4, Height: 2, Pixel: PixelFormatRGBA32}
	r, err := NewPictureResampler(src, i420(4, 2), ScaleModeStretch)
	if err != nil {
		t.Fatal(err)
	}
	frame := NewVideoFrame(src)
	for i := 0; i < len(frame.Planes[0]); i += 4 {
		frame.Planes[0][i], frame.Planes[0][i+1], frame.Planes[0][i+2], frame.Planes[0][i+3] = 255, 255, 255, 255
	}
	out, err := r.Resample(frame)
	if err != nil {
		t.Fatal(err)
	}
	if out == frame {
		t.Fatal("conversion returned the input frame")
	}
	frame.Release()
	defer out.Release()

	if out.Planes[0][0] != 255 || out.Planes[1][0] != 128 || out.Planes[2][0] != 128 {
		t.Errorf("white converted to Y=%d Cb=%d Cr=%d", out.Planes[0][0], out.Planes[1][0], out.Planes[2][0])
	}

	// And back again.
	back, _ := NewPictureResampler(i420(4, 2), PictureFormat{Width: 4, Height: 2, Pixel: PixelFormatBGRA32}, ScaleModeStretch)
	bgra, err := back.Resample(out)
	if err != nil {
		t.Fatal(err)
	}
	defer bgra.Release()
	if p := bgra.Planes[0][:4]; p[0] != 255 || p[1] != 255 || p[2] != 255 || p[3] != 255 {
		t.Errorf("white round trip = %v", p)
	}
}

func TestPictureResampler_RejectsWrongInput(t *testing.T) {
	r, _ := NewPictureResampler(i420(64, 64), i420(32, 32), ScaleModeStretch)
	frame := gradientFrame(32, 32)
	defer frame.Release()
	if _, err := r.Resample(frame); err == nil {
		t.Error("expected error for mismatched picture")
	}
	if _, err := NewPictureResampler(i420(0, 10), i420(32, 32), ScaleModeFit); err == nil {
		t.Error("expected error for empty source")
	}
}

func TestCalculateScaledSize(t *testing.T) {
	tests := []struct {
		name             string
		srcW, srcH       int
		maxW, maxH       int
		mode             ScaleMode
		expectW, expectH int
	}{
		{"16:9 to 4:3 fit", 1920, 1080, 640, 480, ScaleModeFit, 640, 360},
		{"4:3 to 16:9 fit", 640, 480, 1280, 720, ScaleModeFit, 960, 720},
		{"same aspect", 1280, 720, 640, 360, ScaleModeFit, 640, 360},
		{"fill mode", 1920, 1080, 640, 480, ScaleModeFill, 640, 480},
		{"stretch mode", 1920, 1080, 640, 480, ScaleModeStretch, 640, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := CalculateScaledSize(tt.srcW, tt.srcH, tt.maxW, tt.maxH, tt.mode)
			if w != tt.expectW || h != tt.expectH {
				t.Errorf("Expected %dx%d, got %dx%d", tt.expectW, tt.expectH, w, h)
			}
		})
	}
}

func BenchmarkPictureResampler_720pTo480p(b *testing.B) {
	frame := gradientFrame(1280, 720)
	r, _ := NewPictureResampler(i420(1280, 720), i420(640, 480), ScaleModeFill)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out, _ := r.Resample(frame)
		out.Release()
	}
}
