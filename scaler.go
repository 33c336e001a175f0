package media

import (
	"fmt"
	"image/color"
)

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit scales to fit within target dimensions, preserving aspect ratio (letterbox).
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (may crop).
	ScaleModeFill
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleModeFit:
		return "fit"
	case ScaleModeFill:
		return "fill"
	case ScaleModeStretch:
		return "stretch"
	default:
		return "unknown"
	}
}

// PictureResampler converts video frames between picture formats: pixel
// layout and resolution. It is the identity when both formats are equal.
type PictureResampler struct {
	src, dst PictureFormat
	mode     ScaleMode
}

// NewPictureResampler creates a resampler from src to dst.
func NewPictureResampler(src, dst PictureFormat, mode ScaleMode) (*PictureResampler, error) {
	if src.Width <= 0 || src.Height <= 0 || dst.Width <= 0 || dst.Height <= 0 {
		return nil, fmt.Errorf("invalid picture resample %s -> %s", src, dst)
	}
	if src.Pixel.PlaneCount() == 0 || dst.Pixel.PlaneCount() == 0 {
		return nil, fmt.Errorf("%w: pixel format %s -> %s", ErrNotSupported, src.Pixel, dst.Pixel)
	}
	return &PictureResampler{src: src, dst: dst, mode: mode}, nil
}

// Identity reports whether frames pass through untouched.
func (r *PictureResampler) Identity() bool { return r.src == r.dst }

// Source returns the input picture format.
func (r *PictureResampler) Source() PictureFormat { return r.src }

// Target returns the output picture format.
func (r *PictureResampler) Target() PictureFormat { return r.dst }

// Resample converts f into the target format. In identity mode f itself is
// returned; otherwise a new pooled frame is returned and f stays owned by
// the caller.
func (r *PictureResampler) Resample(f *Frame) (*Frame, error) {
	if f.Type != MediaTypeVideo {
		return nil, fmt.Errorf("picture resampler got %s frame", f.Type)
	}
	if f.Picture != r.src {
		return nil, fmt.Errorf("picture resampler expects %s, got %s", r.src, f.Picture)
	}
	if r.Identity() {
		return f, nil
	}

	out, owned := f, false
	if f.Picture.Pixel != PixelFormatI420 {
		out, owned = toI420(f), true
	}
	if r.src.Width != r.dst.Width || r.src.Height != r.dst.Height {
		next := r.scale(out)
		if owned {
			out.Release()
		}
		out, owned = next, true
	}
	if r.dst.Pixel != PixelFormatI420 {
		next := fromI420(out, r.dst.Pixel)
		if owned {
			out.Release()
		}
		out, owned = next, true
	}
	if !owned {
		out = f.Clone()
	}
	out.Timebase = f.Timebase
	out.Pts = f.Pts
	out.Dts = f.Dts
	out.Duration = f.Duration
	out.Key = f.Key
	return out, nil
}

func (r *PictureResampler) scale(f *Frame) *Frame {
	dstPic := PictureFormat{Width: r.dst.Width, Height: r.dst.Height, Pixel: PixelFormatI420}
	out := NewVideoFrame(dstPic)

	// Black background for letterboxing.
	cw, ch := (dstPic.Width+1)/2, (dstPic.Height+1)/2
	for i := range out.Planes[1][:cw*ch] {
		out.Planes[1][i] = 128
		out.Planes[2][i] = 128
	}

	srcX, srcY, srcW, srcH := r.sourceRegion(f.Picture.Width, f.Picture.Height)
	dstX, dstY, dstW, dstH := 0, 0, dstPic.Width, dstPic.Height
	if r.mode == ScaleModeFit {
		dstW, dstH = CalculateScaledSize(srcW, srcH, dstPic.Width, dstPic.Height, ScaleModeFit)
		dstW, dstH = min(dstW, dstPic.Width), min(dstH, dstPic.Height)
		dstX, dstY = ((dstPic.Width-dstW)/2)&^1, ((dstPic.Height-dstH)/2)&^1
	}

	scalePlane(f.Planes[0], f.Stride[0], srcX, srcY, srcW, srcH,
		out.Planes[0][dstY*out.Stride[0]+dstX:], out.Stride[0], dstW, dstH)
	coff := (dstY/2)*out.Stride[1] + dstX/2
	scalePlane(f.Planes[1], f.Stride[1], srcX/2, srcY/2, (srcW+1)/2, (srcH+1)/2,
		out.Planes[1][coff:], out.Stride[1], (dstW+1)/2, (dstH+1)/2)
	scalePlane(f.Planes[2], f.Stride[2], srcX/2, srcY/2, (srcW+1)/2, (srcH+1)/2,
		out.Planes[2][coff:], out.Stride[2], (dstW+1)/2, (dstH+1)/2)
	return out
}

// sourceRegion determines what region of the source to use based on scale mode.
func (r *PictureResampler) sourceRegion(srcW, srcH int) (x, y, w, h int) {
	if r.mode != ScaleModeFill {
		return 0, 0, srcW, srcH
	}
	// Crop source to match target aspect ratio
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(r.dst.Width) / float64(r.dst.Height)

	if srcAspect > dstAspect {
		newW := int(float64(srcH) * dstAspect)
		return ((srcW - newW) / 2) &^ 1, 0, newW, srcH
	} else if srcAspect < dstAspect {
		newH := int(float64(srcW) / dstAspect)
		return 0, ((srcH - newH) / 2) &^ 1, srcW, newH
	}
	return 0, 0, srcW, srcH
}

// scalePlane scales a single plane using bilinear interpolation.
func scalePlane(src []byte, srcStride, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	// Fixed-point scaling factors (16.16)
	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		yWeight := srcYFP & 0xFFFF

		y0 := srcYFP>>16 + srcY
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}

		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			xWeight := srcXFP & 0xFFFF

			x0 := srcXFP>>16 + srcX
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}

			p00 := int(src[y0*srcStride+x0])
			p10 := int(src[y0*srcStride+x1])
			p01 := int(src[y1*srcStride+x0])
			p11 := int(src[y1*srcStride+x1])

			top := (p00*(0x10000-xWeight) + p10*xWeight) >> 16
			bottom := (p01*(0x10000-xWeight) + p11*xWeight) >> 16
			dst[y*dstStride+x] = byte((top*(0x10000-yWeight) + bottom*yWeight) >> 16)
		}
	}
}

// CalculateScaledSize returns the output dimensions when scaling with a given mode.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	if mode != ScaleModeFit {
		return maxW, maxH
	}
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(maxW) / float64(maxH)

	if srcAspect > dstAspect {
		w = maxW
		h = int(float64(maxW) / srcAspect)
	} else {
		h = maxH
		w = int(float64(maxH) * srcAspect)
	}
	// Even dimensions for YUV
	w = (w + 1) &^ 1
	h = (h + 1) &^ 1
	return w, h
}

// toI420 converts any supported pixel layout to I420.
func toI420(f *Frame) *Frame {
	pic := PictureFormat{Width: f.Picture.Width, Height: f.Picture.Height, Pixel: PixelFormatI420}
	out := NewVideoFrame(pic)
	w, h := pic.Width, pic.Height

	switch f.Picture.Pixel {
	case PixelFormatNV12:
		copyPlane(out.Planes[0], out.Stride[0], f.Planes[0], f.Stride[0], w, h)
		cw, ch := (w+1)/2, (h+1)/2
		for y := 0; y < ch; y++ {
			row := f.Planes[1][y*f.Stride[1]:]
			for x := 0; x < cw; x++ {
				out.Planes[1][y*out.Stride[1]+x] = row[2*x]
				out.Planes[2][y*out.Stride[2]+x] = row[2*x+1]
			}
		}
	case PixelFormatRGB24, PixelFormatRGBA32, PixelFormatBGRA32:
		bpp := f.Picture.Pixel.BytesPerPixel()
		rOff, bOff := 0, 2
		if f.Picture.Pixel == PixelFormatBGRA32 {
			rOff, bOff = 2, 0
		}
		for y := 0; y < h; y++ {
			row := f.Planes[0][y*f.Stride[0]:]
			for x := 0; x < w; x++ {
				p := row[x*bpp:]
				yy, cb, cr := color.RGBToYCbCr(p[rOff], p[1], p[bOff])
				out.Planes[0][y*out.Stride[0]+x] = yy
				if x%2 == 0 && y%2 == 0 {
					out.Planes[1][(y/2)*out.Stride[1]+x/2] = cb
					out.Planes[2][(y/2)*out.Stride[2]+x/2] = cr
				}
			}
		}
	}
	return out
}

// fromI420 converts an I420 frame to pixel layout px.
func fromI420(f *Frame, px PixelFormat) *Frame {
	pic := PictureFormat{Width: f.Picture.Width, Height: f.Picture.Height, Pixel: px}
	out := NewVideoFrame(pic)
	w, h := pic.Width, pic.Height

	switch px {
	case PixelFormatNV12:
		copyPlane(out.Planes[0], out.Stride[0], f.Planes[0], f.Stride[0], w, h)
		cw, ch := (w+1)/2, (h+1)/2
		for y := 0; y < ch; y++ {
			row := out.Planes[1][y*out.Stride[1]:]
			for x := 0; x < cw; x++ {
				row[2*x] = f.Planes[1][y*f.Stride[1]+x]
				row[2*x+1] = f.Planes[2][y*f.Stride[2]+x]
			}
		}
	case PixelFormatRGB24, PixelFormatRGBA32, PixelFormatBGRA32:
		bpp := px.BytesPerPixel()
		rOff, bOff := 0, 2
		if px == PixelFormatBGRA32 {
			rOff, bOff = 2, 0
		}
		for y := 0; y < h; y++ {
			row := out.Planes[0][y*out.Stride[0]:]
			for x := 0; x < w; x++ {
				yy := f.Planes[0][y*f.Stride[0]+x]
				cb := f.Planes[1][(y/2)*f.Stride[1]+x/2]
				cr := f.Planes[2][(y/2)*f.Stride[2]+x/2]
				r, g, b := color.YCbCrToRGB(yy, cb, cr)
				p := row[x*bpp:]
				p[rOff], p[1], p[bOff] = r, g, b
				if bpp == 4 {
					p[3] = 0xFF
				}
			}
		}
	}
	return out
}
