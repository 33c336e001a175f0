package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
)

// pictureEncoder turns one picture into a packet payload.
type pictureEncoder func(f *Frame) ([]byte, error)

// videoEncoder implements Encoder for intra-only video codecs. Packets are
// stamped from an output counter in a 1/fps timebase with duration 1.
type videoEncoder struct {
	config EncoderConfig
	log    *slog.Logger
	encode pictureEncoder

	framesIn  int64
	framesOut int64
	queue     packetQueue

	stats   EncoderStats
	statsMu sync.Mutex
	mu      sync.Mutex
}

func newVideoEncoder(config EncoderConfig, encode pictureEncoder) *videoEncoder {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	return &videoEncoder{config: config, log: log, encode: encode}
}

func (e *videoEncoder) Codec() CodecID        { return e.config.Codec }
func (e *videoEncoder) Provider() Provider    { return e.config.Provider }
func (e *videoEncoder) Config() EncoderConfig { return e.config }
func (e *videoEncoder) Timebase() Timebase    { return e.config.Timebase() }

func (e *videoEncoder) Stats() EncoderStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *videoEncoder) Encode(frame *Frame) (*Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if frame == nil {
		e.queue.draining = true
		return e.queue.next()
	}
	if e.queue.draining {
		return nil, fmt.Errorf("%s encoder: frame after end of stream: %w", e.config.Codec, ErrEndOfStream)
	}
	if frame.Type != MediaTypeVideo || frame.Picture != e.config.Picture {
		e.countError()
		return nil, fmt.Errorf("%s encoder expects %s, got %s", e.config.Codec, e.config.Picture, frame.Picture)
	}

	e.framesIn++
	data, err := e.encode(frame)
	if err != nil {
		e.countError()
		return nil, fmt.Errorf("%s encode: %w", e.config.Codec, err)
	}

	key := e.config.GOPSize <= 1 || e.framesOut%int64(e.config.GOPSize) == 0
	pkt := &Packet{
		Type:     MediaTypeVideo,
		Data:     data,
		Timebase: e.Timebase(),
		Pts:      e.framesOut,
		Dts:      e.framesOut,
		Duration: 1,
		KeyFrame: key,
	}
	e.framesOut++
	e.queue.push(pkt)

	e.statsMu.Lock()
	e.stats.FramesIn++
	e.stats.PacketsOut++
	e.stats.BytesOut += uint64(len(data))
	if key {
		e.stats.Keyframes++
	}
	e.statsMu.Unlock()

	return e.queue.next()
}

func (e *videoEncoder) countError() {
	e.statsMu.Lock()
	e.stats.Errors++
	e.statsMu.Unlock()
}

func (e *videoEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue.release()
	return nil
}

// pictureDecoder turns one packet payload into a picture.
type pictureDecoder func(payload []byte) (*Frame, error)

type videoDecoder struct {
	config DecoderConfig
	decode pictureDecoder
	queue  frameQueue

	stats   DecoderStats
	statsMu sync.Mutex
	mu      sync.Mutex
}

func (d *videoDecoder) Codec() CodecID        { return d.config.Codec }
func (d *videoDecoder) Provider() Provider    { return d.config.Provider }
func (d *videoDecoder) Config() DecoderConfig { return d.config }

func (d *videoDecoder) Stats() DecoderStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *videoDecoder) Decode(pkt *Packet) (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pkt == nil {
		d.queue.draining = true
		return d.queue.next()
	}
	if d.queue.draining {
		return nil, fmt.Errorf("%s decoder: packet after end of stream: %w", d.config.Codec, ErrEndOfStream)
	}

	d.statsMu.Lock()
	d.stats.PacketsIn++
	d.stats.BytesIn += uint64(len(pkt.Data))
	d.statsMu.Unlock()

	f, err := d.decode(pkt.Data)
	if err != nil {
		d.statsMu.Lock()
		d.stats.Errors++
		d.statsMu.Unlock()
		return nil, fmt.Errorf("%s decode: %w", d.config.Codec, err)
	}
	f.Timebase = pkt.Timebase
	f.Pts = pkt.Pts
	f.Dts = pkt.Dts
	f.Duration = pkt.Duration
	f.Key = pkt.KeyFrame
	d.queue.push(f)

	d.statsMu.Lock()
	d.stats.FramesOut++
	d.statsMu.Unlock()
	return d.queue.next()
}

func (d *videoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue.release()
	return nil
}

// --- MJPEG ---

func i420Image(f *Frame) (*image.YCbCr, error) {
	if f.Picture.Pixel != PixelFormatI420 || len(f.Planes) < 3 {
		return nil, fmt.Errorf("%w: mjpeg encodes I420 only, got %s", ErrNotSupported, f.Picture.Pixel)
	}
	w, h := f.Picture.Width, f.Picture.Height
	strides := f.Stride
	if len(strides) < 3 {
		strides, _ = f.Picture.PlaneSizes()
	}
	return &image.YCbCr{
		Y:              f.Planes[0],
		Cb:             f.Planes[1],
		Cr:             f.Planes[2],
		YStride:        strides[0],
		CStride:        strides[1],
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}, nil
}

func mjpegEncodeFunc(quality int) pictureEncoder {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return func(f *Frame) ([]byte, error) {
		img, err := i420Image(f)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

func mjpegDecode(payload []byte) (*Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	pic := PictureFormat{Width: b.Dx(), Height: b.Dy(), Pixel: PixelFormatI420}
	f := NewVideoFrame(pic)
	f.Key = true

	if ycc, ok := img.(*image.YCbCr); ok && ycc.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		copyPlane(f.Planes[0], f.Stride[0], ycc.Y[ycc.YOffset(b.Min.X, b.Min.Y):], ycc.YStride, pic.Width, pic.Height)
		cw, ch := (pic.Width+1)/2, (pic.Height+1)/2
		off := ycc.COffset(b.Min.X, b.Min.Y)
		copyPlane(f.Planes[1], f.Stride[1], ycc.Cb[off:], ycc.CStride, cw, ch)
		copyPlane(f.Planes[2], f.Stride[2], ycc.Cr[off:], ycc.CStride, cw, ch)
		return f, nil
	}

	// Other subsampling ratios and gray images go through the color model.
	for y := 0; y < pic.Height; y++ {
		for x := 0; x < pic.Width; x++ {
			c := color.YCbCrModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.YCbCr)
			f.Planes[0][y*f.Stride[0]+x] = c.Y
			if x%2 == 0 && y%2 == 0 {
				f.Planes[1][(y/2)*f.Stride[1]+x/2] = c.Cb
				f.Planes[2][(y/2)*f.Stride[2]+x/2] = c.Cr
			}
		}
	}
	return f, nil
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride, w, h int) {
	for y := 0; y < h; y++ {
		copy(dst[y*dstStride:y*dstStride+w], src[y*srcStride:y*srcStride+w])
	}
}

// --- Raw I420 ---

func rawEncode(f *Frame) ([]byte, error) {
	out := make([]byte, 0, f.ByteSize())
	for _, p := range f.Planes {
		out = append(out, p...)
	}
	return out, nil
}

func rawDecodeFunc(pic PictureFormat) pictureDecoder {
	return func(payload []byte) (*Frame, error) {
		if len(payload) != pic.Size() {
			return nil, fmt.Errorf("raw picture of %d bytes, expected %d for %s", len(payload), pic.Size(), pic)
		}
		f := NewVideoFrame(pic)
		off := 0
		for _, p := range f.Planes {
			off += copy(p, payload[off:])
		}
		return f, nil
	}
}

func init() {
	RegisterEncoder(CodecMJPEG, ProviderNative, AudioCapabilities{}, func(c EncoderConfig) (Encoder, error) {
		if c.Picture.Width <= 0 || c.Picture.Height <= 0 {
			return nil, fmt.Errorf("invalid picture %s", c.Picture)
		}
		c.Picture.Pixel = PixelFormatI420
		return newVideoEncoder(c, mjpegEncodeFunc(c.Quality)), nil
	})
	RegisterDecoder(CodecMJPEG, ProviderNative, func(c DecoderConfig) (Decoder, error) {
		return &videoDecoder{config: c, decode: mjpegDecode}, nil
	})

	RegisterEncoder(CodecRawVideo, ProviderNative, AudioCapabilities{}, func(c EncoderConfig) (Encoder, error) {
		if c.Picture.Width <= 0 || c.Picture.Height <= 0 {
			return nil, fmt.Errorf("invalid picture %s", c.Picture)
		}
		c.Picture.Pixel = PixelFormatI420
		return newVideoEncoder(c, rawEncode), nil
	})
	RegisterDecoder(CodecRawVideo, ProviderNative, func(c DecoderConfig) (Decoder, error) {
		if c.Picture.Width <= 0 || c.Picture.Height <= 0 {
			return nil, fmt.Errorf("rawvideo decoder needs the picture size")
		}
		c.Picture.Pixel = PixelFormatI420
		return &videoDecoder{config: c, decode: rawDecodeFunc(c.Picture)}, nil
	})
}
