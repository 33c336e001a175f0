package media

import "fmt"

// CodecID identifies an audio or video codec.
type CodecID int

const (
	CodecUnknown  CodecID = iota
	CodecPCMS16LE         // Raw signed 16-bit little-endian PCM
	CodecPCMF32LE         // Raw 32-bit float PCM
	CodecPCMMulaw         // G.711 mu-law (PCMU)
	CodecPCMAlaw          // G.711 A-law (PCMA)
	CodecOpus
	CodecMJPEG    // Motion JPEG, one JPEG image per packet
	CodecRawVideo // Uncompressed I420
	codecCount
)

var codecNames = [codecCount]string{
	CodecUnknown:  "unknown",
	CodecPCMS16LE: "pcm_s16le",
	CodecPCMF32LE: "pcm_f32le",
	CodecPCMMulaw: "pcm_mulaw",
	CodecPCMAlaw:  "pcm_alaw",
	CodecOpus:     "opus",
	CodecMJPEG:    "mjpeg",
	CodecRawVideo: "rawvideo",
}

func (c CodecID) String() string {
	if c < 0 || c >= codecCount {
		return "unknown"
	}
	return codecNames[c]
}

// ParseCodecID maps a codec name such as "opus" to its CodecID.
func ParseCodecID(name string) (CodecID, error) {
	for c := CodecPCMS16LE; c < codecCount; c++ {
		if codecNames[c] == name {
			return c, nil
		}
	}
	return CodecUnknown, fmt.Errorf("%w: %q", ErrCodecNotSupported, name)
}

// MediaType returns whether the codec carries audio or video.
func (c CodecID) MediaType() MediaType {
	switch c {
	case CodecPCMS16LE, CodecPCMF32LE, CodecPCMMulaw, CodecPCMAlaw, CodecOpus:
		return MediaTypeAudio
	case CodecMJPEG, CodecRawVideo:
		return MediaTypeVideo
	default:
		return MediaTypeUnknown
	}
}

// MimeType returns the MIME type for this codec.
func (c CodecID) MimeType() string {
	switch c {
	case CodecPCMS16LE:
		return "audio/L16"
	case CodecPCMF32LE:
		return "audio/x-f32le"
	case CodecPCMMulaw:
		return "audio/PCMU"
	case CodecPCMAlaw:
		return "audio/PCMA"
	case CodecOpus:
		return "audio/opus"
	case CodecMJPEG:
		return "video/JPEG"
	case CodecRawVideo:
		return "video/raw"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate. Zero means the stream sample rate
// is used.
func (c CodecID) ClockRate() uint32 {
	switch c {
	case CodecOpus:
		return 48000
	case CodecPCMMulaw, CodecPCMAlaw:
		return 8000
	case CodecMJPEG, CodecRawVideo:
		return 90000
	default:
		return 0
	}
}

// DefaultPayloadType returns the RTP payload type used when writing rtpdump
// files. Static types are used where RFC 3551 defines one.
func (c CodecID) DefaultPayloadType() uint8 {
	switch c {
	case CodecPCMMulaw:
		return 0
	case CodecPCMAlaw:
		return 8
	case CodecMJPEG:
		return 26
	case CodecRawVideo:
		return 96
	case CodecPCMS16LE:
		return 97
	case CodecPCMF32LE:
		return 98
	case CodecOpus:
		return 111
	default:
		return 127
	}
}

// CodecFromPayloadType is the inverse of DefaultPayloadType.
func CodecFromPayloadType(pt uint8) CodecID {
	for c := CodecPCMS16LE; c < codecCount; c++ {
		if c.DefaultPayloadType() == pt {
			return c
		}
	}
	return CodecUnknown
}

// CodecParameters describes an elementary stream as a container sees it.
type CodecParameters struct {
	Codec    CodecID
	Type     MediaType
	Timebase Timebase

	// Audio
	Format AudioFormat

	// Video
	Picture PictureFormat
	FPS     int

	BitrateBps int
	Duration   int64 // In Timebase ticks; 0 if unknown
}

func (p CodecParameters) String() string {
	switch p.Type {
	case MediaTypeAudio:
		return fmt.Sprintf("%s %s tb=%s", p.Codec, p.Format, p.Timebase)
	case MediaTypeVideo:
		return fmt.Sprintf("%s %s@%dfps tb=%s", p.Codec, p.Picture, p.FPS, p.Timebase)
	default:
		return p.Codec.String()
	}
}
