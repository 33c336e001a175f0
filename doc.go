// Package media is the media core of a lecture recorder: it captures and
// mixes audio, keeps recording components in step, and transcodes finished
// recordings between codecs and containers.
//
// Key pieces include:
//   - RingBuffer and PlanarRingBuffer, bounded FIFO byte queues
//   - Lifecycle, the state machine shared by recording components
//   - SyncClock, the shared media position in milliseconds
//   - AudioMixer, which folds a live overlay stream into a recording
//   - Demuxer, Decoder, AudioResampler, PictureResampler, Encoder and Muxer
//   - Transcoder, one session wiring all of the above together
//
// # Architecture
//
//	Record: AudioInputDevice -> AudioMixer (+ overlay ring) -> AudioSink
//	Transcode: RandomAccessStream -> Demuxer -> Decoder -> Resampler -> Encoder -> Muxer
//
// Timestamps travel with frames and packets in their stream's Timebase and
// are rescaled with Rescale whenever they cross into another timebase.
//
// # Containers
//
// wav (PCM audio), ogg (Opus audio) and rtpdump (RTP packets for any mix
// of audio and video streams). Inputs are detected from their first
// ProbeSize bytes; outputs are chosen by name or file extension.
//
// # Codecs
//
// Audio: pcm_s16le, pcm_f32le, pcm_mulaw, pcm_alaw, opus (system libopus)
// Video: mjpeg, rawvideo (I420)
//
// Opus is loaded at runtime with purego. Set LECTMEDIA_OPUS_LIB to point at
// a specific libopus; build with the noopus tag to leave it out.
package media
