package media

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidCapacity        = errors.New("invalid buffer capacity")
	ErrRange                  = errors.New("offset/length out of range")
	ErrIllegalStateTransition = errors.New("illegal state transition")
	ErrMixer                  = errors.New("mixer error")
	ErrCodecOpen              = errors.New("codec open failed")
	ErrStreamCorrupt          = errors.New("stream corrupt")
	ErrDeviceNotConnected     = errors.New("device not connected")
	ErrEndOfStream            = errors.New("end of stream")
	ErrUnknownFormat          = errors.New("unknown container format")
	ErrNotSupported           = errors.New("operation not supported")
	ErrProviderNotFound       = errors.New("provider not available")
	ErrCodecNotSupported      = errors.New("codec not supported by provider")
	ErrClosed                 = errors.New("closed")
)

// IllegalStateTransitionError reports a lifecycle operation that is not
// permitted from the current state. The state is left unchanged.
type IllegalStateTransitionError struct {
	Op    string
	State State
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("%s: %s not allowed in state %s", ErrIllegalStateTransition, e.Op, e.State)
}

func (e *IllegalStateTransitionError) Unwrap() error { return ErrIllegalStateTransition }

// MixerError wraps a sink failure raised during a mixer lifecycle step.
type MixerError struct {
	Op  string
	Err error
}

func (e *MixerError) Error() string {
	return fmt.Sprintf("mixer %s: %v", e.Op, e.Err)
}

func (e *MixerError) Unwrap() []error { return []error{ErrMixer, e.Err} }

// CodecOpenError is fatal to a transcode session.
type CodecOpenError struct {
	Codec CodecID
	Err   error
}

func (e *CodecOpenError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCodecOpen, e.Codec, e.Err)
}

func (e *CodecOpenError) Unwrap() []error { return []error{ErrCodecOpen, e.Err} }

// StreamCorruptError terminates a single stream after repeated packet
// failures. Sibling streams keep running.
type StreamCorruptError struct {
	StreamIndex int
	Type        MediaType
	Failures    int
	Err         error // last packet-level error
}

func (e *StreamCorruptError) Error() string {
	return fmt.Sprintf("%s: %s stream %d after %d consecutive failures: %v",
		ErrStreamCorrupt, e.Type, e.StreamIndex, e.Failures, e.Err)
}

func (e *StreamCorruptError) Unwrap() []error { return []error{ErrStreamCorrupt, e.Err} }

// PacketError is a failure confined to a single frame or packet of one
// stream. The stream may continue with the next one.
type PacketError struct {
	StreamIndex int
	Type        MediaType
	Err         error
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("%s stream %d: %v", e.Type, e.StreamIndex, e.Err)
}

func (e *PacketError) Unwrap() error { return e.Err }
