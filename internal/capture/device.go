package capture

import (
	"context"
	"errors"
	"sync"
)

// Device failure taxonomy, derived from the backend's reported reason.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceNotFound    = errors.New("no capture device found")
	ErrDeviceBusy        = errors.New("capture device busy")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// StreamConfig carries the constraints requested from the device.
type StreamConfig struct {
	SampleRate       int
	Channels         int
	FrameDurationMS  int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// FrameBytes is the size of one PCM frame at the configured cadence,
// 16-bit little-endian samples.
func (c StreamConfig) FrameBytes() int {
	return c.SampleRate * c.Channels * 2 * c.FrameDurationMS / 1000
}

// Frame is one timeslice of raw PCM delivered in capture order.
type Frame struct {
	Sequence int
	PCM      []byte
}

// Stream is a live microphone handle. Frames are delivered in order until
// the stream ends or Close is called.
type Stream struct {
	cfg    StreamConfig
	frames <-chan Frame
	stop   func()
	once   sync.Once
}

func NewStream(cfg StreamConfig, frames <-chan Frame, stop func()) *Stream {
	return &Stream{cfg: cfg, frames: frames, stop: stop}
}

func (s *Stream) Config() StreamConfig { return s.cfg }

func (s *Stream) Frames() <-chan Frame { return s.frames }

// Close stops every underlying track. Idempotent.
func (s *Stream) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Device abstracts platform microphone backends.
type Device interface {
	Open(ctx context.Context, cfg StreamConfig) (*Stream, error)
}
