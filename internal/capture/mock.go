package capture

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

type mockDevice struct {
	interval time.Duration
}

// NewMockDevice returns a device that synthesizes a quiet tone at the frame
// cadence. Pass a non-zero interval to speed frames up in tests.
func NewMockDevice(interval time.Duration) Device {
	return &mockDevice{interval: interval}
}

func (d *mockDevice) Open(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	frames := make(chan Frame)
	done := make(chan struct{})

	interval := d.interval
	if interval <= 0 {
		interval = time.Duration(cfg.FrameDurationMS) * time.Millisecond
	}

	go func() {
		defer close(frames)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		sequence := 0
		phase := 0.0
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame := Frame{Sequence: sequence, PCM: tonePCM(cfg, &phase)}
				sequence++
				select {
				case frames <- frame:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return NewStream(cfg, frames, func() { close(done) }), nil
}

// tonePCM fills one frame with a 440 Hz sine so downstream buffers are never
// empty-by-accident.
func tonePCM(cfg StreamConfig, phase *float64) []byte {
	samples := cfg.SampleRate * cfg.FrameDurationMS / 1000
	pcm := make([]byte, samples*cfg.Channels*2)
	step := 2 * math.Pi * 440 / float64(cfg.SampleRate)
	for i := 0; i < samples; i++ {
		value := int16(3000 * math.Sin(*phase))
		*phase += step
		for ch := 0; ch < cfg.Channels; ch++ {
			offset := (i*cfg.Channels + ch) * 2
			binary.LittleEndian.PutUint16(pcm[offset:], uint16(value))
		}
	}
	return pcm
}
