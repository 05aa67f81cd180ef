package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/memovoxlabs/memovox-core/internal/config"
	"github.com/memovoxlabs/memovox-core/internal/protocol"
)

// Manager owns at most one live microphone stream at a time and is the sole
// writer of the user-visible permission state.
type Manager struct {
	cfg    config.CaptureConfig
	device Device
	log    *slog.Logger

	mu       sync.Mutex
	stream   *Stream
	state    string
	onChange func(state string)
}

func NewManager(cfg config.CaptureConfig, device Device, log *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		device: device,
		log:    log.With(slog.String("component", "capture")),
		state:  protocol.PermissionUnknown,
	}
}

// OnPermissionChange registers an observer for permission transitions.
func (m *Manager) OnPermissionChange(fn func(state string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// PermissionState reports the last observed permission state.
func (m *Manager) PermissionState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Acquire requests exclusive microphone access with the configured
// constraints. Any stream still held from an earlier session is released
// first so it can never leak into the new one.
func (m *Manager) Acquire(ctx context.Context) (*Stream, error) {
	m.Release()

	m.setState(protocol.PermissionPrompt)

	cfg := StreamConfig{
		SampleRate:       m.cfg.SampleRate,
		Channels:         m.cfg.Channels,
		FrameDurationMS:  m.cfg.FrameDurationMS,
		EchoCancellation: m.cfg.EchoCancellation,
		NoiseSuppression: m.cfg.NoiseSuppression,
		AutoGainControl:  m.cfg.AutoGainControl,
	}

	stream, err := m.device.Open(ctx, cfg)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			m.setState(protocol.PermissionDenied)
		} else {
			m.setState(protocol.PermissionUnknown)
		}
		m.log.Warn("device acquire failed", slog.String("error", err.Error()))
		return nil, err
	}

	m.setState(protocol.PermissionGranted)

	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()
	return stream, nil
}

// Release stops the held stream and clears the reference. Safe to call
// repeatedly or when nothing is held.
func (m *Manager) Release() {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

// Held reports whether a live stream is currently owned.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

func (m *Manager) setState(state string) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	fn := m.onChange
	m.mu.Unlock()
	if changed && fn != nil {
		fn(state)
	}
}
