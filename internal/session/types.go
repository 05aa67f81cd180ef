package session

import (
	"context"

	"github.com/memovoxlabs/memovox-core/internal/capture"
	"github.com/memovoxlabs/memovox-core/internal/encoder"
	"github.com/memovoxlabs/memovox-core/internal/transcribe"
)

// State is the recording session lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring-device"
	StateRecording  State = "recording"
	StateStopping   State = "stopping"
	StateFinalizing State = "finalizing"
	StateFailed     State = "failed"
)

// ErrorKind is the user-visible failure taxonomy for a session.
type ErrorKind string

const (
	ErrKindPermissionDenied   ErrorKind = "permission-denied"
	ErrKindDeviceNotFound     ErrorKind = "device-not-found"
	ErrKindDeviceBusy         ErrorKind = "device-busy"
	ErrKindDeviceUnavailable  ErrorKind = "device-unavailable"
	ErrKindEmptyRecording     ErrorKind = "empty-recording"
	ErrKindEncoderUnsupported ErrorKind = "encoder-unsupported"
	ErrKindUnknown            ErrorKind = "unknown"
)

// Artifact is the finished, immutable voice memo bundle handed to the
// persistence collaborator.
type Artifact struct {
	MemoID             string
	SessionID          string
	Audio              []byte
	MediaType          string
	DurationSeconds    int
	Transcript         string
	LanguageCode       string
	LanguageName       string
	EnglishTranslation string
}

// Outcome is the terminal result of a completed session: exactly one of
// Artifact or ErrorKind is set.
type Outcome struct {
	SessionID string
	Artifact  *Artifact
	ErrorKind ErrorKind
	Message   string
}

// Listener receives the UI-facing callback streams.
type Listener struct {
	Progress   func(sessionID string, elapsedSeconds int)
	Transcript func(sessionID string, event transcribe.Event)
	Outcome    func(outcome Outcome)
}

// DeviceManager is the capture collaborator contract.
type DeviceManager interface {
	Acquire(ctx context.Context) (*capture.Stream, error)
	Release()
}

// Encoder is the per-recording chunked audio encoder contract.
type Encoder interface {
	Start(stream *capture.Stream) error
	Stop(ctx context.Context) (encoder.Blob, error)
	Abort()
	MediaType() string
}

// EncoderFactory negotiates a fresh encoder for each session.
type EncoderFactory func() (Encoder, error)

// Transcriber is the live transcription collaborator contract, satisfied by
// *transcribe.Engine.
type Transcriber interface {
	Supported() bool
	Start(language string, sampleRate, channels int) error
	Feed(pcm []byte)
	Stop(ctx context.Context)
	Abort()
	Snapshot() transcribe.State
	OnResult(fn func(transcribe.Event))
	OnError(fn func(*transcribe.EngineError))
}
