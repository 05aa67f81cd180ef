package transcribe

import (
	"context"
	"fmt"
)

// Result captures recognizer output for one pass over the session buffer.
type Result struct {
	Text       string
	Confidence float64
	// Language is the recognizer-reported ISO code, empty when the backend
	// does not detect one.
	Language string
}

// Recognizer abstracts speech-to-text backends.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, language string, final bool) (Result, error)
}

// ErrorKind classifies mid-session recognition failures. Recognition is a
// long-lived stream, so these surface through the result callback rather
// than a returned error.
type ErrorKind string

const (
	ErrNoSpeech         ErrorKind = "no-speech"
	ErrAudioCapture     ErrorKind = "audio-capture"
	ErrPermissionDenied ErrorKind = "not-allowed"
	ErrNetwork          ErrorKind = "network"
	ErrAborted          ErrorKind = "aborted"
	ErrUnknown          ErrorKind = "unknown"
)

// EngineError is a non-fatal recognition failure; recording continues.
type EngineError struct {
	Kind ErrorKind
	Code string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transcription error %s (%s)", e.Kind, e.Code)
	}
	return fmt.Sprintf("transcription error %s", e.Kind)
}
