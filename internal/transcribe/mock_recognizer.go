package transcribe

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, pcm []byte, _, _ int, language string, final bool) (Result, error) {
	mode := "partial"
	if final {
		mode = "final"
	}
	return Result{
		Text:       fmt.Sprintf("[%s transcript length=%d]", mode, len(pcm)),
		Confidence: 0,
		Language:   language,
	}, nil
}
