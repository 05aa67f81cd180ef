package translate

import (
	"context"
	"strings"
)

type mockTranslator struct{}

func NewMockTranslator() Translator {
	return &mockTranslator{}
}

func (m *mockTranslator) TranslateToEnglish(_ context.Context, text, sourceLanguage string) (string, error) {
	return "[en from " + sourceLanguage + "] " + strings.TrimSpace(text), nil
}
