package translate

import (
	"context"
	"errors"
)

// ErrTranslationUnavailable is the non-fatal failure surfaced when the
// collaborator cannot produce an English rendition; the memo is still saved
// without one.
var ErrTranslationUnavailable = errors.New("translation unavailable")

// Translator produces an English rendition of a final transcript.
type Translator interface {
	TranslateToEnglish(ctx context.Context, text, sourceLanguage string) (string, error)
}
