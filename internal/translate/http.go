package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// requestTimeout backstops callers whose context carries no deadline.
const requestTimeout = 30 * time.Second

// httpTranslator calls a LibreTranslate-compatible endpoint.
type httpTranslator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPTranslator(endpoint, apiKey string) Translator {
	return &httpTranslator{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: requestTimeout}}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

func (t *httpTranslator) TranslateToEnglish(ctx context.Context, text, sourceLanguage string) (string, error) {
	payload := translateRequest{
		Q:      text,
		Source: baseLanguage(sourceLanguage),
		Target: "en",
		APIKey: t.apiKey,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranslationUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranslationUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranslationUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: translator returned status %s", ErrTranslationUnavailable, resp.Status)
	}

	var decoded translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTranslationUnavailable, err)
	}
	if decoded.TranslatedText == "" {
		return "", fmt.Errorf("%w: empty translation", ErrTranslationUnavailable)
	}
	return decoded.TranslatedText, nil
}

// baseLanguage trims a locale tag to its language subtag ("es-ES" → "es").
func baseLanguage(code string) string {
	for i := 0; i < len(code); i++ {
		if code[i] == '-' {
			return code[:i]
		}
	}
	return code
}
