package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execTranslator shells out to a command that reads a JSON request on stdin
// and prints {"translation": ...}.
type execTranslator struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type execResponse struct {
	Translation string `json:"translation"`
}

func NewExecTranslator(command string) (Translator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translation command is empty")
	}
	return &execTranslator{cmd: args}, nil
}

func (t *execTranslator) TranslateToEnglish(ctx context.Context, text, sourceLanguage string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	input, err := json.Marshal(execRequest{Text: text, Source: baseLanguage(sourceLanguage), Target: "en"})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranslationUnavailable, err)
	}

	cmd := exec.CommandContext(ctx, t.cmd[0], t.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: translation command failed: %v", ErrTranslationUnavailable, err)
	}

	var decoded execResponse
	if err := json.Unmarshal(output, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode translation response: %v", ErrTranslationUnavailable, err)
	}
	if decoded.Translation == "" {
		return "", fmt.Errorf("%w: empty translation", ErrTranslationUnavailable)
	}
	return decoded.Translation, nil
}
