package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const recognizeTimeout = 45 * time.Second

// Event is delivered on every recognizer result. Interim events replace the
// previous hypothesis; final events are stable.
type Event struct {
	Text         string
	Confidence   float64
	Final        bool
	LanguageCode string
	LanguageName string
}

// State is the transcript snapshot the orchestrator reads at stop time.
type State struct {
	Interim      string
	Final        string
	LanguageCode string
	LanguageName string
	// LanguageDetected is true once a final recognizer result confirmed the
	// language rather than the locale-derived default.
	LanguageDetected bool
}

// Engine wraps a streaming recognizer: PCM is fed in capture order, interim
// hypotheses are emitted on a fixed cadence, and the final pass runs at stop.
type Engine struct {
	cfg        EngineConfig
	recognizer Recognizer
	log        *slog.Logger

	onResult func(Event)
	onError  func(*EngineError)

	mu           sync.Mutex
	listening    bool
	stopping     bool
	language     string
	sampleRate   int
	channels     int
	buffer       []byte
	interim      string
	final        []string
	langCode     string
	langDetected bool
	lastPartial  time.Time
	inflight     bool
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

// EngineConfig is the subset of transcription config the engine needs.
type EngineConfig struct {
	Enabled        bool
	PartialEveryMS int
	InterimResults bool
}

func NewEngine(cfg EngineConfig, recognizer Recognizer, log *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		recognizer: recognizer,
		log:        log.With(slog.String("component", "transcribe")),
	}
}

// Supported is a pure capability check; the orchestrator skips transcription
// entirely when it reports false.
func (e *Engine) Supported() bool {
	return e.cfg.Enabled && e.recognizer != nil
}

func (e *Engine) OnResult(fn func(Event)) { e.onResult = fn }

func (e *Engine) OnError(fn func(*EngineError)) { e.onError = fn }

// Start begins streaming recognition in the given locale.
func (e *Engine) Start(language string, sampleRate, channels int) error {
	if !e.Supported() {
		return errors.New("transcription not supported")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listening {
		return errors.New("transcription already listening")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.ctx = ctx
	e.cancel = cancel
	e.listening = true
	e.stopping = false
	e.language = language
	e.langCode = language
	e.langDetected = false
	e.sampleRate = sampleRate
	e.channels = channels
	e.buffer = nil
	e.interim = ""
	e.final = nil
	e.lastPartial = time.Time{}
	e.inflight = false
	return nil
}

// Feed appends a PCM timeslice and schedules an interim pass when the
// cadence allows.
func (e *Engine) Feed(pcm []byte) {
	e.mu.Lock()
	if !e.listening || e.stopping {
		e.mu.Unlock()
		return
	}
	e.buffer = append(e.buffer, pcm...)
	schedule := e.cfg.InterimResults && e.shouldSchedulePartialLocked()
	if !schedule {
		e.mu.Unlock()
		return
	}
	e.inflight = true
	e.lastPartial = time.Now()
	snapshot := append([]byte(nil), e.buffer...)
	ctx := e.ctx
	// Add under the lock so Stop's stopping flag and the wait cannot race
	// a schedule that already passed the guard.
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.runPartial(ctx, snapshot)
	}()
}

func (e *Engine) shouldSchedulePartialLocked() bool {
	if e.inflight {
		return false
	}
	if e.lastPartial.IsZero() {
		return true
	}
	interval := time.Duration(e.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	return time.Since(e.lastPartial) >= interval
}

func (e *Engine) runPartial(ctx context.Context, pcm []byte) {
	recognizeCtx, cancel := context.WithTimeout(ctx, recognizeTimeout)
	defer cancel()

	result, err := e.recognizer.Transcribe(recognizeCtx, pcm, e.sampleRate, e.channels, e.language, false)

	e.mu.Lock()
	e.inflight = false
	listening := e.listening
	if err == nil && listening {
		e.interim = result.Text
	}
	e.mu.Unlock()

	if err != nil {
		e.emitError(err)
		return
	}
	if !listening || result.Text == "" {
		return
	}
	e.emit(Event{
		Text:         result.Text,
		Confidence:   result.Confidence,
		Final:        false,
		LanguageCode: e.languageCode(),
		LanguageName: LanguageName(e.languageCode()),
	})
}

// Stop ends recognition gracefully: in-flight partials settle, then one
// trailing final pass runs over the whole session buffer.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.listening || e.stopping {
		e.mu.Unlock()
		return
	}
	e.stopping = true
	e.mu.Unlock()

	// Let in-flight interim passes settle before the trailing final pass.
	// The stopping flag keeps Feed from scheduling new ones meanwhile.
	e.wg.Wait()

	e.mu.Lock()
	e.listening = false
	e.stopping = false
	pcm := append([]byte(nil), e.buffer...)
	e.buffer = nil
	e.mu.Unlock()

	if len(pcm) == 0 {
		return
	}

	recognizeCtx, cancel := context.WithTimeout(ctx, recognizeTimeout)
	defer cancel()
	result, err := e.recognizer.Transcribe(recognizeCtx, pcm, e.sampleRate, e.channels, e.language, true)
	if err != nil {
		e.emitError(err)
		return
	}
	if strings.TrimSpace(result.Text) == "" {
		e.emitError(&EngineError{Kind: ErrNoSpeech})
		return
	}

	e.mu.Lock()
	e.final = append(e.final, result.Text)
	if result.Language != "" {
		e.langCode = result.Language
		e.langDetected = true
	}
	e.mu.Unlock()

	e.emit(Event{
		Text:         result.Text,
		Confidence:   result.Confidence,
		Final:        true,
		LanguageCode: e.languageCode(),
		LanguageName: LanguageName(e.languageCode()),
	})
}

// Abort ends recognition immediately and discards any pending result. No-op
// when not listening.
func (e *Engine) Abort() {
	e.mu.Lock()
	if !e.listening {
		e.mu.Unlock()
		return
	}
	e.listening = false
	e.stopping = false
	cancel := e.cancel
	e.buffer = nil
	e.interim = ""
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Snapshot returns the transcript state, refining the language with the
// script heuristic when the recognizer never established one but text exists.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := State{
		Interim:          e.interim,
		Final:            strings.Join(e.final, " "),
		LanguageCode:     e.langCode,
		LanguageDetected: e.langDetected,
	}
	if !state.LanguageDetected {
		text := state.Final
		if text == "" {
			text = state.Interim
		}
		if detected := DetectLanguage(text); detected != "" {
			state.LanguageCode = detected
			state.LanguageDetected = true
		}
	}
	state.LanguageName = LanguageName(state.LanguageCode)
	return state
}

func (e *Engine) languageCode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.langCode
}

func (e *Engine) emit(event Event) {
	if e.onResult != nil {
		e.onResult(event)
	}
}

func (e *Engine) emitError(err error) {
	engineErr := classify(err)
	e.log.Warn("transcription failed", slog.String("kind", string(engineErr.Kind)), slog.String("error", err.Error()))
	if e.onError != nil {
		e.onError(engineErr)
	}
}

func classify(err error) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.Canceled):
		return &EngineError{Kind: ErrAborted}
	case errors.Is(err, context.DeadlineExceeded):
		return &EngineError{Kind: ErrNetwork, Code: "timeout"}
	case strings.Contains(msg, "permission") || strings.Contains(msg, "not allowed"):
		return &EngineError{Kind: ErrPermissionDenied}
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return &EngineError{Kind: ErrNetwork}
	case strings.Contains(msg, "audio"):
		return &EngineError{Kind: ErrAudioCapture}
	default:
		return &EngineError{Kind: ErrUnknown, Code: err.Error()}
	}
}
