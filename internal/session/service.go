package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/memovoxlabs/memovox-core/internal/capture"
	"github.com/memovoxlabs/memovox-core/internal/config"
	"github.com/memovoxlabs/memovox-core/internal/encoder"
	"github.com/memovoxlabs/memovox-core/internal/transcribe"
	"github.com/memovoxlabs/memovox-core/internal/translate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// translateTimeout bounds the post-stop translation call so a stalled
// backend cannot hold the finalizing session open.
const translateTimeout = 15 * time.Second

// Service is the recording session orchestrator: the only component the UI
// boundary talks to. It composes the capture manager, encoder, transcription
// engine, and translator, and guarantees exactly one artifact or error per
// completed session.
type Service struct {
	cfg        config.SessionConfig
	locale     string
	devices    DeviceManager
	newEncoder EncoderFactory
	engine     Transcriber
	translator translate.Translator
	log        *slog.Logger
	listener   Listener

	// tick is injectable so tests can compress the progress timer.
	tick time.Duration

	started   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	durations metric.Float64Histogram

	mu             sync.Mutex
	state          State
	toggleInFlight bool
	// generation advances on every start and every abort; a toggle that
	// suspended (device acquisition, encoder stop) revalidates it on resume
	// so an abort always wins the race.
	generation   int
	sessionID    string
	elapsed      int
	enc          Encoder
	timerStop    chan struct{}
	pumpQuit     chan struct{}
	pumpDone     chan struct{}
	deviceDenied bool
}

func NewService(cfg config.SessionConfig, locale string, devices DeviceManager, newEncoder EncoderFactory, engine Transcriber, translator translate.Translator, log *slog.Logger) *Service {
	s := &Service{
		cfg:        cfg,
		locale:     locale,
		devices:    devices,
		newEncoder: newEncoder,
		engine:     engine,
		translator: translator,
		log:        log.With(slog.String("component", "session")),
		tick:       time.Second,
		state:      StateIdle,
	}
	s.initMetrics()

	engine.OnResult(s.handleTranscript)
	engine.OnError(s.handleEngineError)
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/memovoxlabs/memovox-core/session")
	var err error
	if s.started, err = meter.Int64Counter("memovox.sessions.started"); err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	}
	if s.completed, err = meter.Int64Counter("memovox.sessions.completed"); err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	}
	if s.failed, err = meter.Int64Counter("memovox.sessions.failed"); err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	}
	if s.durations, err = meter.Float64Histogram("memovox.session.duration_seconds"); err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	}
}

// SetListener registers the UI-facing callbacks. Must be called before the
// first toggle.
func (s *Service) SetListener(listener Listener) {
	s.listener = listener
}

// State reports the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ToggleStart begins a new recording session. A request arriving while a
// toggle is already being processed, or while not idle, is dropped rather
// than queued.
func (s *Service) ToggleStart(ctx context.Context) error {
	s.mu.Lock()
	if s.toggleInFlight || s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		s.log.Debug("start toggle dropped", slog.String("state", string(state)))
		return nil
	}
	s.toggleInFlight = true
	s.state = StateAcquiring
	s.generation++
	gen := s.generation
	s.sessionID = uuid.NewString()
	s.deviceDenied = false
	sessionID := s.sessionID
	s.mu.Unlock()
	defer s.clearToggle()

	// Stale handles from a previous aborted session must never leak into
	// this one.
	s.releaseResources()

	stream, err := s.devices.Acquire(ctx)
	if err != nil {
		kind := classifyDeviceError(err)
		s.mu.Lock()
		s.deviceDenied = kind == ErrKindPermissionDenied
		s.mu.Unlock()
		if s.invalidated(gen) {
			return err
		}
		s.finish(Outcome{SessionID: sessionID, ErrorKind: kind, Message: guidance(kind)}, 0)
		return err
	}
	if s.invalidated(gen) {
		// An abort landed while the device was being acquired; the session
		// no longer exists and must not come up recording.
		s.devices.Release()
		return nil
	}

	// Transcription starts only after device acquisition succeeded, so the
	// speech permission prompt can never precede the microphone prompt.
	transcribing := false
	if s.engine.Supported() {
		streamCfg := stream.Config()
		if err := s.engine.Start(s.locale, streamCfg.SampleRate, streamCfg.Channels); err != nil {
			s.log.Warn("transcription unavailable, continuing audio-only", slogError(err))
		} else {
			transcribing = true
		}
	}

	enc, err := s.newEncoder()
	if err != nil {
		s.engine.Abort()
		s.devices.Release()
		if s.invalidated(gen) {
			return err
		}
		s.finish(Outcome{SessionID: sessionID, ErrorKind: ErrKindEncoderUnsupported, Message: guidance(ErrKindEncoderUnsupported)}, 0)
		return err
	}

	encCh := make(chan capture.Frame, 16)
	encStream := capture.NewStream(stream.Config(), encCh, nil)
	if err := enc.Start(encStream); err != nil {
		s.engine.Abort()
		s.devices.Release()
		if s.invalidated(gen) {
			return err
		}
		s.finish(Outcome{SessionID: sessionID, ErrorKind: ErrKindUnknown, Message: err.Error()}, 0)
		return err
	}

	pumpQuit := make(chan struct{})
	pumpDone := make(chan struct{})
	timerStop := make(chan struct{})

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		// Aborted while the pipeline was being assembled; unwind it before
		// the pump ever runs.
		close(encCh)
		s.engine.Abort()
		enc.Abort()
		s.devices.Release()
		return nil
	}
	s.enc = enc
	s.pumpQuit = pumpQuit
	s.pumpDone = pumpDone
	s.timerStop = timerStop
	s.state = StateRecording
	s.elapsed = 0
	s.mu.Unlock()

	go s.pump(stream, encCh, transcribing, pumpQuit, pumpDone)
	go s.runTimer(sessionID, timerStop)

	if s.started != nil {
		s.started.Add(ctx, 1)
	}
	s.log.Info("recording started", slog.String("session_id", sessionID), slog.String("media_type", enc.MediaType()))
	return nil
}

// pump fans capture frames out to the transcription engine and the encoder.
// It is the single consumer of the device stream, so all downstream mutation
// stays serialized in delivery order.
func (s *Service) pump(stream *capture.Stream, encCh chan<- capture.Frame, transcribing bool, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(encCh)
	for frame := range stream.Frames() {
		if transcribing {
			s.engine.Feed(frame.PCM)
		}
		select {
		case encCh <- frame:
		case <-quit:
			// Encoder already stopped; drain the device until release.
		}
	}
}

func (s *Service) runTimer(sessionID string, stop <-chan struct{}) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state != StateRecording || s.sessionID != sessionID {
				s.mu.Unlock()
				return
			}
			s.elapsed++
			elapsed := s.elapsed
			s.mu.Unlock()

			if s.listener.Progress != nil {
				s.listener.Progress(sessionID, elapsed)
			}
			if elapsed >= s.cfg.MaxDurationSeconds {
				// The ceiling reuses the normal stop path so the partial
				// recording still becomes a valid artifact.
				s.log.Info("max duration reached, auto-stopping", slog.String("session_id", sessionID))
				s.ToggleStop(context.Background())
				return
			}
		}
	}
}

// ToggleStop ends the active session and emits its terminal outcome. Dropped
// while another toggle is in flight or when not recording.
func (s *Service) ToggleStop(ctx context.Context) error {
	s.mu.Lock()
	if s.toggleInFlight || s.state != StateRecording {
		state := s.state
		s.mu.Unlock()
		s.log.Debug("stop toggle dropped", slog.String("state", string(state)))
		return nil
	}
	s.toggleInFlight = true
	s.state = StateStopping
	gen := s.generation
	sessionID := s.sessionID
	// The timer is not to be trusted after teardown; the artifact duration
	// is captured here.
	duration := s.elapsed
	timerStop := s.timerStop
	s.timerStop = nil
	enc := s.enc
	pumpQuit := s.pumpQuit
	s.pumpQuit = nil
	pumpDone := s.pumpDone
	s.pumpDone = nil
	s.mu.Unlock()
	defer s.clearToggle()

	if timerStop != nil {
		close(timerStop)
	}

	// Transcript finalization always precedes encoder stop and translation.
	s.engine.Stop(ctx)

	blob, err := enc.Stop(ctx)

	// Device release is deliberately delayed until the encoder stop has
	// resolved; releasing earlier can starve the final flush.
	if pumpQuit != nil {
		close(pumpQuit)
	}
	s.devices.Release()
	if pumpDone != nil {
		<-pumpDone
	}

	if s.invalidated(gen) {
		// Aborted mid-stop: everything is already torn down, and an aborted
		// session never yields an artifact.
		return nil
	}

	s.mu.Lock()
	s.state = StateFinalizing
	s.enc = nil
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, encoder.ErrEmptyRecording) {
			s.finish(Outcome{SessionID: sessionID, ErrorKind: ErrKindEmptyRecording, Message: guidance(ErrKindEmptyRecording)}, duration)
			return err
		}
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		s.finish(Outcome{SessionID: sessionID, ErrorKind: ErrKindUnknown, Message: err.Error()}, duration)
		return err
	}

	artifact := s.assembleArtifact(ctx, sessionID, blob, duration)
	s.finish(Outcome{SessionID: sessionID, Artifact: artifact}, duration)
	s.log.Info("recording finished",
		slog.String("session_id", sessionID),
		slog.Int("duration_seconds", artifact.DurationSeconds),
		slog.Int("audio_bytes", len(artifact.Audio)),
		slog.Bool("transcribed", artifact.Transcript != ""))
	return nil
}

func (s *Service) assembleArtifact(ctx context.Context, sessionID string, blob encoder.Blob, duration int) *Artifact {
	artifact := &Artifact{
		MemoID:          uuid.NewString(),
		SessionID:       sessionID,
		Audio:           blob.Data,
		MediaType:       blob.MediaType,
		DurationSeconds: duration,
	}

	snapshot := s.engine.Snapshot()
	transcript := snapshot.Final
	if transcript == "" {
		// No final event ever fired; the last interim hypothesis is better
		// than losing the words entirely.
		transcript = snapshot.Interim
	}
	if transcript == "" {
		return artifact
	}

	artifact.Transcript = transcript
	artifact.LanguageCode = snapshot.LanguageCode
	artifact.LanguageName = snapshot.LanguageName

	if s.translator != nil && !transcribe.IsEnglish(snapshot.LanguageCode) {
		translateCtx, cancel := context.WithTimeout(ctx, translateTimeout)
		defer cancel()
		translated, err := s.translator.TranslateToEnglish(translateCtx, transcript, snapshot.LanguageCode)
		if err != nil {
			s.log.Warn("translation failed, memo saved without it", slogError(err))
		} else {
			artifact.EnglishTranslation = translated
		}
	}
	return artifact
}

// Abort short-circuits straight to cleanup from any state without producing
// an artifact. Safe to call redundantly.
func (s *Service) Abort() {
	s.mu.Lock()
	s.generation++
	timerStop := s.timerStop
	s.timerStop = nil
	pumpQuit := s.pumpQuit
	s.pumpQuit = nil
	pumpDone := s.pumpDone
	s.pumpDone = nil
	enc := s.enc
	s.enc = nil
	s.state = StateIdle
	s.sessionID = ""
	s.elapsed = 0
	s.mu.Unlock()

	if timerStop != nil {
		close(timerStop)
	}
	// Cleanup always attempts every resource regardless of which one fails,
	// so a single failure never leaks the others.
	s.engine.Abort()
	if enc != nil {
		enc.Abort()
	}
	if pumpQuit != nil {
		close(pumpQuit)
	}
	s.devices.Release()
	if pumpDone != nil {
		<-pumpDone
	}
}

// releaseResources is the defensive pre-start cleanup.
func (s *Service) releaseResources() {
	s.engine.Abort()
	s.mu.Lock()
	enc := s.enc
	s.enc = nil
	s.mu.Unlock()
	if enc != nil {
		enc.Abort()
	}
	s.devices.Release()
}

// finish emits the terminal outcome and returns the session to idle.
func (s *Service) finish(outcome Outcome, duration int) {
	s.mu.Lock()
	s.state = StateIdle
	s.sessionID = ""
	s.elapsed = 0
	s.mu.Unlock()

	ctx := context.Background()
	if outcome.Artifact != nil {
		if s.completed != nil {
			s.completed.Add(ctx, 1)
		}
		if s.durations != nil {
			s.durations.Record(ctx, float64(duration))
		}
	} else {
		if s.failed != nil {
			s.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(outcome.ErrorKind))))
		}
	}

	if s.listener.Outcome != nil {
		s.listener.Outcome(outcome)
	}
}

// invalidated reports whether an abort overtook the toggle that captured gen.
func (s *Service) invalidated(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation != gen
}

func (s *Service) clearToggle() {
	s.mu.Lock()
	s.toggleInFlight = false
	s.mu.Unlock()
}

func (s *Service) handleTranscript(event transcribe.Event) {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if s.listener.Transcript != nil && sessionID != "" {
		s.listener.Transcript(sessionID, event)
	}
}

func (s *Service) handleEngineError(err *transcribe.EngineError) {
	// Capture already surfaced the permission toast; a duplicate from the
	// recognizer path is suppressed.
	if err.Kind == transcribe.ErrPermissionDenied {
		s.mu.Lock()
		denied := s.deviceDenied
		s.mu.Unlock()
		if denied {
			return
		}
	}
	s.log.Warn("transcription degraded", slog.String("kind", string(err.Kind)), slogError(err))
}

func classifyDeviceError(err error) ErrorKind {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return ErrKindPermissionDenied
	case errors.Is(err, capture.ErrDeviceNotFound):
		return ErrKindDeviceNotFound
	case errors.Is(err, capture.ErrDeviceBusy):
		return ErrKindDeviceBusy
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return ErrKindDeviceUnavailable
	default:
		return ErrKindUnknown
	}
}

func guidance(kind ErrorKind) string {
	switch kind {
	case ErrKindPermissionDenied:
		return "Microphone access was denied. Enable microphone permission for this app and try again."
	case ErrKindDeviceNotFound:
		return "No microphone was found. Connect an input device and try again."
	case ErrKindDeviceBusy:
		return "The microphone is in use by another application."
	case ErrKindDeviceUnavailable:
		return "The microphone could not be started."
	case ErrKindEmptyRecording:
		return "Nothing was recorded. Hold the record button a little longer."
	case ErrKindEncoderUnsupported:
		return "No supported audio encoding is available on this device."
	default:
		return "Recording failed."
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
