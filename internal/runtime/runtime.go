package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memovoxlabs/memovox-core/internal/bus"
	"github.com/memovoxlabs/memovox-core/internal/capture"
	"github.com/memovoxlabs/memovox-core/internal/config"
	"github.com/memovoxlabs/memovox-core/internal/encoder"
	"github.com/memovoxlabs/memovox-core/internal/memostore"
	"github.com/memovoxlabs/memovox-core/internal/natsserver"
	"github.com/memovoxlabs/memovox-core/internal/persist"
	"github.com/memovoxlabs/memovox-core/internal/protocol"
	"github.com/memovoxlabs/memovox-core/internal/session"
	"github.com/memovoxlabs/memovox-core/internal/transcribe"
	"github.com/memovoxlabs/memovox-core/internal/translate"
	"github.com/nats-io/nats.go"
)

// Runtime composes the full memo pipeline: embedded broker, bus client,
// capture/encoder/transcription/translation backends, the session
// orchestrator, and the persistence collaborator.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	natsServer *natsserver.EmbeddedServer
	busClient  *bus.Client
	store      *memostore.Store
	persister  *persist.Service
	devices    *capture.Manager
	sessions   *session.Service
	controlSub *nats.Subscription
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Session exposes the orchestrator for in-process callers (tests, embedding
// frontends). Remote callers use the control subject instead.
func (r *Runtime) Session() *session.Service {
	return r.sessions
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.natsServer = ns

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		r.natsServer.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	store, err := memostore.Open(ctx, r.cfg.MemoStore, r.logger)
	if err != nil {
		r.teardown(ctx)
		return fmt.Errorf("failed to open memo store: %w", err)
	}
	r.store = store

	r.persister = persist.NewService(ctx, store, busClient, r.logger)
	if err := r.persister.Start(); err != nil {
		r.teardown(ctx)
		return fmt.Errorf("failed to start persist service: %w", err)
	}

	if err := r.buildPipeline(); err != nil {
		r.teardown(ctx)
		return err
	}

	if err := r.subscribeControl(); err != nil {
		r.teardown(ctx)
		return fmt.Errorf("failed to subscribe control subject: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	// A recording cut off by daemon shutdown is discarded, not half-stored.
	if r.sessions != nil {
		r.sessions.Abort()
	}
	r.teardown(shutdownCtx)
	return nil
}

func (r *Runtime) teardown(ctx context.Context) {
	if r.controlSub != nil {
		_ = r.controlSub.Drain()
		r.controlSub = nil
	}
	if r.persister != nil {
		r.persister.Close()
		r.persister = nil
	}
	if r.busClient != nil {
		r.busClient.Close()
		r.busClient = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("memo store close error", slog.String("error", err.Error()))
		}
		r.store = nil
	}
	r.natsServer.Shutdown()
	r.natsServer = nil

	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
		r.tracerClose = nil
	}
}

// buildPipeline constructs the configured backends and wires the session
// orchestrator onto the bus.
func (r *Runtime) buildPipeline() error {
	var device capture.Device
	switch r.cfg.Capture.Mode {
	case "exec":
		d, err := capture.NewExecDevice(r.cfg.Capture.Command)
		if err != nil {
			return fmt.Errorf("failed to build capture device: %w", err)
		}
		device = d
	default:
		device = capture.NewMockDevice(time.Duration(r.cfg.Capture.FrameDurationMS) * time.Millisecond)
	}
	r.devices = capture.NewManager(r.cfg.Capture, device, r.logger)
	r.devices.OnPermissionChange(func(state string) {
		status := protocol.PermissionStatus{State: state, Timestamp: time.Now().UTC()}
		if err := r.busClient.PublishJSON(protocol.SubjectPermissionStatus, status); err != nil {
			r.logger.Warn("failed to publish permission status", slog.String("error", err.Error()))
		}
	})

	var recognizer transcribe.Recognizer
	if r.cfg.Transcription.Enabled {
		switch r.cfg.Transcription.Mode {
		case "exec":
			rec, err := transcribe.NewExecRecognizer(r.cfg.Transcription)
			if err != nil {
				return fmt.Errorf("failed to build recognizer: %w", err)
			}
			recognizer = rec
		default:
			recognizer = transcribe.NewMockRecognizer()
		}
	}
	engine := transcribe.NewEngine(transcribe.EngineConfig{
		Enabled:        r.cfg.Transcription.Enabled,
		PartialEveryMS: r.cfg.Transcription.PartialEveryMS,
		InterimResults: r.cfg.Transcription.InterimResults,
	}, recognizer, r.logger)

	var translator translate.Translator
	if r.cfg.Translation.Enabled {
		switch r.cfg.Translation.Mode {
		case "http":
			translator = translate.NewHTTPTranslator(r.cfg.Translation.Endpoint, r.cfg.Translation.APIKey)
		case "exec":
			tr, err := translate.NewExecTranslator(r.cfg.Translation.Command)
			if err != nil {
				return fmt.Errorf("failed to build translator: %w", err)
			}
			translator = tr
		default:
			translator = translate.NewMockTranslator()
		}
	}

	encoderCfg := r.cfg.Encoder
	newEncoder := func() (session.Encoder, error) {
		codec, err := encoder.Negotiate(encoderCfg)
		if err != nil {
			return nil, err
		}
		return encoder.NewSession(codec, encoderCfg.TimesliceMS, r.logger), nil
	}

	locale := transcribe.ResolveLocale(r.cfg.Transcription.UserLocale)
	r.sessions = session.NewService(r.cfg.Session, locale, r.devices, newEncoder, engine, translator, r.logger)
	r.sessions.SetListener(session.Listener{
		Progress:   r.publishProgress,
		Transcript: r.publishTranscript,
		Outcome:    r.publishOutcome,
	})
	return nil
}

func (r *Runtime) subscribeControl() error {
	sub, err := r.busClient.Conn().Subscribe(protocol.SubjectSessionControl, func(msg *nats.Msg) {
		var cmd protocol.Control
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			r.logger.Warn("failed to decode control command", slog.String("error", err.Error()))
			return
		}
		switch cmd.Action {
		case protocol.ControlStart:
			go func() { _ = r.sessions.ToggleStart(context.Background()) }()
		case protocol.ControlStop:
			go func() { _ = r.sessions.ToggleStop(context.Background()) }()
		case protocol.ControlAbort:
			r.sessions.Abort()
		default:
			r.logger.Warn("unknown control action", slog.String("action", cmd.Action))
		}
	})
	if err != nil {
		return err
	}
	r.controlSub = sub
	return nil
}

func (r *Runtime) publishProgress(sessionID string, elapsedSeconds int) {
	msg := protocol.Progress{
		SessionID:      sessionID,
		ElapsedSeconds: elapsedSeconds,
		Timestamp:      time.Now().UTC(),
	}
	if err := r.busClient.PublishJSON(protocol.SubjectSessionProgress, msg); err != nil {
		r.logger.Warn("failed to publish progress", slog.String("error", err.Error()))
	}
}

func (r *Runtime) publishTranscript(sessionID string, event transcribe.Event) {
	subject := protocol.SubjectTranscriptPartial
	if event.Final {
		subject = protocol.SubjectTranscriptFinal
	}
	msg := protocol.TranscriptEvent{
		SessionID:    sessionID,
		Text:         event.Text,
		Final:        event.Final,
		Confidence:   event.Confidence,
		LanguageCode: event.LanguageCode,
		LanguageName: event.LanguageName,
		Timestamp:    time.Now().UTC(),
	}
	if err := r.busClient.PublishJSON(subject, msg); err != nil {
		r.logger.Warn("failed to publish transcript event", slog.String("error", err.Error()))
	}
}

func (r *Runtime) publishOutcome(outcome session.Outcome) {
	msg := protocol.Outcome{
		SessionID: outcome.SessionID,
		ErrorKind: string(outcome.ErrorKind),
		Message:   outcome.Message,
		Timestamp: time.Now().UTC(),
	}
	if a := outcome.Artifact; a != nil {
		msg.ErrorKind = ""
		msg.Artifact = &protocol.Artifact{
			MemoID:             a.MemoID,
			SessionID:          a.SessionID,
			Audio:              a.Audio,
			MediaType:          a.MediaType,
			DurationSeconds:    a.DurationSeconds,
			Transcript:         a.Transcript,
			LanguageCode:       a.LanguageCode,
			LanguageName:       a.LanguageName,
			EnglishTranslation: a.EnglishTranslation,
		}
	}
	if err := r.busClient.PublishJSON(protocol.SubjectSessionOutcome, msg); err != nil {
		r.logger.Warn("failed to publish session outcome", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient != nil && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
