package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/memovoxlabs/memovox-core/internal/capture"
	"github.com/memovoxlabs/memovox-core/internal/config"
	"github.com/memovoxlabs/memovox-core/internal/encoder"
	"github.com/memovoxlabs/memovox-core/internal/transcribe"
	"github.com/memovoxlabs/memovox-core/internal/translate"
)

type fakeDevices struct {
	mu       sync.Mutex
	err      error
	acquires int
	releases int
	frames   chan capture.Frame
	seq      int
}

func (d *fakeDevices) Acquire(_ context.Context) (*capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.acquires++
	d.frames = make(chan capture.Frame, 64)
	cfg := capture.StreamConfig{SampleRate: 16000, Channels: 1, FrameDurationMS: 100}
	return capture.NewStream(cfg, d.frames, nil), nil
}

func (d *fakeDevices) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	if d.frames != nil {
		close(d.frames)
		d.frames = nil
	}
}

func (d *fakeDevices) feed(pcm []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frames == nil {
		return
	}
	d.seq++
	d.frames <- capture.Frame{Sequence: d.seq, PCM: pcm}
}

func (d *fakeDevices) releaseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

func (d *fakeDevices) acquireCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquires
}

func (d *fakeDevices) held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames != nil
}

// gatedDevices blocks acquisition until the gate is released, so tests can
// interleave other calls with a start still inside Acquire.
type gatedDevices struct {
	fakeDevices
	gate chan struct{}
}

func (d *gatedDevices) Acquire(ctx context.Context) (*capture.Stream, error) {
	<-d.gate
	return d.fakeDevices.Acquire(ctx)
}

type fakeEncoder struct {
	mu      sync.Mutex
	data    []byte
	stops   int
	aborts  int
	onStop  func()
	stopLag time.Duration
}

func (f *fakeEncoder) Start(stream *capture.Stream) error {
	go func() {
		for frame := range stream.Frames() {
			f.mu.Lock()
			f.data = append(f.data, frame.PCM...)
			f.mu.Unlock()
		}
	}()
	return nil
}

func (f *fakeEncoder) Stop(_ context.Context) (encoder.Blob, error) {
	if f.stopLag > 0 {
		time.Sleep(f.stopLag)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.onStop != nil {
		f.onStop()
	}
	if len(f.data) == 0 {
		return encoder.Blob{}, encoder.ErrEmptyRecording
	}
	return encoder.Blob{MediaType: "audio/wav", Data: append([]byte(nil), f.data...)}, nil
}

func (f *fakeEncoder) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
}

func (f *fakeEncoder) MediaType() string { return "audio/wav" }

func (f *fakeEncoder) bytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

type fakeEngine struct {
	mu        sync.Mutex
	supported bool
	startErr  error
	starts    int
	stops     int
	aborts    int
	language  string
	fed       int
	events    []transcribe.Event
	snapshot  transcribe.State
	onResult  func(transcribe.Event)
	onError   func(*transcribe.EngineError)
}

func (f *fakeEngine) Supported() bool { return f.supported }

func (f *fakeEngine) Start(language string, _, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.language = language
	return nil
}

func (f *fakeEngine) Feed(_ []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fed++
}

func (f *fakeEngine) Stop(_ context.Context) {
	f.mu.Lock()
	events := f.events
	fn := f.onResult
	f.stops++
	f.mu.Unlock()
	for _, ev := range events {
		if fn != nil {
			fn(ev)
		}
	}
}

func (f *fakeEngine) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
}

func (f *fakeEngine) Snapshot() transcribe.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeEngine) OnResult(fn func(transcribe.Event)) { f.onResult = fn }

func (f *fakeEngine) OnError(fn func(*transcribe.EngineError)) { f.onError = fn }

func (f *fakeEngine) counts() (starts, stops, aborts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.aborts
}

type deadlineTranslator struct {
	mu          sync.Mutex
	hadDeadline bool
}

func (d *deadlineTranslator) TranslateToEnglish(ctx context.Context, _, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, d.hadDeadline = ctx.Deadline()
	return "hello", nil
}

func (d *deadlineTranslator) sawDeadline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hadDeadline
}

type failingTranslator struct{}

func (failingTranslator) TranslateToEnglish(context.Context, string, string) (string, error) {
	return "", translate.ErrTranslationUnavailable
}

type recorder struct {
	mu          sync.Mutex
	progress    []int
	transcripts []transcribe.Event
	sessionIDs  map[string]bool
	outcomes    []Outcome
}

func newRecorder() *recorder {
	return &recorder{sessionIDs: map[string]bool{}}
}

func (r *recorder) listener() Listener {
	return Listener{
		Progress: func(sessionID string, elapsed int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, elapsed)
			r.sessionIDs[sessionID] = true
		},
		Transcript: func(sessionID string, event transcribe.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transcripts = append(r.transcripts, event)
			r.sessionIDs[sessionID] = true
		},
		Outcome: func(outcome Outcome) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.outcomes = append(r.outcomes, outcome)
		},
	}
}

func (r *recorder) outcomeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

func (r *recorder) lastOutcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return Outcome{}
	}
	return r.outcomes[len(r.outcomes)-1]
}

func (r *recorder) lastProgress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.progress) == 0 {
		return 0
	}
	return r.progress[len(r.progress)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestService(dev *fakeDevices, enc *fakeEncoder, eng *fakeEngine, tr translate.Translator) (*Service, *recorder) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func() (Encoder, error) { return enc, nil }
	svc := NewService(config.SessionConfig{MaxDurationSeconds: 120}, "es-ES", dev, factory, eng, tr, log)
	svc.tick = 5 * time.Millisecond
	rec := newRecorder()
	svc.SetListener(rec.listener())
	return svc, rec
}

func TestRecordAndStopProducesArtifact(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{}
	eng := &fakeEngine{
		supported: true,
		events: []transcribe.Event{
			{Text: "hola", Final: false, LanguageCode: "es-ES", LanguageName: "Spanish"},
			{Text: "hola mundo", Final: true, LanguageCode: "es-ES", LanguageName: "Spanish"},
		},
		snapshot: transcribe.State{Final: "hola mundo", LanguageCode: "es-ES", LanguageName: "Spanish", LanguageDetected: true},
	}
	svc, rec := newTestService(dev, enc, eng, translate.NewMockTranslator())

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	if got := svc.State(); got != StateRecording {
		t.Fatalf("state = %q, want %q", got, StateRecording)
	}
	if eng.language != "es-ES" {
		t.Fatalf("engine language = %q, want es-ES", eng.language)
	}

	dev.feed([]byte{1, 2, 3, 4})
	dev.feed([]byte{5, 6, 7, 8})
	waitFor(t, "frames to reach the encoder", func() bool { return enc.bytes() == 8 })

	if err := svc.ToggleStop(context.Background()); err != nil {
		t.Fatalf("ToggleStop() error = %v", err)
	}

	if rec.outcomeCount() != 1 {
		t.Fatalf("outcomes = %d, want exactly 1", rec.outcomeCount())
	}
	outcome := rec.lastOutcome()
	if outcome.ErrorKind != "" {
		t.Fatalf("unexpected error kind %q (%s)", outcome.ErrorKind, outcome.Message)
	}
	art := outcome.Artifact
	if art == nil {
		t.Fatal("outcome carries no artifact")
	}
	if art.MemoID == "" || art.SessionID != outcome.SessionID {
		t.Fatalf("artifact identity MemoID=%q SessionID=%q", art.MemoID, art.SessionID)
	}
	if art.MediaType != "audio/wav" || len(art.Audio) != 8 {
		t.Fatalf("artifact audio = %d bytes of %q", len(art.Audio), art.MediaType)
	}
	if art.Transcript != "hola mundo" {
		t.Fatalf("transcript = %q", art.Transcript)
	}
	if art.LanguageCode != "es-ES" || art.LanguageName != "Spanish" {
		t.Fatalf("language = %q/%q", art.LanguageCode, art.LanguageName)
	}
	if art.EnglishTranslation != "[en from es-ES] hola mundo" {
		t.Fatalf("translation = %q", art.EnglishTranslation)
	}
	if len(rec.transcripts) != 2 || !rec.transcripts[1].Final {
		t.Fatalf("transcript events = %+v", rec.transcripts)
	}
	if !rec.sessionIDs[outcome.SessionID] {
		t.Fatal("transcript events did not carry the session id")
	}
	if got := svc.State(); got != StateIdle {
		t.Fatalf("state after stop = %q, want %q", got, StateIdle)
	}
}

func TestStartToggleDroppedWhileRecording(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{}
	eng := &fakeEngine{}
	svc, rec := newTestService(dev, enc, eng, nil)

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("second ToggleStart() error = %v", err)
	}
	if dev.acquireCount() != 1 {
		t.Fatalf("acquires = %d, want 1 (second toggle must be dropped)", dev.acquireCount())
	}
	if svc.State() != StateRecording {
		t.Fatalf("state = %q, want %q", svc.State(), StateRecording)
	}
	if rec.outcomeCount() != 0 {
		t.Fatalf("outcomes = %d before any stop", rec.outcomeCount())
	}
	svc.Abort()
}

func TestStopWithoutRecordingIsNoop(t *testing.T) {
	dev := &fakeDevices{}
	svc, rec := newTestService(dev, &fakeEncoder{}, &fakeEngine{}, nil)

	if err := svc.ToggleStop(context.Background()); err != nil {
		t.Fatalf("ToggleStop() on idle error = %v", err)
	}
	if rec.outcomeCount() != 0 {
		t.Fatalf("outcomes = %d, want 0", rec.outcomeCount())
	}
	if dev.releaseCount() != 0 {
		t.Fatalf("releases = %d, want 0", dev.releaseCount())
	}
}

func TestPermissionDeniedOutcome(t *testing.T) {
	dev := &fakeDevices{err: capture.ErrPermissionDenied}
	eng := &fakeEngine{supported: true}
	svc, rec := newTestService(dev, &fakeEncoder{}, eng, nil)

	if err := svc.ToggleStart(context.Background()); !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("ToggleStart() error = %v, want permission denied", err)
	}
	outcome := rec.lastOutcome()
	if outcome.ErrorKind != ErrKindPermissionDenied {
		t.Fatalf("error kind = %q, want %q", outcome.ErrorKind, ErrKindPermissionDenied)
	}
	if outcome.Message == "" {
		t.Fatal("denied outcome carries no guidance message")
	}
	if starts, _, _ := eng.counts(); starts != 0 {
		t.Fatal("transcription started before device acquisition succeeded")
	}
	if svc.State() != StateIdle {
		t.Fatalf("state = %q, want idle after failed start", svc.State())
	}
}

func TestEmptyRecordingOutcome(t *testing.T) {
	dev := &fakeDevices{}
	svc, rec := newTestService(dev, &fakeEncoder{}, &fakeEngine{}, nil)

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	if err := svc.ToggleStop(context.Background()); !errors.Is(err, encoder.ErrEmptyRecording) {
		t.Fatalf("ToggleStop() error = %v, want ErrEmptyRecording", err)
	}
	outcome := rec.lastOutcome()
	if outcome.ErrorKind != ErrKindEmptyRecording || outcome.Artifact != nil {
		t.Fatalf("outcome = %+v, want empty-recording error without artifact", outcome)
	}

	// The failure is recoverable: the next session must start cleanly.
	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() after empty recording error = %v", err)
	}
	svc.Abort()
}

func TestEncoderUnsupportedOutcome(t *testing.T) {
	dev := &fakeDevices{}
	eng := &fakeEngine{supported: true}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func() (Encoder, error) { return nil, encoder.ErrUnsupported }
	svc := NewService(config.SessionConfig{MaxDurationSeconds: 120}, "en-US", dev, factory, eng, nil, log)
	rec := newRecorder()
	svc.SetListener(rec.listener())

	if err := svc.ToggleStart(context.Background()); !errors.Is(err, encoder.ErrUnsupported) {
		t.Fatalf("ToggleStart() error = %v, want ErrUnsupported", err)
	}
	if rec.lastOutcome().ErrorKind != ErrKindEncoderUnsupported {
		t.Fatalf("error kind = %q", rec.lastOutcome().ErrorKind)
	}
	if _, _, aborts := eng.counts(); aborts == 0 {
		t.Fatal("engine not aborted after encoder negotiation failure")
	}
	if dev.releaseCount() == 0 {
		t.Fatal("device not released after encoder negotiation failure")
	}
}

func TestGracefulDegradationWithoutTranscription(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{}
	eng := &fakeEngine{supported: false}
	svc, rec := newTestService(dev, enc, eng, translate.NewMockTranslator())

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	dev.feed([]byte{9, 9})
	waitFor(t, "frame to reach the encoder", func() bool { return enc.bytes() == 2 })
	if err := svc.ToggleStop(context.Background()); err != nil {
		t.Fatalf("ToggleStop() error = %v", err)
	}

	art := rec.lastOutcome().Artifact
	if art == nil {
		t.Fatal("audio-only session produced no artifact")
	}
	if art.Transcript != "" || art.EnglishTranslation != "" || art.LanguageCode != "" {
		t.Fatalf("audio-only artifact carries transcript fields: %+v", art)
	}
	if starts, _, _ := eng.counts(); starts != 0 {
		t.Fatal("unsupported engine was started")
	}
}

func TestEnglishSkipsTranslation(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{}
	eng := &fakeEngine{
		supported: true,
		snapshot:  transcribe.State{Final: "hello world", LanguageCode: "en-US", LanguageName: "English", LanguageDetected: true},
	}
	svc, rec := newTestService(dev, enc, eng, translate.NewMockTranslator())

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	dev.feed([]byte{1})
	waitFor(t, "frame to reach the encoder", func() bool { return enc.bytes() == 1 })
	if err := svc.ToggleStop(context.Background()); err != nil {
		t.Fatalf("ToggleStop() error = %v", err)
	}

	art := rec.lastOutcome().Artifact
	if art == nil || art.Transcript != "hello world" {
		t.Fatalf("artifact = %+v", art)
	}
	if art.EnglishTranslation != "" {
		t.Fatalf("English memo was translated: %q", art.EnglishTranslation)
	}
}

func TestTranslationFailureKeepsMemo(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{}
	eng := &fakeEngine{
		supported: true,
		snapshot:  transcribe.State{Final: "bonjour", LanguageCode: "fr-FR", LanguageName: "French", LanguageDetected: true},
	}
	svc, rec := newTestService(dev, enc, eng, failingTranslator{})

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	dev.feed([]byte{1})
	waitFor(t, "frame to reach the encoder", func() bool { return enc.bytes() == 1 })
	if err := svc.ToggleStop(context.Background()); err != nil {
		t.Fatalf("ToggleStop() error = %v", err)
	}

	art := rec.lastOutcome().Artifact
	if art == nil || art.Transcript != "bonjour" {
		t.Fatalf("artifact = %+v", art)
	}
	if art.EnglishTranslation != "" {
		t.Fatal("failed translation still attached to artifact")
	}
}

func TestInterimFallbackWhenNoFinal(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{}
	eng := &fakeEngine{
		supported: true,
		snapshot:  transcribe.State{Interim: "hola", LanguageCode: "es-ES", LanguageName: "Spanish"},
	}
	svc, rec := newTestService(dev, enc, eng, nil)

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	dev.feed([]byte{1})
	waitFor(t, "frame to reach the encoder", func() bool { return enc.bytes() == 1 })
	if err := svc.ToggleStop(context.Background()); err != nil {
		t.Fatalf("ToggleStop() error = %v", err)
	}

	if got := rec.lastOutcome().Artifact.Transcript; got != "hola" {
		t.Fatalf("transcript = %q, want interim fallback", got)
	}
}

func TestAutoStopAtMaxDuration(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{}
	eng := &fakeEngine{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func() (Encoder, error) { return enc, nil }
	svc := NewService(config.SessionConfig{MaxDurationSeconds: 2}, "en-US", dev, factory, eng, nil, log)
	svc.tick = 5 * time.Millisecond
	rec := newRecorder()
	svc.SetListener(rec.listener())

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	dev.feed([]byte{1, 2})

	waitFor(t, "auto-stop outcome", func() bool { return rec.outcomeCount() == 1 })
	art := rec.lastOutcome().Artifact
	if art == nil {
		t.Fatalf("ceiling stop produced error outcome: %+v", rec.lastOutcome())
	}
	if art.DurationSeconds != 2 {
		t.Fatalf("duration = %d, want the 2s ceiling", art.DurationSeconds)
	}
	if rec.lastProgress() != 2 {
		t.Fatalf("last progress = %d, want 2", rec.lastProgress())
	}
	if svc.State() != StateIdle {
		t.Fatalf("state = %q after auto-stop", svc.State())
	}
}

func TestDurationCapturedBeforeEncoderStopResolves(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{stopLag: 100 * time.Millisecond}
	svc, rec := newTestService(dev, enc, &fakeEngine{}, nil)
	svc.tick = 20 * time.Millisecond

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	dev.feed([]byte{1})
	waitFor(t, "elapsed to advance", func() bool { return rec.lastProgress() >= 3 })

	before := rec.lastProgress()
	if err := svc.ToggleStop(context.Background()); err != nil {
		t.Fatalf("ToggleStop() error = %v", err)
	}

	// With a 20ms tick, a 100ms encoder drain would add several seconds if
	// the duration were read after teardown.
	got := rec.lastOutcome().Artifact.DurationSeconds
	if got < before || got > before+1 {
		t.Fatalf("duration = %d, want the elapsed value at stop time (~%d)", got, before)
	}
}

func TestDeviceReleasedAfterEncoderStop(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{}
	var releasesAtStop int
	enc.onStop = func() { releasesAtStop = dev.releaseCount() }
	svc, _ := newTestService(dev, enc, &fakeEngine{}, nil)

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	releasesBeforeStop := dev.releaseCount()
	dev.feed([]byte{1})
	waitFor(t, "frame to reach the encoder", func() bool { return enc.bytes() == 1 })
	if err := svc.ToggleStop(context.Background()); err != nil {
		t.Fatalf("ToggleStop() error = %v", err)
	}

	if releasesAtStop != releasesBeforeStop {
		t.Fatal("device released before the encoder stop resolved")
	}
	if dev.releaseCount() != releasesBeforeStop+1 {
		t.Fatalf("releases = %d, want %d after stop", dev.releaseCount(), releasesBeforeStop+1)
	}
}

func TestAbortDuringDeviceAcquire(t *testing.T) {
	dev := &gatedDevices{gate: make(chan struct{})}
	enc := &fakeEncoder{}
	eng := &fakeEngine{supported: true}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func() (Encoder, error) { return enc, nil }
	svc := NewService(config.SessionConfig{MaxDurationSeconds: 120}, "en-US", dev, factory, eng, nil, log)
	svc.tick = 5 * time.Millisecond
	rec := newRecorder()
	svc.SetListener(rec.listener())

	startDone := make(chan error, 1)
	go func() { startDone <- svc.ToggleStart(context.Background()) }()
	waitFor(t, "start to reach device acquisition", func() bool { return svc.State() == StateAcquiring })

	// Abort lands while the start is still waiting on the device; when the
	// device finally comes up, the session must stay dead.
	svc.Abort()
	close(dev.gate)
	if err := <-startDone; err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}

	if got := svc.State(); got != StateIdle {
		t.Fatalf("state after abort = %q, want %q", got, StateIdle)
	}
	if dev.held() {
		t.Fatal("device still held after aborted start")
	}
	if rec.outcomeCount() != 0 {
		t.Fatalf("aborted start emitted %d outcomes, want 0", rec.outcomeCount())
	}

	// The abort must not poison the next session.
	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() after abort error = %v", err)
	}
	if got := svc.State(); got != StateRecording {
		t.Fatalf("state = %q, want %q", got, StateRecording)
	}
	svc.Abort()
}

func TestAbortDuringStopEmitsNoOutcome(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{stopLag: 50 * time.Millisecond}
	svc, rec := newTestService(dev, enc, &fakeEngine{}, nil)

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	dev.feed([]byte{1, 2})
	waitFor(t, "frames to reach the encoder", func() bool { return enc.bytes() == 2 })

	stopDone := make(chan error, 1)
	go func() { stopDone <- svc.ToggleStop(context.Background()) }()
	waitFor(t, "stop to begin", func() bool { return svc.State() == StateStopping })

	svc.Abort()
	if err := <-stopDone; err != nil {
		t.Fatalf("ToggleStop() error = %v", err)
	}

	if rec.outcomeCount() != 0 {
		t.Fatalf("aborted stop emitted %d outcomes, want 0", rec.outcomeCount())
	}
	if got := svc.State(); got != StateIdle {
		t.Fatalf("state = %q after abort mid-stop", got)
	}
}

func TestTranslationContextCarriesDeadline(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{}
	eng := &fakeEngine{
		supported: true,
		snapshot:  transcribe.State{Final: "bonjour", LanguageCode: "fr-FR", LanguageName: "French", LanguageDetected: true},
	}
	tr := &deadlineTranslator{}
	svc, rec := newTestService(dev, enc, eng, tr)

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	dev.feed([]byte{1})
	waitFor(t, "frame to reach the encoder", func() bool { return enc.bytes() == 1 })
	if err := svc.ToggleStop(context.Background()); err != nil {
		t.Fatalf("ToggleStop() error = %v", err)
	}

	if got := rec.lastOutcome().Artifact.EnglishTranslation; got != "hello" {
		t.Fatalf("translation = %q", got)
	}
	// A stalled translator backend must never hold finalization open.
	if !tr.sawDeadline() {
		t.Fatal("translation call ran without a deadline")
	}
}

func TestAbortDiscardsSession(t *testing.T) {
	dev := &fakeDevices{}
	enc := &fakeEncoder{}
	eng := &fakeEngine{supported: true}
	svc, rec := newTestService(dev, enc, eng, nil)

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() error = %v", err)
	}
	dev.feed([]byte{1, 2, 3})
	svc.Abort()
	svc.Abort() // redundant abort must be safe

	if rec.outcomeCount() != 0 {
		t.Fatalf("abort emitted %d outcomes, want 0", rec.outcomeCount())
	}
	if _, _, aborts := eng.counts(); aborts == 0 {
		t.Fatal("engine not aborted")
	}
	if enc.aborts == 0 {
		t.Fatal("encoder not aborted")
	}
	if svc.State() != StateIdle {
		t.Fatalf("state = %q after abort", svc.State())
	}

	if err := svc.ToggleStart(context.Background()); err != nil {
		t.Fatalf("ToggleStart() after abort error = %v", err)
	}
	svc.Abort()
}
