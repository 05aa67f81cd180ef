package memostore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/memovoxlabs/memovox-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.MemoStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "memos.db")
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open memo store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openStore(t, config.MemoStoreConfig{})

	memo := Memo{
		ID:              "memo-1",
		SessionID:       "session-1",
		Audio:           []byte("RIFFdata"),
		MediaType:       "audio/wav",
		DurationSeconds: 7,
		Transcript:      "hola mundo",
		LanguageCode:    "es-ES",
		LanguageName:    "Spanish",
		Translation:     "hello world",
	}
	if err := s.Save(context.Background(), memo); err != nil {
		t.Fatalf("save memo: %v", err)
	}

	got, err := s.Get(context.Background(), "memo-1")
	if err != nil {
		t.Fatalf("get memo: %v", err)
	}
	if !bytes.Equal(got.Audio, memo.Audio) {
		t.Fatalf("audio roundtrip mismatch: %q", got.Audio)
	}
	if got.Transcript != "hola mundo" || got.Translation != "hello world" || got.DurationSeconds != 7 {
		t.Fatalf("unexpected memo: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}
}

func TestSaveRequiresID(t *testing.T) {
	s := openStore(t, config.MemoStoreConfig{})
	if err := s.Save(context.Background(), Memo{SessionID: "s"}); err == nil {
		t.Fatal("expected error for memo without id")
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	s := openStore(t, config.MemoStoreConfig{})

	memo := Memo{ID: "memo-1", SessionID: "s", Audio: []byte("a"), MediaType: "audio/wav"}
	if err := s.Save(context.Background(), memo); err != nil {
		t.Fatalf("save memo: %v", err)
	}
	memo.Transcript = "updated"
	if err := s.Save(context.Background(), memo); err != nil {
		t.Fatalf("replayed save: %v", err)
	}

	memos, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list memos: %v", err)
	}
	if len(memos) != 1 {
		t.Fatalf("expected 1 memo after replay, got %d", len(memos))
	}
	if memos[0].Transcript != "updated" {
		t.Fatalf("replay did not update transcript: %q", memos[0].Transcript)
	}
}

func TestListOmitsAudio(t *testing.T) {
	s := openStore(t, config.MemoStoreConfig{})

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Save(context.Background(), Memo{ID: "old", SessionID: "s", Audio: []byte("x"), MediaType: "audio/wav"}); err != nil {
		t.Fatalf("save memo: %v", err)
	}
	s.clock = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }
	if err := s.Save(context.Background(), Memo{ID: "new", SessionID: "s", Audio: []byte("y"), MediaType: "audio/wav"}); err != nil {
		t.Fatalf("save memo: %v", err)
	}

	memos, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list memos: %v", err)
	}
	if len(memos) != 2 || memos[0].ID != "new" {
		t.Fatalf("expected newest first, got %+v", memos)
	}
	if memos[0].Audio != nil {
		t.Fatal("list leaked the audio payload")
	}
}

func TestGetAndDeleteMissing(t *testing.T) {
	s := openStore(t, config.MemoStoreConfig{})
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}
	if err := s.Delete(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	s := openStore(t, config.MemoStoreConfig{RetentionDays: 1, MaxMemos: 1})

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Save(context.Background(), Memo{ID: "stale", SessionID: "s", Audio: []byte("x"), MediaType: "audio/wav"}); err != nil {
		t.Fatalf("save memo: %v", err)
	}
	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Save(context.Background(), Memo{ID: "fresh", SessionID: "s", Audio: []byte("y"), MediaType: "audio/wav"}); err != nil {
		t.Fatalf("save memo: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := s.Get(context.Background(), "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale memo survived prune: %v", err)
	}
	if _, err := s.Get(context.Background(), "fresh"); err != nil {
		t.Fatalf("fresh memo lost in prune: %v", err)
	}
}

func TestCorruptTimestampSurfaces(t *testing.T) {
	s := openStore(t, config.MemoStoreConfig{})

	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO memos(memo_id, session_id, audio, media_type, duration_seconds,
		                   transcript, language_code, language_name, translation, created_at)
		 VALUES('memo-bad', 'session-1', x'00', 'audio/wav', 1, '', '', '', '', 'not-a-timestamp')`)
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	if _, err := s.Get(context.Background(), "memo-bad"); err == nil {
		t.Fatal("expected an error for an unparseable created_at, got none")
	}
	if _, err := s.List(context.Background(), 10); err == nil {
		t.Fatal("expected List to surface the unparseable created_at")
	}
}
