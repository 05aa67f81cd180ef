package memostore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/memovoxlabs/memovox-core/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a memo id has no row.
var ErrNotFound = errors.New("memo not found")

// Memo is a persisted voice memo row.
type Memo struct {
	ID              string
	SessionID       string
	Audio           []byte
	MediaType       string
	DurationSeconds int
	Transcript      string
	LanguageCode    string
	LanguageName    string
	Translation     string
	CreatedAt       time.Time
}

// Store wraps the SQLite-backed memo library.
type Store struct {
	db    *sql.DB
	cfg   config.MemoStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the memo store according to config.
func Open(ctx context.Context, cfg config.MemoStoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("memo store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("memo store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS memos (
    memo_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    audio BLOB NOT NULL,
    media_type TEXT NOT NULL,
    duration_seconds INTEGER NOT NULL,
    transcript TEXT,
    language_code TEXT,
    language_name TEXT,
    translation TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memos_created ON memos(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes a memo row. Replaying the same memo id overwrites the row, so
// redelivered outcomes stay idempotent.
func (s *Store) Save(ctx context.Context, memo Memo) error {
	if memo.ID == "" {
		return errors.New("memo id required")
	}
	if memo.CreatedAt.IsZero() {
		memo.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memos(memo_id, session_id, audio, media_type, duration_seconds,
		                   transcript, language_code, language_name, translation, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(memo_id) DO UPDATE SET
		   transcript=excluded.transcript,
		   language_code=excluded.language_code,
		   language_name=excluded.language_name,
		   translation=excluded.translation`,
		memo.ID, memo.SessionID, memo.Audio, memo.MediaType, memo.DurationSeconds,
		memo.Transcript, memo.LanguageCode, memo.LanguageName, memo.Translation, memo.CreatedAt)
	return err
}

// Get loads one memo, audio included.
func (s *Store) Get(ctx context.Context, id string) (Memo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT memo_id, session_id, audio, media_type, duration_seconds,
		        transcript, language_code, language_name, translation, created_at
		 FROM memos WHERE memo_id = ?`, id)
	m, err := scanMemo(row.Scan, true)
	if errors.Is(err, sql.ErrNoRows) {
		return Memo{}, ErrNotFound
	}
	return m, err
}

// List returns up to limit memos, newest first, without the audio payload.
func (s *Store) List(ctx context.Context, limit int) ([]Memo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT memo_id, session_id, media_type, duration_seconds,
		        transcript, language_code, language_name, translation, created_at
		 FROM memos ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memos []Memo
	for rows.Next() {
		m, err := scanMemo(rows.Scan, false)
		if err != nil {
			return nil, err
		}
		memos = append(memos, m)
	}
	return memos, rows.Err()
}

// Delete removes one memo.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memos WHERE memo_id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMemo(scan func(dest ...any) error, withAudio bool) (Memo, error) {
	var m Memo
	var created string
	var err error
	if withAudio {
		err = scan(&m.ID, &m.SessionID, &m.Audio, &m.MediaType, &m.DurationSeconds,
			&m.Transcript, &m.LanguageCode, &m.LanguageName, &m.Translation, &created)
	} else {
		err = scan(&m.ID, &m.SessionID, &m.MediaType, &m.DurationSeconds,
			&m.Transcript, &m.LanguageCode, &m.LanguageName, &m.Translation, &created)
	}
	if err != nil {
		return Memo{}, err
	}
	m.CreatedAt, err = parseTimestamp(created)
	if err != nil {
		return Memo{}, fmt.Errorf("memo %s: %w", m.ID, err)
	}
	return m, nil
}

// parseTimestamp accepts the layouts the sqlite driver writes time.Time as.
// A row whose created_at parses as neither is corrupt and must surface.
func parseTimestamp(created string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if ts, err := time.Parse(layout, created); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse created_at %q", created)
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM memos WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxMemos > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM memos WHERE memo_id IN (
			SELECT memo_id FROM memos ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxMemos)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
