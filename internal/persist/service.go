package persist

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/memovoxlabs/memovox-core/internal/bus"
	"github.com/memovoxlabs/memovox-core/internal/memostore"
	"github.com/memovoxlabs/memovox-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service subscribes to session outcomes and writes the artifact into the
// memo library, announcing each stored memo on the bus.
type Service struct {
	store  *memostore.Store
	bus    *bus.Client
	logger *slog.Logger
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(parent context.Context, store *memostore.Store, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		store:  store,
		bus:    busClient,
		logger: logger.With(slog.String("component", "persist")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSessionOutcome, s.handleOutcome)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.sub != nil
}

func (s *Service) handleOutcome(msg *nats.Msg) {
	var outcome protocol.Outcome
	if err := json.Unmarshal(msg.Data, &outcome); err != nil {
		s.logger.Warn("failed to decode session outcome", slogError(err))
		return
	}
	if outcome.Artifact == nil {
		// Error outcomes carry nothing to store.
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.storeArtifact(outcome.Artifact)
	}()
}

func (s *Service) storeArtifact(artifact *protocol.Artifact) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	memo := memostore.Memo{
		ID:              artifact.MemoID,
		SessionID:       artifact.SessionID,
		Audio:           artifact.Audio,
		MediaType:       artifact.MediaType,
		DurationSeconds: artifact.DurationSeconds,
		Transcript:      artifact.Transcript,
		LanguageCode:    artifact.LanguageCode,
		LanguageName:    artifact.LanguageName,
		Translation:     artifact.EnglishTranslation,
	}
	if err := s.store.Save(ctx, memo); err != nil {
		s.logger.Error("failed to store memo",
			slog.String("memo_id", artifact.MemoID),
			slogError(err))
		return
	}
	s.logger.Info("memo stored",
		slog.String("memo_id", artifact.MemoID),
		slog.Int("duration_seconds", artifact.DurationSeconds),
		slog.Int("audio_bytes", len(artifact.Audio)))

	stored := protocol.MemoStored{
		MemoID:          artifact.MemoID,
		SessionID:       artifact.SessionID,
		MediaType:       artifact.MediaType,
		DurationSeconds: artifact.DurationSeconds,
		Timestamp:       time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectMemoStored, stored); err != nil {
		s.logger.Warn("failed to announce stored memo", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
