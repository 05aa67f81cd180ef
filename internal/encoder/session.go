package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/memovoxlabs/memovox-core/internal/capture"
)

// Session consumes a live capture stream and accumulates encoded fragments.
// Encoding is sliced at a short fixed timeslice rather than a single
// end-of-stream flush so Stop can retrieve a near-complete buffer even when
// the final flush is delayed or dropped.
type Session struct {
	codec     Codec
	timeslice int // milliseconds
	log       *slog.Logger

	mu      sync.Mutex
	chunks  [][]byte
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	pumpErr error
	cs      CodecSession
	cfg     capture.StreamConfig
}

func NewSession(codec Codec, timesliceMS int, log *slog.Logger) *Session {
	return &Session{
		codec:     codec,
		timeslice: timesliceMS,
		log:       log.With(slog.String("component", "encoder")),
	}
}

func (s *Session) MediaType() string { return s.codec.MediaType() }

// Start begins encoding the given device stream.
func (s *Session) Start(stream *capture.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("encoder session already started")
	}

	cs, err := s.codec.NewCodecSession(stream.Config())
	if err != nil {
		return fmt.Errorf("start %s encoder: %w", s.codec.MediaType(), err)
	}

	s.cs = cs
	s.cfg = stream.Config()
	s.started = true
	s.stopped = false
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.pump(stream)
	return nil
}

func (s *Session) pump(stream *capture.Stream) {
	defer close(s.doneCh)

	sliceBytes := s.cfg.SampleRate * s.cfg.Channels * 2 * s.timeslice / 1000
	var pending []byte

	encode := func(pcm []byte) bool {
		data, err := s.cs.Encode(pcm)
		if err != nil {
			s.fail(err)
			return false
		}
		s.appendChunk(data)
		return true
	}

	for {
		select {
		case <-s.stopCh:
			// Drain whatever the device already delivered, then fall
			// through to the final flush.
			for {
				select {
				case frame, ok := <-stream.Frames():
					if !ok {
						s.finish(pending, encode)
						return
					}
					pending = append(pending, frame.PCM...)
					continue
				default:
				}
				break
			}
			s.finish(pending, encode)
			return
		case frame, ok := <-stream.Frames():
			if !ok {
				s.finish(pending, encode)
				return
			}
			pending = append(pending, frame.PCM...)
			for len(pending) >= sliceBytes && sliceBytes > 0 {
				slice := pending[:sliceBytes]
				pending = pending[sliceBytes:]
				if !encode(slice) {
					return
				}
			}
		}
	}
}

func (s *Session) finish(pending []byte, encode func([]byte) bool) {
	if len(pending) > 0 {
		if !encode(pending) {
			return
		}
	}
	data, err := s.cs.Flush()
	if err != nil {
		s.fail(err)
		return
	}
	s.appendChunk(data)
}

// appendChunk records a fragment in delivery order; empty fragments are
// discarded, not errors.
func (s *Session) appendChunk(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, data)
	s.mu.Unlock()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.pumpErr = err
	s.mu.Unlock()
	s.log.Warn("encoder error", slog.String("error", err.Error()))
}

// ChunkCount reports accumulated fragments; used by the orchestrator to
// distinguish an empty recording before finalizing.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Stop requests a final flush, waits for the stop to resolve, and assembles
// the fragments into a blob with the negotiated media type. An empty buffer
// yields ErrEmptyRecording rather than a zero-byte artifact.
func (s *Session) Stop(ctx context.Context) (Blob, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return Blob{}, errors.New("encoder session not started")
	}
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	doneCh := s.doneCh
	s.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return Blob{}, fmt.Errorf("encoder stop: %w", ctx.Err())
	}

	s.mu.Lock()
	chunks := s.chunks
	pumpErr := s.pumpErr
	s.chunks = nil
	s.started = false
	s.mu.Unlock()

	if pumpErr != nil {
		return Blob{}, fmt.Errorf("encoder failed: %w", pumpErr)
	}
	if len(chunks) == 0 {
		return Blob{}, ErrEmptyRecording
	}

	data, err := s.cs.Assemble(chunks)
	if err != nil {
		return Blob{}, fmt.Errorf("assemble %s blob: %w", s.codec.MediaType(), err)
	}
	return Blob{MediaType: s.codec.MediaType(), Data: data}, nil
}

// Abort discards the session without producing a blob. Safe to call
// redundantly or before Start.
func (s *Session) Abort() {
	s.mu.Lock()
	if !s.started {
		s.chunks = nil
		s.mu.Unlock()
		return
	}
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	doneCh := s.doneCh
	s.mu.Unlock()
	<-doneCh

	s.mu.Lock()
	s.chunks = nil
	s.started = false
	s.mu.Unlock()
}
