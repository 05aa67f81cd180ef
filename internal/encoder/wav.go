package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/memovoxlabs/memovox-core/internal/capture"
)

// wavCodec passes PCM timeslices through as fragments and wraps them in a
// RIFF container at assembly time. Always supported, the universal fallback
// before raw PCM.
type wavCodec struct{}

func (wavCodec) MediaType() string { return "audio/wav" }

func (wavCodec) Supported() bool { return true }

func (wavCodec) NewCodecSession(cfg capture.StreamConfig) (CodecSession, error) {
	return &wavSession{cfg: cfg}, nil
}

type wavSession struct {
	cfg capture.StreamConfig
}

func (s *wavSession) Encode(pcm []byte) ([]byte, error) {
	return pcm, nil
}

func (s *wavSession) Flush() ([]byte, error) { return nil, nil }

func (s *wavSession) Assemble(chunks [][]byte) ([]byte, error) {
	var pcm []byte
	for _, chunk := range chunks {
		pcm = append(pcm, chunk...)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}

	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: s.cfg.Channels, SampleRate: s.cfg.SampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	var out seekBuffer
	enc := wav.NewEncoder(&out, s.cfg.SampleRate, 16, s.cfg.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on close.
type seekBuffer struct {
	buf bytes.Buffer
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if b.pos < b.buf.Len() {
		n := copy(b.buf.Bytes()[b.pos:], p)
		if n < len(p) {
			b.buf.Write(p[n:])
		}
	} else {
		for b.pos > b.buf.Len() {
			b.buf.WriteByte(0)
		}
		b.buf.Write(p)
	}
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = b.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	b.pos = next
	return int64(next), nil
}

func (b *seekBuffer) Bytes() []byte { return b.buf.Bytes() }

// pcmCodec is the last-resort unspecified default: fragments are the raw
// timeslices and the blob is their concatenation.
type pcmCodec struct{}

func (pcmCodec) MediaType() string { return "audio/pcm" }

func (pcmCodec) Supported() bool { return true }

func (pcmCodec) NewCodecSession(cfg capture.StreamConfig) (CodecSession, error) {
	return &pcmSession{}, nil
}

type pcmSession struct{}

func (s *pcmSession) Encode(pcm []byte) ([]byte, error) { return pcm, nil }

func (s *pcmSession) Flush() ([]byte, error) { return nil, nil }

func (s *pcmSession) Assemble(chunks [][]byte) ([]byte, error) {
	var out []byte
	for _, chunk := range chunks {
		out = append(out, chunk...)
	}
	return out, nil
}
