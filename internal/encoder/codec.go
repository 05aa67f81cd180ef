package encoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/memovoxlabs/memovox-core/internal/capture"
	"github.com/memovoxlabs/memovox-core/internal/config"
)

var (
	// ErrEmptyRecording is returned when stop finds no encoded data at all.
	ErrEmptyRecording = errors.New("recording produced no audio data")
	// ErrUnsupported is returned when no preferred media type has a usable
	// backend.
	ErrUnsupported = errors.New("no supported audio encoding available")
)

// Blob is the finalized audio payload with the media type negotiated at
// session start.
type Blob struct {
	MediaType string
	Data      []byte
}

// Codec produces encoded fragments for one media type.
type Codec interface {
	MediaType() string
	Supported() bool
	NewCodecSession(cfg capture.StreamConfig) (CodecSession, error)
}

// CodecSession is a single-recording encoder instance. Encode may return an
// empty slice when the backend has nothing ready yet; Flush delivers the
// trailing fragment; Assemble turns the ordered fragments into the final
// container bytes.
type CodecSession interface {
	Encode(pcm []byte) ([]byte, error)
	Flush() ([]byte, error)
	Assemble(chunks [][]byte) ([]byte, error)
}

// Negotiate walks the configured preference list and returns the first codec
// with a usable backend, highest fidelity first.
func Negotiate(cfg config.EncoderConfig) (Codec, error) {
	for _, preferred := range cfg.Preferred {
		codec, err := codecFor(preferred, cfg)
		if err != nil {
			return nil, err
		}
		if codec.Supported() {
			return codec, nil
		}
	}
	return nil, fmt.Errorf("%w: tried %s", ErrUnsupported, strings.Join(cfg.Preferred, ", "))
}

func codecFor(mediaType string, cfg config.EncoderConfig) (Codec, error) {
	switch {
	case strings.HasPrefix(mediaType, "audio/ogg"):
		return newOpusExecCodec(mediaType, cfg.OpusCommand)
	case mediaType == "audio/wav":
		return wavCodec{}, nil
	case mediaType == "audio/pcm":
		return pcmCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown media type %q in encoder.preferred", mediaType)
	}
}
