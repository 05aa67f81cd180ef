package encoder

import (
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/memovoxlabs/memovox-core/internal/capture"
)

// opusExecCodec shells out to an ffmpeg-style command that reads raw PCM on
// stdin and writes an opus-in-ogg stream to stdout. Supported only when a
// command is configured and resolvable on PATH.
type opusExecCodec struct {
	mediaType string
	cmd       []string
}

func newOpusExecCodec(mediaType, command string) (Codec, error) {
	if command == "" {
		return &opusExecCodec{mediaType: mediaType}, nil
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse opus command: %w", err)
	}
	return &opusExecCodec{mediaType: mediaType, cmd: args}, nil
}

func (c *opusExecCodec) MediaType() string { return c.mediaType }

func (c *opusExecCodec) Supported() bool {
	if len(c.cmd) == 0 {
		return false
	}
	_, err := exec.LookPath(c.cmd[0])
	return err == nil
}

func (c *opusExecCodec) NewCodecSession(cfg capture.StreamConfig) (CodecSession, error) {
	cmd := exec.Command(c.cmd[0], c.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opus encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opus encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start opus encoder: %w", err)
	}

	s := &opusSession{cmd: cmd, stdin: stdin}
	go s.pump(stdout)
	return s, nil
}

type opusSession struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	pending []byte
	readErr error
	done    chan struct{}
}

func (s *opusSession) pump(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.pending = append(s.pending, buf[:n]...)
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			if err != io.EOF {
				s.readErr = err
			}
			if s.done != nil {
				close(s.done)
				s.done = nil
			} else {
				s.done = closedChan()
			}
			s.mu.Unlock()
			return
		}
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Encode feeds one PCM timeslice to the encoder process and returns whatever
// encoded bytes have been delivered since the previous call.
func (s *opusSession) Encode(pcm []byte) ([]byte, error) {
	if _, err := s.stdin.Write(pcm); err != nil {
		return nil, fmt.Errorf("write pcm to opus encoder: %w", err)
	}
	return s.take(), nil
}

func (s *opusSession) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// Flush closes the input side, waits for the encoder to drain, and returns
// the trailing encoded bytes.
func (s *opusSession) Flush() ([]byte, error) {
	_ = s.stdin.Close()

	s.mu.Lock()
	wait := s.done
	if wait == nil {
		wait = make(chan struct{})
		s.done = wait
	}
	s.mu.Unlock()
	<-wait

	err := s.cmd.Wait()

	s.mu.Lock()
	readErr := s.readErr
	s.mu.Unlock()
	if readErr != nil {
		return nil, fmt.Errorf("read opus encoder output: %w", readErr)
	}
	if err != nil {
		return nil, fmt.Errorf("opus encoder exited: %w", err)
	}
	return s.take(), nil
}

func (s *opusSession) Assemble(chunks [][]byte) ([]byte, error) {
	var out []byte
	for _, chunk := range chunks {
		out = append(out, chunk...)
	}
	return out, nil
}
