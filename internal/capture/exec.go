package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execDevice runs a long-lived capture command (ffmpeg/arecord style) that
// writes 16-bit little-endian PCM to stdout.
type execDevice struct {
	cmd []string
	mu  sync.Mutex
}

func NewExecDevice(command string) (Device, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &execDevice{cmd: args}, nil
}

func (d *execDevice) Open(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	base := d.cmd[0]
	if _, err := exec.LookPath(base); err != nil {
		return nil, fmt.Errorf("%w: %s not installed", ErrDeviceNotFound, base)
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, base, d.cmd[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, classifyStartError(err)
	}

	frames := make(chan Frame)
	go func() {
		defer close(frames)
		defer cmd.Wait()
		frameBytes := cfg.FrameBytes()
		sequence := 0
		buf := make([]byte, frameBytes)
		for {
			n, err := io.ReadFull(stdout, buf)
			if n > 0 {
				frame := Frame{Sequence: sequence, PCM: append([]byte(nil), buf[:n]...)}
				sequence++
				select {
				case frames <- frame:
				case <-cmdCtx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return NewStream(cfg, frames, cancel), nil
}

// classifyStartError maps the reported reason onto the device taxonomy.
func classifyStartError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	case strings.Contains(msg, "no such") || strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}
