package media

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CommandCamera grabs single JPEG frames by running a capture command that
// writes the image to stdout, e.g. ffmpeg reading /dev/video0.
type CommandCamera struct {
	argv []string

	mu   sync.Mutex
	held bool
}

func NewCommandCamera(command string) *CommandCamera {
	return &CommandCamera{argv: strings.Fields(command)}
}

func (c *CommandCamera) Acquire(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.argv) == 0 {
		return nil, ErrNoDevice
	}
	if _, err := exec.LookPath(c.argv[0]); err != nil {
		return nil, errors.Wrap(ErrNoDevice, err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		return nil, errors.New("camera already in use")
	}
	c.held = true
	return &cameraHandle{cam: c}, nil
}

type cameraHandle struct {
	cam  *CommandCamera
	once sync.Once

	mu       sync.Mutex
	released bool
}

func (h *cameraHandle) Frame(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, ErrReleased
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.cam.argv[0], h.cam.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error().Str("component", "media").Err(err).Str("stderr", stderr.String()).Msg("frame capture failed")
		return nil, classifyCaptureOutput(stderr.String(), err)
	}
	if stdout.Len() == 0 {
		return nil, ErrNotReady
	}
	return stdout.Bytes(), nil
}

// Release waits for an in-flight capture before returning.
func (h *cameraHandle) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()

		h.cam.mu.Lock()
		h.cam.held = false
		h.cam.mu.Unlock()
	})
}
