package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// FrameFeed is a Source fed by frames pushed from a remote camera, such as the
// browser over a WebSocket. The latest frame wins.
type FrameFeed struct {
	mu      sync.Mutex
	frame   []byte
	closed  bool
	holders int
	changed chan struct{}
}

func NewFrameFeed() *FrameFeed {
	return &FrameFeed{changed: make(chan struct{})}
}

// Push replaces the latest frame.
func (f *FrameFeed) Push(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.frame = append(f.frame[:0], frame...)
}

// Close marks the remote camera as gone; pending and future Acquire calls fail.
func (f *FrameFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.frame = nil
	f.notify()
}

// Reopen re-arms a closed feed when a camera connects again.
func (f *FrameFeed) Reopen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = false
}

// Active reports whether any handle currently holds the feed.
func (f *FrameFeed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holders > 0
}

// Changed is closed the next time the set of holders changes.
func (f *FrameFeed) Changed() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed
}

func (f *FrameFeed) Acquire(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrNoDevice
	}
	f.holders++
	f.notify()
	log.Debug().Str("component", "media").Int("holders", f.holders).Msg("frame feed acquired")
	return &feedHandle{feed: f}, nil
}

func (f *FrameFeed) notify() {
	close(f.changed)
	f.changed = make(chan struct{})
}

type feedHandle struct {
	feed *FrameFeed
	once sync.Once

	mu       sync.Mutex
	released bool
}

func (h *feedHandle) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return nil, ErrReleased
	}

	f := h.feed
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrNoDevice
	}
	if len(f.frame) == 0 {
		return nil, ErrNotReady
	}
	return append([]byte(nil), f.frame...), nil
}

func (h *feedHandle) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()

		f := h.feed
		f.mu.Lock()
		f.holders--
		f.notify()
		f.mu.Unlock()
		log.Debug().Str("component", "media").Msg("frame feed released")
	})
}
