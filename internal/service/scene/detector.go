package scene

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
	"github.com/zhouzirui/vision-talk/backend/internal/service/backend"
	"github.com/zhouzirui/vision-talk/backend/internal/service/media"
	"github.com/zhouzirui/vision-talk/backend/internal/service/status"
)

const (
	// DefaultInterval is the live recognition period.
	DefaultInterval = 20 * time.Second

	noDescription   = "No description available."
	descriptionLang = "en-US"
	notReadyMessage = "Camera feed is not ready. Please wait a moment and try again."
)

// Recognizer describes a camera frame.
type Recognizer interface {
	RecognizeScene(ctx context.Context, frameDataURL string) (string, error)
}

// Speaker narrates descriptions.
type Speaker interface {
	Speak(ctx context.Context, u speech.Utterance, onBoundary func(charIndex int)) error
}

// Notifier receives announcements and description updates.
type Notifier interface {
	status.Announcer
	Publish(ev status.Event)
}

type Options struct {
	Source     media.Source
	Recognizer Recognizer
	Speaker    Speaker
	Notifier   Notifier
	Interval   time.Duration
}

// Detector periodically captures a frame, asks the backend to describe it and
// optionally speaks the description.
type Detector struct {
	source     media.Source
	recognizer Recognizer
	speaker    Speaker
	notifier   Notifier
	interval   time.Duration

	mu          sync.Mutex
	handle      media.Handle
	running     bool
	gen         uint64 // 每次 Start 递增
	audio       bool
	description string
	stopLoop    context.CancelFunc
	loopDone    chan struct{}
	stopSpeech  context.CancelFunc
	speechWG    sync.WaitGroup
}

func NewDetector(opts Options) *Detector {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Detector{
		source:     opts.Source,
		recognizer: opts.Recognizer,
		speaker:    opts.Speaker,
		notifier:   opts.Notifier,
		interval:   interval,
		audio:      true,
	}
}

// Start acquires the camera and begins periodic description. Calling Start
// while running is a no-op.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if d.source == nil {
		d.announce(media.DetectionError(media.ErrNoDevice))
		return media.ErrNoDevice
	}
	handle, err := d.source.Acquire(ctx)
	if err != nil {
		log.Error().Str("component", "scene").Err(err).Msg("error accessing camera")
		d.announce(media.DetectionError(err))
		return errors.Wrap(err, "acquire camera")
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		cancel()
		handle.Release()
		return nil
	}
	d.handle = handle
	d.running = true
	d.gen++
	d.stopLoop = cancel
	d.loopDone = done
	d.mu.Unlock()

	d.announce("Scene description started.")
	go d.loop(loopCtx, done)
	return nil
}

// Stop ends periodic description, cancels speech, clears the description and
// releases the camera before returning.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stopLoop, d.loopDone
	d.stopLoop, d.loopDone = nil, nil
	d.mu.Unlock()

	stop()
	<-done
	d.cancelSpeech()
	d.speechWG.Wait()

	d.mu.Lock()
	handle := d.handle
	d.handle = nil
	d.description = ""
	d.mu.Unlock()
	if handle != nil {
		handle.Release()
	}

	d.publish("")
	d.announce("Scene description stopped.")
}

// SetAudio mutes or enables narration. Any ongoing speech is cancelled.
func (d *Detector) SetAudio(enabled bool) {
	d.mu.Lock()
	d.audio = enabled
	d.mu.Unlock()
	d.cancelSpeech()
	if enabled {
		d.announce("Audio enabled.")
	} else {
		d.announce("Audio muted.")
	}
}

// Audio reports whether descriptions are spoken.
func (d *Detector) Audio() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audio
}

// Running reports whether periodic description is active.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Description returns the latest scene description, empty after errors and Stop.
func (d *Detector) Description() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.description
}

// Describe runs one capture and recognition cycle. A result that arrives after
// Stop is dropped and reported as media.ErrReleased.
func (d *Detector) Describe(ctx context.Context) (string, error) {
	d.mu.Lock()
	handle, gen := d.handle, d.gen
	d.mu.Unlock()
	if handle == nil {
		d.announce(notReadyMessage)
		return "", media.ErrNotReady
	}

	frame, err := handle.Frame(ctx)
	if err != nil {
		log.Warn().Str("component", "scene").Err(err).Msg("frame not available")
		d.announce(notReadyMessage)
		return "", err
	}

	desc, err := d.recognizer.RecognizeScene(ctx, media.DataURL(frame))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Error().Str("component", "scene").Err(err).Msg("error during scene description")
		if d.commit(gen, "", false) {
			d.announce(backend.SceneDiagnostic(err))
		}
		return "", err
	}
	if desc == "" {
		desc = noDescription
	}

	if !d.commit(gen, desc, true) {
		log.Debug().Str("component", "scene").Msg("description arrived after stop, dropped")
		return "", media.ErrReleased
	}
	return desc, nil
}

// commit 仅当同一轮检测仍在运行时记录描述；朗读在锁内登记，Stop 的 Wait 一定能看到
func (d *Detector) commit(gen uint64, desc string, narrate bool) bool {
	d.mu.Lock()
	if !d.running || d.gen != gen {
		d.mu.Unlock()
		return false
	}
	d.description = desc
	d.publish(desc)

	narrate = narrate && d.audio
	var (
		speechCtx context.Context
		cancel    context.CancelFunc
		prev      context.CancelFunc
	)
	if narrate && d.speaker != nil {
		prev = d.stopSpeech
		speechCtx, cancel = context.WithCancel(context.Background())
		d.stopSpeech = cancel
		d.speechWG.Add(1)
	}
	d.mu.Unlock()

	if prev != nil {
		prev()
	}
	switch {
	case speechCtx != nil:
		d.speak(speechCtx, cancel, desc)
	case narrate:
		d.announce("Speech synthesis is not supported on this device.")
	}
	return true
}

func (d *Detector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = d.Describe(ctx)
		}
	}
}

// speak narrates desc; the caller has already registered it on speechWG.
func (d *Detector) speak(ctx context.Context, cancel context.CancelFunc, desc string) {
	d.announce("Speaking scene description.")
	go func() {
		defer d.speechWG.Done()
		defer cancel()
		err := d.speaker.Speak(ctx, speech.Utterance{Text: desc, Rate: 1, Volume: 1, Pitch: 1, Lang: descriptionLang}, nil)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			log.Error().Str("component", "scene").Err(err).Msg("speech synthesis error")
			d.announce("Failed to speak the scene description.")
		default:
			d.announce("Scene description spoken.")
		}
	}()
}

func (d *Detector) cancelSpeech() {
	d.mu.Lock()
	cancel := d.stopSpeech
	d.stopSpeech = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Detector) publish(desc string) {
	if d.notifier != nil {
		d.notifier.Publish(status.Event{Type: status.EventScene, Message: desc})
	}
}

func (d *Detector) announce(message string) {
	if d.notifier != nil {
		d.notifier.Announce(message)
	}
}
