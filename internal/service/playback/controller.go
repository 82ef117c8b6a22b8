package playback

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/model/settings"
	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
	"github.com/zhouzirui/vision-talk/backend/internal/service/backend"
)

// NoWord means no word of a message is highlighted.
const NoWord = -1

// DefaultCharDuration drives the highlight timer for cloned audio.
const DefaultCharDuration = 50 * time.Millisecond

// Source is a narration source, in priority order.
type Source int

const (
	SourceNone Source = iota
	SourceUploadedSample
	SourceCustomVoice
	SourceDefaultVoice
)

func (s Source) String() string {
	switch s {
	case SourceUploadedSample:
		return "uploaded voice sample"
	case SourceCustomVoice:
		return "custom voice from settings"
	case SourceDefaultVoice:
		return "default voice"
	default:
		return "none"
	}
}

// SessionContext provides the uploaded sample and the session key for TTS file names.
type SessionContext interface {
	ActiveSessionID() string
	VoiceSample() (speech.VoiceSample, bool)
}

// SettingsSource exposes the current application settings.
type SettingsSource interface {
	Current() settings.Settings
}

// VoiceFetcher downloads a configured custom voice file.
type VoiceFetcher interface {
	FetchVoice(ctx context.Context, url string) ([]byte, error)
}

// Cloner synthesizes text in a reference voice.
type Cloner interface {
	CloneSpeech(ctx context.Context, req speech.CloneRequest) (*speech.CloneResponse, error)
}

// AudioPlayer plays an audio URL and returns when playback ends or ctx is cancelled.
type AudioPlayer interface {
	Play(ctx context.Context, url string) error
}

// Synthesizer speaks an utterance with the built-in voice. onBoundary receives
// the rune offset of each spoken word when the engine reports it.
type Synthesizer interface {
	Speak(ctx context.Context, u speech.Utterance, onBoundary func(charIndex int)) error
}

// Notifier receives status announcements and highlight updates.
type Notifier interface {
	Announce(message string)
	Progress(messageID string, wordIndex int)
}

// State is Idle when MessageID is empty, otherwise Playing(MessageID).
type State struct {
	MessageID string `json:"messageId,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Playing reports whether a message is being narrated.
func (s State) Playing() bool {
	return s.MessageID != ""
}

// Options wires a Controller.
type Options struct {
	Session      SessionContext
	Settings     SettingsSource
	Fetcher      VoiceFetcher
	Cloner       Cloner
	Player       AudioPlayer
	Synthesizer  Synthesizer
	Notifier     Notifier
	CharDuration time.Duration
}

// Controller owns the single narration slot of a client.
type Controller struct {
	session      SessionContext
	settings     SettingsSource
	fetcher      VoiceFetcher
	cloner       Cloner
	player       AudioPlayer
	synth        Synthesizer
	notifier     Notifier
	charDuration time.Duration

	mu      sync.Mutex
	current *Job
	index   map[string]int
}

func NewController(opts Options) *Controller {
	charDuration := opts.CharDuration
	if charDuration <= 0 {
		charDuration = DefaultCharDuration
	}
	return &Controller{
		session:      opts.Session,
		settings:     opts.Settings,
		fetcher:      opts.Fetcher,
		cloner:       opts.Cloner,
		player:       opts.Player,
		synth:        opts.Synthesizer,
		notifier:     opts.Notifier,
		charDuration: charDuration,
		index:        make(map[string]int),
	}
}

// Toggle pauses messageID when it is the one playing, otherwise starts narrating
// it after tearing down whatever was playing. It returns nil when pausing.
func (c *Controller) Toggle(ctx context.Context, messageID, text string, words []string) *Job {
	c.mu.Lock()
	prev := c.current
	if prev != nil && prev.MessageID == messageID {
		c.current = nil
		c.index[messageID] = NoWord
		c.mu.Unlock()

		prev.Cancel()
		c.progress(messageID, NoWord)
		c.announce("Playback paused")
		return nil
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := newJob(messageID, cancel)
	c.current = job
	c.index[messageID] = NoWord
	if prev != nil {
		c.index[prev.MessageID] = NoWord
	}
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		c.progress(prev.MessageID, NoWord)
	}
	c.progress(messageID, NoWord)

	go c.run(jobCtx, job, prev, text, append([]string(nil), words...))
	return job
}

// Stop tears down any narration and waits until the audio output is released.
func (c *Controller) Stop() {
	c.mu.Lock()
	job := c.current
	c.current = nil
	if job != nil {
		c.index[job.MessageID] = NoWord
	}
	c.mu.Unlock()

	if job == nil {
		return
	}
	job.Cancel()
	job.Wait()
	c.progress(job.MessageID, NoWord)
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return State{}
	}
	st := State{MessageID: c.current.MessageID}
	if src := c.current.Source(); src != SourceNone {
		st.Source = src.String()
	}
	return st
}

// WordIndex returns the highlighted word of messageID, or NoWord.
func (c *Controller) WordIndex(messageID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.index[messageID]
	if !ok {
		return NoWord
	}
	return idx
}

func (c *Controller) run(ctx context.Context, job, prev *Job, text string, words []string) {
	defer job.finish()
	defer c.release(job)

	if prev != nil {
		prev.Wait()
	}
	if ctx.Err() != nil {
		return
	}

	sample, source := c.pickVoice(ctx)
	if sample != nil {
		job.setSource(source)
		err := c.playCloned(ctx, job, text, words, *sample, source)
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Warn().Str("component", "playback").Err(err).Msg("tts error, falling back to default voice")
		c.announce(backend.TTSDiagnostic(err))
	}

	job.setSource(SourceDefaultVoice)
	c.speak(ctx, job, text, words)
}

// pickVoice returns the first available reference voice.
func (c *Controller) pickVoice(ctx context.Context) (*speech.VoiceSample, Source) {
	if c.cloner == nil {
		return nil, SourceDefaultVoice
	}

	if c.session != nil {
		if sample, ok := c.session.VoiceSample(); ok {
			return &sample, SourceUploadedSample
		}
	}

	st := c.currentSettings()
	if !st.HasCustomVoice() || c.fetcher == nil {
		return nil, SourceDefaultVoice
	}

	data, err := c.fetcher.FetchVoice(ctx, st.VoiceFileURL)
	if err != nil {
		log.Error().Str("component", "playback").Err(err).Msg("error fetching custom voice file")
		c.announce("Failed to fetch custom voice: " + err.Error())
		return nil, SourceDefaultVoice
	}
	return &speech.VoiceSample{Name: "custom-voice.wav", Data: data}, SourceCustomVoice
}

// playCloned returns an error only when cloned synthesis failed and the
// default voice should take over.
func (c *Controller) playCloned(ctx context.Context, job *Job, text string, words []string, sample speech.VoiceSample, source Source) error {
	sessionKey := ""
	if c.session != nil {
		sessionKey = c.session.ActiveSessionID()
	}

	resp, err := c.cloner.CloneSpeech(ctx, speech.CloneRequest{
		SessionKey: sessionKey,
		Text:       text,
		Language:   c.currentSettings().BackendLanguage(),
		VoiceName:  sample.Name,
		VoiceData:  sample.Data,
	})
	if err != nil {
		return err
	}
	if c.player == nil {
		return errors.New("no audio player available")
	}

	highlightCtx, stopHighlight := context.WithCancel(ctx)
	defer stopHighlight()
	go c.highlight(highlightCtx, job, text, words)

	c.announce("Playing message with " + source.String())
	if err := c.player.Play(ctx, resp.AudioURL); err != nil && ctx.Err() == nil {
		log.Error().Str("component", "playback").Err(err).Str("url", resp.AudioURL).Msg("audio playback error")
		c.announce("Failed to play the audio")
	}
	return nil
}

// highlight advances the word index at len(text)*charDuration/len(words).
func (c *Controller) highlight(ctx context.Context, job *Job, text string, words []string) {
	if len(words) == 0 {
		return
	}
	interval := time.Duration(utf8.RuneCountInString(text)) * c.charDuration / time.Duration(len(words))
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < len(words); i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.setIndex(job, i)
		}
	}
}

func (c *Controller) speak(ctx context.Context, job *Job, text string, words []string) {
	if c.synth == nil {
		c.announce("Failed to play message: speech synthesis unavailable")
		return
	}

	st := c.currentSettings()
	u := speech.Utterance{
		Text:   text,
		Rate:   st.NarrationRate(),
		Volume: st.NarrationLoudness(),
		Pitch:  st.NarrationTone(),
		Lang:   st.SpeechLanguage(),
	}

	c.announce("Playing message with default voice")
	err := c.synth.Speak(ctx, u, func(charIndex int) {
		c.setIndex(job, WordAt(words, charIndex))
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Error().Str("component", "playback").Err(err).Msg("speech synthesis error")
		c.announce("Failed to play message: " + err.Error())
		return
	}
	c.announce("Playback finished")
}

// WordAt maps a rune offset in the spoken text to the index of the word containing it.
func WordAt(words []string, charIndex int) int {
	offset := 0
	for i, w := range words {
		offset += utf8.RuneCountInString(w) + 1
		if charIndex < offset {
			return i
		}
	}
	return 0
}

func (c *Controller) setIndex(job *Job, idx int) {
	c.mu.Lock()
	if c.current != job {
		c.mu.Unlock()
		return
	}
	c.index[job.MessageID] = idx
	c.mu.Unlock()
	c.progress(job.MessageID, idx)
}

// release returns the slot to Idle if job still owns it.
func (c *Controller) release(job *Job) {
	c.mu.Lock()
	if c.current != job {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.index[job.MessageID] = NoWord
	c.mu.Unlock()
	c.progress(job.MessageID, NoWord)
}

func (c *Controller) currentSettings() settings.Settings {
	if c.settings == nil {
		return settings.Defaults()
	}
	return c.settings.Current()
}

func (c *Controller) announce(message string) {
	if c.notifier != nil {
		c.notifier.Announce(message)
	}
}

func (c *Controller) progress(messageID string, idx int) {
	if c.notifier != nil {
		c.notifier.Progress(messageID, idx)
	}
}
