package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/vision-talk/backend/internal/model/settings"
	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
	"github.com/zhouzirui/vision-talk/backend/internal/service/backend"
)

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) Announce(message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
}

func (r *recorder) Progress(string, int) {}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *recorder) has(message string) bool {
	for _, m := range r.all() {
		if m == message {
			return true
		}
	}
	return false
}

// blockingSynth speaks until cancelled or released.
type blockingSynth struct {
	mu       sync.Mutex
	started  chan speech.Utterance
	release  chan struct{}
	boundary []int
	err      error
}

func newBlockingSynth() *blockingSynth {
	return &blockingSynth{started: make(chan speech.Utterance, 8), release: make(chan struct{})}
}

func (s *blockingSynth) Speak(ctx context.Context, u speech.Utterance, onBoundary func(int)) error {
	s.started <- u
	for _, b := range s.boundary {
		onBoundary(b)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.release:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	}
}

type fakeCloner struct {
	err  error
	reqs chan speech.CloneRequest
}

func (f *fakeCloner) CloneSpeech(_ context.Context, req speech.CloneRequest) (*speech.CloneResponse, error) {
	if f.reqs != nil {
		f.reqs <- req
	}
	if f.err != nil {
		return nil, f.err
	}
	return &speech.CloneResponse{AudioURL: "http://localhost:8000/media/output/a.wav"}, nil
}

type fakePlayer struct {
	played chan string
}

func (p *fakePlayer) Play(ctx context.Context, url string) error {
	p.played <- url
	<-ctx.Done()
	return ctx.Err()
}

type fakeSession struct {
	sample *speech.VoiceSample
}

func (f fakeSession) ActiveSessionID() string { return "s1" }

func (f fakeSession) VoiceSample() (speech.VoiceSample, bool) {
	if f.sample == nil {
		return speech.VoiceSample{}, false
	}
	return *f.sample, true
}

type staticSettings settings.Settings

func (s staticSettings) Current() settings.Settings { return settings.Settings(s) }

type fakeFetcher struct {
	err error
}

func (f fakeFetcher) FetchVoice(context.Context, string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("RIFF"), nil
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return !c.State().Playing() }, time.Second, 5*time.Millisecond)
}

func TestToggleSameMessagePauses(t *testing.T) {
	synth := newBlockingSynth()
	rec := &recorder{}
	c := NewController(Options{Synthesizer: synth, Notifier: rec})

	job := c.Toggle(context.Background(), "m1", "hello world", []string{"hello", "world"})
	require.NotNil(t, job)
	<-synth.started
	assert.Equal(t, State{MessageID: "m1", Source: "default voice"}, c.State())

	assert.Nil(t, c.Toggle(context.Background(), "m1", "hello world", []string{"hello", "world"}))
	assert.False(t, c.State().Playing())
	assert.Equal(t, NoWord, c.WordIndex("m1"))
	job.Wait()
	assert.True(t, rec.has("Playback paused"))
	assert.False(t, rec.has("Playback finished"))
}

func TestToggleOtherMessageReplacesCurrent(t *testing.T) {
	synth := newBlockingSynth()
	synth.boundary = []int{6}
	c := NewController(Options{Synthesizer: synth, Notifier: &recorder{}})

	first := c.Toggle(context.Background(), "a", "hello world", []string{"hello", "world"})
	<-synth.started
	require.Eventually(t, func() bool { return c.WordIndex("a") == 1 }, time.Second, 5*time.Millisecond)

	second := c.Toggle(context.Background(), "b", "second text", []string{"second", "text"})
	first.Wait()
	<-synth.started

	assert.Equal(t, "b", c.State().MessageID)
	assert.Equal(t, NoWord, c.WordIndex("a"))

	close(synth.release)
	second.Wait()
	waitIdle(t, c)
	assert.Equal(t, NoWord, c.WordIndex("b"))
}

func TestCloneFailureFallsBackToDefaultVoice(t *testing.T) {
	synth := newBlockingSynth()
	rec := &recorder{}
	c := NewController(Options{
		Session:     fakeSession{sample: &speech.VoiceSample{Name: "me.wav", Data: []byte("RIFF")}},
		Cloner:      &fakeCloner{err: &backend.StatusError{Status: 500, Body: []byte(`{"message":"boom"}`)}},
		Player:      &fakePlayer{played: make(chan string, 1)},
		Synthesizer: synth,
		Notifier:    rec,
	})

	job := c.Toggle(context.Background(), "m1", "hi", []string{"hi"})
	<-synth.started
	assert.True(t, c.State().Playing())
	assert.Equal(t, "default voice", c.State().Source)

	close(synth.release)
	job.Wait()
	assert.True(t, rec.has("Playback finished"))
	assert.True(t, rec.has("Playing message with default voice"))
}

func TestUploadedSampleTakesPriority(t *testing.T) {
	cloner := &fakeCloner{reqs: make(chan speech.CloneRequest, 1)}
	player := &fakePlayer{played: make(chan string, 1)}
	rec := &recorder{}
	c := NewController(Options{
		Session:  fakeSession{sample: &speech.VoiceSample{Name: "me.wav", Data: []byte("RIFF")}},
		Settings: staticSettings(settings.Settings{VoiceID: "1", VoiceFileURL: "file:///tmp/v.wav", Language: "hi-IN"}),
		Fetcher:  fakeFetcher{err: errors.New("should not fetch")},
		Cloner:   cloner,
		Player:   player,
		Notifier: rec,
	})

	job := c.Toggle(context.Background(), "m1", "namaste", []string{"namaste"})
	req := <-cloner.reqs
	assert.Equal(t, "me.wav", req.VoiceName)
	assert.Equal(t, "hi-IN", req.Language)
	assert.Equal(t, "s1", req.SessionKey)
	assert.Equal(t, "http://localhost:8000/media/output/a.wav", <-player.played)

	c.Stop()
	job.Wait()
	assert.False(t, c.State().Playing())
	assert.True(t, rec.has("Playing message with uploaded voice sample"))
}

func TestCustomVoiceFetchFailureFallsBack(t *testing.T) {
	synth := newBlockingSynth()
	rec := &recorder{}
	c := NewController(Options{
		Settings:    staticSettings(settings.Settings{VoiceID: "1", VoiceFileURL: "http://example.invalid/v.wav"}),
		Fetcher:     fakeFetcher{err: errors.New("Failed to fetch custom voice file")},
		Cloner:      &fakeCloner{},
		Synthesizer: synth,
		Notifier:    rec,
	})

	job := c.Toggle(context.Background(), "m1", "hi", []string{"hi"})
	<-synth.started
	close(synth.release)
	job.Wait()
	assert.True(t, rec.has("Failed to fetch custom voice: Failed to fetch custom voice file"))
	assert.True(t, rec.has("Playback finished"))
}

func TestSynthesisErrorAnnounced(t *testing.T) {
	synth := newBlockingSynth()
	synth.err = errors.New("engine crashed")
	rec := &recorder{}
	c := NewController(Options{Synthesizer: synth, Notifier: rec})

	job := c.Toggle(context.Background(), "m1", "hi", []string{"hi"})
	<-synth.started
	close(synth.release)
	job.Wait()
	waitIdle(t, c)
	assert.True(t, rec.has("Failed to play message: engine crashed"))
}

// ctxSynth 记录收到的 ctx 并立即结束
type ctxSynth struct {
	ctx chan context.Context
}

func (s ctxSynth) Speak(ctx context.Context, _ speech.Utterance, _ func(int)) error {
	s.ctx <- ctx
	return nil
}

func TestFinishedJobReleasesContext(t *testing.T) {
	synth := ctxSynth{ctx: make(chan context.Context, 1)}
	rec := &recorder{}
	c := NewController(Options{Synthesizer: synth, Notifier: rec})

	job := c.Toggle(context.Background(), "m1", "hi", []string{"hi"})
	require.NotNil(t, job)
	jobCtx := <-synth.ctx
	job.Wait()

	assert.ErrorIs(t, jobCtx.Err(), context.Canceled)
	assert.True(t, rec.has("Playback finished"))
}

func TestHighlightAdvancesOnTimer(t *testing.T) {
	player := &fakePlayer{played: make(chan string, 1)}
	c := NewController(Options{
		Session:      fakeSession{sample: &speech.VoiceSample{Name: "me.wav"}},
		Cloner:       &fakeCloner{},
		Player:       player,
		Notifier:     &recorder{},
		CharDuration: time.Millisecond,
	})

	c.Toggle(context.Background(), "m1", "one two three", []string{"one", "two", "three"})
	<-player.played
	require.Eventually(t, func() bool { return c.WordIndex("m1") == 2 }, time.Second, time.Millisecond)
	c.Stop()
	assert.Equal(t, NoWord, c.WordIndex("m1"))
}

func TestWordAt(t *testing.T) {
	words := []string{"hello", "big", "world"}
	cases := []struct {
		char int
		want int
	}{
		{0, 0},
		{5, 0},
		{6, 1},
		{9, 1},
		{10, 2},
		{15, 2},
		{99, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, WordAt(words, tc.char), "char %d", tc.char)
	}
	assert.Equal(t, 0, WordAt(nil, 3))
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "uploaded voice sample", SourceUploadedSample.String())
	assert.Equal(t, "custom voice from settings", SourceCustomVoice.String())
	assert.Equal(t, "default voice", SourceDefaultVoice.String())
}
