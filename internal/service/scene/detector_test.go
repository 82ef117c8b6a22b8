package scene

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
	"github.com/zhouzirui/vision-talk/backend/internal/service/backend"
	"github.com/zhouzirui/vision-talk/backend/internal/service/media"
	"github.com/zhouzirui/vision-talk/backend/internal/service/status"
)

type recorder struct {
	mu       sync.Mutex
	messages []string
	scenes   []string
}

func (r *recorder) Announce(message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
}

func (r *recorder) Publish(ev status.Event) {
	r.mu.Lock()
	r.scenes = append(r.scenes, ev.Message)
	r.mu.Unlock()
}

func (r *recorder) has(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m == message {
			return true
		}
	}
	return false
}

type fakeRecognizer struct {
	mu     sync.Mutex
	desc   string
	err    error
	images []string
}

func (f *fakeRecognizer) RecognizeScene(_ context.Context, dataURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, dataURL)
	return f.desc, f.err
}

func (f *fakeRecognizer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.images)
}

type fakeSpeaker struct {
	spoken chan speech.Utterance
	block  bool
}

func (s *fakeSpeaker) Speak(ctx context.Context, u speech.Utterance, _ func(int)) error {
	s.spoken <- u
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func newDetector(rec *recorder, recog *fakeRecognizer, spk *fakeSpeaker, src media.Source) *Detector {
	return NewDetector(Options{
		Source:     src,
		Recognizer: recog,
		Speaker:    spk,
		Notifier:   rec,
		Interval:   time.Hour,
	})
}

func TestDescribeSpeaksDescription(t *testing.T) {
	feed := media.NewFrameFeed()
	feed.Push([]byte{0xff, 0xd8})
	rec := &recorder{}
	recog := &fakeRecognizer{desc: "A kitchen with a table."}
	spk := &fakeSpeaker{spoken: make(chan speech.Utterance, 1)}
	d := newDetector(rec, recog, spk, feed)

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.Running())
	assert.True(t, feed.Active())

	desc, err := d.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A kitchen with a table.", desc)
	assert.Equal(t, desc, d.Description())
	assert.True(t, strings.HasPrefix(recog.images[0], "data:image/jpeg;base64,"))

	u := <-spk.spoken
	assert.Equal(t, "en-US", u.Lang)
	require.Eventually(t, func() bool { return rec.has("Scene description spoken.") }, time.Second, 5*time.Millisecond)

	d.Stop()
	assert.False(t, d.Running())
	assert.False(t, feed.Active())
	assert.Empty(t, d.Description())
	assert.True(t, rec.has("Scene description started."))
	assert.True(t, rec.has("Scene description stopped."))
}

func TestDescribeDefaultsEmptyDescription(t *testing.T) {
	feed := media.NewFrameFeed()
	feed.Push([]byte{1})
	d := newDetector(&recorder{}, &fakeRecognizer{}, nil, feed)
	d.SetAudio(false)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	desc, err := d.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No description available.", desc)
}

func TestDescribeErrorResetsDescription(t *testing.T) {
	feed := media.NewFrameFeed()
	feed.Push([]byte{1})
	rec := &recorder{}
	recog := &fakeRecognizer{desc: "first"}
	d := newDetector(rec, recog, nil, feed)
	d.SetAudio(false)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	_, err := d.Describe(context.Background())
	require.NoError(t, err)

	recog.err = &backend.StatusError{Status: 502, Body: []byte(`{"message":"bad gateway"}`)}
	_, err = d.Describe(context.Background())
	assert.Error(t, err)
	assert.Empty(t, d.Description())
	assert.True(t, rec.has("Error describing scene: Server error: 502 - bad gateway."))
}

func TestDescribeWithoutFrame(t *testing.T) {
	rec := &recorder{}
	d := newDetector(rec, &fakeRecognizer{}, nil, media.NewFrameFeed())

	_, err := d.Describe(context.Background())
	assert.ErrorIs(t, err, media.ErrNotReady)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()
	_, err = d.Describe(context.Background())
	assert.ErrorIs(t, err, media.ErrNotReady)
	assert.True(t, rec.has("Camera feed is not ready. Please wait a moment and try again."))
}

func TestStartWithoutCamera(t *testing.T) {
	feed := media.NewFrameFeed()
	feed.Close()
	rec := &recorder{}
	d := newDetector(rec, &fakeRecognizer{}, nil, feed)

	err := d.Start(context.Background())
	assert.ErrorIs(t, err, media.ErrNoDevice)
	assert.False(t, d.Running())
	assert.True(t, rec.has("Error: No webcam found. Please connect a camera."))
}

func TestPeriodicCapture(t *testing.T) {
	feed := media.NewFrameFeed()
	feed.Push([]byte{1})
	recog := &fakeRecognizer{desc: "hall"}
	d := NewDetector(Options{Source: feed, Recognizer: recog, Notifier: &recorder{}, Interval: 10 * time.Millisecond})
	d.SetAudio(false)

	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool { return recog.calls() >= 2 }, time.Second, 5*time.Millisecond)
	d.Stop()

	n := recog.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, recog.calls())
}

func TestMutingCancelsSpeech(t *testing.T) {
	feed := media.NewFrameFeed()
	feed.Push([]byte{1})
	rec := &recorder{}
	spk := &fakeSpeaker{spoken: make(chan speech.Utterance, 1), block: true}
	d := newDetector(rec, &fakeRecognizer{desc: "door"}, spk, feed)
	require.NoError(t, d.Start(context.Background()))

	_, err := d.Describe(context.Background())
	require.NoError(t, err)
	<-spk.spoken

	d.SetAudio(false)
	assert.False(t, d.Audio())
	assert.True(t, rec.has("Audio muted."))
	d.Stop()
	assert.False(t, rec.has("Scene description spoken."))
}

// gateRecognizer 阻塞到 release 关闭
type gateRecognizer struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateRecognizer) RecognizeScene(context.Context, string) (string, error) {
	close(g.entered)
	<-g.release
	return "A late corridor.", nil
}

func TestStopDuringDescribeDropsResult(t *testing.T) {
	feed := media.NewFrameFeed()
	feed.Push([]byte{1})
	rec := &recorder{}
	recog := &gateRecognizer{entered: make(chan struct{}), release: make(chan struct{})}
	spk := &fakeSpeaker{spoken: make(chan speech.Utterance, 1)}
	d := NewDetector(Options{Source: feed, Recognizer: recog, Speaker: spk, Notifier: rec, Interval: time.Hour})
	require.NoError(t, d.Start(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Describe(context.Background())
		errCh <- err
	}()
	<-recog.entered

	d.Stop()
	close(recog.release)

	assert.ErrorIs(t, <-errCh, media.ErrReleased)
	assert.Empty(t, d.Description())
	assert.Empty(t, spk.spoken)
	assert.False(t, rec.has("Speaking scene description."))
}
