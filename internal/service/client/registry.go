package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/vision-talk/backend/internal/service/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/service/media"
	"github.com/zhouzirui/vision-talk/backend/internal/service/playback"
	"github.com/zhouzirui/vision-talk/backend/internal/service/scene"
	"github.com/zhouzirui/vision-talk/backend/internal/service/status"
	"github.com/zhouzirui/vision-talk/backend/internal/store"
)

// ErrMessageNotFound is returned when playing a message that is not visible.
var ErrMessageNotFound = errors.New("message not found")

// Backend is everything a client needs from the AI backend.
type Backend interface {
	chatservice.Backend
	playback.Cloner
	scene.Recognizer
}

// Speaker is the built-in speech synthesizer shared by narration and scene description.
type Speaker interface {
	Speak(ctx context.Context, u speech.Utterance, onBoundary func(charIndex int)) error
}

// Deps are the collaborators shared by every client.
type Deps struct {
	Store         store.SessionStore
	Local         store.KeyValue
	Backend       Backend
	Settings      playback.SettingsSource
	Fetcher       playback.VoiceFetcher
	Speaker       Speaker
	Player        playback.AudioPlayer
	SceneInterval time.Duration
	// Camera returns the capture source for a new client; nil means frames are pushed remotely.
	Camera func() media.Source
}

// Client bundles the per-identity conversation, narration and scene state.
type Client struct {
	Hub      *status.Hub
	Chat     *chatservice.Manager
	Playback *playback.Controller
	Scene    *scene.Detector
	Frames   *media.FrameFeed
}

// Play toggles narration of a visible message.
func (c *Client) Play(ctx context.Context, messageID string) (*playback.Job, error) {
	msg, ok := c.Chat.Message(messageID)
	if !ok {
		return nil, ErrMessageNotFound
	}
	return c.Playback.Toggle(ctx, msg.ID, msg.Text, msg.Words), nil
}

// close tears down narration and releases the camera.
func (c *Client) close() {
	c.Playback.Stop()
	c.Scene.Stop()
	c.Frames.Close()
}

// Registry keeps one Client per signed-in identity.
type Registry struct {
	deps Deps

	mu      sync.Mutex
	clients map[string]*Client
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, clients: make(map[string]*Client)}
}

// Get returns the client for identity, signing it in on first use.
func (r *Registry) Get(ctx context.Context, identity chat.Identity) (*Client, error) {
	if identity.Anonymous() {
		return nil, chatservice.ErrUnauthenticated
	}

	r.mu.Lock()
	if c, ok := r.clients[identity.UserID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	c := r.newClient(identity.UserID)
	r.clients[identity.UserID] = c
	r.mu.Unlock()

	log.Info().Str("component", "client").Str("user", identity.UserID).Msg("client signed in")
	err := c.Chat.SignIn(ctx, identity)
	if err != nil && !errors.Is(err, chatservice.ErrUnauthenticated) {
		// 历史记录加载失败不影响登录
		log.Warn().Str("component", "client").Err(err).Str("user", identity.UserID).Msg("history unavailable at sign in")
		err = nil
	}
	if err != nil {
		r.mu.Lock()
		delete(r.clients, identity.UserID)
		r.mu.Unlock()
		c.close()
		return nil, errors.Wrap(err, "sign in")
	}
	return c, nil
}

// Lookup returns an existing client without signing in.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[userID]
	return c, ok
}

// SignOut stops the client's narration and camera and forgets it.
func (r *Registry) SignOut(userID string) bool {
	r.mu.Lock()
	c, ok := r.clients[userID]
	delete(r.clients, userID)
	r.mu.Unlock()
	if !ok {
		return false
	}

	c.close()
	c.Chat.SignOut()
	log.Info().Str("component", "client").Str("user", userID).Msg("client signed out")
	return true
}

// Announce broadcasts a status message to every client.
func (r *Registry) Announce(message string) {
	for _, c := range r.snapshot() {
		c.Hub.Announce(message)
	}
}

// Close tears down every client.
func (r *Registry) Close() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	ids := make([]string, 0, len(clients))
	for id := range clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		clients[id].close()
	}
}

func (r *Registry) snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *Registry) newClient(userID string) *Client {
	d := r.deps
	hub := status.NewHub(userID)
	frames := media.NewFrameFeed()

	mgr := chatservice.NewManager(chatservice.Options{
		Store:    d.Store,
		Local:    d.Local,
		Backend:  d.Backend,
		Settings: d.Settings,
		Notifier: hub,
	})

	ctrl := playback.NewController(playback.Options{
		Session:     mgr,
		Settings:    d.Settings,
		Fetcher:     d.Fetcher,
		Cloner:      d.Backend,
		Player:      d.Player,
		Synthesizer: d.Speaker,
		Notifier:    hub,
	})

	var source media.Source = frames
	if d.Camera != nil {
		if cam := d.Camera(); cam != nil {
			source = cam
		}
	}

	detector := scene.NewDetector(scene.Options{
		Source:     source,
		Recognizer: d.Backend,
		Speaker:    d.Speaker,
		Notifier:   hub,
		Interval:   d.SceneInterval,
	})

	return &Client{
		Hub:      hub,
		Chat:     mgr,
		Playback: ctrl,
		Scene:    detector,
		Frames:   frames,
	}
}
