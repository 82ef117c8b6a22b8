package chat

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/model/settings"
	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
	"github.com/zhouzirui/vision-talk/backend/internal/service/backend"
	"github.com/zhouzirui/vision-talk/backend/internal/service/status"
	"github.com/zhouzirui/vision-talk/backend/internal/store"
	"github.com/zhouzirui/vision-talk/backend/internal/store/local"
)

var (
	ErrUnauthenticated = errors.New("not signed in")
	ErrNoActiveSession = errors.New("no active chat session")
	ErrBusy            = errors.New("a request is already in progress")
	ErrEmptyInput      = errors.New("message is empty")
)

// 固定文案
const (
	noChatResponse   = "No response received from server."
	noImageResponse  = "No description received from server."
	imageAltText     = "User-uploaded image awaiting description"
	learnUnavailable = "Learning feature is not yet available. Stay tuned!"
	musicIntro       = "Here’s your generated music:"
	musicFailed      = "Audio generation failed."
	storyFailed      = "Story generation failed."
	navigationFailed = "Navigation guidance failed."
	persistFailed    = "Failed to save message. It may not persist."
)

// Backend is the subset of the AI backend the conversation needs.
type Backend interface {
	Chat(ctx context.Context, message, language string) (string, error)
	DescribeImage(ctx context.Context, filename string, image []byte, language string) (string, error)
	GenerateMusic(ctx context.Context, language string) (string, error)
	Story(ctx context.Context, language string) (string, error)
	Navigation(ctx context.Context, language string) (string, error)
}

// SettingsSource exposes the current application settings.
type SettingsSource interface {
	Current() settings.Settings
}

// Notifier receives status announcements and change events.
type Notifier interface {
	status.Announcer
	Publish(ev status.Event)
}

// Action is a local follow-up the caller should perform after an extension.
type Action int

const (
	ActionNone Action = iota
	ActionOpenVoicePicker
)

// Options wires a Manager to its collaborators.
type Options struct {
	Store    store.SessionStore
	Local    store.KeyValue
	Backend  Backend
	Settings SettingsSource
	Notifier Notifier
	Now      func() time.Time
}

// Manager owns one client's conversation state: identity, active session,
// visible messages, history and the single in-flight request flag.
type Manager struct {
	store    store.SessionStore
	local    store.KeyValue
	backend  Backend
	settings SettingsSource
	notifier Notifier
	now      func() time.Time

	mu         sync.RWMutex
	identity   chat.Identity
	activeID   string
	messages   []chat.Message
	history    []chat.Session
	voice      *speech.VoiceSample
	processing bool
}

// NewManager creates a signed-out manager.
func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:    opts.Store,
		local:    opts.Local,
		backend:  opts.Backend,
		settings: opts.Settings,
		notifier: opts.Notifier,
		now:      now,
		messages: make([]chat.Message, 0, 16),
	}
}

type target struct {
	userID    string
	sessionID string
}

// SignIn records the identity, caches its profile and restores history.
func (m *Manager) SignIn(ctx context.Context, identity chat.Identity) error {
	if identity.Anonymous() {
		return ErrUnauthenticated
	}

	var storedID string
	if _, err := local.GetJSON(m.local, local.ChatIDKey(identity.UserID), &storedID); err != nil {
		log.Warn().Str("component", "chat").Err(err).Msg("failed to read stored chat id")
	}
	if err := local.SetJSON(m.local, local.KeyUserProfile, identity.Profile()); err != nil {
		log.Warn().Str("component", "chat").Err(err).Msg("failed to cache user profile")
	}

	m.mu.Lock()
	m.identity = identity
	m.activeID = storedID
	m.messages = m.messages[:0]
	m.history = nil
	m.mu.Unlock()

	log.Info().Str("component", "chat").Str("user", identity.UserID).Msg("user authenticated")
	return m.refresh(ctx, true)
}

// SignOut forgets the identity and everything derived from it.
func (m *Manager) SignOut() {
	m.mu.Lock()
	userID := m.identity.UserID
	m.identity = chat.Identity{}
	m.activeID = ""
	m.messages = make([]chat.Message, 0, 16)
	m.history = nil
	m.voice = nil
	m.mu.Unlock()

	if userID != "" {
		m.forgetActive(userID)
	}
	m.changed()
	m.announce("User signed out. Please sign in to continue.")
}

// StartNewSession creates an empty session document and makes it active.
func (m *Manager) StartNewSession(ctx context.Context) (string, error) {
	m.mu.RLock()
	userID := m.identity.UserID
	m.mu.RUnlock()

	if userID == "" {
		m.announce("Please sign in to start a new chat.")
		return "", ErrUnauthenticated
	}

	now := m.now()
	session := chat.Session{ID: chat.NewSessionID(now), UserID: userID, CreatedAt: now.UTC()}
	if err := m.store.CreateSession(ctx, userID, session); err != nil {
		log.Error().Str("component", "chat").Err(err).Msg("error initializing chat session")
		m.announce("Failed to start a new chat. Please try again.")
		return "", errors.Wrap(err, "create session")
	}

	m.mu.Lock()
	m.activeID = session.ID
	m.messages = make([]chat.Message, 0, 16)
	m.mu.Unlock()

	m.rememberActive(userID, session.ID)
	m.changed()
	m.announce("New chat started")
	log.Info().Str("component", "chat").Str("session", session.ID).Str("user", userID).Msg("chat session initialized")

	if err := m.RefreshHistory(ctx); err != nil {
		log.Warn().Str("component", "chat").Err(err).Msg("history refresh after new session failed")
	}
	return session.ID, nil
}

// RefreshHistory reloads the session list without changing which session is active.
func (m *Manager) RefreshHistory(ctx context.Context) error {
	return m.refresh(ctx, false)
}

// refresh 重新拉取历史；restore 为 true 时（仅登录）在没有活动会话时载入最近一次会话
func (m *Manager) refresh(ctx context.Context, restore bool) error {
	m.mu.RLock()
	userID := m.identity.UserID
	m.mu.RUnlock()
	if userID == "" {
		return ErrUnauthenticated
	}

	history, err := m.store.ListSessions(ctx, userID)
	if err != nil {
		log.Error().Str("component", "chat").Err(err).Msg("error fetching chat history")
		m.announce("Failed to load chat history.")
		return errors.Wrap(err, "list sessions")
	}

	var loaded string
	m.mu.Lock()
	if m.identity.UserID != userID {
		m.mu.Unlock()
		return nil
	}
	m.history = history

	if m.activeID != "" && len(m.messages) == 0 {
		if s, ok := findSession(history, m.activeID); ok {
			m.messages = append(m.messages, s.Messages...)
		} else {
			m.activeID = ""
		}
	}
	if restore && m.activeID == "" && len(history) > 0 {
		m.activeID = history[0].ID
		m.messages = append(make([]chat.Message, 0, len(history[0].Messages)), history[0].Messages...)
		loaded = m.activeID
	}
	active := m.activeID
	m.mu.Unlock()

	if active == "" {
		m.forgetActive(userID)
	} else {
		m.rememberActive(userID, active)
	}
	m.changed()
	if loaded != "" {
		m.announce("Loaded most recent chat with ID: " + loaded)
	}
	return nil
}

// LoadSession makes a history entry the active session.
func (m *Manager) LoadSession(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	userID := m.identity.UserID
	session, ok := findSession(m.history, sessionID)
	m.mu.RUnlock()

	if userID == "" {
		return ErrUnauthenticated
	}
	if !ok {
		if err := m.RefreshHistory(ctx); err != nil {
			return err
		}
		m.mu.RLock()
		session, ok = findSession(m.history, sessionID)
		m.mu.RUnlock()
		if !ok {
			return store.ErrSessionNotFound
		}
	}

	m.mu.Lock()
	m.activeID = session.ID
	m.messages = append(make([]chat.Message, 0, len(session.Messages)), session.Messages...)
	m.mu.Unlock()

	m.rememberActive(userID, session.ID)
	m.changed()

	date := "unknown date"
	if !session.CreatedAt.IsZero() {
		date = session.CreatedAt.Local().Format("1/2/2006, 3:04:05 PM")
	}
	m.announce("Loaded chat from " + date)
	return nil
}

// DeleteSession removes a session. Deleting the active one leaves no session active.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	userID := m.identity.UserID
	m.mu.RUnlock()
	if userID == "" {
		return ErrUnauthenticated
	}

	if err := m.store.DeleteSession(ctx, userID, sessionID); err != nil {
		log.Error().Str("component", "chat").Err(err).Str("session", sessionID).Msg("error deleting chat")
		m.announce("Failed to delete chat.")
		return errors.Wrap(err, "delete session")
	}

	m.mu.Lock()
	kept := m.history[:0:0]
	for _, s := range m.history {
		if s.ID != sessionID {
			kept = append(kept, s)
		}
	}
	m.history = kept
	wasActive := m.activeID == sessionID
	if wasActive {
		m.activeID = ""
		m.messages = make([]chat.Message, 0, 16)
	}
	m.mu.Unlock()

	if wasActive {
		m.forgetActive(userID)
	}
	m.changed()
	m.announce("Chat deleted successfully.")
	return nil
}

// SendText appends the user's text and exactly one AI reply or diagnostic.
func (m *Manager) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	t, err := m.begin("Please sign in to send messages.")
	if err != nil {
		return err
	}
	defer m.finish()
	ctx = context.WithoutCancel(ctx)

	lang := m.currentSettings().BackendLanguage()
	m.append(ctx, t, chat.NewText(m.now(), chat.SenderUser, text))

	reply, err := m.backend.Chat(ctx, text, lang)
	switch {
	case err != nil:
		log.Error().Str("component", "chat").Err(err).Msg("chat error")
		reply = backend.ChatDiagnostic(err)
	case reply == "":
		reply = noChatResponse
	}

	m.append(ctx, t, chat.NewText(m.now(), chat.SenderAI, reply))
	return nil
}

// SendImage appends an image message and the backend's description of it.
func (m *Manager) SendImage(ctx context.Context, filename string, data []byte) error {
	t, err := m.begin("Please sign in to upload images.")
	if err != nil {
		return err
	}
	defer m.finish()
	ctx = context.WithoutCancel(ctx)

	lang := m.currentSettings().BackendLanguage()
	m.append(ctx, t, chat.NewImage(m.now(), previewURL(data), imageAltText))

	desc, err := m.backend.DescribeImage(ctx, filename, data, lang)
	switch {
	case err != nil:
		log.Error().Str("component", "chat").Err(err).Msg("image upload error")
		desc = backend.UploadDiagnostic(err)
	case desc == "":
		desc = noImageResponse
	}

	m.append(ctx, t, chat.NewText(m.now(), chat.SenderAI, desc))
	return nil
}

// InvokeExtension runs a chat extension. Voice only asks the caller to pick a file.
func (m *Manager) InvokeExtension(ctx context.Context, ext chat.Extension) (Action, error) {
	if m.Processing() {
		return ActionNone, ErrBusy
	}
	m.announce(ext.String() + " selected")

	if ext == chat.ExtensionVoice {
		return ActionOpenVoicePicker, nil
	}

	t, err := m.begin("Please sign in to use extensions.")
	if err != nil {
		return ActionNone, err
	}
	defer m.finish()
	ctx = context.WithoutCancel(ctx)

	lang := m.currentSettings().BackendLanguage()
	msg, err := m.runExtension(ctx, ext, lang)
	if err != nil {
		log.Error().Str("component", "chat").Str("extension", ext.String()).Err(err).Msg("extension error")
		msg = chat.NewText(m.now(), chat.SenderAI, backend.ExtensionDiagnostic(ext, err))
	}

	m.append(ctx, t, msg)
	return ActionNone, nil
}

func (m *Manager) runExtension(ctx context.Context, ext chat.Extension, lang string) (chat.Message, error) {
	switch ext {
	case chat.ExtensionMusic:
		audioURL, err := m.backend.GenerateMusic(ctx, lang)
		if err != nil {
			return chat.Message{}, err
		}
		if audioURL == "" {
			audioURL = musicFailed
		}
		return chat.NewAudio(m.now(), musicIntro, audioURL), nil
	case chat.ExtensionStory:
		story, err := m.backend.Story(ctx, lang)
		if err != nil {
			return chat.Message{}, err
		}
		if story == "" {
			story = storyFailed
		}
		return chat.NewStory(m.now(), story), nil
	case chat.ExtensionNavigation:
		guidance, err := m.backend.Navigation(ctx, lang)
		if err != nil {
			return chat.Message{}, err
		}
		if guidance == "" {
			guidance = navigationFailed
		}
		return chat.NewNavigation(m.now(), guidance), nil
	case chat.ExtensionLearn:
		return chat.NewText(m.now(), chat.SenderAI, learnUnavailable), nil
	case chat.ExtensionVoice:
		return chat.Message{}, errors.New("voice extension has no backend call")
	default:
		return chat.Message{}, errors.Errorf("unknown extension %d", int(ext))
	}
}

// SetVoiceSample stores the uploaded reference voice used for narration.
func (m *Manager) SetVoiceSample(name string, data []byte) {
	m.mu.Lock()
	m.voice = &speech.VoiceSample{Name: name, Data: append([]byte(nil), data...)}
	m.mu.Unlock()
	m.announce("Voice sample uploaded: " + name)
}

// VoiceSample returns the uploaded reference voice, if any.
func (m *Manager) VoiceSample() (speech.VoiceSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.voice == nil {
		return speech.VoiceSample{}, false
	}
	return *m.voice, true
}

func (m *Manager) Identity() chat.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

func (m *Manager) ActiveSessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

func (m *Manager) Processing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.processing
}

// Messages returns a copy of the visible transcript.
func (m *Manager) Messages() []chat.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]chat.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Message looks up a visible message by id.
func (m *Manager) Message(id string) (chat.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return chat.Message{}, false
}

// History returns a copy of the session list, newest first.
func (m *Manager) History() []chat.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]chat.Session, len(m.history))
	copy(out, m.history)
	return out
}

// begin checks the gating rules and takes the processing flag.
func (m *Manager) begin(signInHint string) (target, error) {
	m.mu.Lock()
	var err error
	switch {
	case m.processing:
		err = ErrBusy
	case m.identity.UserID == "":
		err = ErrUnauthenticated
	case m.activeID == "":
		err = ErrNoActiveSession
	default:
		m.processing = true
		t := target{userID: m.identity.UserID, sessionID: m.activeID}
		m.mu.Unlock()
		return t, nil
	}
	m.mu.Unlock()

	switch err {
	case ErrUnauthenticated:
		m.announce(signInHint)
	case ErrNoActiveSession:
		m.announce("Please start a new chat session.")
	}
	return target{}, err
}

func (m *Manager) finish() {
	m.mu.Lock()
	m.processing = false
	m.mu.Unlock()
}

// append shows msg when t is still the active session and persists it.
// Inline image previews stay local; the stored copy drops them.
func (m *Manager) append(ctx context.Context, t target, msg chat.Message) {
	m.mu.Lock()
	if m.identity.UserID == t.userID && m.activeID == t.sessionID {
		m.messages = append(m.messages, msg)
	}
	m.mu.Unlock()
	m.changed()

	if err := m.store.AppendMessage(ctx, t.userID, t.sessionID, storedForm(msg)); err != nil {
		log.Error().Str("component", "chat").Str("session", t.sessionID).Err(err).Msg("error saving message")
		m.announce(persistFailed)
	}
}

func (m *Manager) currentSettings() settings.Settings {
	if m.settings == nil {
		return settings.Defaults()
	}
	return m.settings.Current()
}

func (m *Manager) rememberActive(userID, sessionID string) {
	if err := local.SetJSON(m.local, local.ChatIDKey(userID), sessionID); err != nil {
		log.Warn().Str("component", "chat").Err(err).Msg("failed to store active chat id")
	}
}

func (m *Manager) forgetActive(userID string) {
	if err := m.local.Delete(local.ChatIDKey(userID)); err != nil {
		log.Warn().Str("component", "chat").Err(err).Msg("failed to clear active chat id")
	}
}

func (m *Manager) announce(message string) {
	if m.notifier != nil {
		m.notifier.Announce(message)
	}
}

func (m *Manager) changed() {
	if m.notifier != nil {
		m.notifier.Publish(status.Event{Type: status.EventMessages})
	}
}

func findSession(history []chat.Session, id string) (chat.Session, bool) {
	for _, s := range history {
		if s.ID == id {
			return s, true
		}
	}
	return chat.Session{}, false
}

// storedForm 会话文档有大小上限，data URL 不落库
func storedForm(msg chat.Message) chat.Message {
	if strings.HasPrefix(msg.ImageURL, "data:") {
		msg.ImageURL = ""
	}
	return msg
}

func previewURL(data []byte) string {
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}
