package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/store"
)

// SessionStore implements store.SessionStore in process memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*chat.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]map[string]*chat.Session),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, userID string, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userSessions, ok := s.sessions[userID]
	if !ok {
		userSessions = make(map[string]*chat.Session)
		s.sessions[userID] = userSessions
	}

	session.UserID = userID
	session.Messages = append([]chat.Message(nil), session.Messages...)
	userSessions[session.ID] = &session
	return nil
}

func (s *SessionStore) AppendMessage(_ context.Context, userID, sessionID string, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID][sessionID]
	if !ok {
		return store.ErrSessionNotFound
	}

	for _, existing := range sess.Messages {
		if existing.ID == msg.ID {
			return nil
		}
	}
	sess.Messages = append(sess.Messages, msg)
	return nil
}

func (s *SessionStore) ListSessions(_ context.Context, userID string) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Session, 0, len(s.sessions[userID]))
	for _, sess := range s.sessions[userID] {
		copied := *sess
		copied.Messages = append([]chat.Message(nil), sess.Messages...)
		out = append(out, copied)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *SessionStore) DeleteSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[userID][sessionID]; !ok {
		return store.ErrSessionNotFound
	}
	delete(s.sessions[userID], sessionID)
	return nil
}
