package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists conversation documents keyed by {userID}/sessions/{sessionID}.
type SessionStore interface {
	// CreateSession writes an empty session document.
	CreateSession(ctx context.Context, userID string, session chat.Session) error
	// AppendMessage adds msg to the session's message array. Appending the same
	// message twice leaves a single copy.
	AppendMessage(ctx context.Context, userID, sessionID string, msg chat.Message) error
	// ListSessions returns the user's sessions, newest first.
	ListSessions(ctx context.Context, userID string) ([]chat.Session, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

// KeyValue is the local durable state: small blobs overwritten wholesale.
type KeyValue interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}
