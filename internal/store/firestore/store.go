package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/store"
)

// Store keeps sessions under users/{uid}/sessions/{sid}, messages inlined as an array.
type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore-backed session store for projectID.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, errors.New("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "creating firestore client")
	}

	return &Store{client: client}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) sessionsCol(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("sessions")
}

func (s *Store) sessionDoc(userID, sessionID string) *firestore.DocumentRef {
	return s.sessionsCol(userID).Doc(sessionID)
}

type sessionDoc struct {
	CreatedAt time.Time    `firestore:"createdAt,serverTimestamp"`
	Messages  []messageDoc `firestore:"messages"`
}

type messageDoc struct {
	ID        string    `firestore:"id"`
	Text      string    `firestore:"text"`
	Words     []string  `firestore:"words"`
	Sender    string    `firestore:"sender"`
	Type      string    `firestore:"type"`
	Timestamp string    `firestore:"timestamp"`
	ImageURL  string    `firestore:"imageUrl,omitempty"`
	AudioURL  string    `firestore:"audioUrl,omitempty"`
	AltText   string    `firestore:"altText,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func toMessageDoc(msg chat.Message) messageDoc {
	return messageDoc{
		ID:        msg.ID,
		Text:      msg.Text,
		Words:     msg.Words,
		Sender:    string(msg.Sender),
		Type:      string(msg.Type),
		Timestamp: msg.Timestamp,
		ImageURL:  msg.ImageURL,
		AudioURL:  msg.AudioURL,
		AltText:   msg.AltText,
		CreatedAt: msg.CreatedAt,
	}
}

func fromMessageDoc(doc messageDoc) chat.Message {
	return chat.Message{
		ID:        doc.ID,
		Text:      doc.Text,
		Words:     doc.Words,
		Sender:    chat.Sender(doc.Sender),
		Type:      chat.MessageType(doc.Type),
		Timestamp: doc.Timestamp,
		ImageURL:  doc.ImageURL,
		AudioURL:  doc.AudioURL,
		AltText:   doc.AltText,
		CreatedAt: doc.CreatedAt,
	}
}

func (s *Store) CreateSession(ctx context.Context, userID string, session chat.Session) error {
	// createdAt 留空，由服务端时间戳填充
	doc := sessionDoc{Messages: []messageDoc{}}

	if _, err := s.sessionDoc(userID, session.ID).Set(ctx, doc); err != nil {
		return errors.Wrap(err, "firestore CreateSession")
	}
	return nil
}

// AppendMessage uses ArrayUnion. Server timestamps are not allowed inside arrays,
// so each element carries the client creation time.
func (s *Store) AppendMessage(ctx context.Context, userID, sessionID string, msg chat.Message) error {
	_, err := s.sessionDoc(userID, sessionID).Update(ctx, []firestore.Update{
		{Path: "messages", Value: firestore.ArrayUnion(toMessageDoc(msg))},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return store.ErrSessionNotFound
		}
		return errors.Wrap(err, "firestore AppendMessage")
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]chat.Session, error) {
	iter := s.sessionsCol(userID).OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var out []chat.Session
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, errors.Wrap(err, "firestore ListSessions")
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, errors.Wrap(err, "decode sessionDoc")
		}

		messages := make([]chat.Message, 0, len(doc.Messages))
		for _, m := range doc.Messages {
			messages = append(messages, fromMessageDoc(m))
		}

		out = append(out, chat.Session{
			ID:        snap.Ref.ID,
			UserID:    userID,
			CreatedAt: doc.CreatedAt,
			Messages:  messages,
		})
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.sessionDoc(userID, sessionID).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return store.ErrSessionNotFound
		}
		return errors.Wrap(err, "firestore DeleteSession")
	}
	return nil
}

var _ store.SessionStore = (*Store)(nil)
