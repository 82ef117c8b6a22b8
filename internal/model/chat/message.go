package chat

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// MessageType governs how a message is rendered and narrated.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeImage      MessageType = "image"
	TypeAudio      MessageType = "audio"
	TypeStory      MessageType = "story"
	TypeNavigation MessageType = "navigation"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeAudio, TypeStory, TypeNavigation:
		return true
	default:
		return false
	}
}

// TimestampLayout is the hour:minute rendering shown next to each message.
const TimestampLayout = "15:04"

// Message is one turn of a conversation. It is never mutated after creation.
type Message struct {
	ID        string      `json:"id" firestore:"id"`
	Text      string      `json:"text" firestore:"text"`
	Words     []string    `json:"words" firestore:"words"`
	Sender    Sender      `json:"sender" firestore:"sender"`
	Type      MessageType `json:"type" firestore:"type"`
	Timestamp string      `json:"timestamp" firestore:"timestamp"`
	ImageURL  string      `json:"imageUrl,omitempty" firestore:"imageUrl,omitempty"`
	AudioURL  string      `json:"audioUrl,omitempty" firestore:"audioUrl,omitempty"`
	AltText   string      `json:"altText,omitempty" firestore:"altText,omitempty"`
	CreatedAt time.Time   `json:"createdAt" firestore:"createdAt"`
}

func newMessage(now time.Time, sender Sender, kind MessageType, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Words:     SplitWords(text),
		Sender:    sender,
		Type:      kind,
		Timestamp: now.Format(TimestampLayout),
		CreatedAt: now.UTC(),
	}
}

// NewText builds a plain text message.
func NewText(now time.Time, sender Sender, text string) Message {
	return newMessage(now, sender, TypeText, text)
}

// NewImage builds the optimistic user message shown while an image is described.
func NewImage(now time.Time, imageURL, altText string) Message {
	msg := newMessage(now, SenderUser, TypeImage, "Image uploaded")
	msg.ImageURL = imageURL
	msg.AltText = altText
	return msg
}

// NewAudio builds an AI message carrying a playable audio reference.
func NewAudio(now time.Time, text, audioURL string) Message {
	msg := newMessage(now, SenderAI, TypeAudio, text)
	msg.AudioURL = audioURL
	return msg
}

// NewStory builds an AI story message.
func NewStory(now time.Time, text string) Message {
	return newMessage(now, SenderAI, TypeStory, text)
}

// NewNavigation builds an AI navigation guidance message.
func NewNavigation(now time.Time, text string) Message {
	return newMessage(now, SenderAI, TypeNavigation, text)
}

// SplitWords tokenizes text on runs of whitespace. Leading or trailing whitespace
// yields empty tokens at the edges, the same way the web client tokenized.
func SplitWords(text string) []string {
	if text == "" {
		return []string{""}
	}

	var (
		words   []string
		current strings.Builder
		inSpace bool
	)
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !inSpace {
				words = append(words, current.String())
				current.Reset()
				inSpace = true
			}
			continue
		}
		inSpace = false
		current.WriteRune(r)
	}
	words = append(words, current.String())
	return words
}
