package status

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// 事件类型
const (
	EventStatus   = "status"
	EventPlayback = "playback"
	EventScene    = "scene"
	EventMessages = "messages"
)

// Event is one item pushed to subscribers of a client's event stream.
type Event struct {
	Type      string    `json:"event"`
	Message   string    `json:"message,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	WordIndex *int      `json:"wordIndex,omitempty"`
	Time      time.Time `json:"time"`
}

// Announcer receives short, user-facing status messages.
type Announcer interface {
	Announce(message string)
}

// AnnouncerFunc adapts a function to Announcer.
type AnnouncerFunc func(message string)

func (f AnnouncerFunc) Announce(message string) { f(message) }

const subscriberBuffer = 32

// Hub fans events out to subscribers. Slow subscribers drop events instead of blocking publishers.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	owner  string
}

func NewHub(owner string) *Hub {
	return &Hub{subs: make(map[int]chan Event), owner: owner}
}

// Announce publishes a status event and logs it.
func (h *Hub) Announce(message string) {
	log.Debug().Str("component", "status").Str("owner", h.owner).Msg(message)
	h.Publish(Event{Type: EventStatus, Message: message})
}

// Progress publishes the highlighted word of a message being narrated.
func (h *Hub) Progress(messageID string, wordIndex int) {
	idx := wordIndex
	h.Publish(Event{Type: EventPlayback, MessageID: messageID, WordIndex: &idx})
}

// Publish delivers ev to every subscriber.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("component", "status").Int("subscriber", id).Str("event", ev.Type).Msg("subscriber lagging, event dropped")
		}
	}
}

// Subscribe returns a channel of events and a function that ends the subscription.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}
