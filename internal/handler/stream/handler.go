package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/middleware"
	"github.com/zhouzirui/vision-talk/backend/internal/service/status"
	"github.com/zhouzirui/vision-talk/backend/pkg/utils"
)

// DefaultHeartbeat 心跳间隔
const DefaultHeartbeat = 15 * time.Second

// Handler pushes a client's status announcements, highlight progress and
// scene descriptions over Server-Sent Events.
type Handler struct {
	heartbeat time.Duration
}

// New creates a new stream handler
func New(heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handler{heartbeat: heartbeat}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	c := middleware.ClientFrom(r.Context())
	events, cancel := c.Hub.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	userID := c.Chat.Identity().UserID
	log.Debug().Str("component", "sse").Str("user", userID).Msg("opening event stream")

	if err := utils.SendSSEEvent(w, flusher, status.EventStatus, status.Event{
		Type:    status.EventStatus,
		Message: "stream established",
		Time:    time.Now().UTC(),
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("component", "sse").Str("user", userID).Msg("closing event stream")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Type, ev); err != nil {
				log.Debug().Str("component", "sse").Err(err).Msg("event stream write failed")
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat "+t.UTC().Format(time.RFC3339)); err != nil {
				return
			}
		}
	}
}
