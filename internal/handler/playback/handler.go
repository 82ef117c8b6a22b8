package playback

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/zhouzirui/vision-talk/backend/internal/middleware"
	"github.com/zhouzirui/vision-talk/backend/internal/service/client"
	playbackService "github.com/zhouzirui/vision-talk/backend/internal/service/playback"
	"github.com/zhouzirui/vision-talk/backend/pkg/utils"
)

// Handler 朗读控制的HTTP处理器
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

// RegisterRoutes 注册朗读相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/playback", h.handleState)
	r.Post("/playback/{messageID}", h.handleToggle)
	r.Delete("/playback", h.handleStop)
}

type stateView struct {
	playbackService.State
	Playing   bool `json:"playing"`
	WordIndex int  `json:"wordIndex"`
}

func view(c *client.Client) stateView {
	st := c.Playback.State()
	idx := playbackService.NoWord
	if st.Playing() {
		idx = c.Playback.WordIndex(st.MessageID)
	}
	return stateView{State: st, Playing: st.Playing(), WordIndex: idx}
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, view(middleware.ClientFrom(r.Context())))
}

// handleToggle 同一消息再次调用即暂停
func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	c := middleware.ClientFrom(r.Context())
	if _, err := c.Play(r.Context(), chi.URLParam(r, "messageID")); err != nil {
		if errors.Is(err, client.ErrMessageNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, view(c))
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	middleware.ClientFrom(r.Context()).Playback.Stop()
	w.WriteHeader(http.StatusNoContent)
}
