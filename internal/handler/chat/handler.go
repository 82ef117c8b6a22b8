package chat

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/middleware"
	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/service/client"
	chatService "github.com/zhouzirui/vision-talk/backend/internal/service/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/store"
	"github.com/zhouzirui/vision-talk/backend/pkg/utils"
)

// 上传大小限制
const (
	maxImageBytes = 20 << 20
	maxVoiceBytes = 20 << 20
)

// SignOuter 登出并释放用户状态
type SignOuter interface {
	SignOut(userID string) bool
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	sessions SignOuter
}

// New 创建聊天处理器
func New(sessions SignOuter) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes 注册聊天相关的路由，调用方需先挂载 RequireClient
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/signout", h.handleSignOut)
	r.Post("/session", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions/{sessionID}/load", h.handleLoadSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Get("/messages", h.handleListMessages)
	r.Post("/messages", h.handleSendText)
	r.Post("/images", h.handleSendImage)
	r.Post("/extensions/{kind}", h.handleExtension)
	r.Post("/voice-sample", h.handleVoiceSample)
}

// transcript 当前会话视图
type transcript struct {
	SessionID  string         `json:"sessionId"`
	Processing bool           `json:"processing"`
	Messages   []chat.Message `json:"messages"`
}

type historyView struct {
	ActiveSessionID string         `json:"activeSessionId"`
	Sessions        []sessionEntry `json:"sessions"`
}

type sessionEntry struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"createdAt,omitempty"`
	MessageCount int    `json:"messageCount"`
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	c := middleware.ClientFrom(r.Context())
	h.sessions.SignOut(c.Chat.Identity().UserID)
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	c := middleware.ClientFrom(r.Context())
	id, err := c.Chat.StartNewSession(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	c := middleware.ClientFrom(r.Context())
	if r.URL.Query().Get("refresh") == "true" {
		if err := c.Chat.RefreshHistory(r.Context()); err != nil {
			respondServiceError(w, err)
			return
		}
	}
	utils.RespondJSON(w, http.StatusOK, buildHistory(c))
}

func (h *Handler) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	c := middleware.ClientFrom(r.Context())
	if err := c.Chat.LoadSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, buildTranscript(c))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	c := middleware.ClientFrom(r.Context())
	if err := c.Chat.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, buildHistory(c))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, buildTranscript(middleware.ClientFrom(r.Context())))
}

// handleSendText 发送文本消息，返回包含AI回复的会话
func (h *Handler) handleSendText(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c := middleware.ClientFrom(r.Context())
	if err := c.Chat.SendText(r.Context(), payload.Text); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, buildTranscript(c))
}

func (h *Handler) handleSendImage(w http.ResponseWriter, r *http.Request) {
	name, data, _, err := utils.ReadUpload(r, "image", maxImageBytes)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := middleware.ClientFrom(r.Context())
	if err := c.Chat.SendImage(r.Context(), name, data); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, buildTranscript(c))
}

func (h *Handler) handleExtension(w http.ResponseWriter, r *http.Request) {
	ext, err := chat.ParseExtension(chi.URLParam(r, "kind"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := middleware.ClientFrom(r.Context())
	action, err := c.Chat.InvokeExtension(r.Context(), ext)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := struct {
		transcript
		Action string `json:"action,omitempty"`
	}{transcript: buildTranscript(c)}
	if action == chatService.ActionOpenVoicePicker {
		resp.Action = "openVoicePicker"
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleVoiceSample 上传本次会话使用的参考音色
func (h *Handler) handleVoiceSample(w http.ResponseWriter, r *http.Request) {
	name, data, _, err := utils.ReadUpload(r, "voice", maxVoiceBytes)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	middleware.ClientFrom(r.Context()).Chat.SetVoiceSample(name, data)
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"name": name})
}

func buildTranscript(c *client.Client) transcript {
	return transcript{
		SessionID:  c.Chat.ActiveSessionID(),
		Processing: c.Chat.Processing(),
		Messages:   c.Chat.Messages(),
	}
}

func buildHistory(c *client.Client) historyView {
	history := c.Chat.History()
	view := historyView{ActiveSessionID: c.Chat.ActiveSessionID(), Sessions: make([]sessionEntry, 0, len(history))}
	for _, s := range history {
		entry := sessionEntry{ID: s.ID, MessageCount: len(s.Messages)}
		if !s.CreatedAt.IsZero() {
			entry.CreatedAt = s.CreatedAt.UTC().Format(time.RFC3339)
		}
		view.Sessions = append(view.Sessions, entry)
	}
	return view
}

// respondServiceError 将业务错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrEmptyInput):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrUnauthenticated):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, chatService.ErrBusy), errors.Is(err, chatService.ErrNoActiveSession):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	default:
		log.Error().Str("component", "http").Err(err).Msg("chat request failed")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
