package settings

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	model "github.com/zhouzirui/vision-talk/backend/internal/model/settings"
	settingsService "github.com/zhouzirui/vision-talk/backend/internal/service/settings"
	"github.com/zhouzirui/vision-talk/backend/pkg/utils"
)

const (
	maxSettingsBytes = 1 << 20
	maxVoiceBytes    = 20 << 20
)

// Service 设置服务
type Service interface {
	Current() model.Settings
	Update(patch []byte) (model.Settings, error)
	Reset() error
	Export() ([]byte, error)
	Import(data []byte) error
	SetCustomVoice(name, contentType string, data []byte) error
	Preview(ctx context.Context, speaker settingsService.Speaker) error
}

// Handler 设置页的HTTP处理器
type Handler struct {
	svc     Service
	speaker settingsService.Speaker
}

func New(svc Service, speaker settingsService.Speaker) *Handler {
	return &Handler{svc: svc, speaker: speaker}
}

// RegisterRoutes 注册设置相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/settings", h.handleGet)
	r.Patch("/settings", h.handleUpdate)
	r.Post("/settings/reset", h.handleReset)
	r.Get("/settings/export", h.handleExport)
	r.Post("/settings/import", h.handleImport)
	r.Post("/settings/voice", h.handleVoice)
	r.Post("/settings/preview", h.handlePreview)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.svc.Current())
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	next, err := h.svc.Update(body)
	if err != nil {
		respondSettingsError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, next)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reset(); err != nil {
		respondSettingsError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.svc.Current())
}

// handleExport 以附件形式下载设置
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Export()
	if err != nil {
		respondSettingsError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="visiontalk-settings.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Import(body); err != nil {
		respondSettingsError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.svc.Current())
}

func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	name, data, contentType, err := utils.ReadUpload(r, "voice", maxVoiceBytes)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.SetCustomVoice(name, contentType, data); err != nil {
		respondSettingsError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.svc.Current())
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	if h.speaker == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech synthesis unavailable")
		return
	}
	// 预览在后台朗读，不阻塞请求
	go func(ctx context.Context) {
		if err := h.svc.Preview(ctx, h.speaker); err != nil {
			log.Warn().Str("component", "settings").Err(err).Msg("voice preview failed")
		}
	}(context.WithoutCancel(r.Context()))
	w.WriteHeader(http.StatusAccepted)
}

func respondSettingsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settingsService.ErrInvalidSettings):
		utils.RespondError(w, http.StatusBadRequest, "Failed to import settings. Invalid file format.")
	case errors.Is(err, settingsService.ErrInvalidVoiceFile):
		utils.RespondError(w, http.StatusUnsupportedMediaType, "Please upload a .wav file.")
	default:
		log.Error().Str("component", "settings").Err(err).Msg("settings request failed")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
