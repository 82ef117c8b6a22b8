package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zhouzirui/vision-talk/backend/internal/handler/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/handler/live"
	"github.com/zhouzirui/vision-talk/backend/internal/handler/playback"
	"github.com/zhouzirui/vision-talk/backend/internal/handler/settings"
	"github.com/zhouzirui/vision-talk/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/vision-talk/backend/internal/middleware"
	"github.com/zhouzirui/vision-talk/backend/internal/service/client"
	settingsService "github.com/zhouzirui/vision-talk/backend/internal/service/settings"
	"github.com/zhouzirui/vision-talk/backend/pkg/utils"
)

// 事件流心跳间隔
const streamHeartbeat = 8 * time.Second

// NewRouter wires HTTP routes to core services. Browsers may only call the API
// from allowedOrigins.
func NewRouter(reg *client.Registry, settingsSvc settings.Service, speaker settingsService.Speaker, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type", "Authorization", "X-Request-Id",
			middlewarePkg.HeaderUserID, middlewarePkg.HeaderUserName, middlewarePkg.HeaderUserEmail, middlewarePkg.HeaderUserPhoto,
		},
		MaxAge: 300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.Identity)

		// 设置按设备保存，不需要登录
		settings.New(settingsSvc, speaker).RegisterRoutes(api)

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.RequireClient(reg))

			chat.New(reg).RegisterRoutes(authed)
			playback.New().RegisterRoutes(authed)
			stream.New(streamHeartbeat).RegisterRoutes(authed)
			live.New(allowedOrigins).RegisterRoutes(authed)
		})
	})

	return r
}
