package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/middleware"
	"github.com/zhouzirui/vision-talk/backend/internal/service/client"
	"github.com/zhouzirui/vision-talk/backend/internal/service/media"
	"github.com/zhouzirui/vision-talk/backend/internal/service/status"
	"github.com/zhouzirui/vision-talk/backend/pkg/utils"
)

const (
	readTimeout   = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeTimeout  = 10 * time.Second
	maxFrameBytes = 8 << 20
)

// Handler 实时场景描述：浏览器通过WebSocket推送摄像头画面
type Handler struct {
	upgrader websocket.Upgrader
}

// New 创建实时场景处理器，只接受来自 allowedOrigins 的浏览器连接
func New(allowedOrigins []string) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// originChecker 没有 Origin 头的非浏览器客户端直接放行
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		log.Warn().Str("component", "live").Str("origin", origin).Msg("websocket origin rejected")
		return false
	}
}

// RegisterRoutes 注册实时场景路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/live", h.handleState)
	r.Get("/live/ws", h.handleWebSocket)
	r.Post("/live/start", h.handleStart)
	r.Post("/live/stop", h.handleStop)
	r.Post("/live/describe", h.handleDescribe)
	r.Patch("/live/audio", h.handleAudio)
}

type inboundMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type stateView struct {
	Running     bool   `json:"running"`
	Audio       bool   `json:"audio"`
	Description string `json:"description"`
	Camera      bool   `json:"camera"`
}

func view(c *client.Client) stateView {
	return stateView{
		Running:     c.Scene.Running(),
		Audio:       c.Scene.Audio(),
		Description: c.Scene.Description(),
		Camera:      c.Frames.Active(),
	}
}

// conn 串行化写操作
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg outgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.Timestamp = time.Now().Unix()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *conn) sendError(message string) {
	if err := c.send(outgoingMessage{Type: "error", Data: map[string]string{"message": message}}); err != nil {
		log.Debug().Str("component", "live").Err(err).Msg("write error failed")
	}
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c := middleware.ClientFrom(r.Context())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Str("component", "live").Err(err).Msg("upgrade failed")
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxFrameBytes)

	userID := c.Chat.Identity().UserID
	log.Info().Str("component", "live").Str("user", userID).Msg("camera connected")

	c.Frames.Reopen()
	defer func() {
		c.Scene.Stop()
		c.Frames.Close()
		log.Info().Str("component", "live").Str("user", userID).Msg("camera disconnected")
	}()

	out := &conn{ws: ws}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	events, unsubscribe := c.Hub.Subscribe()
	defer unsubscribe()

	go h.pingLoop(ctx, out)
	go h.forward(ctx, out, c, events, c.Frames.Changed())

	if err := out.send(outgoingMessage{Type: "connected", Data: view(c)}); err != nil {
		return
	}

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Str("component", "live").Err(err).Msg("read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		h.handleMessage(ctx, out, c, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, out *conn, c *client.Client, msg inboundMessage) {
	switch msg.Type {
	case "frame":
		frame, err := decodeFrame(msg.Data)
		if err != nil {
			out.sendError(err.Error())
			return
		}
		c.Frames.Push(frame)
	case "start":
		if err := c.Scene.Start(ctx); err != nil {
			out.sendError(err.Error())
		}
	case "stop":
		c.Scene.Stop()
	case "describe":
		go func() {
			_, _ = c.Scene.Describe(ctx)
		}()
	case "audio":
		if msg.Enabled == nil {
			out.sendError("enabled is required")
			return
		}
		c.Scene.SetAudio(*msg.Enabled)
	default:
		out.sendError("unknown message type: " + msg.Type)
	}
}

// forward 将状态与场景事件推送给浏览器，并在摄像头占用变化时通知
func (h *Handler) forward(ctx context.Context, out *conn, c *client.Client, events <-chan status.Event, changed <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != status.EventScene && ev.Type != status.EventStatus {
				continue
			}
			if err := out.send(outgoingMessage{Type: ev.Type, Data: ev}); err != nil {
				return
			}
		case <-changed:
			changed = c.Frames.Changed()
			if err := out.send(outgoingMessage{Type: "camera", Data: map[string]bool{"active": c.Frames.Active()}}); err != nil {
				return
			}
		}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, out *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				return
			}
		}
	}
}

// decodeFrame 接受 data URL 或纯 base64 的 JPEG
func decodeFrame(data string) ([]byte, error) {
	if i := strings.Index(data, ","); strings.HasPrefix(data, "data:") && i > 0 {
		data = data[i+1:]
	}
	frame, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid frame encoding")
	}
	if len(frame) == 0 {
		return nil, errors.New("empty frame")
	}
	return frame, nil
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, view(middleware.ClientFrom(r.Context())))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	c := middleware.ClientFrom(r.Context())
	if err := c.Scene.Start(r.Context()); err != nil {
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, view(c))
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	c := middleware.ClientFrom(r.Context())
	c.Scene.Stop()
	utils.RespondJSON(w, http.StatusOK, view(c))
}

func (h *Handler) handleDescribe(w http.ResponseWriter, r *http.Request) {
	c := middleware.ClientFrom(r.Context())
	desc, err := c.Scene.Describe(r.Context())
	switch {
	case errors.Is(err, media.ErrNotReady), errors.Is(err, media.ErrReleased), errors.Is(err, media.ErrNoDevice):
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"description": desc})
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Enabled == nil {
		utils.RespondError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	c := middleware.ClientFrom(r.Context())
	c.Scene.SetAudio(*payload.Enabled)
	utils.RespondJSON(w, http.StatusOK, view(c))
}
