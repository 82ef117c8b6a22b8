package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/config"
	"github.com/zhouzirui/vision-talk/backend/internal/service/ai"
	"github.com/zhouzirui/vision-talk/backend/internal/service/backend"
	"github.com/zhouzirui/vision-talk/backend/internal/service/client"
	"github.com/zhouzirui/vision-talk/backend/internal/service/media"
	"github.com/zhouzirui/vision-talk/backend/internal/service/settings"
	"github.com/zhouzirui/vision-talk/backend/internal/service/speech"
	"github.com/zhouzirui/vision-talk/backend/internal/service/status"
	"github.com/zhouzirui/vision-talk/backend/internal/store"
	"github.com/zhouzirui/vision-talk/backend/internal/store/firestore"
	"github.com/zhouzirui/vision-talk/backend/internal/store/local"
	"github.com/zhouzirui/vision-talk/backend/internal/store/memory"
)

// App 聚合所有共享服务
type App struct {
	Config   *config.Config
	Registry *client.Registry
	Settings *settings.Service
	Speech   *speech.Service
	Backend  *backend.Routed

	closers []io.Closer
}

// Options 控制进程相关的装配差异
type Options struct {
	// LocalCamera 使用本机采集命令而不是浏览器推送的画面
	LocalCamera bool
}

// SetupLogger 配置全局 zerolog
func SetupLogger(level zerolog.Level, console bool) {
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// New 根据配置装配存储、后端、语音与客户端注册表
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	kv, err := local.NewStore(cfg.Store.StateDir)
	if err != nil {
		return nil, errors.Wrap(err, "open local state")
	}

	sessions, err := a.openSessionStore(ctx)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{}
	routed := &backend.Routed{Client: backend.NewClient(cfg.Backend, httpClient)}
	if cfg.AI.Enabled() {
		chatter, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Warn().Str("component", "app").Err(err).Msg("failed to initialize AI service, using backend chat")
		} else {
			routed.Chatter = chatter
			log.Info().Str("component", "app").Msg("chat routed through Ark model")
		}
	}
	a.Backend = routed

	a.Speech = speech.NewService(cfg.Platform)

	// 设置是全局的，提示广播给所有已登录用户
	var reg *client.Registry
	broadcast := status.AnnouncerFunc(func(message string) {
		if reg != nil {
			reg.Announce(message)
		}
	})
	a.Settings, err = settings.NewService(kv, filepath.Join(cfg.Store.StateDir, "voices"), broadcast)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "load settings")
	}

	deps := client.Deps{
		Store:         sessions,
		Local:         kv,
		Backend:       routed,
		Settings:      a.Settings,
		Fetcher:       backend.NewHTTPVoiceFetcher(httpClient),
		Speaker:       a.Speech.Synthesizer(),
		Player:        a.Speech.Player(),
		SceneInterval: cfg.Backend.SceneInterval,
	}
	if opts.LocalCamera {
		capture := cfg.Platform.CaptureCommand
		deps.Camera = func() media.Source { return media.NewCommandCamera(capture) }
	}
	reg = client.NewRegistry(deps)
	a.Registry = reg

	return a, nil
}

func (a *App) openSessionStore(ctx context.Context) (store.SessionStore, error) {
	switch a.Config.Store.Backend {
	case config.StoreFirestore:
		fs, err := firestore.NewStore(ctx, a.Config.Store.FirestoreProject)
		if err != nil {
			return nil, errors.Wrap(err, "open firestore")
		}
		a.closers = append(a.closers, fs)
		log.Info().Str("component", "app").Str("project", a.Config.Store.FirestoreProject).Msg("using firestore session store")
		return fs, nil
	default:
		log.Info().Str("component", "app").Msg("using in-memory session store")
		return memory.NewSessionStore(), nil
	}
}

// Close 释放所有客户端与外部连接
func (a *App) Close() {
	if a.Registry != nil {
		a.Registry.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Warn().Str("component", "app").Err(err).Msg("close failed")
		}
	}
}
