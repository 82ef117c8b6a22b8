package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	AI       AIConfig
	Store    StoreConfig
	Platform speech.PlatformConfig
	LogLevel zerolog.Level
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	backend, err := loadBackendConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	st, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid LOG_LEVEL value %q", os.Getenv("LOG_LEVEL"))
	}

	return &Config{
		Server:   server,
		Backend:  backend,
		AI:       ai,
		Store:    st,
		Platform: loadPlatformConfig(),
		LogLevel: level,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// AllowedOrigins 为允许跨域访问 API 与 WebSocket 的浏览器来源，"*" 表示全部
	AllowedOrigins []string
}

// 前端开发服务器的默认来源
var defaultAllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}

// loadServerConfig 解析服务器监听地址与跨域来源。
func loadServerConfig() (ServerConfig, error) {
	addr, err := loadServerAddr()
	if err != nil {
		return ServerConfig{}, err
	}
	origins, err := parseOrigins(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{Addr: addr, AllowedOrigins: origins}, nil
}

// parseOrigins 解析逗号分隔的来源列表，为空时使用默认值。
func parseOrigins(raw string) ([]string, error) {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		origin := strings.TrimRight(strings.TrimSpace(part), "/")
		if origin == "" {
			continue
		}
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return nil, errors.Errorf("invalid CORS_ALLOWED_ORIGINS entry: %q", origin)
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		return append([]string(nil), defaultAllowedOrigins...), nil
	}
	return origins, nil
}

func loadServerAddr() (string, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", errors.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// BackendConfig 描述 AI 后端的地址与各接口超时。
type BackendConfig struct {
	BaseURL           string
	TTSBaseURL        string
	ChatTimeout       time.Duration
	UploadTimeout     time.Duration
	MusicTimeout      time.Duration
	StoryTimeout      time.Duration
	NavigationTimeout time.Duration
	TTSTimeout        time.Duration
	SceneInterval     time.Duration
}

// DefaultBackendConfig 返回默认的后端配置。
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		BaseURL:           "http://localhost:8000",
		TTSBaseURL:        "http://localhost:8000",
		ChatTimeout:       20 * time.Second,
		UploadTimeout:     60 * time.Second,
		MusicTimeout:      600 * time.Second,
		StoryTimeout:      60 * time.Second,
		NavigationTimeout: 60 * time.Second,
		TTSTimeout:        30 * time.Second,
		SceneInterval:     20 * time.Second,
	}
}

func loadBackendConfig() (BackendConfig, error) {
	cfg := DefaultBackendConfig()
	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("BACKEND_BASE_URL", cfg.BaseURL), "/")
	cfg.TTSBaseURL = strings.TrimRight(getEnvOrDefault("TTS_BASE_URL", cfg.BaseURL), "/")

	overrides := []struct {
		key    string
		target *time.Duration
	}{
		{"CHAT_TIMEOUT", &cfg.ChatTimeout},
		{"UPLOAD_TIMEOUT", &cfg.UploadTimeout},
		{"MUSIC_TIMEOUT", &cfg.MusicTimeout},
		{"STORY_TIMEOUT", &cfg.StoryTimeout},
		{"NAVIGATION_TIMEOUT", &cfg.NavigationTimeout},
		{"TTS_TIMEOUT", &cfg.TTSTimeout},
		{"SCENE_INTERVAL", &cfg.SceneInterval},
	}
	for _, o := range overrides {
		d, err := parseOptionalDurationEnv(o.key)
		if err != nil {
			return BackendConfig{}, err
		}
		if d != nil {
			*o.target = *d
		}
	}

	return cfg, nil
}

// StoreConfig 决定会话文档与本地状态的存放位置。
type StoreConfig struct {
	Backend          string
	FirestoreProject string
	StateDir         string
}

const (
	StoreMemory    = "memory"
	StoreFirestore = "firestore"
)

func loadStoreConfig() (StoreConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("STORE_BACKEND", StoreMemory))
	project := strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT"))

	switch backend {
	case StoreMemory:
	case StoreFirestore:
		if project == "" {
			return StoreConfig{}, errors.New("FIRESTORE_PROJECT is required when STORE_BACKEND=firestore")
		}
	default:
		return StoreConfig{}, errors.Errorf("invalid STORE_BACKEND value %q", backend)
	}

	stateDir := strings.TrimSpace(os.Getenv("STATE_DIR"))
	if stateDir == "" {
		if home, err := os.UserConfigDir(); err == nil {
			stateDir = filepath.Join(home, "visiontalk")
		} else {
			stateDir = ".visiontalk"
		}
	}

	return StoreConfig{Backend: backend, FirestoreProject: project, StateDir: stateDir}, nil
}

func loadPlatformConfig() speech.PlatformConfig {
	return speech.PlatformConfig{
		SpeakCommand:   getEnvOrDefault("SPEAK_COMMAND", "espeak-ng"),
		PlayCommand:    getEnvOrDefault("PLAY_COMMAND", "ffplay -nodisp -autoexit -loglevel quiet"),
		CaptureCommand: getEnvOrDefault("CAPTURE_COMMAND", "ffmpeg -loglevel quiet -f v4l2 -i /dev/video0 -frames:v 1 -f image2 -"),
	}
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s value %q", key, value)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s value %q", key, value)
	}
	return &val, nil
}

// parseOptionalDurationEnv 支持 "20s" 形式，也接受纯数字（按秒计）。
func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return nil, errors.Errorf("invalid %s value %q: must be positive", key, value)
		}
		d := time.Duration(secs) * time.Second
		return &d, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s value %q", key, value)
	}
	if d <= 0 {
		return nil, errors.Errorf("invalid %s value %q: must be positive", key, value)
	}
	return &d, nil
}
