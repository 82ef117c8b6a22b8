package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/app"
	"github.com/zhouzirui/vision-talk/backend/internal/config"
	speechmodel "github.com/zhouzirui/vision-talk/backend/internal/model/speech"
	"github.com/zhouzirui/vision-talk/backend/internal/service/backend"
	"github.com/zhouzirui/vision-talk/backend/internal/service/speech"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("无法加载 .env，改用系统环境变量")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("配置加载失败")
	}
	app.SetupLogger(cfg.LogLevel, true)

	mode := flag.String("mode", "clone", "测试模式: clone 或 builtin")
	text := flag.String("text", "", "待合成文本")
	voicePath := flag.String("voice", "", "参考音色 wav 文件 (clone 模式必填)")
	language := flag.String("lang", "en", "语言代码")
	session := flag.String("session", "", "自定义 sessionKey，留空则自动生成")
	play := flag.Bool("play", true, "合成后立即播放")
	timeout := flag.Duration("timeout", cfg.Backend.TTSTimeout+15*time.Second, "请求超时时间")

	flag.Parse()

	if strings.TrimSpace(*text) == "" {
		flag.Usage()
		log.Fatal().Msg("请通过 -text 提供待合成文本")
	}

	sessionKey := *session
	if sessionKey == "" {
		sessionKey = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	svc := speech.NewService(cfg.Platform)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "clone":
		runClone(ctx, cfg, svc, sessionKey, *text, *voicePath, *language, *play)
	case "builtin":
		runBuiltin(ctx, svc, *text, *language)
	default:
		flag.Usage()
		log.Fatal().Msg("请通过 -mode=clone 或 -mode=builtin 指定测试模式")
	}
}

func runClone(ctx context.Context, cfg *config.Config, svc *speech.Service, sessionKey, text, voicePath, language string, play bool) {
	if voicePath == "" {
		log.Fatal().Msg("clone 模式需要通过 -voice 指定参考音色文件")
	}
	data, err := os.ReadFile(voicePath)
	if err != nil {
		log.Fatal().Err(err).Msg("读取参考音色失败")
	}

	client := backend.NewClient(cfg.Backend, nil)
	req := speechmodel.CloneRequest{
		SessionKey: sessionKey,
		Text:       text,
		Language:   language,
		VoiceName:  filepath.Base(voicePath),
		VoiceData:  data,
	}

	log.Info().Str("session", sessionKey).Str("voice", req.VoiceName).Str("lang", language).Msg("开始进行音色克隆测试")

	start := time.Now()
	resp, err := client.CloneSpeech(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("克隆合成失败")
		log.Fatal().Msg(backend.TTSDiagnostic(err))
	}
	log.Info().Str("url", resp.AudioURL).Dur("elapsed", time.Since(start)).Msg("克隆合成成功")

	if !play {
		return
	}
	if err := svc.Player().Play(ctx, resp.AudioURL); err != nil {
		log.Fatal().Err(err).Msg("播放失败")
	}
}

func runBuiltin(ctx context.Context, svc *speech.Service, text, language string) {
	u := speechmodel.Utterance{Text: text, Rate: 1, Volume: 1, Pitch: 1, Lang: language}
	words := strings.Fields(text)
	err := svc.Synthesizer().Speak(ctx, u, func(charIndex int) {
		log.Debug().Int("char", charIndex).Msg("word boundary")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("内置语音播放失败")
	}
	log.Info().Int("words", len(words)).Msg("内置语音播放完成")
}
