package speech

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
)

// espeak-ng 默认参数
const (
	baseWordsPerMinute = 175
	baseAmplitude      = 100
	basePitch          = 50
)

var errNoCommand = errors.New("speech command not configured")

// Service 本机语音服务：内置语音合成与音频播放
type Service struct {
	synth  *CommandSynthesizer
	player *CommandPlayer
}

// NewService 根据平台命令配置创建语音服务
func NewService(cfg speech.PlatformConfig) *Service {
	return &Service{
		synth:  NewCommandSynthesizer(cfg.SpeakCommand),
		player: NewCommandPlayer(cfg.PlayCommand),
	}
}

// Synthesizer 内置语音合成
func (s *Service) Synthesizer() *CommandSynthesizer {
	return s.synth
}

// Player 音频播放
func (s *Service) Player() *CommandPlayer {
	return s.player
}

// CommandSynthesizer speaks text through an espeak-ng compatible command.
// The command does not report word boundaries, so they are estimated from the speaking rate.
type CommandSynthesizer struct {
	argv []string

	mu sync.Mutex
}

func NewCommandSynthesizer(command string) *CommandSynthesizer {
	return &CommandSynthesizer{argv: strings.Fields(command)}
}

// Speak blocks until the utterance has been spoken or ctx is cancelled.
// Only one utterance plays at a time per synthesizer.
func (s *CommandSynthesizer) Speak(ctx context.Context, u speech.Utterance, onBoundary func(charIndex int)) error {
	if len(s.argv) == 0 {
		return errNoCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	args := append(append([]string(nil), s.argv[1:]...), SpeakArgs(u)...)
	cmd := exec.CommandContext(ctx, s.argv[0], args...)

	log.Debug().Str("component", "speech").Str("lang", u.Lang).Int("chars", utf8.RuneCountInString(u.Text)).Msg("speaking utterance")

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start speech synthesizer")
	}

	boundaryCtx, stop := context.WithCancel(ctx)
	defer stop()
	if onBoundary != nil {
		go emitBoundaries(boundaryCtx, u, onBoundary)
	}

	err := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return errors.Wrap(err, "speech synthesizer")
	}
	return nil
}

// SpeakArgs maps an utterance onto espeak-ng flags. The text is the last argument.
func SpeakArgs(u speech.Utterance) []string {
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	return []string{
		"-s", fmt.Sprintf("%d", int(baseWordsPerMinute*rate)),
		"-a", fmt.Sprintf("%d", clamp(int(u.Volume*baseAmplitude), 0, 200)),
		"-p", fmt.Sprintf("%d", clamp(int(u.Pitch*basePitch), 0, 99)),
		"-v", VoiceName(u.Lang),
		"--", u.Text,
	}
}

// VoiceName converts a BCP-47 tag into an espeak-ng voice name.
func VoiceName(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "en-us"
	}
	if strings.HasPrefix(lang, "en-") {
		return lang
	}
	if i := strings.IndexByte(lang, '-'); i > 0 {
		return lang[:i]
	}
	return lang
}

// emitBoundaries reports the start offset of each word at the estimated speaking pace.
func emitBoundaries(ctx context.Context, u speech.Utterance, onBoundary func(int)) {
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	perWord := time.Duration(float64(time.Minute) / (baseWordsPerMinute * rate))

	offset := 0
	for i, word := range strings.Fields(u.Text) {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(perWord):
			}
		}
		if idx := strings.Index(u.Text[offset:], word); idx >= 0 {
			offset += idx
		}
		onBoundary(utf8.RuneCountInString(u.Text[:offset]))
		offset += len(word)
	}
}

// CommandPlayer plays audio URLs with an external player such as ffplay.
type CommandPlayer struct {
	argv []string
}

func NewCommandPlayer(command string) *CommandPlayer {
	return &CommandPlayer{argv: strings.Fields(command)}
}

// Play blocks until the player exits or ctx is cancelled.
func (p *CommandPlayer) Play(ctx context.Context, url string) error {
	if len(p.argv) == 0 {
		return errNoCommand
	}
	if url == "" {
		return errors.New("empty audio url")
	}

	args := append(append([]string(nil), p.argv[1:]...), url)
	cmd := exec.CommandContext(ctx, p.argv[0], args...)

	log.Debug().Str("component", "speech").Str("url", url).Msg("playing audio")

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return errors.Wrapf(err, "play %s", url)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
