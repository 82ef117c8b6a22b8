package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/vision-talk/backend/internal/service/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/service/client"
	"github.com/zhouzirui/vision-talk/backend/internal/service/status"
)

const shellHelp = `Commands:
  <text>                 send a message
  /new                   start a new chat
  /sessions              list previous chats
  /refresh               reload the chat list
  /load <id>             open a previous chat
  /delete <id>           delete a chat
  /image <path>          describe an image
  /ext <name>            run Story, Music, Navigation, Learn or Voice
  /voice <path.wav>      use a voice sample for this session
  /play <n>              read message n aloud, again to pause
  /stop                  stop reading
  /describe              describe the camera view once
  /live on|off           start or stop live scene description
  /audio on|off          speak scene descriptions
  /help                  show this help
  /quit                  leave`

// Shell executes chat commands for one signed-in client.
type Shell struct {
	client *client.Client

	mu    sync.Mutex
	out   io.Writer
	shown int
}

func NewShell(c *client.Client, out io.Writer) *Shell {
	return &Shell{client: c, out: out}
}

// Watch prints status and scene events until ctx is done.
func (s *Shell) Watch(ctx context.Context) {
	events, cancel := s.client.Hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case status.EventStatus:
				s.printf("%s %s\n", color.YellowString("»"), ev.Message)
			case status.EventScene:
				if ev.Message != "" {
					s.printf("%s %s\n", color.MagentaString("[scene]"), ev.Message)
				}
			}
		}
	}
}

// Exec runs one input line. It reports true when the user asked to quit.
func (s *Shell) Exec(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		err := s.client.Chat.SendText(ctx, line)
		s.flush()
		return false, err
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	mgr := s.client.Chat

	switch strings.ToLower(name) {
	case "quit", "exit":
		return true, nil
	case "help":
		s.printf("%s\n", shellHelp)
	case "new":
		if _, err := mgr.StartNewSession(ctx); err != nil {
			return false, err
		}
		s.reset()
	case "sessions":
		s.printHistory()
	case "refresh":
		if err := mgr.RefreshHistory(ctx); err != nil {
			return false, err
		}
		s.printHistory()
	case "load":
		if arg == "" {
			return false, errors.New("usage: /load <id>")
		}
		if err := mgr.LoadSession(ctx, arg); err != nil {
			return false, err
		}
		s.reset()
	case "delete":
		if arg == "" {
			return false, errors.New("usage: /delete <id>")
		}
		if err := mgr.DeleteSession(ctx, arg); err != nil {
			return false, err
		}
		s.reset()
	case "image":
		data, err := readArgFile(arg, "/image <path>")
		if err != nil {
			return false, err
		}
		err = mgr.SendImage(ctx, filepath.Base(arg), data)
		s.flush()
		return false, err
	case "ext":
		ext, err := chat.ParseExtension(arg)
		if err != nil {
			return false, err
		}
		action, err := mgr.InvokeExtension(ctx, ext)
		s.flush()
		if action == chatservice.ActionOpenVoicePicker {
			s.printf("Use /voice <file.wav> to choose a voice sample.\n")
		}
		return false, err
	case "voice":
		data, err := readArgFile(arg, "/voice <path.wav>")
		if err != nil {
			return false, err
		}
		mgr.SetVoiceSample(filepath.Base(arg), data)
	case "play":
		return false, s.play(ctx, arg)
	case "stop":
		s.client.Playback.Stop()
	case "describe":
		return false, s.describe(ctx)
	case "live":
		on, err := parseSwitch(arg, "/live on|off")
		if err != nil {
			return false, err
		}
		if on {
			return false, s.client.Scene.Start(ctx)
		}
		s.client.Scene.Stop()
	case "audio":
		on, err := parseSwitch(arg, "/audio on|off")
		if err != nil {
			return false, err
		}
		s.client.Scene.SetAudio(on)
	default:
		return false, errors.Errorf("unknown command /%s, try /help", name)
	}
	return false, nil
}

func (s *Shell) play(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	msgs := s.client.Chat.Messages()
	if err != nil || n < 1 || n > len(msgs) {
		return errors.Errorf("usage: /play <1-%d>", len(msgs))
	}
	_, err = s.client.Play(ctx, msgs[n-1].ID)
	return err
}

// describe 单次描述：未在实时模式时临时打开摄像头
func (s *Shell) describe(ctx context.Context) error {
	scene := s.client.Scene
	if !scene.Running() {
		if err := scene.Start(ctx); err != nil {
			return err
		}
		defer scene.Stop()
	}
	desc, err := scene.Describe(ctx)
	if err != nil {
		return err
	}
	s.printf("%s %s\n", color.MagentaString("[scene]"), desc)
	return nil
}

// flush prints messages that have not been shown yet.
func (s *Shell) flush() {
	msgs := s.client.Chat.Messages()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(msgs) < s.shown {
		s.shown = 0
	}
	for i := s.shown; i < len(msgs); i++ {
		fmt.Fprintln(s.out, formatMessage(i+1, msgs[i]))
	}
	s.shown = len(msgs)
}

// reset reprints the whole active conversation.
func (s *Shell) reset() {
	s.mu.Lock()
	s.shown = 0
	id := s.client.Chat.ActiveSessionID()
	if id == "" {
		fmt.Fprintln(s.out, color.CyanString("-- no active chat --"))
	} else {
		fmt.Fprintln(s.out, color.CyanString("-- chat %s --", id))
	}
	s.mu.Unlock()
	s.flush()
}

func (s *Shell) printHistory() {
	history := s.client.Chat.History()
	active := s.client.Chat.ActiveSessionID()
	if len(history) == 0 {
		s.printf("No previous chats.\n")
		return
	}
	for _, sess := range history {
		marker := " "
		if sess.ID == active {
			marker = color.GreenString("*")
		}
		s.printf("%s %s  %s  %d messages\n", marker, sess.ID, sess.CreatedAt.Local().Format("2006-01-02 15:04"), len(sess.Messages))
	}
}

func (s *Shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func formatMessage(n int, m chat.Message) string {
	who := color.CyanString("VisionTalk")
	if m.Sender == chat.SenderUser {
		who = color.GreenString("You")
	}
	text := m.Text
	switch {
	case m.ImageURL != "":
		text += fmt.Sprintf(" (image: %s)", m.ImageURL)
	case m.AudioURL != "":
		text += fmt.Sprintf(" (audio: %s)", m.AudioURL)
	}
	return fmt.Sprintf("%2d [%s] %s: %s", n, m.Timestamp, who, text)
}

func readArgFile(path, usage string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("usage: " + usage)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

func parseSwitch(arg, usage string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, errors.New("usage: " + usage)
	}
}
