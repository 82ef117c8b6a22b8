package settings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	model "github.com/zhouzirui/vision-talk/backend/internal/model/settings"
	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
	"github.com/zhouzirui/vision-talk/backend/internal/service/status"
	"github.com/zhouzirui/vision-talk/backend/internal/store"
	"github.com/zhouzirui/vision-talk/backend/internal/store/local"
)

var (
	ErrInvalidSettings  = errors.New("invalid settings file")
	ErrInvalidVoiceFile = errors.New("custom voice must be a .wav file")
)

const (
	wavContentType  = "audio/wav"
	customVoiceID   = "1"
	customVoiceFile = "custom-voice.wav"
	previewText     = "This is a preview of your selected voice settings."
)

// Speaker previews narration settings.
type Speaker interface {
	Speak(ctx context.Context, u speech.Utterance, onBoundary func(charIndex int)) error
}

// Service keeps the application settings blob in durable local state.
type Service struct {
	kv       store.KeyValue
	voiceDir string
	notifier status.Announcer

	mu      sync.RWMutex
	current model.Settings
}

// NewService loads the stored settings once; absent settings fall back to defaults.
func NewService(kv store.KeyValue, voiceDir string, notifier status.Announcer) (*Service, error) {
	s := &Service{kv: kv, voiceDir: voiceDir, notifier: notifier, current: model.Defaults()}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load re-reads settings from the store.
func (s *Service) Load() error {
	loaded := model.Defaults()
	ok, err := local.GetJSON(s.kv, local.KeyAppSettings, &loaded)
	if err != nil {
		return errors.Wrap(err, "load settings")
	}
	if !ok {
		loaded = model.Defaults()
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return nil
}

// Current returns a copy of the settings in effect.
func (s *Service) Current() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update merges a JSON object of setting keys into the current settings and saves the result.
func (s *Service) Update(patch []byte) (model.Settings, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil || fields == nil {
		return s.Current(), errors.Wrap(ErrInvalidSettings, "patch must be a JSON object")
	}

	s.mu.Lock()
	next := s.current
	if err := json.Unmarshal(patch, &next); err != nil {
		s.mu.Unlock()
		return s.Current(), errors.Wrap(ErrInvalidSettings, err.Error())
	}
	// 非自定义音色时清除自定义音色文件
	if _, ok := fields["voiceModule"]; ok && next.VoiceModule != "custom" {
		next.VoiceID = ""
		next.VoiceFileURL = ""
	}
	if err := local.SetJSON(s.kv, local.KeyAppSettings, next); err != nil {
		s.mu.Unlock()
		return s.Current(), errors.Wrap(err, "save settings")
	}
	s.current = next
	s.mu.Unlock()

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.announce("Setting " + k + " updated to " + strings.Trim(string(fields[k]), `"`))
	}
	return next, nil
}

// Reset restores and saves the factory settings.
func (s *Service) Reset() error {
	if err := s.replace(model.Defaults()); err != nil {
		return err
	}
	s.announce("Settings reset to default")
	return nil
}

// Export returns the settings as JSON.
func (s *Service) Export() ([]byte, error) {
	data, err := json.Marshal(s.Current())
	if err != nil {
		return nil, errors.Wrap(err, "export settings")
	}
	s.announce("Settings exported")
	return data, nil
}

// Import replaces the settings wholesale with a previously exported blob.
func (s *Service) Import(data []byte) error {
	var imported model.Settings
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil || probe == nil {
		s.announce("Failed to import settings")
		return ErrInvalidSettings
	}
	if err := json.Unmarshal(data, &imported); err != nil {
		s.announce("Failed to import settings")
		return errors.Wrap(ErrInvalidSettings, err.Error())
	}
	if err := s.replace(imported); err != nil {
		return err
	}
	s.announce("Settings imported successfully")
	return nil
}

// SetCustomVoice stores a wav reference voice and selects it for narration.
func (s *Service) SetCustomVoice(name, contentType string, data []byte) error {
	if !isWav(contentType) {
		s.announce("Invalid file type. Please upload a .wav file.")
		return ErrInvalidVoiceFile
	}
	if err := os.MkdirAll(s.voiceDir, 0o755); err != nil {
		return errors.Wrap(err, "create voice directory")
	}

	path, err := filepath.Abs(filepath.Join(s.voiceDir, customVoiceFile))
	if err != nil {
		return errors.Wrap(err, "resolve voice path")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write custom voice")
	}
	log.Info().Str("component", "settings").Str("name", name).Str("path", path).Int("bytes", len(data)).Msg("custom voice stored")

	next := s.Current()
	next.VoiceModule = "custom"
	next.VoiceID = customVoiceID
	next.VoiceFileURL = "file://" + filepath.ToSlash(path)
	if err := s.replace(next); err != nil {
		return err
	}
	s.announce("Setting voiceModule updated to custom")
	return nil
}

// Preview speaks a fixed sentence with the current narration settings.
func (s *Service) Preview(ctx context.Context, speaker Speaker) error {
	st := s.Current()
	s.announce("Previewing voice settings")
	return speaker.Speak(ctx, speech.Utterance{
		Text:   previewText,
		Rate:   st.NarrationRate(),
		Volume: st.NarrationLoudness(),
		Pitch:  st.NarrationTone(),
		Lang:   st.SpeechLanguage(),
	}, nil)
}

func (s *Service) replace(next model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := local.SetJSON(s.kv, local.KeyAppSettings, next); err != nil {
		return errors.Wrap(err, "save settings")
	}
	s.current = next
	return nil
}

func (s *Service) announce(message string) {
	if s.notifier != nil {
		s.notifier.Announce(message)
	}
}

func isWav(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct == wavContentType || ct == "audio/x-wav" || ct == "audio/wave"
}
