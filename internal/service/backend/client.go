package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/config"
	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
)

const (
	pathChat       = "/api/chat"
	pathUpload     = "/api/upload"
	pathMusic      = "/api/generate-music"
	pathStory      = "/api/storytelling"
	pathNavigation = "/api/navigation"
	pathTTS        = "/api/tts"
	pathLive       = "/api/live-recognition/"

	defaultSessionKey = "default_session"
	musicCulture      = "indian_raga"

	maxResponseBytes = 8 << 20
)

// Client 调用 AI 后端的 HTTP 接口，每个接口使用独立超时。
type Client struct {
	cfg  config.BackendConfig
	http *http.Client
	now  func() time.Time
}

// NewClient creates a backend client. A nil httpClient uses a fresh default client.
func NewClient(cfg config.BackendConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient, now: time.Now}
}

type chatRequest struct {
	Message  string `json:"message"`
	Language string `json:"language"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Chat sends a text message. An empty reply is returned as "".
func (c *Client) Chat(ctx context.Context, message, language string) (string, error) {
	var resp chatResponse
	if err := c.postJSON(ctx, c.cfg.BaseURL+pathChat, c.cfg.ChatTimeout, chatRequest{Message: message, Language: language}, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

type uploadResponse struct {
	Description string `json:"description"`
}

// DescribeImage uploads an image as multipart form data and returns its description.
func (c *Client) DescribeImage(ctx context.Context, filename string, image []byte, language string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return "", errors.Wrap(err, "build upload form")
	}
	if _, err := part.Write(image); err != nil {
		return "", errors.Wrap(err, "build upload form")
	}
	if err := w.WriteField("language", language); err != nil {
		return "", errors.Wrap(err, "build upload form")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "build upload form")
	}

	var resp uploadResponse
	if err := c.do(ctx, c.cfg.BaseURL+pathUpload, c.cfg.UploadTimeout, w.FormDataContentType(), &body, &resp); err != nil {
		return "", err
	}
	return resp.Description, nil
}

type musicRequest struct {
	Culture  string `json:"culture"`
	Language string `json:"language"`
}

type musicResponse struct {
	AudioURL string `json:"audio_url"`
}

// GenerateMusic asks the backend to compose a clip and returns its audio URL.
func (c *Client) GenerateMusic(ctx context.Context, language string) (string, error) {
	var resp musicResponse
	if err := c.postJSON(ctx, c.cfg.BaseURL+pathMusic, c.cfg.MusicTimeout, musicRequest{Culture: musicCulture, Language: language}, &resp); err != nil {
		return "", err
	}
	return resp.AudioURL, nil
}

type storyRequest struct {
	Choice   string `json:"choice"`
	Language string `json:"language"`
}

type storyResponse struct {
	StoryPrompt string `json:"story_prompt"`
}

// Story requests the next story passage.
func (c *Client) Story(ctx context.Context, language string) (string, error) {
	var resp storyResponse
	if err := c.postJSON(ctx, c.cfg.BaseURL+pathStory, c.cfg.StoryTimeout, storyRequest{Language: language}, &resp); err != nil {
		return "", err
	}
	return resp.StoryPrompt, nil
}

type navigationRequest struct {
	Language string `json:"language"`
}

type navigationResponse struct {
	Guidance string `json:"guidance"`
}

// Navigation requests navigation guidance.
func (c *Client) Navigation(ctx context.Context, language string) (string, error) {
	var resp navigationResponse
	if err := c.postJSON(ctx, c.cfg.BaseURL+pathNavigation, c.cfg.NavigationTimeout, navigationRequest{Language: language}, &resp); err != nil {
		return "", err
	}
	return resp.Guidance, nil
}

type ttsRequest struct {
	AudioURL string     `json:"audio_url"`
	TTS      ttsOptions `json:"tts"`
}

type ttsOptions struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Voice    string `json:"voice"`
}

type ttsResponse struct {
	AudioURL string `json:"audio_url"`
	Error    string `json:"error"`
}

// CloneSpeech 使用参考音色合成语音，返回可播放的绝对地址。
func (c *Client) CloneSpeech(ctx context.Context, req speech.CloneRequest) (*speech.CloneResponse, error) {
	now := c.now()
	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = defaultSessionKey
	}
	audioPath := fmt.Sprintf("/media/output/tts_%s_%d.wav", sessionKey, now.UnixMilli())

	payload, err := json.Marshal(ttsRequest{
		AudioURL: audioPath,
		TTS:      ttsOptions{Text: req.Text, Language: req.Language, Voice: "cloned"},
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode tts request")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("request", string(payload)); err != nil {
		return nil, errors.Wrap(err, "build tts form")
	}

	name := req.VoiceName
	if name == "" {
		name = "voice.wav"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="voice_file"; filename=%q`, name))
	header.Set("Content-Type", "audio/wav")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, errors.Wrap(err, "build tts form")
	}
	if _, err := part.Write(req.VoiceData); err != nil {
		return nil, errors.Wrap(err, "build tts form")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "build tts form")
	}

	var resp ttsResponse
	if err := c.do(ctx, c.cfg.TTSBaseURL+pathTTS, c.cfg.TTSTimeout, w.FormDataContentType(), &body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}

	audioURL := resp.AudioURL
	if audioURL == "" {
		audioURL = audioPath
	}

	return &speech.CloneResponse{
		AudioURL:  c.resolve(c.cfg.TTSBaseURL, audioURL),
		CreatedAt: now,
	}, nil
}

type liveRequest struct {
	Image string `json:"image"`
}

// RecognizeScene posts a data URL frame and returns meta_description, which may be empty.
func (c *Client) RecognizeScene(ctx context.Context, frameDataURL string) (string, error) {
	payload, err := json.Marshal(liveRequest{Image: frameDataURL})
	if err != nil {
		return "", errors.Wrap(err, "encode live request")
	}

	var raw json.RawMessage
	if err := c.do(ctx, c.cfg.BaseURL+pathLive, c.cfg.SceneInterval, "application/json", bytes.NewReader(payload), &raw); err != nil {
		return "", err
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil || resp == nil {
		return "", errors.New("Invalid response from backend: Response data is not an object.")
	}
	desc, _ := resp["meta_description"].(string)
	return desc, nil
}

// ResolveMedia turns a backend-relative media path into an absolute URL.
func (c *Client) ResolveMedia(ref string) string {
	return c.resolve(c.cfg.BaseURL, ref)
}

func (c *Client) resolve(base, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(u).String()
}

func (c *Client) postJSON(ctx context.Context, endpoint string, timeout time.Duration, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	return c.do(ctx, endpoint, timeout, "application/json", bytes.NewReader(payload), out)
}

func (c *Client) do(ctx context.Context, endpoint string, timeout time.Duration, contentType string, body io.Reader, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug().Str("component", "backend").Str("endpoint", endpoint).Err(err).Msg("request failed")
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	log.Debug().
		Str("component", "backend").
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: data}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// Chatter answers a single chat message.
type Chatter interface {
	Chat(ctx context.Context, message, language string) (string, error)
}

// Routed sends chat to Chatter and every other call to the HTTP client.
type Routed struct {
	*Client
	Chatter Chatter
}

func (r *Routed) Chat(ctx context.Context, message, language string) (string, error) {
	if r.Chatter == nil {
		return r.Client.Chat(ctx, message, language)
	}
	if r.cfg.ChatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ChatTimeout)
		defer cancel()
	}
	return r.Chatter.Chat(ctx, message, language)
}
