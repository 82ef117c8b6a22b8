package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/vision-talk/backend/internal/config"
	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultBackendConfig()
	cfg.BaseURL = srv.URL
	cfg.TTSBaseURL = srv.URL
	return NewClient(cfg, srv.Client()), srv
}

func TestClientChat(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello", body["message"])
		assert.Equal(t, "en", body["language"])
		_, _ = w.Write([]byte(`{"response":"Hi there"}`))
	}))

	reply, err := client.Chat(context.Background(), "Hello", "en")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)
}

func TestClientChatServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	}))

	_, err := client.Chat(context.Background(), "Hello", "en")
	require.Error(t, err)
	assert.Equal(t,
		"Sorry, I couldn’t process your message. Server error: 500 - boom. There might be an issue with the server’s configuration.",
		ChatDiagnostic(err))
}

func TestClientChatTimeout(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)
	client.cfg.ChatTimeout = 50 * time.Millisecond

	_, err := client.Chat(context.Background(), "Hello", "en")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, Classify(err).Kind)
	assert.Equal(t,
		"Sorry, I couldn’t process your message. Request timed out: The backend server took too long to respond.",
		ChatDiagnostic(err))
}

func TestClientDescribeImage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hi-IN", r.FormValue("language"))

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "photo.jpg", header.Filename)
		assert.Equal(t, []byte{0xff, 0xd8}, data)

		_, _ = w.Write([]byte(`{"description":"A red door"}`))
	}))

	desc, err := client.DescribeImage(context.Background(), "photo.jpg", []byte{0xff, 0xd8}, "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, "A red door", desc)
}

func TestClientExtensions(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/api/generate-music":
			assert.Equal(t, "indian_raga", body["culture"])
			_, _ = w.Write([]byte(`{"audio_url":"/media/music/raga.wav"}`))
		case "/api/storytelling":
			assert.Equal(t, "", body["choice"])
			_, _ = w.Write([]byte(`{"story_prompt":"Once upon a time"}`))
		case "/api/navigation":
			assert.Equal(t, "en", body["language"])
			_, _ = w.Write([]byte(`{"guidance":"Turn left"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	audio, err := client.GenerateMusic(ctx, "en")
	require.NoError(t, err)
	assert.Equal(t, "/media/music/raga.wav", audio)

	story, err := client.Story(ctx, "en")
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time", story)

	guidance, err := client.Navigation(ctx, "en")
	require.NoError(t, err)
	assert.Equal(t, "Turn left", guidance)
}

func TestClientCloneSpeech(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tts", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		var req ttsRequest
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("request")), &req))
		assert.Equal(t, "/media/output/tts_1700000000000_1700000005000.wav", req.AudioURL)
		assert.Equal(t, "Hello world", req.TTS.Text)
		assert.Equal(t, "cloned", req.TTS.Voice)

		_, header, err := r.FormFile("voice_file")
		require.NoError(t, err)
		assert.Equal(t, "audio/wav", header.Header.Get("Content-Type"))

		_, _ = w.Write([]byte(`{}`))
	}))
	client.now = func() time.Time { return time.UnixMilli(1700000005000) }

	resp, err := client.CloneSpeech(context.Background(), speech.CloneRequest{
		SessionKey: "1700000000000",
		Text:       "Hello world",
		Language:   "en",
		VoiceName:  "sample.wav",
		VoiceData:  []byte("RIFF"),
	})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/media/output/tts_1700000000000_1700000005000.wav", resp.AudioURL)
}

func TestClientCloneSpeechErrorBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"voice too short"}`))
	}))

	_, err := client.CloneSpeech(context.Background(), speech.CloneRequest{Text: "hi", VoiceData: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, "Sorry, I couldn’t process the TTS request. voice too short", TTSDiagnostic(err))
}

func TestClientRecognizeScene(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"description", `{"meta_description":"A quiet street"}`, "A quiet street", false},
		{"missing description", `{"objects":[]}`, "", false},
		{"not an object", `"hello"`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/live-recognition/", r.URL.Path)
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "data:image/jpeg;base64,AAAA", body["image"])
				_, _ = w.Write([]byte(tt.body))
			}))

			got, err := client.RecognizeScene(context.Background(), "data:image/jpeg;base64,AAAA")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoutedUsesChatter(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected backend call to %s", r.URL.Path)
	}))

	routed := &Routed{Client: client, Chatter: chatterFunc(func(_ context.Context, message, language string) (string, error) {
		return message + "/" + language, nil
	})}

	reply, err := routed.Chat(context.Background(), "ping", "en")
	require.NoError(t, err)
	assert.Equal(t, "ping/en", reply)
}

type chatterFunc func(ctx context.Context, message, language string) (string, error)

func (f chatterFunc) Chat(ctx context.Context, message, language string) (string, error) {
	return f(ctx, message, language)
}

func TestHTTPVoiceFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/voice.wav" {
			_, _ = w.Write([]byte("RIFFDATA"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := NewHTTPVoiceFetcher(srv.Client())
	ctx := context.Background()

	data, err := fetcher.FetchVoice(ctx, srv.URL+"/voice.wav")
	require.NoError(t, err)
	assert.Equal(t, "RIFFDATA", string(data))

	_, err = fetcher.FetchVoice(ctx, srv.URL+"/missing.wav")
	require.EqualError(t, err, "Failed to fetch custom voice file")

	path := filepath.Join(t.TempDir(), "custom.wav")
	require.NoError(t, os.WriteFile(path, []byte("LOCAL"), 0o644))
	data, err = fetcher.FetchVoice(ctx, "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "LOCAL", string(data))
}
