package playback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/vision-talk/backend/internal/middleware"
	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
	"github.com/zhouzirui/vision-talk/backend/internal/service/client"
	"github.com/zhouzirui/vision-talk/backend/internal/store/local"
	"github.com/zhouzirui/vision-talk/backend/internal/store/memory"
)

type stubBackend struct{}

func (stubBackend) Chat(context.Context, string, string) (string, error) { return "the answer is here", nil }
func (stubBackend) DescribeImage(context.Context, string, []byte, string) (string, error) {
	return "", nil
}
func (stubBackend) GenerateMusic(context.Context, string) (string, error) { return "", nil }
func (stubBackend) Story(context.Context, string) (string, error)         { return "", nil }
func (stubBackend) Navigation(context.Context, string) (string, error)    { return "", nil }
func (stubBackend) CloneSpeech(context.Context, speech.CloneRequest) (*speech.CloneResponse, error) {
	return &speech.CloneResponse{}, nil
}
func (stubBackend) RecognizeScene(context.Context, string) (string, error) { return "", nil }

type waitSpeaker struct {
	started chan struct{}
}

func (s waitSpeaker) Speak(ctx context.Context, _ speech.Utterance, _ func(int)) error {
	s.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func TestPlaybackToggleAndStop(t *testing.T) {
	spk := waitSpeaker{started: make(chan struct{}, 4)}
	reg := client.NewRegistry(client.Deps{
		Store:   memory.NewSessionStore(),
		Local:   local.NewMemory(),
		Backend: stubBackend{},
		Speaker: spk,
	})
	defer reg.Close()

	ctx := context.Background()
	c, err := reg.Get(ctx, chat.Identity{UserID: "u1"})
	require.NoError(t, err)
	_, err = c.Chat.StartNewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Chat.SendText(ctx, "question"))
	reply := c.Chat.Messages()[1]

	r := chi.NewRouter()
	r.Use(middleware.Identity, middleware.RequireClient(reg))
	New().RegisterRoutes(r)

	call := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set(middleware.HeaderUserID, "u1")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp
	}

	assert.Equal(t, http.StatusNotFound, call(http.MethodPost, "/playback/nope").Code)

	resp := call(http.MethodPost, "/playback/"+reply.ID)
	require.Equal(t, http.StatusAccepted, resp.Code)
	<-spk.started

	resp = call(http.MethodGet, "/playback")
	var st map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &st))
	assert.Equal(t, true, st["playing"])
	assert.Equal(t, reply.ID, st["messageId"])

	resp = call(http.MethodPost, "/playback/"+reply.ID)
	require.Equal(t, http.StatusAccepted, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &st))
	assert.Equal(t, false, st["playing"])
	assert.Equal(t, float64(-1), st["wordIndex"])

	assert.Equal(t, http.StatusNoContent, call(http.MethodDelete, "/playback").Code)
}
