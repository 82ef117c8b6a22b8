package settings

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	settingsService "github.com/zhouzirui/vision-talk/backend/internal/service/settings"
	"github.com/zhouzirui/vision-talk/backend/internal/store/local"
)

func setupRouter(t *testing.T) (*chi.Mux, *settingsService.Service) {
	t.Helper()
	svc, err := settingsService.NewService(local.NewMemory(), t.TempDir(), nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	New(svc, nil).RegisterRoutes(r)
	return r, svc
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestSettingsRoutes(t *testing.T) {
	r, svc := setupRouter(t)

	resp := serve(r, httptest.NewRequest(http.MethodGet, "/settings", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"theme":"dark"`)

	resp = serve(r, httptest.NewRequest(http.MethodPatch, "/settings", bytes.NewReader([]byte(`{"fontSize":"large"}`))))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "large", svc.Current().FontSize)

	resp = serve(r, httptest.NewRequest(http.MethodGet, "/settings/export", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "visiontalk-settings.json")
	exported := resp.Body.Bytes()

	resp = serve(r, httptest.NewRequest(http.MethodPost, "/settings/reset", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "medium", svc.Current().FontSize)

	resp = serve(r, httptest.NewRequest(http.MethodPost, "/settings/import", bytes.NewReader(exported)))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "large", svc.Current().FontSize)

	resp = serve(r, httptest.NewRequest(http.MethodPost, "/settings/import", bytes.NewReader([]byte("{oops"))))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = serve(r, httptest.NewRequest(http.MethodPost, "/settings/preview", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func voiceUpload(t *testing.T, contentType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="voice"; filename="me.wav"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("RIFF"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/settings/voice", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCustomVoiceUpload(t *testing.T) {
	r, svc := setupRouter(t)

	resp := serve(r, voiceUpload(t, "audio/mpeg"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.Code)

	resp = serve(r, voiceUpload(t, "audio/wav"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, svc.Current().HasCustomVoice())
	assert.Equal(t, "custom", svc.Current().VoiceModule)
}
