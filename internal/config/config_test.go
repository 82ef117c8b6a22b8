package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("BACKEND_BASE_URL", "")
	t.Setenv("TTS_BASE_URL", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("STATE_DIR", "/tmp/vt-state")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CHAT_TIMEOUT", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "http://localhost:8000", cfg.Backend.BaseURL)
	assert.Equal(t, cfg.Backend.BaseURL, cfg.Backend.TTSBaseURL)
	assert.Equal(t, 20*time.Second, cfg.Backend.ChatTimeout)
	assert.Equal(t, 600*time.Second, cfg.Backend.MusicTimeout)
	assert.Equal(t, 30*time.Second, cfg.Backend.TTSTimeout)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "/tmp/vt-state", cfg.Store.StateDir)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("BACKEND_BASE_URL", "http://backend:5000/")
	t.Setenv("TTS_BASE_URL", "http://tts:7000")
	t.Setenv("CHAT_TIMEOUT", "5")
	t.Setenv("MUSIC_TIMEOUT", "90s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "http://backend:5000", cfg.Backend.BaseURL)
	assert.Equal(t, "http://tts:7000", cfg.Backend.TTSBaseURL)
	assert.Equal(t, 5*time.Second, cfg.Backend.ChatTimeout)
	assert.Equal(t, 90*time.Second, cfg.Backend.MusicTimeout)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://talk.example.com/, ,http://localhost:3000")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://talk.example.com", "http://localhost:3000"}, cfg.Server.AllowedOrigins)

	t.Setenv("CORS_ALLOWED_ORIGINS", "*")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)

	t.Setenv("CORS_ALLOWED_ORIGINS", "talk.example.com")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port with space", "PORT", "80 80"},
		{"negative timeout", "CHAT_TIMEOUT", "-3"},
		{"garbage timeout", "TTS_TIMEOUT", "soon"},
		{"unknown store", "STORE_BACKEND", "redis"},
		{"bad level", "LOG_LEVEL", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestFirestoreRequiresProject(t *testing.T) {
	t.Setenv("STORE_BACKEND", "firestore")
	t.Setenv("FIRESTORE_PROJECT", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("FIRESTORE_PROJECT", "vision-talk")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreFirestore, cfg.Store.Backend)
}

func TestAIConfigEnabled(t *testing.T) {
	assert.False(t, AIConfig{}.Enabled())
	assert.False(t, AIConfig{APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{APIKey: "k", Model: "m"}.Enabled())
	assert.True(t, AIConfig{AccessKey: "a", SecretKey: "s", Model: "m"}.Enabled())
}
