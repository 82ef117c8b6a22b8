package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/vision-talk/backend/internal/config"
	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/model/speech"
	"github.com/zhouzirui/vision-talk/backend/internal/service/status"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Backend:  config.DefaultBackendConfig(),
		Store:    config.StoreConfig{Backend: config.StoreMemory, StateDir: t.TempDir()},
		Platform: speech.PlatformConfig{SpeakCommand: "true", PlayCommand: "true"},
	}
}

func TestNewWiresSettingsAnnouncementsToClients(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Backend.Chatter)

	c, err := a.Registry.Get(context.Background(), chat.Identity{UserID: "u1"})
	require.NoError(t, err)
	events, cancel := c.Hub.Subscribe()
	defer cancel()

	require.NoError(t, a.Settings.Reset())

	select {
	case ev := <-events:
		assert.Equal(t, status.EventStatus, ev.Type)
		assert.Equal(t, "Settings reset to default", ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("settings announcement not delivered")
	}
}

func TestNewRejectsFirestoreWithoutProject(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreFirestore
	_, err := New(context.Background(), cfg, Options{})
	assert.Error(t, err)
}
