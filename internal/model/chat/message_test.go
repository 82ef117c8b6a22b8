package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitWords(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{name: "single", text: "Hello", want: []string{"Hello"}},
		{name: "spaces", text: "Hello  brave\tnew\nworld", want: []string{"Hello", "brave", "new", "world"}},
		{name: "leading", text: " hi", want: []string{"", "hi"}},
		{name: "trailing", text: "hi ", want: []string{"hi", ""}},
		{name: "empty", text: "", want: []string{""}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SplitWords(tc.text))
		})
	}
}

func TestNewTextAssignsTimestampAndWords(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 7, 0, 0, time.Local)
	msg := NewText(now, SenderUser, "Hello there")

	require.NotEmpty(t, msg.ID)
	assert.Equal(t, "09:07", msg.Timestamp)
	assert.Equal(t, []string{"Hello", "there"}, msg.Words)
	assert.Equal(t, TypeText, msg.Type)
	assert.Equal(t, SenderUser, msg.Sender)
}

func TestTypedConstructors(t *testing.T) {
	now := time.Now()

	img := NewImage(now, "data:image/jpeg;base64,AA==", "alt")
	assert.Equal(t, TypeImage, img.Type)
	assert.Equal(t, "Image uploaded", img.Text)
	assert.Equal(t, []string{"Image", "uploaded"}, img.Words)

	audio := NewAudio(now, "Here’s your generated music:", "x.wav")
	assert.Equal(t, TypeAudio, audio.Type)
	assert.Equal(t, "x.wav", audio.AudioURL)
	assert.Equal(t, SenderAI, audio.Sender)

	assert.Equal(t, TypeStory, NewStory(now, "once").Type)
	assert.Equal(t, TypeNavigation, NewNavigation(now, "left").Type)
	assert.NotEqual(t, NewStory(now, "a").ID, NewStory(now, "a").ID)
}

func TestMessageTypeValid(t *testing.T) {
	assert.True(t, TypeNavigation.Valid())
	assert.False(t, MessageType("video").Valid())
}

func TestParseExtension(t *testing.T) {
	ext, err := ParseExtension("music")
	require.NoError(t, err)
	assert.Equal(t, ExtensionMusic, ext)
	assert.Equal(t, "Music", ext.String())

	_, err = ParseExtension("dance")
	require.Error(t, err)

	var decoded Extension
	require.NoError(t, decoded.UnmarshalText([]byte(" Navigation ")))
	assert.Equal(t, ExtensionNavigation, decoded)
}

func TestNewSessionID(t *testing.T) {
	now := time.UnixMilli(1714550400123)
	assert.Equal(t, "1714550400123", NewSessionID(now))
}
