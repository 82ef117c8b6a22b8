package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoModel struct {
	seen []*schema.Message
}

func (m *echoModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.seen = input
	last := input[len(input)-1]
	return schema.AssistantMessage("echo: "+last.Content, nil), nil
}

func (m *echoModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestServiceChat(t *testing.T) {
	ctx := context.Background()
	fake := &echoModel{}

	svc, err := NewServiceWithModel(ctx, fake)
	require.NoError(t, err)

	reply, err := svc.Chat(ctx, "What is in front of me?", "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, "echo: What is in front of me?", reply)

	require.Len(t, fake.seen, 2)
	assert.Equal(t, schema.System, fake.seen[0].Role)
	assert.True(t, strings.HasSuffix(fake.seen[0].Content, "Reply in Hindi."))
	assert.Equal(t, schema.User, fake.seen[1].Role)
}

func TestBuildSystemPrompt(t *testing.T) {
	assert.Equal(t, assistantPrompt, BuildSystemPrompt(""))
	assert.Contains(t, BuildSystemPrompt("en"), "Reply in English.")
	assert.Contains(t, BuildSystemPrompt("fr-FR"), "Reply in fr-FR.")
}
