package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/companion-chat/internal/config"
	"github.com/zhouzirui/companion-chat/internal/model/chat"
	"github.com/zhouzirui/companion-chat/internal/model/companion"
)

func drain(t *testing.T, stream *schema.StreamReader[*schema.Message]) ([]string, error) {
	t.Helper()
	defer stream.Close()
	var parts []string
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}
		parts = append(parts, msg.Content)
	}
}

func seed(t *testing.T, id int) companion.Companion {
	t.Helper()
	c, ok := companion.NewMemoryStore(companion.Seed()).FindByID(id)
	require.True(t, ok)
	return c
}

func TestScriptedResponderStreamsReplyInChunks(t *testing.T) {
	r := ScriptedResponder{ChunkRunes: 3}
	c := seed(t, 2)

	stream, err := r.Stream(context.Background(), c, nil, "今天考试过了")
	require.NoError(t, err)
	parts, err := drain(t, stream)
	require.NoError(t, err)

	want := r.Reply(c, nil, "今天考试过了")
	assert.Equal(t, want, strings.Join(parts, ""))
	assert.Greater(t, len(parts), 1)
	for _, p := range parts[:len(parts)-1] {
		assert.Len(t, []rune(p), 3)
	}
}

func TestScriptedResponderRotatesReplies(t *testing.T) {
	r := ScriptedResponder{}
	c := seed(t, 1)
	turn := []chat.Message{{Role: chat.RoleUser}, {Role: chat.RoleAssistant}}

	first := r.Reply(c, nil, "hi")
	second := r.Reply(c, turn, "hi")
	assert.NotEqual(t, first, second)
	three := append(append(append([]chat.Message{}, turn...), turn...), turn...)
	assert.Equal(t, first, r.Reply(c, three, "hi"))
}

func TestScriptedResponderDefaultReplyEchoes(t *testing.T) {
	reply := ScriptedResponder{}.Reply(seed(t, 5), nil, "去看星星")
	assert.Contains(t, reply, "去看星星")
}

func TestScriptedResponderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := ScriptedResponder{ChunkRunes: 1, Delay: time.Hour}

	stream, err := r.Stream(ctx, seed(t, 3), nil, "?")
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.NotEmpty(t, first.Content)

	cancel()
	_, err = drain(t, stream)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeModel struct {
	input []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return schema.AssistantMessage("ok", nil), nil
}

func (f *fakeModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.input = input
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("你", nil),
		schema.AssistantMessage("好", nil),
	}), nil
}

func TestServiceStreamsThroughChain(t *testing.T) {
	fm := &fakeModel{}
	svc, err := NewService(context.Background(), fm, 2, zerolog.Nop())
	require.NoError(t, err)

	history := []chat.Message{
		{Role: chat.RoleUser, Content: "old"},
		{Role: chat.RoleAssistant, Content: "older reply"},
		{Role: chat.RoleUser, Content: "recent"},
		{Role: chat.RoleAssistant, Content: "recent reply"},
	}
	stream, err := svc.Stream(context.Background(), seed(t, 1), history, "在吗")
	require.NoError(t, err)
	parts, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "你好", strings.Join(parts, ""))

	require.Len(t, fm.input, 4)
	assert.Equal(t, schema.System, fm.input[0].Role)
	assert.Contains(t, fm.input[0].Content, "小温")
	assert.Contains(t, fm.input[0].Content, "善于倾听")
	assert.Equal(t, "recent", fm.input[1].Content)
	assert.Equal(t, schema.Assistant, fm.input[2].Role)
	assert.Equal(t, "在吗", fm.input[3].Content)
}

func TestBuildSystemPromptFallsBackForUnknownArchetype(t *testing.T) {
	prompt := NewPromptManager().BuildSystemPrompt(seed(t, 4))
	assert.Contains(t, prompt, "你是小月，一个友善的AI伙伴")
	assert.Contains(t, prompt, "善于共情")
}

func TestNewResponderWithoutCredentialsIsScripted(t *testing.T) {
	r, err := NewResponder(context.Background(), config.AIConfig{}, 10, time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	scripted, ok := r.(ScriptedResponder)
	require.True(t, ok)
	assert.Equal(t, time.Millisecond, scripted.Delay)
}
