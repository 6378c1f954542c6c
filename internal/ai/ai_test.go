package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/wabridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"google.golang.org/genai"
)

type fakeBackend struct {
	reply  string
	err    error
	system string
	turns  []Turn
	calls  int
}

func (f *fakeBackend) complete(_ context.Context, system string, turns []Turn) (string, error) {
	f.calls++
	f.system = system
	f.turns = turns
	return f.reply, f.err
}

func TestCannedReply(t *testing.T) {
	got, err := Canned{}.GenerateReply(context.Background(), Request{Message: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, `This is an automated response to: "hello there"`, got)
}

func TestGenerateReply(t *testing.T) {
	fb := &fakeBackend{reply: "  sure!\n"}
	m := newModel("fake", fb, 0)

	got, err := m.GenerateReply(context.Background(), Request{
		Message: "can you help?",
		History: []Turn{
			{Role: RoleUser, Text: "hi"},
			{Role: RoleAssistant, Text: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "sure!", got)
	assert.Equal(t, DefaultSystemPrompt, fb.system)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "hi"},
		{Role: RoleAssistant, Text: "hello"},
		{Role: RoleUser, Text: "can you help?"},
	}, fb.turns)

	_, err = m.GenerateReply(context.Background(), Request{Message: "x", SystemPrompt: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "be brief", fb.system)
}

func TestGenerateReplyError(t *testing.T) {
	m := newModel("fake", &fakeBackend{err: errors.New("quota exceeded")}, 0)

	_, err := m.GenerateReply(context.Background(), Request{Message: "x"})
	var aiErr *Error
	require.ErrorAs(t, err, &aiErr)
	assert.Equal(t, "fake", aiErr.Provider)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestRateLimitHonorsContext(t *testing.T) {
	fb := &fakeBackend{reply: "ok"}
	m := newModel("fake", fb, 1)

	_, err := m.GenerateReply(context.Background(), Request{Message: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.GenerateReply(ctx, Request{Message: "second"})
	require.Error(t, err)
	assert.Equal(t, 1, fb.calls, "second call must wait for the limiter")
}

func TestExtractEvent(t *testing.T) {
	fixed := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		reply   string
		want    *CalendarEvent
		wantErr bool
	}{
		{
			name:  "event in code fence",
			reply: "```json\n{\"hasEvent\": true, \"title\": \"Dentist\", \"date\": \"2025-03-12\", \"time\": \"14:30\", \"location\": \"Main St\"}\n```",
			want: &CalendarEvent{
				Title:    "Dentist",
				Location: "Main St",
				Start:    time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC),
				End:      time.Date(2025, 3, 12, 15, 30, 0, 0, time.UTC),
			},
		},
		{
			name:  "no event",
			reply: `{"hasEvent": false}`,
		},
		{
			name:  "missing time",
			reply: `{"hasEvent": true, "title": "Trip", "date": "2025-04-01"}`,
			want: &CalendarEvent{
				Title: "Trip",
				Start: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC),
			},
		},
		{name: "prose only", reply: "I could not find anything.", wantErr: true},
		{name: "bad date", reply: `{"hasEvent": true, "title": "x", "date": "next week"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{reply: tt.reply}
			m := newModel("fake", fb, 0)
			m.now = func() time.Time { return fixed }

			got, err := m.ExtractEvent(context.Background(), "dentist on wednesday at 2:30pm")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, fb.system, "2025-03-10")
		})
	}
}

func TestNewProviders(t *testing.T) {
	r, x, err := New(context.Background(), config.AIConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Nil(t, x)

	r, x, err = New(context.Background(), config.AIConfig{Provider: "echo", ExtractEvents: true})
	require.NoError(t, err)
	assert.IsType(t, Canned{}, r)
	assert.Nil(t, x)

	_, _, err = New(context.Background(), config.AIConfig{Provider: "openai"})
	assert.ErrorContains(t, err, "API key required")

	_, _, err = New(context.Background(), config.AIConfig{Provider: "gemini"})
	assert.ErrorContains(t, err, "API key required")

	_, _, err = New(context.Background(), config.AIConfig{Provider: "llama"})
	assert.ErrorContains(t, err, "unknown ai provider")

	r, x, err = New(context.Background(), config.AIConfig{Provider: "openai", APIKey: "sk-test", ExtractEvents: true})
	require.NoError(t, err)
	assert.NotNil(t, r)
	assert.NotNil(t, x)
}

func TestToLLMMessages(t *testing.T) {
	msgs := toLLMMessages("sys", []Turn{
		{Role: RoleUser, Text: "hi"},
		{Role: RoleAssistant, Text: "hello"},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, schema.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, llms.TextContent{Text: "hello"}, msgs[2].Parts[0])
}

func TestToGenAIContents(t *testing.T) {
	contents := toGenAIContents([]Turn{
		{Role: RoleUser, Text: "hi"},
		{Role: RoleAssistant, Text: "hello"},
	})
	require.Len(t, contents, 2)
	assert.EqualValues(t, genai.RoleUser, contents[0].Role)
	assert.EqualValues(t, genai.RoleModel, contents[1].Role)
	assert.Equal(t, "hello", contents[1].Parts[0].Text)
}
