package reasoning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/optica/pkg/config"
)

func TestBuildContents(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "Find round frames"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "send_message", Args: map[string]any{"agent_name": "Search Agent"}}}},
		{Role: RoleTool, Result: &ToolResult{CallID: "c1", Name: "send_message", Content: "3 products"}},
		{Role: RoleTool, Result: &ToolResult{CallID: "c2", Name: "send_message", Content: "boom", IsError: true}},
		{Role: RoleUser},
	}
	contents := buildContents(msgs)
	require.Len(t, contents, 4)

	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "send_message", contents[1].Parts[0].FunctionCall.Name)

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "c1", fr.ID)
	assert.Equal(t, "3 products", fr.Response["output"])
	assert.Equal(t, "boom", contents[3].Parts[0].FunctionResponse.Response["error"])
}

func TestParseResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "thinking...", Thought: true},
			{Text: "Let me check. "},
			{FunctionCall: &genai.FunctionCall{Name: "send_message", Args: map[string]any{"task": "x"}}},
		}},
	}}}
	d, err := parseResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "Let me check.", d.Text)
	require.Len(t, d.ToolCalls, 1)
	assert.NotEmpty(t, d.ToolCalls[0].ID)
	assert.Equal(t, "x", d.ToolCalls[0].String("task"))
	assert.False(t, d.Final())

	_, err = parseResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)
}

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_name": map[string]any{"type": "string", "enum": []string{"A", "B"}},
			"images":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"agent_name"},
	})
	assert.Equal(t, genai.Type("OBJECT"), s.Type)
	assert.Equal(t, []string{"agent_name"}, s.Required)
	assert.Equal(t, []string{"A", "B"}, s.Properties["agent_name"].Enum)
	assert.Equal(t, genai.Type("STRING"), s.Properties["images"].Items.Type)
	assert.Nil(t, toGenaiSchema(nil))
}

func TestScripted(t *testing.T) {
	eng := NewScripted(
		Call(ToolCall{ID: "1", Name: "send_message"}),
		Say("done"),
	).WithFallback(Echo())
	ctx := context.Background()

	d, err := eng.Decide(ctx, &Request{})
	require.NoError(t, err)
	assert.Len(t, d.ToolCalls, 1)

	d, err = eng.Decide(ctx, &Request{})
	require.NoError(t, err)
	assert.Equal(t, "done", d.Text)

	d, err = eng.Decide(ctx, &Request{Messages: []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleTool, Result: &ToolResult{Content: "from agent"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "from agent", d.Text)
	assert.Len(t, eng.Requests(), 3)

	_, err = NewScripted().Decide(ctx, &Request{})
	assert.Error(t, err)
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	calls := 0
	failing := EngineFunc(func(context.Context, *Request) (*Decision, error) {
		calls++
		return nil, errors.New("quota exceeded")
	})
	b := NewBreaker(failing, config.BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	for range 2 {
		_, err := b.Decide(ctx, &Request{})
		assert.Error(t, err)
	}
	_, err := b.Decide(ctx, &Request{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "open", b.State())
}

func TestBreaker_IgnoresCanceledCalls(t *testing.T) {
	canceled := EngineFunc(func(context.Context, *Request) (*Decision, error) {
		return nil, context.Canceled
	})
	b := NewBreaker(canceled, config.BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute})
	for range 3 {
		_, err := b.Decide(context.Background(), &Request{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", b.State())
}

func TestTokenCounter_FitTail(t *testing.T) {
	tc := NewTokenCounter()
	assert.Zero(t, tc.Count(""))
	assert.Positive(t, tc.Count("round tortoiseshell frames"))

	long := "the quick brown fox jumps over the lazy dog again and again and again"
	roles := []string{"user", "assistant", "user", "assistant"}
	contents := []string{long, long, long, "short"}

	assert.Equal(t, 0, tc.FitTail(roles, contents, 0))
	assert.Equal(t, 0, tc.FitTail(roles, contents, 100000))

	one := tc.CountMessage("assistant", "short")
	assert.Equal(t, 3, tc.FitTail(roles, contents, one))
	// The newest entry survives even when it alone exceeds the budget.
	assert.Equal(t, 3, tc.FitTail(roles, contents, 1))
}

func TestNewEngineFromConfig_RequiresCredentials(t *testing.T) {
	_, err := NewEngineFromConfig(&config.ReasoningConfig{Provider: "gemini"})
	assert.Error(t, err)
}
