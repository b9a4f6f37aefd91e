package tokens

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkhunters/tool-calls-sanitizer/internal/chat"
)

func TestCounterText(t *testing.T) {
	c := NewCounter()

	n, err := c.Text("")
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = c.Text("hello world")
	require.NoError(t, err)
	require.Positive(t, n)
}

func TestCounterMessagesGrowWithContent(t *testing.T) {
	c := NewCounter()

	short := []chat.Message{{Role: chat.RoleUser, Content: "hi"}}
	long := []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{{
			ID: "a", Type: chat.ToolCallType,
			Function: chat.FunctionCall{Name: "web_search", Arguments: `{"query":"tokenizers"}`},
		}}},
	}

	a, err := c.Messages(short)
	require.NoError(t, err)
	b, err := c.Messages(long)
	require.NoError(t, err)
	require.Greater(t, b, a)

	empty, err := c.Messages(nil)
	require.NoError(t, err)
	require.Equal(t, replyPriming, empty)
}

func TestCounterMeasure(t *testing.T) {
	c := NewCounter()
	before := []chat.Message{
		{Role: chat.RoleUser, Content: "search the wiki for onboarding docs please"},
		{Role: chat.RoleTool, Content: "a very long tool payload that will be folded away", ToolCallID: "x"},
	}
	after := before[:1]

	b, err := c.Measure(before, after, 1)
	require.NoError(t, err)
	require.Greater(t, b.Before, b.After)
	require.True(t, b.OverBudget)

	b, err = c.Measure(before, after, 0)
	require.NoError(t, err)
	require.False(t, b.OverBudget)
}
