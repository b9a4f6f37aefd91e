package chat

import "fmt"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCallType is the only call type the chat completion protocol defines.
const ToolCallType = "function"

// Message is one entry of an OpenAI-style chat conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResponse is derived from a tool-role message during analysis.
type ToolResponse struct {
	ToolCallID string
	Content    string
	Success    bool
}

// Clone returns a copy of m that shares no slices with it.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	return out
}

// HasToolCalls reports whether m is an assistant turn that requests tools.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// CloneAll deep-copies a message list.
func CloneAll(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	return out
}

// ToolCallLimitError reports an assistant message carrying more than one tool call.
type ToolCallLimitError struct {
	Index int
	Count int
}

func (e *ToolCallLimitError) Error() string {
	return fmt.Sprintf("message[%d]: found %d tool calls, expected 1 or 0", e.Index, e.Count)
}

// CheckSingleToolCall verifies that no assistant message holds more than one
// tool call. Backends that cannot express parallel calls reject such lists.
func CheckSingleToolCall(messages []Message) error {
	for i, m := range messages {
		if m.Role == RoleAssistant && len(m.ToolCalls) > 1 {
			return &ToolCallLimitError{Index: i, Count: len(m.ToolCalls)}
		}
	}
	return nil
}
