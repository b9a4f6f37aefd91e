package sanitize

import (
	"github.com/nkhunters/tool-calls-sanitizer/internal/chat"
)

const emptyArguments = "{}"

// clean drops structurally invalid messages and repairs tool-call arguments.
// It works on copies and never fails; fully invalid input yields an empty list.
func (s *Sanitizer) clean(messages []chat.Message, rep *Report) []chat.Message {
	out := make([]chat.Message, 0, len(messages))
	for i, msg := range messages {
		if !validRole(msg.Role) {
			s.log.Debug("sanitize: dropping message with unknown role", "index", i, "role", msg.Role)
			rep.DroppedMessages++
			continue
		}

		m := msg.Clone()
		if m.Role == chat.RoleAssistant {
			m.ToolCalls = s.cleanToolCalls(m.ToolCalls, rep)
		} else if len(m.ToolCalls) > 0 {
			// Only assistant turns may request tools.
			rep.DroppedToolCalls += len(m.ToolCalls)
			m.ToolCalls = nil
		}

		if m.Content == "" && len(m.ToolCalls) == 0 {
			s.log.Debug("sanitize: dropping empty message", "index", i, "role", m.Role)
			rep.DroppedMessages++
			continue
		}
		if s.cfg.StrictValidation && m.Role == chat.RoleTool && m.ToolCallID == "" {
			s.log.Debug("sanitize: dropping tool message without tool_call_id", "index", i)
			rep.DroppedMessages++
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Sanitizer) cleanToolCalls(calls []chat.ToolCall, rep *Report) []chat.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	kept := make([]chat.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.ID == "" || call.Function.Name == "" {
			s.log.Debug("sanitize: dropping incomplete tool call", "tool_call_id", call.ID, "function", call.Function.Name)
			rep.DroppedToolCalls++
			continue
		}
		if call.Type == "" {
			call.Type = chat.ToolCallType
		}
		if !s.argumentsValid(call.Function.Arguments) {
			s.log.Warn("sanitize: invalid JSON in tool call arguments",
				"tool_call_id", call.ID,
				"function", call.Function.Name,
				"arguments", call.Function.Arguments)
			call.Function.Arguments = emptyArguments
			rep.RepairedArguments++
		}
		kept = append(kept, call)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// argumentsValid reports whether args can be forwarded as-is. An empty string
// is not valid: it is replaced with an empty object so output always parses.
func (s *Sanitizer) argumentsValid(args string) bool {
	v, err := decodeJSON(args)
	if err != nil {
		return false
	}
	if s.cfg.StrictValidation {
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

func validRole(role string) bool {
	switch role {
	case chat.RoleUser, chat.RoleAssistant, chat.RoleTool:
		return true
	}
	return false
}
