package sanitize

import "github.com/nkhunters/tool-calls-sanitizer/internal/chat"

// transform folds completed tool calls into summaries, keeps the last pending
// call of every assistant turn, and drops tool responses that have an owner.
func (s *Sanitizer) transform(messages []chat.Message, a Analysis, rep *Report) []chat.Message {
	sum := newSummarizer(s.cfg, messages, a)
	out := make([]chat.Message, 0, len(messages))

	for i, m := range messages {
		switch {
		case m.HasToolCalls():
			var pending []chat.ToolCall
			for _, call := range m.ToolCalls {
				if !a.IsCompleted(call.ID) {
					pending = append(pending, call)
				}
			}

			if len(pending) == 0 {
				summary, suppressed := sum.summarize(i, m.ToolCalls)
				rep.SuppressedFailures += suppressed
				rep.SummarizedCalls += len(m.ToolCalls)
				if summary == "" {
					s.log.Debug("sanitize: dropping assistant turn with nothing left to summarize", "index", i)
					continue
				}
				out = append(out, chat.Message{
					Role:    chat.RoleAssistant,
					Content: summary,
					Name:    m.Name,
				})
				continue
			}

			// Backends targeted here cannot express parallel pending calls:
			// only the last one survives.
			if dropped := len(m.ToolCalls) - 1; dropped > 0 {
				rep.CollapsedCalls += dropped
				s.log.Debug("sanitize: collapsing tool calls to the last pending one",
					"index", i,
					"tool_call_id", pending[len(pending)-1].ID,
					"dropped", dropped)
			}
			kept := m.Clone()
			kept.ToolCalls = []chat.ToolCall{pending[len(pending)-1]}
			out = append(out, kept)

		case m.Role == chat.RoleTool:
			if a.IsOrphaned(m.ToolCallID) {
				rep.OrphanedResponses++
				out = append(out, m)
			}

		default:
			out = append(out, m)
		}
	}
	return out
}
