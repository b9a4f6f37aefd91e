package sanitize

import "github.com/nkhunters/tool-calls-sanitizer/internal/chat"

// IDSet is a set of tool-call ids.
type IDSet map[string]struct{}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Analysis classifies the tool-call ids of a conversation.
//
// Ids are assumed unique across the whole list. When two calls share an id
// they are treated as one call, and when several tool messages answer the same
// id the last one is the recorded response.
type Analysis struct {
	// Issued holds every id requested by an assistant message.
	Issued IDSet
	// Completed holds issued ids with at least one tool response.
	Completed IDSet
	// Orphaned holds ids answered by a tool message but never issued.
	Orphaned IDSet
	// Responses maps answered ids to their classified response.
	Responses map[string]chat.ToolResponse
}

// Analyze computes the completion and orphan sets of messages. It does not
// depend on message order.
func Analyze(messages []chat.Message, classify Classifier) Analysis {
	if classify == nil {
		classify = ErrorSubstringClassifier
	}
	a := Analysis{
		Issued:    IDSet{},
		Completed: IDSet{},
		Orphaned:  IDSet{},
		Responses: map[string]chat.ToolResponse{},
	}

	for _, m := range messages {
		if m.Role != chat.RoleAssistant {
			continue
		}
		for _, call := range m.ToolCalls {
			a.Issued[call.ID] = struct{}{}
		}
	}

	for _, m := range messages {
		if m.Role != chat.RoleTool || m.ToolCallID == "" {
			continue
		}
		a.Responses[m.ToolCallID] = chat.ToolResponse{
			ToolCallID: m.ToolCallID,
			Content:    m.Content,
			Success:    classify(m.Content),
		}
		if a.Issued.Has(m.ToolCallID) {
			a.Completed[m.ToolCallID] = struct{}{}
		} else {
			a.Orphaned[m.ToolCallID] = struct{}{}
		}
	}
	return a
}

// IsCompleted reports whether the call with id has a response and an owner.
func (a Analysis) IsCompleted(id string) bool { return a.Completed.Has(id) }

// IsOrphaned reports whether id was answered but never issued.
func (a Analysis) IsOrphaned(id string) bool { return a.Orphaned.Has(id) }
