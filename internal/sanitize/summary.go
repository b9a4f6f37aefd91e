package sanitize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nkhunters/tool-calls-sanitizer/internal/chat"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// callRef locates a tool call by the index of the assistant message issuing it.
type callRef struct {
	msgIndex int
	call     chat.ToolCall
}

// summarizer renders completed tool calls as natural-language lines.
type summarizer struct {
	cfg      Config
	analysis Analysis
	// byName indexes every issued call by function name for retry lookups.
	byName map[string][]callRef
}

func newSummarizer(cfg Config, messages []chat.Message, a Analysis) *summarizer {
	byName := make(map[string][]callRef)
	for i, m := range messages {
		if m.Role != chat.RoleAssistant {
			continue
		}
		for _, call := range m.ToolCalls {
			byName[call.Function.Name] = append(byName[call.Function.Name], callRef{msgIndex: i, call: call})
		}
	}
	return &summarizer{cfg: cfg, analysis: a, byName: byName}
}

// summarize joins the summary lines of one assistant message's tool calls.
// Suppressed lines are skipped; the result may be empty.
func (s *summarizer) summarize(msgIndex int, calls []chat.ToolCall) (string, int) {
	lines := make([]string, 0, len(calls))
	suppressed := 0
	for _, call := range calls {
		line, ok := s.line(msgIndex, call)
		if !ok {
			suppressed++
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), suppressed
}

func (s *summarizer) line(msgIndex int, call chat.ToolCall) (string, bool) {
	name := call.Function.Name
	raw := call.Function.Arguments

	resp, ok := s.analysis.Responses[call.ID]
	if !ok {
		return fmt.Sprintf("Initiated %s with %s", name, argumentsText(raw)), true
	}
	if !resp.Success {
		if !s.cfg.PreserveFailedCalls && s.hasSuccessfulRetry(msgIndex, call) {
			return "", false
		}
		return fmt.Sprintf("Failed to execute %s: %s", name, resp.Content), true
	}
	return s.render(name, raw, resp.Content), true
}

// hasSuccessfulRetry looks for another call to the same function with a
// successful response and similar arguments, within the configured scope.
func (s *summarizer) hasSuccessfulRetry(msgIndex int, failed chat.ToolCall) bool {
	for _, ref := range s.byName[failed.Function.Name] {
		if ref.call.ID == failed.ID {
			continue
		}
		switch {
		case ref.msgIndex == msgIndex:
		case s.cfg.RetryScope == RetryScopeConversation && ref.msgIndex > msgIndex:
		default:
			continue
		}
		resp, ok := s.analysis.Responses[ref.call.ID]
		if !ok || !resp.Success {
			continue
		}
		if s.cfg.Comparator(failed.Function.Arguments, ref.call.Function.Arguments) {
			return true
		}
	}
	return false
}

// render fills the function's template. Templates that need a result count
// fall back to the "<name>:nocount" template, then to the default one, when
// the response is not JSON.
func (s *summarizer) render(name, rawArgs, content string) string {
	tmpl := s.cfg.template(name)
	args := parseArguments(rawArgs)

	values := map[string]string{}
	if obj, ok := args.(map[string]any); ok {
		for k, v := range obj {
			values[k] = coerce(v)
		}
		values["url"] = firstNonEmpty(obj, "url", "page_id")
	}
	values["functionName"] = name
	values["args"] = argumentsText(rawArgs)
	values["content"] = content

	if strings.Contains(tmpl, "{count}") {
		count, ok := resultCount(content)
		if !ok {
			tmpl = s.cfg.noCountTemplate(name)
		}
		values["count"] = fmt.Sprint(count)
	}

	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		return values[m[1:len(m)-1]]
	})
}

// argumentsText renders raw arguments compactly, keeping the caller's key
// order. Undecodable arguments render as {"raw": "..."}.
func argumentsText(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return compactJSON(map[string]any{"raw": raw})
	}
	return buf.String()
}

// parseArguments decodes tool-call arguments for display. Undecodable
// arguments are shown as {"raw": "..."}.
func parseArguments(raw string) any {
	v, err := decodeJSON(raw)
	if err != nil {
		return map[string]any{"raw": raw}
	}
	return v
}

// resultCount returns the length of the "results" array of a JSON response.
func resultCount(content string) (int, bool) {
	v, err := decodeJSON(content)
	if err != nil {
		return 0, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return 0, true
	}
	results, _ := obj["results"].([]any)
	return len(results), true
}

func firstNonEmpty(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			if s := coerce(v); s != "" {
				return s
			}
		}
	}
	return ""
}
